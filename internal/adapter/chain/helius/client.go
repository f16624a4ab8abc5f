// Package helius reads Solana address history and balances over Helius JSON-RPC.
package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"mccapes-reconciler/internal/adapter/chain"
	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/apperror"

	"github.com/rs/zerolog"
)

// Config configures the Helius client.
type Config struct {
	RPCURL         string
	APIKey         string
	SignatureLimit int
	Timeout        time.Duration
}

// Client implements ports.SolanaChainClient.
type Client struct {
	endpoint       string
	signatureLimit int
	caller         *chain.Caller
	nextID         atomic.Int64
}

// New creates a Helius client. A missing API key is a configuration error.
func New(cfg Config, httpClient chain.HTTPClient, guard ports.RateLimiter, log zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperror.ErrConfigurationMissing("providers.helius.api_key")
	}
	u, err := url.Parse(cfg.RPCURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("helius rpc url %q must be absolute", cfg.RPCURL)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set("api-key", cfg.APIKey)
	u.RawQuery = q.Encode()

	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = 20
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		endpoint:       u.String(),
		signatureLimit: cfg.SignatureLimit,
		caller:         chain.NewCaller(domain.ProviderHelius, httpClient, guard, cfg.Timeout, log),
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("helius %s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("helius %s: encode request: %w", method, err)
	}

	var resp rpcResponse
	err = c.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &RPCError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("helius %s: decode result: %w", method, err)
	}
	return nil
}

type signatureInfo struct {
	Signature          string          `json:"signature"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
	BlockTime          *int64          `json:"blockTime"`
}

// ListSignatures returns the most recent signatures for address, newest first.
func (c *Client) ListSignatures(ctx context.Context, address string) ([]domain.SignatureStatus, error) {
	var infos []signatureInfo
	params := []any{address, map[string]any{"limit": c.signatureLimit}}
	if err := c.call(ctx, "getSignaturesForAddress", params, &infos); err != nil {
		return nil, err
	}

	out := make([]domain.SignatureStatus, 0, len(infos))
	for _, in := range infos {
		out = append(out, domain.SignatureStatus{
			Signature:          in.Signature,
			ConfirmationStatus: in.ConfirmationStatus,
			Failed:             len(in.Err) > 0 && string(in.Err) != "null",
			BlockTime:          in.BlockTime,
		})
	}
	return out, nil
}

// GetBalance returns the current balance of address in lamports.
func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var result struct {
		Value json.Number `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{address}, &result); err != nil {
		return nil, err
	}
	lamports, ok := new(big.Int).SetString(result.Value.String(), 10)
	if !ok {
		return nil, fmt.Errorf("helius getBalance: non-integer balance %q", result.Value)
	}
	return lamports, nil
}
