// Package blockcypher reads BTC, LTC and ETH address activity from the BlockCypher explorer API.
package blockcypher

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mccapes-reconciler/internal/adapter/chain"
	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/apperror"

	"github.com/rs/zerolog"
)

// Config configures the BlockCypher client.
type Config struct {
	BaseURL string
	Token   string
	TxLimit int
	Timeout time.Duration
}

// Client implements ports.UTXOChainClient.
type Client struct {
	baseURL *url.URL
	token   string
	txLimit int
	caller  *chain.Caller
	log     zerolog.Logger
}

// New creates a BlockCypher client. A missing token is a configuration error.
func New(cfg Config, httpClient chain.HTTPClient, guard ports.RateLimiter, log zerolog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, apperror.ErrConfigurationMissing("providers.blockcypher.token")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("blockcypher base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.TxLimit <= 0 {
		cfg.TxLimit = 50
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		txLimit: cfg.TxLimit,
		caller:  chain.NewCaller(domain.ProviderBlockCypher, httpClient, guard, cfg.Timeout, log),
		log:     log,
	}, nil
}

type addressFull struct {
	Address string `json:"address"`
	Txs     []struct {
		Hash          string `json:"hash"`
		Confirmations int    `json:"confirmations"`
		Outputs       []struct {
			Value     json.Number `json:"value"`
			Addresses []string    `json:"addresses"`
		} `json:"outputs"`
	} `json:"txs"`
}

// coinPath maps a chain to BlockCypher's coin/network path segment.
func coinPath(c domain.Chain) (string, bool) {
	switch c {
	case domain.ChainBitcoin:
		return "btc/main", true
	case domain.ChainLitecoin:
		return "ltc/main", true
	case domain.ChainEthereum:
		return "eth/main", true
	}
	return "", false
}

// ListTransactions returns the most recent transactions touching address, newest first.
func (c *Client) ListTransactions(ctx context.Context, ch domain.Chain, address string) ([]domain.ChainTx, error) {
	coin, ok := coinPath(ch)
	if !ok {
		return nil, fmt.Errorf("blockcypher does not serve chain %s", ch)
	}
	if ch.IsEVM() {
		address = strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	}

	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/v1/" + coin + "/addrs/" + url.PathEscape(address) + "/full"
	q := endpoint.Query()
	q.Set("limit", strconv.Itoa(c.txLimit))
	q.Set("token", c.token)
	endpoint.RawQuery = q.Encode()

	var resp addressFull
	err := c.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	}, &resp)
	if err != nil {
		return nil, err
	}

	txs := make([]domain.ChainTx, 0, len(resp.Txs))
	for _, t := range resp.Txs {
		tx := domain.ChainTx{Hash: t.Hash, Confirmations: t.Confirmations}
		for _, o := range t.Outputs {
			value, ok := new(big.Int).SetString(o.Value.String(), 10)
			if !ok {
				c.log.Warn().
					Str("tx_hash", t.Hash).
					Str("value", o.Value.String()).
					Msg("Skipping output with non-integer value")
				continue
			}
			tx.Outputs = append(tx.Outputs, domain.TxOutput{Addresses: o.Addresses, Value: value})
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
