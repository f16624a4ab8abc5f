package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// ErrUnknownWebhookPayload is returned for bodies matching no provider shape.
var ErrUnknownWebhookPayload = errors.New("unknown webhook payload")

// WebhookKind discriminates provider payload shapes.
type WebhookKind string

const (
	WebhookKindUTXO   WebhookKind = "utxo"
	WebhookKindHelius WebhookKind = "helius"
)

// PaymentNotice is the provider-neutral form of an inbound payment.
type PaymentNotice struct {
	Address           string
	ReceivedBaseUnits *big.Int
	TxHash            string
	ChainHint         Chain // empty when the payload does not say
	Confirmations     int
}

// WebhookPayload is implemented by each provider variant.
type WebhookPayload interface {
	Kind() WebhookKind
	// Notices flattens the payload into one notice per receiving address.
	Notices(hint Chain) ([]PaymentNotice, error)
}

// UtxoWebhookPayload is the explorer's transaction object for BTC/LTC/ETH.
type UtxoWebhookPayload struct {
	Hash          string              `json:"hash"`
	Confirmations int                 `json:"confirmations"`
	Outputs       []UtxoWebhookOutput `json:"outputs"`
}

type UtxoWebhookOutput struct {
	Value     json.Number `json:"value"`
	Addresses []string    `json:"addresses"`
}

func (p *UtxoWebhookPayload) Kind() WebhookKind { return WebhookKindUTXO }

func (p *UtxoWebhookPayload) Notices(hint Chain) ([]PaymentNotice, error) {
	if p.Hash == "" {
		return nil, fmt.Errorf("%w: transaction without hash", ErrUnknownWebhookPayload)
	}

	var order []string
	sums := make(map[string]*PaymentNotice)
	for i, out := range p.Outputs {
		value, err := parseUnits(out.Value)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		for _, addr := range out.Addresses {
			key := NormalizeAddress(hint, addr)
			n, ok := sums[key]
			if !ok {
				n = &PaymentNotice{
					Address:           addr,
					ReceivedBaseUnits: new(big.Int),
					TxHash:            p.Hash,
					ChainHint:         hint,
					Confirmations:     p.Confirmations,
				}
				sums[key] = n
				order = append(order, key)
			}
			n.ReceivedBaseUnits.Add(n.ReceivedBaseUnits, value)
		}
	}

	notices := make([]PaymentNotice, 0, len(order))
	for _, key := range order {
		notices = append(notices, *sums[key])
	}
	return notices, nil
}

// HeliusWebhookPayload is the Solana indexer's enhanced transaction list.
type HeliusWebhookPayload struct {
	Transactions []HeliusTransaction
}

type HeliusTransaction struct {
	Signature        string                 `json:"signature"`
	Type             string                 `json:"type"`
	TransactionError json.RawMessage        `json:"transactionError"`
	NativeTransfers  []HeliusNativeTransfer `json:"nativeTransfers"`
}

type HeliusNativeTransfer struct {
	FromUserAccount string      `json:"fromUserAccount"`
	ToUserAccount   string      `json:"toUserAccount"`
	Amount          json.Number `json:"amount"`
}

func (p *HeliusWebhookPayload) Kind() WebhookKind { return WebhookKindHelius }

// Notices ignores failed transactions. Solana notices always carry one confirmation.
func (p *HeliusWebhookPayload) Notices(Chain) ([]PaymentNotice, error) {
	var notices []PaymentNotice
	for _, tx := range p.Transactions {
		if tx.Signature == "" || failed(tx.TransactionError) {
			continue
		}

		var order []string
		sums := make(map[string]*big.Int)
		for i, tr := range tx.NativeTransfers {
			if tr.ToUserAccount == "" {
				continue
			}
			value, err := parseUnits(tr.Amount)
			if err != nil {
				return nil, fmt.Errorf("transfer %d of %s: %w", i, tx.Signature, err)
			}
			if _, ok := sums[tr.ToUserAccount]; !ok {
				sums[tr.ToUserAccount] = new(big.Int)
				order = append(order, tr.ToUserAccount)
			}
			sums[tr.ToUserAccount].Add(sums[tr.ToUserAccount], value)
		}

		for _, addr := range order {
			notices = append(notices, PaymentNotice{
				Address:           addr,
				ReceivedBaseUnits: sums[addr],
				TxHash:            tx.Signature,
				ChainHint:         ChainSolana,
				Confirmations:     1,
			})
		}
	}
	return notices, nil
}

// DetectWebhookKind inspects the top-level JSON shape.
func DetectWebhookKind(body []byte) (WebhookKind, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrUnknownWebhookPayload)
	}

	switch trimmed[0] {
	case '[':
		return WebhookKindHelius, nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnknownWebhookPayload, err)
		}
		if _, ok := probe["nativeTransfers"]; ok {
			return WebhookKindHelius, nil
		}
		if _, ok := probe["signature"]; ok {
			return WebhookKindHelius, nil
		}
		_, hasHash := probe["hash"]
		_, hasOutputs := probe["outputs"]
		if hasHash && hasOutputs {
			return WebhookKindUTXO, nil
		}
	}
	return "", ErrUnknownWebhookPayload
}

// ParseWebhookPayload detects the variant and decodes it.
func ParseWebhookPayload(body []byte) (WebhookPayload, error) {
	kind, err := DetectWebhookKind(body)
	if err != nil {
		return nil, err
	}

	dec := func(v any) error {
		d := json.NewDecoder(bytes.NewReader(body))
		d.UseNumber()
		if err := d.Decode(v); err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownWebhookPayload, err)
		}
		return nil
	}

	switch kind {
	case WebhookKindUTXO:
		var p UtxoWebhookPayload
		if err := dec(&p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		p := &HeliusWebhookPayload{}
		if bytes.TrimSpace(body)[0] == '[' {
			if err := dec(&p.Transactions); err != nil {
				return nil, err
			}
			return p, nil
		}
		var tx HeliusTransaction
		if err := dec(&tx); err != nil {
			return nil, err
		}
		p.Transactions = []HeliusTransaction{tx}
		return p, nil
	}
}

func parseUnits(n json.Number) (*big.Int, error) {
	v, ok := new(big.Int).SetString(n.String(), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: value %q", ErrUnknownWebhookPayload, n)
	}
	return v, nil
}

func failed(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
