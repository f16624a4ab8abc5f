package blockcypher

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/service"
	"mccapes-reconciler/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullResponse = `{
  "address": "bc1qwallet",
  "txs": [
    {
      "hash": "aa11",
      "confirmations": 3,
      "outputs": [
        {"value": 30000, "addresses": ["bc1qwallet"]},
        {"value": 40000, "addresses": ["bc1qwallet"]},
        {"value": 99999, "addresses": ["bc1qchange"]}
      ]
    },
    {
      "hash": "bb22",
      "confirmations": 0,
      "outputs": [{"value": 5000, "addresses": ["bc1qwallet"]}]
    }
  ]
}`

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	guard := service.NewProviderRateLimiter(service.NewMemoryCooldownStore(), time.Minute, zerolog.Nop())
	c, err := New(Config{BaseURL: url, Token: "tok", TxLimit: 25, Timeout: time.Second}, nil, guard, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNew_MissingToken(t *testing.T) {
	_, err := New(Config{BaseURL: "https://api.blockcypher.com"}, nil, nil, zerolog.Nop())

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CFG_001", appErr.Code)
}

func TestListTransactions_Bitcoin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/btc/main/addrs/bc1qwallet/full", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(fullResponse))
	}))
	defer srv.Close()

	txs, err := newTestClient(t, srv.URL).ListTransactions(context.Background(), domain.ChainBitcoin, "bc1qwallet")
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "aa11", txs[0].Hash)
	assert.Equal(t, 3, txs[0].Confirmations)
	require.Len(t, txs[0].Outputs, 3)
	assert.Equal(t, big.NewInt(70000), txs[0].AmountTo(domain.ChainBitcoin, "bc1qwallet"))
}

func TestListTransactions_EthereumStripsPrefixAndKeepsWei(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/eth/main/addrs/abcdef0123/full", r.URL.Path)
		_, _ = w.Write([]byte(`{"txs":[{"hash":"0xfeed","confirmations":12,"outputs":[
			{"value": 1500000000000000000000, "addresses": ["abcdef0123"]}]}]}`))
	}))
	defer srv.Close()

	txs, err := newTestClient(t, srv.URL).ListTransactions(context.Background(), domain.ChainEthereum, "0xabcdef0123")
	require.NoError(t, err)
	require.Len(t, txs, 1)

	want, _ := new(big.Int).SetString("1500000000000000000000", 10)
	assert.Equal(t, want, txs[0].AmountTo(domain.ChainEthereum, "0xABCDEF0123"))
}

func TestListTransactions_UnsupportedChain(t *testing.T) {
	_, err := newTestClient(t, "https://api.blockcypher.com").
		ListTransactions(context.Background(), domain.ChainSolana, "So1")
	assert.Error(t, err)
}

// A 429 for one wallet puts the whole provider in backoff: the next call,
// for a different address, never reaches the server.
func TestListTransactions_429SharedBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	_, err := c.ListTransactions(ctx, domain.ChainBitcoin, "bc1qfirst")
	require.True(t, domain.IsRateLimited(err))

	_, err = c.ListTransactions(ctx, domain.ChainLitecoin, "ltc1second")
	var rl *domain.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Greater(t, rl.RetryAfter, 25*time.Second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestListTransactions_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	guard := service.NewProviderRateLimiter(service.NewMemoryCooldownStore(), time.Minute, zerolog.Nop())
	c, err := New(Config{BaseURL: srv.URL, Token: "tok", Timeout: 50 * time.Millisecond}, nil, guard, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.ListTransactions(context.Background(), domain.ChainBitcoin, "bc1q")
	require.Error(t, err)
	assert.False(t, domain.IsRateLimited(err))
}
