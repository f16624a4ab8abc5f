// Package chain holds the plumbing shared by the chain data provider clients:
// rate-limit guard consultation, Retry-After handling and a circuit breaker.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// maxErrorBody caps how much of a failed response is kept for the error message.
const maxErrorBody = 512

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ParseRetryAfter reads a Retry-After header given as seconds or an HTTP date.
// It returns 0 when the header is absent or unusable so the guard applies its default.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// NewBreaker builds the per-provider circuit breaker. Rate-limit responses and
// caller cancellation are not counted as provider failures.
func NewBreaker(provider domain.Provider, log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(provider),
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsRateLimited(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Provider circuit breaker state changed")
		},
	})
}

// Caller issues provider requests behind the shared rate-limit guard.
type Caller struct {
	provider   domain.Provider
	httpClient HTTPClient
	guard      ports.RateLimiter
	breaker    *gobreaker.CircuitBreaker
	timeout    time.Duration
	now        func() time.Time
}

// NewCaller creates a Caller for one provider.
func NewCaller(provider domain.Provider, httpClient HTTPClient, guard ports.RateLimiter, timeout time.Duration, log zerolog.Logger) *Caller {
	return &Caller{
		provider:   provider,
		httpClient: httpClient,
		guard:      guard,
		breaker:    NewBreaker(provider, log),
		timeout:    timeout,
		now:        time.Now,
	}
}

// Provider returns the provider this caller talks to.
func (c *Caller) Provider() domain.Provider {
	return c.provider
}

// Do sends the request built by newReq and decodes a JSON response into out.
//
// While the provider is in backoff no request is sent and a
// *domain.RateLimitedError is returned. A 429 response records the backoff in
// the guard, so every other caller of the same provider stops as well.
func (c *Caller) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	if err := c.guard.Check(ctx, c.provider); err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, newReq, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperror.ErrProviderUnavailable(string(c.provider), err)
	}
	return err
}

func (c *Caller) roundTrip(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	req, err := newReq(ctx)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.provider, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		applied := c.guard.Backoff(ctx, c.provider, wait)
		return &domain.RateLimitedError{Provider: c.provider, RetryAfter: applied}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s: unexpected status %d: %s", c.provider, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.provider, err)
	}
	return nil
}
