package domain

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is returned instead of calling a provider that is in backoff.
type RateLimitedError struct {
	Provider   Provider
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider %s rate limited, retry in %s", e.Provider, e.RetryAfter.Round(time.Millisecond))
}

// IsRateLimited reports whether err carries a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
