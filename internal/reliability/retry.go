package reliability

import (
	"context"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Sleep blocks for the backoff of the given attempt, or returns early with
// the context error when the caller is cancelled.
func Sleep(ctx context.Context, attempt int, base, cap time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(ExponentialBackoff(attempt, base, cap)):
		return nil
	}
}
