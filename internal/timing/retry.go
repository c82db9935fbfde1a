package timing

import (
	"math/rand"
	"time"
)

// RetryPolicy computes exponential-backoff-with-jitter delays for ACK retries.
type RetryPolicy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	MaxRetries   int
}

// DefaultRetryPolicy returns the spec-default policy: 100ms base, 5s cap,
// 10% jitter, 3 retries (spec §4.6, §4.2 step 5).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.1,
		MaxRetries:   3,
	}
}

// Delay returns the backoff delay for the given 0-indexed retry attempt:
// base * 2^attempt + jitter, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * float64(int64(1)<<uint(attempt))
	if max := float64(p.MaxDelay); delay > max {
		delay = max
	}
	jitter := rand.Float64() * delay * p.JitterFactor
	return time.Duration(delay + jitter)
}
