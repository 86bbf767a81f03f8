package lifecycle

import (
	"time"

	"contentflow/internal/config"
)

// RetryPolicy computes whether a failed task retries and when.
type RetryPolicy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	Exponential bool
	MaxDelay    time.Duration
}

func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Exponential: cfg.Exponential,
		MaxDelay:    cfg.MaxDelay,
	}
}

// Backoff returns the delay before the given retry. retryCount is 1-based:
// the first retry waits BaseDelay, the nth waits BaseDelay*2^(n-1) when
// exponential, capped at MaxDelay.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if !p.Exponential {
		return p.BaseDelay
	}
	if retryCount < 1 {
		retryCount = 1
	}
	d := p.BaseDelay
	for i := 1; i < retryCount; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether no further retries are allowed.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}
