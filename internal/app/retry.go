package app

import (
	"context"
	"math/rand/v2"
	"time"

	"channel-gateway/internal/config"
)

// RetryPolicy bounds how often a transient send failure is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// RetryPolicyFrom converts the dispatch configuration section.
func RetryPolicyFrom(cfg config.Dispatch) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	}
}

// Backoff returns the wait before attempt n+1 after n failed attempts:
// exponential in n with up to 50% jitter, never above MaxBackoff.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseBackoff <= 0 {
		return 0
	}
	base := p.BaseBackoff << (n - 1)
	if base <= 0 || base > p.MaxBackoff {
		base = p.MaxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(base/2) + 1))
	return min(base+jitter, p.MaxBackoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
