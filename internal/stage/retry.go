package stage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds upload attempts. The wait before retry n is n × Delay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy is 3 attempts, waiting 1s then 2s.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: time.Second}

// linearBackOff implements backoff.BackOff with attempt × delay waits.
type linearBackOff struct {
	delay   time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.delay
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// BackOff returns the policy as a backoff.BackOff bound to ctx.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithMaxRetries(&linearBackOff{delay: p.Delay}, uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}
