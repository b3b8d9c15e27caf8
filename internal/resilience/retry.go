package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy bounds how a single operation is retried.
type Policy struct {
	Attempts   int           // total tries including the first; default 3
	Backoff    time.Duration // first delay; default 100ms
	MaxBackoff time.Duration // default 2s
	Jitter     float64       // fraction of the delay, 0 disables
}

// DefaultPolicy retries a locked or dropped store write three times.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Backoff:    100 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		Jitter:     0.2,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = d.Backoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// delay returns the doubled backoff for the given zero-based retry.
func (p Policy) delay(retry int) time.Duration {
	d := p.Backoff << retry
	if d <= 0 || d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		span := float64(d) * p.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * span)
	}
	return max(d, 0)
}

// Do runs fn until it succeeds, returns a non-transient error, the context
// ends, or the attempts are used up. The last error is returned.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt == p.Attempts-1 {
			return err
		}

		zap.L().Warn("resilience: retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}
