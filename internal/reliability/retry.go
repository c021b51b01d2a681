package reliability

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks an error that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// DefaultPolicy suits short writes to a local or nearby database.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: 100 * time.Millisecond, Cap: time.Second}
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

// Retry calls fn until it succeeds, returns an error wrapping ErrPermanent,
// runs out of attempts or ctx ends. The last error is returned.
func Retry(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err = fn(ctx); err == nil || errors.Is(err, ErrPermanent) {
			return err
		}
		if attempt == p.Attempts-1 {
			break
		}
		timer := time.NewTimer(ExponentialBackoff(attempt, p.Base, p.Cap))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
