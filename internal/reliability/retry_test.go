package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(1, base, capDur); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 = %v, want %v", got, 200*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Policy{Attempts: 5, Base: time.Millisecond, Cap: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("Retry() = %v after %d calls, want nil after 3", err, calls)
	}
}

func TestRetryGivesUpOnPermanentAndExhaustion(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), Policy{Attempts: 5, Base: time.Millisecond, Cap: time.Millisecond}, func(context.Context) error {
		calls++
		return fmt.Errorf("schema: %w", ErrPermanent)
	})
	if !errors.Is(err, ErrPermanent) || calls != 1 {
		t.Fatalf("Retry(permanent) = %v after %d calls", err, calls)
	}

	calls = 0
	err = Retry(context.Background(), Policy{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("busy")
	})
	if err == nil || calls != 2 {
		t.Fatalf("Retry(exhausted) = %v after %d calls", err, calls)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Policy{Attempts: 5, Base: time.Hour, Cap: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("busy")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("Retry(cancelled) = %v after %d calls", err, calls)
	}
}
