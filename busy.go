package pipeline

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// BusyPolicy bounds the retries a queue applies when the engine reports
// busy contention. Retries are never unbounded: MaxAttempts and Budget
// both cap the loop, whichever trips first.
type BusyPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff curve.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// Jitter randomizes each delay by the given fraction (0.2 = ±20%).
	Jitter float64
	// Budget caps the total wall-clock time spent waiting.
	Budget time.Duration
	// Handler, when set, is consulted before each retry; returning false
	// aborts the loop with the last busy error. This is the busy-hook
	// surface.
	Handler func(attempt int, err error) bool
	// Sleep is a test seam; nil means time.Sleep.
	Sleep func(time.Duration)
}

// DefaultBusyPolicy returns the default bounded policy: 3 attempts, 1.5x
// backoff from 50ms, ±20% jitter, 5s total budget.
func DefaultBusyPolicy() BusyPolicy {
	return BusyPolicy{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		Jitter:       0.2,
		Budget:       5 * time.Second,
	}
}

// run executes op, retrying while it fails with a retryable busy error and
// the policy allows another attempt.
func (p BusyPolicy) run(logger *slog.Logger, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var waited time.Duration
	delay := p.InitialDelay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		if p.Handler != nil && !p.Handler(attempt, err) {
			return err
		}
		d := jittered(delay, p.Jitter)
		if p.Budget > 0 && waited+d > p.Budget {
			return fmt.Errorf("retry budget %s exhausted after %d attempts: %w", p.Budget, attempt, err)
		}
		if logger != nil {
			logger.Warn("database busy, retrying",
				"attempt", attempt, "delay", d, "error", err)
		}
		sleep(d)
		waited += d

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

func jittered(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	span := float64(d) * frac
	return d + time.Duration(span*(2*rand.Float64()-1))
}
