package executor

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Retry policy names
const (
	PolicyDefault     = "default"
	PolicyExponential = "exponential"
	PolicyQuick       = "quick"
	PolicyLong        = "long"
)

// RetryPolicy is an attempt budget with a delay schedule. A Multiplier of 1 or less
// means a fixed delay.
type RetryPolicy struct {
	Name         string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicies returns the four named policies
func DefaultPolicies() map[string]RetryPolicy {
	return map[string]RetryPolicy{
		PolicyDefault: {
			Name:         PolicyDefault,
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     time.Second,
			Multiplier:   1,
		},
		PolicyExponential: {
			Name:         PolicyExponential,
			MaxAttempts:  5,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
		},
		PolicyQuick: {
			Name:         PolicyQuick,
			MaxAttempts:  2,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   1,
		},
		PolicyLong: {
			Name:         PolicyLong,
			MaxAttempts:  10,
			InitialDelay: 2 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   1.5,
		},
	}
}

// PolicyByName looks up one of the named policies; empty means default
func PolicyByName(name string) (RetryPolicy, error) {
	if name == "" {
		name = PolicyDefault
	}

	policy, ok := DefaultPolicies()[name]
	if !ok {
		return RetryPolicy{}, fmt.Errorf("unknown retry policy: %s", name)
	}
	return policy, nil
}

// Delay is the wait after the given failed attempt (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	if p.Multiplier <= 1 {
		return p.InitialDelay
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs op until it succeeds, the attempts run out, retryable rejects the error or
// ctx is done. It never sleeps after the last attempt. The returned count is the number of
// times op was invoked.
func (p RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error, retryable func(error) bool) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return attempt, nil
		}

		if attempt == maxAttempts || (retryable != nil && !retryable(err)) {
			return attempt, err
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}

	return maxAttempts, err
}
