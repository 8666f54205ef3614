package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPermanent = errors.New("host unreachable")

func TestQuickPolicy_ExhaustedOnPermanentFailure(t *testing.T) {
	policy, err := PolicyByName(PolicyQuick)
	require.NoError(t, err)

	calls := 0
	start := time.Now()

	attempts, err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errPermanent
	}, nil)

	elapsed := time.Since(start)

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestPolicyDelays(t *testing.T) {
	policies := DefaultPolicies()

	tests := []struct {
		policy string
		want   []time.Duration
	}{
		{PolicyDefault, []time.Duration{time.Second, time.Second, time.Second}},
		{PolicyQuick, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}},
		{PolicyExponential, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}},
		{PolicyLong, []time.Duration{2 * time.Second, 3 * time.Second, 4500 * time.Millisecond, 6750 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			p := policies[tt.policy]
			for i, want := range tt.want {
				assert.Equal(t, want, p.Delay(i+1), "attempt %d", i+1)
			}
		})
	}

	assert.Equal(t, 60*time.Second, policies[PolicyLong].Delay(20))
}

func TestPolicyAttemptBudgets(t *testing.T) {
	policies := DefaultPolicies()

	assert.Equal(t, 3, policies[PolicyDefault].MaxAttempts)
	assert.Equal(t, 5, policies[PolicyExponential].MaxAttempts)
	assert.Equal(t, 2, policies[PolicyQuick].MaxAttempts)
	assert.Equal(t, 10, policies[PolicyLong].MaxAttempts)
}

func TestExecute_SucceedsAfterRetry(t *testing.T) {
	policy := RetryPolicy{Name: "test", MaxAttempts: 3, InitialDelay: time.Millisecond}

	calls := 0
	attempts, err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errPermanent
		}
		return nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, calls)
}

func TestExecute_StopsOnNonRetryable(t *testing.T) {
	policy := RetryPolicy{Name: "test", MaxAttempts: 5, InitialDelay: time.Millisecond}

	calls := 0
	attempts, err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errPermanent
	}, func(err error) bool { return false })

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestExecute_ContextCancelledDuringDelay(t *testing.T) {
	policy := RetryPolicy{Name: "test", MaxAttempts: 3, InitialDelay: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	attempts, err := policy.Execute(ctx, func(ctx context.Context) error {
		return errPermanent
	}, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "host unreachable")
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, PolicyDefault, p.Name)

	_, err = PolicyByName("forever")
	assert.Error(t, err)
}
