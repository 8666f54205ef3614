package executor

import (
	"testing"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from  models.TaskStatus
		to    models.TaskStatus
		legal bool
	}{
		{models.TaskPending, models.TaskRunning, true},
		{models.TaskRunning, models.TaskFailed, true},
		{models.TaskFailed, models.TaskRetrying, true},
		{models.TaskRetrying, models.TaskRunning, true},
		{models.TaskRunning, models.TaskSuccess, true},
		{models.TaskSuccess, models.TaskPending, true},
		{models.TaskPending, models.TaskDisabled, true},

		{models.TaskPending, models.TaskSuccess, false},
		{models.TaskPending, models.TaskFailed, false},
		{models.TaskRetrying, models.TaskSuccess, false},
		{models.TaskDisabled, models.TaskPending, false},
		{models.TaskRunning, models.TaskDisabled, false},
		{models.TaskSuccess, models.TaskCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.legal, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCancelledReachableFromNonTerminalStates(t *testing.T) {
	for _, from := range []models.TaskStatus{models.TaskPending, models.TaskRunning, models.TaskFailed, models.TaskRetrying} {
		assert.True(t, CanTransition(from, models.TaskCancelled), "from %s", from)
	}

	all := []models.TaskStatus{
		models.TaskPending, models.TaskRunning, models.TaskSuccess, models.TaskFailed,
		models.TaskRetrying, models.TaskCancelled, models.TaskDisabled,
	}
	for _, to := range all {
		assert.False(t, CanTransition(models.TaskCancelled, to), "cancelled -> %s", to)
		assert.False(t, CanTransition(models.TaskDisabled, to), "disabled -> %s", to)
	}
}

func TestTransition_RetryPath(t *testing.T) {
	task := &models.CollectionTask{TaskID: "t-1", Status: models.TaskPending, MaxRetryCount: 1}

	require.NoError(t, Transition(task, models.TaskRunning))
	require.NoError(t, Transition(task, models.TaskFailed))
	require.NoError(t, Transition(task, models.TaskRetrying))
	task.CurrentRetryCount++
	require.NoError(t, Transition(task, models.TaskRunning))
	require.NoError(t, Transition(task, models.TaskFailed))

	err := Transition(task, models.TaskRetrying)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.True(t, IsTerminal(task))
}

func TestTransition_IllegalLeavesStatus(t *testing.T) {
	task := &models.CollectionTask{TaskID: "t-2", Status: models.TaskPending}

	err := Transition(task, models.TaskSuccess)

	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Contains(t, err.Error(), "PENDING -> SUCCESS")
	assert.Equal(t, models.TaskPending, task.Status)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(&models.CollectionTask{Status: models.TaskCancelled}))
	assert.True(t, IsTerminal(&models.CollectionTask{Status: models.TaskDisabled}))
	assert.False(t, IsTerminal(&models.CollectionTask{Status: models.TaskFailed, MaxRetryCount: 2, CurrentRetryCount: 1}))
	assert.False(t, IsTerminal(&models.CollectionTask{Status: models.TaskPending}))
	assert.False(t, IsTerminal(&models.CollectionTask{Status: models.TaskSuccess}))
}
