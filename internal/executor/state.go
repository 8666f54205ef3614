// Package executor schedules remote collection tasks against registered hosts. It owns
// the task status state machine, the retry policies and the worker pools tasks run on.
package executor

import (
	"errors"
	"fmt"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

var (
	ErrIllegalTransition = errors.New("executor: illegal task status transition")
	ErrTaskNotFound      = errors.New("executor: task not found")
	ErrDuplicateTask     = errors.New("executor: task already registered")
)

var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskPending:  {models.TaskRunning, models.TaskDisabled, models.TaskCancelled},
	models.TaskRunning:  {models.TaskSuccess, models.TaskFailed, models.TaskCancelled},
	models.TaskFailed:   {models.TaskRetrying, models.TaskCancelled},
	models.TaskRetrying: {models.TaskRunning, models.TaskCancelled},
	// re-armed for the next interval
	models.TaskSuccess: {models.TaskPending},
}

// CanTransition reports whether the state machine has an edge from -> to
func CanTransition(from, to models.TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no scheduler action can move the task on. A FAILED task is
// terminal only once its retries are exhausted.
func IsTerminal(task *models.CollectionTask) bool {
	switch task.Status {
	case models.TaskCancelled, models.TaskDisabled:
		return true
	case models.TaskFailed:
		return !task.CanRetry()
	default:
		return false
	}
}

// Transition moves task to the given status or returns ErrIllegalTransition
func Transition(task *models.CollectionTask, to models.TaskStatus) error {
	from := task.Status

	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (task %s)", ErrIllegalTransition, from, to, task.TaskID)
	}

	if from == models.TaskFailed && to == models.TaskRetrying && !task.CanRetry() {
		return fmt.Errorf("%w: %s -> %s (task %s, %d/%d retries used)",
			ErrIllegalTransition, from, to, task.TaskID, task.CurrentRetryCount, task.MaxRetryCount)
	}

	task.Status = to
	return nil
}
