package models

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskSuccess   TaskStatus = "SUCCESS"
	TaskFailed    TaskStatus = "FAILED"
	TaskRetrying  TaskStatus = "RETRYING"
	TaskCancelled TaskStatus = "CANCELLED"
	TaskDisabled  TaskStatus = "DISABLED"
)

type TaskPriority string

const (
	PriorityLow      TaskPriority = "LOW"
	PriorityNormal   TaskPriority = "NORMAL"
	PriorityHigh     TaskPriority = "HIGH"
	PriorityCritical TaskPriority = "CRITICAL"
)

// Rank orders priorities for scheduling, higher runs first
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Collection classes understood by the remote client
const (
	ClassConnectionTest = "CONNECTION_TEST"
	ClassSyslog         = "SYSLOG"
	ClassProcess        = "PROCESS"
	ClassNetwork        = "NETWORK"
	ClassWindowsEvent   = "WINDOWS_EVENT"
	ClassBatchSyslog    = "BATCH_SYSLOG"
)

// DefaultMaxRetryCount is the task-level retry budget used when a task file leaves it unset
const DefaultMaxRetryCount = 3

// CollectionTask is a scheduled unit of remote collection with its own retry state
type CollectionTask struct {
	TaskID             string        `json:"task_id" yaml:"task_id"`
	TargetHost         string        `json:"target_host" yaml:"target_host"`
	CollectionClass    string        `json:"collection_class" yaml:"collection_class"`
	Status             TaskStatus    `json:"status" yaml:"status"`
	Priority           TaskPriority  `json:"priority" yaml:"priority"`
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	RetryPolicy        string        `json:"retry_policy,omitempty" yaml:"retry_policy"`
	CollectionInterval time.Duration `json:"collection_interval" yaml:"collection_interval"`

	MaxRetryCount     int `json:"max_retry_count" yaml:"max_retry_count"`
	CurrentRetryCount int `json:"current_retry_count" yaml:"-"`

	LastCollectionTime *time.Time `json:"last_collection_time,omitempty" yaml:"-"`
	NextCollectionTime time.Time  `json:"next_collection_time" yaml:"-"`
	LastSuccessTime    *time.Time `json:"last_success_time,omitempty" yaml:"-"`
	LastErrorTime      *time.Time `json:"last_error_time,omitempty" yaml:"-"`
	LastErrorMessage   string     `json:"last_error_message,omitempty" yaml:"-"`

	TotalCollections      int64   `json:"total_collections" yaml:"-"`
	SuccessfulCollections int64   `json:"successful_collections" yaml:"-"`
	FailedCollections     int64   `json:"failed_collections" yaml:"-"`
	SuccessRate           float64 `json:"success_rate" yaml:"-"`
}

// RecomputeSuccessRate refreshes the derived successRate field
func (t *CollectionTask) RecomputeSuccessRate() {
	if t.TotalCollections == 0 {
		t.SuccessRate = 0
		return
	}
	t.SuccessRate = float64(t.SuccessfulCollections) / float64(t.TotalCollections)
}

// CanRetry reports whether another task-level retry is allowed
func (t *CollectionTask) CanRetry() bool {
	return t.CurrentRetryCount < t.MaxRetryCount
}
