package models

import (
	"time"

	"github.com/google/uuid"
)

type ResultStatus string

const (
	ResultSuccess             ResultStatus = "SUCCESS"
	ResultFailed              ResultStatus = "FAILED"
	ResultPartial             ResultStatus = "PARTIAL"
	ResultTimeout             ResultStatus = "TIMEOUT"
	ResultAuthenticationError ResultStatus = "AUTHENTICATION_ERROR"
	ResultConnectionError     ResultStatus = "CONNECTION_ERROR"
	ResultPermissionError     ResultStatus = "PERMISSION_ERROR"
	ResultDataError           ResultStatus = "DATA_ERROR"
	ResultUnknownError        ResultStatus = "UNKNOWN_ERROR"
)

// Succeeded reports whether the status counts as a successful collection
func (s ResultStatus) Succeeded() bool {
	return s == ResultSuccess || s == ResultPartial
}

// CollectionResult is produced once per terminal task attempt and never modified afterwards
type CollectionResult struct {
	ResultID        string       `json:"result_id" bson:"_id"`
	TaskID          string       `json:"task_id" bson:"task_id"`
	TargetHost      string       `json:"target_host" bson:"target_host"`
	CollectionClass string       `json:"collection_class" bson:"collection_class"`
	Status          ResultStatus `json:"status" bson:"status"`

	CollectionTime   time.Time `json:"collection_time" bson:"collection_time"`
	DurationMs       int64     `json:"duration_ms" bson:"duration_ms"`
	RetryCount       int       `json:"retry_count" bson:"retry_count"`
	RecordsCollected int       `json:"records_collected" bson:"records_collected"`
	RecordsSkipped   int       `json:"records_skipped" bson:"records_skipped"`
	ErrorMessage     string    `json:"error_message,omitempty" bson:"error_message,omitempty"`

	RawData       string                 `json:"raw_data,omitempty" bson:"raw_data,omitempty"`
	ProcessedData map[string]interface{} `json:"processed_data,omitempty" bson:"processed_data,omitempty"`

	IsAnomaly     bool        `json:"is_anomaly" bson:"is_anomaly"`
	AnomalyScore  float64     `json:"anomaly_score,omitempty" bson:"anomaly_score,omitempty"`
	AnomalyReason string      `json:"anomaly_reason,omitempty" bson:"anomaly_reason,omitempty"`
	ThreatLevel   ThreatLevel `json:"threat_level,omitempty" bson:"threat_level,omitempty"`
}

func NewCollectionResult(task *CollectionTask, status ResultStatus, started time.Time) *CollectionResult {
	return &CollectionResult{
		ResultID:        uuid.NewString(),
		TaskID:          task.TaskID,
		TargetHost:      task.TargetHost,
		CollectionClass: task.CollectionClass,
		Status:          status,
		CollectionTime:  started,
		DurationMs:      time.Since(started).Milliseconds(),
	}
}
