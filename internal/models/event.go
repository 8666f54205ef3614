// Package models holds the canonical shapes shared by the collector, the detection engine and the task executor.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceSystem identifies which kind of source produced an event
type SourceSystem string

const (
	SourceWindows     SourceSystem = "WINDOWS"
	SourceLinux       SourceSystem = "LINUX"
	SourceNetwork     SourceSystem = "NETWORK"
	SourceProcess     SourceSystem = "PROCESS"
	SourceApplication SourceSystem = "APPLICATION"
)

// ThreatLevel is the coarse bucket derived from the combined anomaly score
type ThreatLevel string

const (
	ThreatNone     ThreatLevel = ""
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// Disposition is written by the triage workflow, never by this service (except the initial NEW)
type Disposition string

const (
	DispositionNew           Disposition = "NEW"
	DispositionInProgress    Disposition = "IN_PROGRESS"
	DispositionResolved      Disposition = "RESOLVED"
	DispositionFalsePositive Disposition = "FALSE_POSITIVE"
)

// Severity as reported by (or inferred from) the source
const (
	SeverityInfo     = "INFO"
	SeverityWarn     = "WARN"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// Event types produced by the adapters
const (
	EventLoginSuccess        = "LOGIN_SUCCESS"
	EventLoginFailure        = "LOGIN_FAILURE"
	EventLogout              = "LOGOUT"
	EventPrivilegeEscalation = "PRIVILEGE_ESCALATION"
	EventProcessStart        = "PROCESS_START"
	EventProcessSnapshot     = "PROCESS_SNAPSHOT"
	EventNetworkConnection   = "NETWORK_CONNECTION"
	EventFileAccess          = "FILE_ACCESS"
	EventSystem              = "SYSTEM_EVENT"
	EventSyslog              = "SYSLOG"
	EventApplicationMetrics  = "APPLICATION_METRICS"
	EventCollectorError      = "COLLECTOR_ERROR"
)

// AlgorithmMultiLayer tags events scored by the combined detector engine
const AlgorithmMultiLayer = "MULTI_LAYER"

type HostIdentity struct {
	IP   string `json:"ip,omitempty"`
	Name string `json:"name,omitempty"`
}

type UserIdentity struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Session string `json:"session,omitempty"`
}

type ProcessIdentity struct {
	PID      int32  `json:"pid,omitempty"`
	Name     string `json:"name,omitempty"`
	ThreadID int32  `json:"thread_id,omitempty"`
}

// NetworkTuple is the classic 5-tuple; empty for non-network events
type NetworkTuple struct {
	SrcIP    string `json:"src_ip,omitempty"`
	SrcPort  int    `json:"src_port,omitempty"`
	DstIP    string `json:"dst_ip,omitempty"`
	DstPort  int    `json:"dst_port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// Event is the canonical, source-agnostic representation every adapter produces.
//
// It is created once by one adapter, scored once by the engine, and is treated as
// immutable after that.
type Event struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Source    SourceSystem `json:"source_system"`
	EventType string       `json:"event_type"`
	Category  string       `json:"category"`
	Severity  string       `json:"severity"`

	RawMessage        string `json:"raw_message"`
	NormalizedMessage string `json:"normalized_message,omitempty"`

	Host    HostIdentity    `json:"host"`
	User    UserIdentity    `json:"user"`
	Process ProcessIdentity `json:"process"`
	Network NetworkTuple    `json:"network"`

	EventData map[string]interface{} `json:"event_data,omitempty"`

	// Adapter's own heuristic, merged by the engine
	SourceScore  float64 `json:"source_score,omitempty"`
	SourceReason string  `json:"source_reason,omitempty"`

	// Detection outputs
	IsAnomaly          bool        `json:"is_anomaly"`
	AnomalyScore       float64     `json:"anomaly_score"`
	AnomalyReason      string      `json:"anomaly_reason,omitempty"`
	DetectionAlgorithm string      `json:"detection_algorithm,omitempty"`
	ThreatLevel        ThreatLevel `json:"threat_level,omitempty"`

	// Triage
	Status     Disposition `json:"status"`
	AssignedTo string      `json:"assigned_to,omitempty"`
	Notes      string      `json:"notes,omitempty"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

func NewEvent(source SourceSystem, eventType string, timestamp time.Time) *Event {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return &Event{
		ID:        uuid.NewString(),
		Timestamp: timestamp,
		Source:    source,
		EventType: eventType,
		Severity:  SeverityInfo,
		EventData: make(map[string]interface{}),
		Status:    DispositionNew,
	}
}

// Message returns the normalised message, falling back to the raw one
func (e *Event) Message() string {
	if e.NormalizedMessage != "" {
		return e.NormalizedMessage
	}
	return e.RawMessage
}

// Flag records an adapter-level heuristic hit. The engine decides the final verdict.
func (e *Event) Flag(score float64, reason string) {
	if score > e.SourceScore {
		e.SourceScore = score
		e.SourceReason = reason
	}
}

// NewCollectorErrorEvent is the synthetic event emitted when a whole source is unreachable
func NewCollectorErrorEvent(source SourceSystem, adapterName string, err error) *Event {
	event := NewEvent(source, EventCollectorError, time.Now())
	event.Category = "COLLECTOR"
	event.Severity = SeverityError
	event.RawMessage = adapterName + " collection error: " + err.Error()
	event.EventData["adapter"] = adapterName
	event.EventData["error"] = err.Error()
	return event
}
