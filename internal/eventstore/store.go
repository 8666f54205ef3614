// Package eventstore keeps the recent scored events the frequency and statistical
// detectors count against.
package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

// Index is the closed set of windows an event can be counted in
type Index int

const (
	// IndexEventType counts every event by event type
	IndexEventType Index = iota
	// IndexFailedLoginBySource counts LOGIN_FAILURE events by source IP
	IndexFailedLoginBySource
	// IndexAnomalyByUser counts anomalous events by user name
	IndexAnomalyByUser
)

func (i Index) String() string {
	switch i {
	case IndexEventType:
		return "type"
	case IndexFailedLoginBySource:
		return "failed-login"
	case IndexAnomalyByUser:
		return "user-anomaly"
	default:
		return fmt.Sprintf("Index(%d)", int(i))
	}
}

// DefaultRetention covers the 7-day statistical baseline plus the trailing hour
const DefaultRetention = 7*24*time.Hour + time.Hour

// Query counts entries of one index key with From <= timestamp <= To.
// ExcludeID drops one event from the count so re-scoring a recorded event is stable.
type Query struct {
	Index     Index
	Key       string
	From      time.Time
	To        time.Time
	ExcludeID string
}

// Store is safe for concurrent use
type Store interface {
	Record(ctx context.Context, event *models.Event) error
	Count(ctx context.Context, q Query) (int, error)
}

type indexKey struct {
	index Index
	key   string
}

// keysFor lists the windows an event belongs to
func keysFor(event *models.Event) []indexKey {
	keys := []indexKey{{IndexEventType, event.EventType}}

	if event.EventType == models.EventLoginFailure && event.Network.SrcIP != "" {
		keys = append(keys, indexKey{IndexFailedLoginBySource, event.Network.SrcIP})
	}

	if event.IsAnomaly && event.User.Name != "" {
		keys = append(keys, indexKey{IndexAnomalyByUser, event.User.Name})
	}

	return keys
}

func (k indexKey) String() string {
	return k.index.String() + ":" + k.key
}
