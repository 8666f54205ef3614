// Package results persists CollectionResults, one per terminal task attempt.
package results

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

// Query filters stored results. Zero fields match everything; results come back newest first.
type Query struct {
	TaskID     string
	TargetHost string
	From       time.Time
	To         time.Time
	Limit      int
}

func (q Query) matches(r *models.CollectionResult) bool {
	if q.TaskID != "" && r.TaskID != q.TaskID {
		return false
	}
	if q.TargetHost != "" && r.TargetHost != q.TargetHost {
		return false
	}
	if !q.From.IsZero() && r.CollectionTime.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.CollectionTime.After(q.To) {
		return false
	}
	return true
}

// Store is safe for concurrent use
type Store interface {
	Save(ctx context.Context, result *models.CollectionResult) error
	List(ctx context.Context, q Query) ([]*models.CollectionResult, error)
}

// MemoryStore keeps the most recent results up to a fixed capacity
type MemoryStore struct {
	mu       sync.RWMutex
	results  []*models.CollectionResult
	capacity int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 10000
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Save(ctx context.Context, result *models.CollectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, result)
	if over := len(s.results) - s.capacity; over > 0 {
		s.results = append([]*models.CollectionResult(nil), s.results[over:]...)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]*models.CollectionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CollectionResult
	for _, r := range s.results {
		if q.matches(r) {
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CollectionTime.After(out[j].CollectionTime)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
