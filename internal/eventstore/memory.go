package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	at time.Time
	id string
}

// window keeps entries ordered by timestamp
type window struct {
	entries []entry
}

func (w *window) insert(e entry) {
	// Collection order is almost chronological, so search from the tail
	i := len(w.entries)
	for i > 0 && w.entries[i-1].at.After(e.at) {
		i--
	}

	w.entries = append(w.entries, entry{})
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = e
}

func (w *window) prune(cutoff time.Time) {
	i := sort.Search(len(w.entries), func(i int) bool {
		return !w.entries[i].at.Before(cutoff)
	})
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

func (w *window) count(from, to time.Time, excludeID string) int {
	lo := sort.Search(len(w.entries), func(i int) bool {
		return !w.entries[i].at.Before(from)
	})
	hi := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i].at.After(to)
	})
	if hi <= lo {
		return 0
	}

	n := hi - lo
	if excludeID != "" {
		for _, e := range w.entries[lo:hi] {
			if e.id == excludeID {
				n--
				break
			}
		}
	}
	return n
}

// MemoryStore keeps per-key windows in process. The number of keys is bounded by an
// LRU so a flood of distinct source IPs or users cannot grow it without limit.
type MemoryStore struct {
	mu        sync.Mutex
	windows   *lru.Cache[indexKey, *window]
	retention time.Duration
}

func NewMemoryStore(maxKeys int, retention time.Duration) (*MemoryStore, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	cache, err := lru.New[indexKey, *window](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create window cache: %w", err)
	}

	return &MemoryStore{
		windows:   cache,
		retention: retention,
	}, nil
}

func (s *MemoryStore) Record(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keysFor(event) {
		w, ok := s.windows.Get(key)
		if !ok {
			w = &window{}
			s.windows.Add(key, w)
		}

		w.insert(entry{at: event.Timestamp, id: event.ID})
		w.prune(w.entries[len(w.entries)-1].at.Add(-s.retention))
	}

	return nil
}

func (s *MemoryStore) Count(ctx context.Context, q Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows.Peek(indexKey{q.Index, q.Key})
	if !ok {
		return 0, nil
	}

	return w.count(q.From, q.To, q.ExcludeID), nil
}

// Stats reports how many keys and entries are held
func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := 0
	for _, key := range s.windows.Keys() {
		if w, ok := s.windows.Peek(key); ok {
			entries += len(w.entries)
		}
	}

	return map[string]interface{}{
		"keys":      s.windows.Len(),
		"entries":   entries,
		"retention": s.retention.String(),
	}
}
