package executor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

type taskEntry struct {
	mu   sync.Mutex
	task models.CollectionTask
}

// TaskStore keeps tasks keyed by id. Every mutation of one task is serialized on that
// task's own lock; readers get copies.
type TaskStore struct {
	mu      sync.RWMutex
	entries map[string]*taskEntry
	order   []string
}

func NewTaskStore() *TaskStore {
	return &TaskStore{
		entries: make(map[string]*taskEntry),
	}
}

func (s *TaskStore) Add(task models.CollectionTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[task.TaskID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.TaskID)
	}

	s.entries[task.TaskID] = &taskEntry{task: task}
	s.order = append(s.order, task.TaskID)
	return nil
}

func (s *TaskStore) entry(id string) (*taskEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return e, nil
}

func (s *TaskStore) Get(id string) (models.CollectionTask, error) {
	e, err := s.entry(id)
	if err != nil {
		return models.CollectionTask{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task, nil
}

// Update applies fn under the task's lock. When fn fails the task is left unchanged.
func (s *TaskStore) Update(id string, fn func(task *models.CollectionTask) error) (models.CollectionTask, error) {
	e, err := s.entry(id)
	if err != nil {
		return models.CollectionTask{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.task
	if err := fn(&working); err != nil {
		return e.task, err
	}

	e.task = working
	return e.task, nil
}

// List returns every task in registration order
func (s *TaskStore) List() []models.CollectionTask {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	tasks := make([]models.CollectionTask, 0, len(ids))
	for _, id := range ids {
		if task, err := s.Get(id); err == nil {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// Due returns enabled tasks whose next collection time has passed and that are PENDING
// or RETRYING, highest priority first then earliest due
func (s *TaskStore) Due(now time.Time) []models.CollectionTask {
	var due []models.CollectionTask

	for _, task := range s.List() {
		if !task.Enabled {
			continue
		}
		if task.Status != models.TaskPending && task.Status != models.TaskRetrying {
			continue
		}
		if task.NextCollectionTime.After(now) {
			continue
		}
		due = append(due, task)
	}

	sort.SliceStable(due, func(i, j int) bool {
		pi, pj := due[i].Priority.Rank(), due[j].Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		return due[i].NextCollectionTime.Before(due[j].NextCollectionTime)
	})

	return due
}

func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
