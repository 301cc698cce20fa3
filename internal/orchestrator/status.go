package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"taskorch/internal/task"
)

var (
	ErrUnknownTask     = errors.New("unknown task")
	ErrAlreadyTerminal = errors.New("task already reached a terminal state")
)

// Status is a point-in-time view of a task.
type Status struct {
	Task      *task.Task   `json:"task"`
	State     task.State   `json:"state"`
	Result    *task.Result `json:"result,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// StatusStore keeps the latest status of recent tasks. The oldest entries are
// evicted once the configured history size is reached.
type StatusStore struct {
	mu      sync.Mutex
	entries *lru.Cache[string, Status]
}

// NewStatusStore returns a store holding at most size tasks.
func NewStatusStore(size int) (*StatusStore, error) {
	if size <= 0 {
		size = 10000
	}
	entries, err := lru.New[string, Status](size)
	if err != nil {
		return nil, fmt.Errorf("create status store: %w", err)
	}
	return &StatusStore{entries: entries}, nil
}

// Queued records a newly accepted task.
func (s *StatusStore) Queued(t *task.Task, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(t.ID, Status{Task: t, State: task.StateQueued, UpdatedAt: at})
}

// Dispatched moves a queued task to dispatched.
func (s *StatusStore) Dispatched(id string, at time.Time) error {
	return s.transition(id, func(st *Status) error {
		if st.State != task.StateQueued {
			return fmt.Errorf("%s: cannot dispatch from %s", id, st.State)
		}
		st.State = task.StateDispatched
		st.UpdatedAt = at
		return nil
	})
}

// Finish records the terminal result. A second terminal transition is rejected
// with ErrAlreadyTerminal.
func (s *StatusStore) Finish(id string, result *task.Result, at time.Time) error {
	return s.transition(id, func(st *Status) error {
		if st.State.Terminal() {
			return fmt.Errorf("%w: %s", ErrAlreadyTerminal, id)
		}
		st.State = task.StateFailed
		if result.Succeeded {
			st.State = task.StateCompleted
		}
		st.Result = result
		st.UpdatedAt = at
		return nil
	})
}

func (s *StatusStore) transition(id string, fn func(*Status) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries.Peek(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if err := fn(&st); err != nil {
		return err
	}
	s.entries.Add(id, st)
	return nil
}

// Get returns the status of id.
func (s *StatusStore) Get(id string) (Status, bool) {
	return s.entries.Get(id)
}

// Counts returns the number of retained tasks per state.
func (s *StatusStore) Counts() map[task.State]int {
	counts := map[task.State]int{
		task.StateQueued:     0,
		task.StateDispatched: 0,
		task.StateCompleted:  0,
		task.StateFailed:     0,
	}
	for _, st := range s.entries.Values() {
		counts[st.State]++
	}
	return counts
}

// Len returns the number of retained tasks.
func (s *StatusStore) Len() int { return s.entries.Len() }
