package task

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// A single mutex covers every read-modify-write sequence so all transitions
// of one task are linearized. Task state does not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
	}
}

// Create stores a clone of the task.
func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return ErrTaskExists
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// Get returns a clone to prevent external mutations.
func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Update runs fn on a clone under the lock and swaps it in on success.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	next := t.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return next.Clone(), nil
}

// Delete removes a task when guard allows it.
func (s *MemoryStore) Delete(_ context.Context, id string, guard func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if guard != nil {
		if err := guard(t.Clone()); err != nil {
			return nil, err
		}
	}
	delete(s.tasks, id)
	return t, nil
}

// List filters, sorts and pages tasks. Ties keep creation order.
func (s *MemoryStore) List(_ context.Context, f ListFilter) (ListResult, error) {
	s.mu.Lock()
	matched := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		matched = append(matched, t.Clone())
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if less, decided := compareBy(f.OrderBy, a, b, f.Desc); decided {
			return less
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	start := min((page-1)*size, len(matched))
	end := min(start+size, len(matched))

	return ListResult{
		Tasks:    matched[start:end],
		Total:    len(matched),
		Page:     page,
		PageSize: size,
	}, nil
}

// compareBy orders two tasks on the requested key. decided is false on ties.
func compareBy(key string, a, b *Task, desc bool) (less, decided bool) {
	var cmp int
	switch key {
	case OrderByProgress:
		switch {
		case a.Progress < b.Progress:
			cmp = -1
		case a.Progress > b.Progress:
			cmp = 1
		}
	case OrderByStatus:
		switch {
		case a.Status < b.Status:
			cmp = -1
		case a.Status > b.Status:
			cmp = 1
		}
	default:
		cmp = a.CreatedAt.Compare(b.CreatedAt)
	}
	if cmp == 0 {
		return false, false
	}
	if desc {
		cmp = -cmp
	}
	return cmp < 0, true
}

// Stats counts tasks by status and algorithm.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Total:       len(s.tasks),
		ByStatus:    make(map[Status]int, len(validTransitions)),
		ByAlgorithm: make(map[Algorithm]int, len(Algorithms)),
	}
	for status := range validTransitions {
		st.ByStatus[status] = 0
	}
	for _, a := range Algorithms {
		st.ByAlgorithm[a] = 0
	}
	for _, t := range s.tasks {
		st.ByStatus[t.Status]++
		st.ByAlgorithm[t.Algorithm]++
	}
	return st, nil
}

// SweepExpired removes terminal tasks that completed before cutoff.
func (s *MemoryStore) SweepExpired(_ context.Context, cutoff time.Time) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*Task
	for id, t := range s.tasks {
		if !t.IsTerminal() || !t.CompletedAt.Before(cutoff) {
			continue
		}
		removed = append(removed, t)
		delete(s.tasks, id)
	}
	return removed, nil
}
