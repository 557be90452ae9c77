package task

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTaskNotFound is returned when a task cannot be found by ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskExists is returned when creating a task whose ID is taken.
	ErrTaskExists = errors.New("task already exists")
)

// Ordering keys accepted by ListFilter.OrderBy.
const (
	OrderByCreatedAt = "created_at"
	OrderByProgress  = "progress"
	OrderByStatus    = "status"
)

// DefaultPageSize is used when a list request does not set one.
const DefaultPageSize = 20

// ListFilter selects and orders tasks for listing.
type ListFilter struct {
	// Status keeps only tasks in this state when set.
	Status Status
	// OrderBy is one of the OrderBy constants; created_at when empty.
	OrderBy string
	// Desc sorts descending.
	Desc bool
	// Page is 1-based.
	Page     int
	PageSize int
}

// ListResult is one page of tasks.
type ListResult struct {
	Tasks    []*Task
	Total    int
	Page     int
	PageSize int
}

// Stats counts tasks by status and by algorithm.
type Stats struct {
	Total       int
	ByStatus    map[Status]int
	ByAlgorithm map[Algorithm]int
}

// Store defines the interface for task persistence.
// Every operation is atomic with respect to the others.
type Store interface {
	// Create adds a new task. Returns ErrTaskExists on ID collision.
	Create(ctx context.Context, t *Task) error

	// Get returns a snapshot of a task.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id string) (*Task, error)

	// Update applies fn to a copy of the task and commits the copy only when
	// fn returns nil. The committed task is returned.
	Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error)

	// Delete removes a task after guard approves it. A guard error leaves the
	// store unchanged. The removed task is returned.
	Delete(ctx context.Context, id string, guard func(*Task) error) (*Task, error)

	// List returns one page of tasks matching the filter.
	List(ctx context.Context, f ListFilter) (ListResult, error)

	// Stats counts tasks by status and algorithm.
	Stats(ctx context.Context) (Stats, error)

	// SweepExpired removes terminal tasks completed before cutoff and
	// returns them.
	SweepExpired(ctx context.Context, cutoff time.Time) ([]*Task, error)
}
