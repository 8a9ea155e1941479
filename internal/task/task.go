// Package task records the lifecycle of background jobs so users can
// follow integration progress and failures.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is one step of the task lifecycle.
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
	StateRetry   State = "RETRY"
)

// ErrInvalidTransition is returned when a state change is not allowed
// by the lifecycle machine.
var ErrInvalidTransition = errors.New("invalid task state transition")

// GenericFailureText is the stable user-facing message shown for any
// failed task; the serialized error stays in Error for detail views.
const GenericFailureText = "Algo deu errado. Tente novamente mais tarde."

// Task is one background-job history record.
type Task struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	State       State
	DisplayText string
	Error       string
	// LastFetchedPage records resume progress for paginated
	// integrations cancelled mid-run.
	LastFetchedPage *int
	StartedAt       *time.Time
	FinishedAt      *time.Time
	NotifiedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New creates a pending task record.
func New(userID uuid.UUID, name string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the task reached a final state.
func (t *Task) Terminal() bool {
	return t.State == StateSuccess || t.State == StateFailure
}

// Start moves the task to STARTED. Allowed from PENDING and RETRY.
func (t *Task) Start(now time.Time) error {
	if t.State != StatePending && t.State != StateRetry {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, StateStarted)
	}
	t.State = StateStarted
	t.StartedAt = &now
	t.touch(now)
	return nil
}

// Succeed finishes the task with the given user-facing text.
func (t *Task) Succeed(now time.Time, displayText string) error {
	if t.State != StateStarted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, StateSuccess)
	}
	t.State = StateSuccess
	t.DisplayText = displayText
	t.FinishedAt = &now
	t.touch(now)
	return nil
}

// Fail finishes the task storing the serialized error. The display
// text stays generic so the UI can present a stable message.
func (t *Task) Fail(now time.Time, err error) error {
	if t.State != StateStarted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, StateFailure)
	}
	t.State = StateFailure
	if err != nil {
		t.Error = err.Error()
	}
	t.DisplayText = GenericFailureText
	t.FinishedAt = &now
	t.touch(now)
	return nil
}

// MarkRetry parks the task for another attempt by the queue provider.
func (t *Task) MarkRetry(now time.Time, err error) error {
	if t.State != StateStarted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, StateRetry)
	}
	t.State = StateRetry
	if err != nil {
		t.Error = err.Error()
	}
	t.touch(now)
	return nil
}

// RecordPage saves resume progress for paginated integrations.
func (t *Task) RecordPage(now time.Time, page int) {
	t.LastFetchedPage = &page
	t.touch(now)
}

// touch bumps updated_at and clears the acknowledged flag: a state
// change after acknowledgment makes the task notifiable again.
func (t *Task) touch(now time.Time) {
	t.UpdatedAt = now
	t.NotifiedAt = nil
}

// Repository is the persistence boundary for task history.
type Repository interface {
	Add(ctx context.Context, t *Task) error
	Update(ctx context.Context, t *Task) error
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	// List returns the user's tasks newest first.
	List(ctx context.Context, userID uuid.UUID, page, size int) ([]*Task, error)
	// ListUnnotified returns tasks awaiting acknowledgment.
	ListUnnotified(ctx context.Context, userID uuid.UUID) ([]*Task, error)
	// MarkNotified bulk-acknowledges the given tasks.
	MarkNotified(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) error
	// ExistsForMonth reports whether a task with the name exists inside
	// the calendar month, for threshold-notification dedup.
	ExistsForMonth(ctx context.Context, userID uuid.UUID, name string, month time.Time) (bool, error)
}
