package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/domain"
	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/internal/task"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

// JobPayload is the body of a queue-provider job delivery. TaskID is
// set on retry deliveries so the run resumes the existing task record.
type JobPayload struct {
	UserID uuid.UUID  `json:"user_id"`
	TaskID *uuid.UUID `json:"task_id"`
}

// JobRunner executes one job under its task record. The runner owns the
// record's state transitions.
type JobRunner func(ctx context.Context, p JobPayload, t *task.Task) error

// Job describes one queue-invocable job.
type Job struct {
	Name string
	// PerUser jobs require user_id in the payload and record their task
	// under that user.
	PerUser bool
	Run     JobRunner
}

// JobRegistry maps queue job names to their runners and owns the task
// record surrounding each run.
type JobRegistry struct {
	tasks  task.Repository
	jobs   map[string]Job
	logger *logger.Logger
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry(tasks task.Repository, log *logger.Logger) *JobRegistry {
	return &JobRegistry{
		tasks:  tasks,
		jobs:   make(map[string]Job),
		logger: log.WithField("component", "jobs"),
	}
}

// Register adds a job. A duplicate name is a startup mistake.
func (r *JobRegistry) Register(j Job) error {
	if _, exists := r.jobs[j.Name]; exists {
		return fmt.Errorf("job %q already registered", j.Name)
	}
	r.jobs[j.Name] = j
	return nil
}

// Run resolves and executes the named job. First deliveries create a
// fresh pending task; retry deliveries resume the one named in the
// payload.
func (r *JobRegistry) Run(ctx context.Context, name string, body []byte) error {
	job, ok := r.jobs[name]
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("job %q", name))
	}

	var payload JobPayload
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return apperrors.BadRequest("malformed job payload")
		}
	}
	if job.PerUser && payload.UserID == uuid.Nil {
		return apperrors.BadRequest("job requires user_id")
	}

	var t *task.Task
	if payload.TaskID != nil {
		existing, err := r.tasks.Get(ctx, *payload.TaskID)
		if err != nil {
			return err
		}
		if existing.Terminal() {
			r.logger.Warn("ignoring retry delivery for finished task",
				"job", name, "task_id", existing.ID.String())
			return nil
		}
		t = existing
	} else {
		t = task.New(payload.UserID, name)
		if err := r.tasks.Add(ctx, t); err != nil {
			return err
		}
	}

	return job.Run(ctx, payload, t)
}

// Tracked wraps a plain job function with the standard task lifecycle:
// start, then succeed with the returned display text, retry on
// transient errors, fail otherwise.
func (r *JobRegistry) Tracked(fn func(ctx context.Context, p JobPayload) (string, error)) JobRunner {
	return func(ctx context.Context, p JobPayload, t *task.Task) error {
		now := time.Now().UTC()
		if err := t.Start(now); err != nil {
			return err
		}
		if err := r.tasks.Update(ctx, t); err != nil {
			return err
		}

		text, err := fn(ctx, p)
		now = time.Now().UTC()
		if err != nil {
			if apperrors.IsRetryable(err) {
				if trErr := t.MarkRetry(now, err); trErr != nil {
					return trErr
				}
			} else {
				if trErr := t.Fail(now, err); trErr != nil {
					return trErr
				}
			}
			if upErr := r.tasks.Update(ctx, t); upErr != nil {
				return upErr
			}
			return err
		}

		if err := t.Succeed(now, text); err != nil {
			return err
		}
		return r.tasks.Update(ctx, t)
	}
}

// SnapshotTotalInvested rolls the current invested totals up into one
// dated snapshot per user.
func SnapshotTotalInvested(readModels domain.ReadModelRepository, snapshots domain.SnapshotRepository) func(ctx context.Context, p JobPayload) (string, error) {
	return func(ctx context.Context, _ JobPayload) (string, error) {
		totals, err := readModels.SumTotalInvestedByUser(ctx)
		if err != nil {
			return "", apperrors.Retryable("failed to sum invested totals", err)
		}
		today := time.Now().UTC().Truncate(24 * time.Hour)
		for userID, total := range totals {
			snap := &domain.TotalInvestedSnapshot{
				ID:            uuid.New(),
				UserID:        userID,
				OperationDate: today,
				Total:         total,
			}
			if err := snapshots.Add(ctx, snap); err != nil {
				return "", apperrors.Retryable("failed to store invested snapshot", err)
			}
		}
		return fmt.Sprintf("%d patrimônios registrados", len(totals)), nil
	}
}

// RateUpdater refetches a conversion rate from its provider and writes
// it through every cache layer.
type RateUpdater interface {
	Update(ctx context.Context, from, to money.Currency) (decimal.Decimal, error)
}

// RefreshConversionRate refetches the USD to BRL rate.
func RefreshConversionRate(rates RateUpdater) func(ctx context.Context, p JobPayload) (string, error) {
	return func(ctx context.Context, _ JobPayload) (string, error) {
		rate, err := rates.Update(ctx, money.Dollar, money.Real)
		if err != nil {
			return "", apperrors.Retryable("failed to refresh conversion rate", err)
		}
		return fmt.Sprintf("Cotação atualizada: %s", rate.StringFixed(4)), nil
	}
}
