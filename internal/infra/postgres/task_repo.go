package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/task"
)

// TaskRepository handles task-history persistence.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a PostgreSQL task repository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

const taskColumns = `id, user_id, name, state, display_text, error, last_fetched_page,
       started_at, finished_at, notified_at, created_at, updated_at`

// Add inserts a task record.
func (r *TaskRepository) Add(ctx context.Context, t *task.Task) error {
	query := `
		INSERT INTO task_history (id, user_id, name, state, display_text, error,
		       last_fetched_page, started_at, finished_at, notified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		t.ID, t.UserID, t.Name, string(t.State), t.DisplayText, t.Error,
		t.LastFetchedPage, t.StartedAt, t.FinishedAt, t.NotifiedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Update flushes the task's mutable lifecycle fields.
func (r *TaskRepository) Update(ctx context.Context, t *task.Task) error {
	query := `
		UPDATE task_history
		SET state = $2, display_text = $3, error = $4, last_fetched_page = $5,
		    started_at = $6, finished_at = $7, notified_at = $8, updated_at = $9
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		t.ID, string(t.State), t.DisplayText, t.Error, t.LastFetchedPage,
		t.StartedAt, t.FinishedAt, t.NotifiedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a task by id.
func (r *TaskRepository) Get(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM task_history WHERE id = $1`, taskColumns)
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// List pages the user's tasks newest first.
func (r *TaskRepository) List(ctx context.Context, userID uuid.UUID, page, size int) ([]*task.Task, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM task_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, taskColumns)
	return r.queryTasks(ctx, query, userID, size, (page-1)*size)
}

// ListUnnotified returns tasks awaiting acknowledgment: never notified,
// or changed after the last acknowledgment.
func (r *TaskRepository) ListUnnotified(ctx context.Context, userID uuid.UUID) ([]*task.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM task_history
		WHERE user_id = $1 AND (notified_at IS NULL OR notified_at < updated_at)
		ORDER BY created_at DESC
	`, taskColumns)
	return r.queryTasks(ctx, query, userID)
}

// MarkNotified bulk-acknowledges the given tasks.
func (r *TaskRepository) MarkNotified(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE task_history
		SET notified_at = $3
		WHERE user_id = $1 AND id = ANY($2)
	`
	if _, err := r.pool.Exec(ctx, query, userID, ids, at); err != nil {
		return fmt.Errorf("failed to mark tasks notified: %w", err)
	}
	return nil
}

// ExistsForMonth reports whether a task with the name exists inside the
// calendar month of the given date.
func (r *TaskRepository) ExistsForMonth(ctx context.Context, userID uuid.UUID, name string, month time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM task_history
			WHERE user_id = $1 AND name = $2
			  AND date_trunc('month', created_at) = date_trunc('month', $3::timestamptz)
		)
	`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, name, month).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check monthly task: %w", err)
	}
	return exists, nil
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t     task.Task
		state string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &state, &t.DisplayText, &t.Error,
		&t.LastFetchedPage, &t.StartedAt, &t.FinishedAt, &t.NotifiedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.State = task.State(state)
	return &t, nil
}
