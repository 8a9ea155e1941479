package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barbosaigor/investrack/internal/domain"
)

// SnapshotRepository stores the periodic per-user patrimony rollups.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a PostgreSQL snapshot repository.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Add inserts a snapshot. A second snapshot for the same user and day
// replaces the first, so re-run jobs stay idempotent.
func (r *SnapshotRepository) Add(ctx context.Context, snapshot *domain.TotalInvestedSnapshot) error {
	query := `
		INSERT INTO total_invested_snapshots (id, user_id, operation_date, total)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, operation_date) DO UPDATE SET total = EXCLUDED.total
	`
	_, err := r.pool.Exec(ctx, query,
		snapshot.ID, snapshot.UserID, snapshot.OperationDate, snapshot.Total)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// List returns the user's snapshots in chronological order.
func (r *SnapshotRepository) List(ctx context.Context, userID uuid.UUID) ([]*domain.TotalInvestedSnapshot, error) {
	query := `
		SELECT id, user_id, operation_date, total
		FROM total_invested_snapshots
		WHERE user_id = $1
		ORDER BY operation_date
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*domain.TotalInvestedSnapshot
	for rows.Next() {
		var s domain.TotalInvestedSnapshot
		if err := rows.Scan(&s.ID, &s.UserID, &s.OperationDate, &s.Total); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
