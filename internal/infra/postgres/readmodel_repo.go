package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/money"
)

// ReadModelRepository maintains the denormalized per-asset projection
// rows.
type ReadModelRepository struct {
	pool *pgxpool.Pool
}

// NewReadModelRepository creates a PostgreSQL read-model repository.
func NewReadModelRepository(pool *pgxpool.Pool) *ReadModelRepository {
	return &ReadModelRepository{pool: pool}
}

// readModelFields maps projection field names to their column and the
// row accessor, for field-scoped upserts.
var readModelFields = map[string]func(*domain.AssetReadModel) any{
	"quantity":                    func(r *domain.AssetReadModel) any { return r.Quantity },
	"normalized_total_invested":   func(r *domain.AssetReadModel) any { return r.NormalizedTotalInvested },
	"normalized_avg_price":        func(r *domain.AssetReadModel) any { return r.NormalizedAvgPrice },
	"normalized_current_total":    func(r *domain.AssetReadModel) any { return r.NormalizedCurrentTotal },
	"normalized_closed_roi":       func(r *domain.AssetReadModel) any { return r.NormalizedClosedROI },
	"normalized_credited_incomes": func(r *domain.AssetReadModel) any { return r.NormalizedCreditedIncomes },
	"objective":                   func(r *domain.AssetReadModel) any { return string(r.Objective) },
}

// Upsert writes the projection row. With a nil or empty field list the
// whole row is replaced; otherwise only the named fields are written,
// leaving the rest untouched on conflict.
func (r *ReadModelRepository) Upsert(ctx context.Context, row *domain.AssetReadModel, fields []string) error {
	if len(fields) == 0 {
		query := `
			INSERT INTO asset_read_models (asset_id, user_id, code, type, currency, objective,
			       quantity, normalized_total_invested, normalized_avg_price,
			       normalized_current_total, normalized_closed_roi, normalized_credited_incomes,
			       updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (asset_id) DO UPDATE SET
			       objective = EXCLUDED.objective,
			       quantity = EXCLUDED.quantity,
			       normalized_total_invested = EXCLUDED.normalized_total_invested,
			       normalized_avg_price = EXCLUDED.normalized_avg_price,
			       normalized_current_total = EXCLUDED.normalized_current_total,
			       normalized_closed_roi = EXCLUDED.normalized_closed_roi,
			       normalized_credited_incomes = EXCLUDED.normalized_credited_incomes,
			       updated_at = EXCLUDED.updated_at
		`
		_, err := r.pool.Exec(ctx, query,
			row.AssetID, row.UserID, row.Code, string(row.Type), string(row.Currency),
			string(row.Objective), row.Quantity, row.NormalizedTotalInvested,
			row.NormalizedAvgPrice, row.NormalizedCurrentTotal, row.NormalizedClosedROI,
			row.NormalizedCreditedIncomes, row.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert read model: %w", err)
		}
		return nil
	}

	sets := make([]string, 0, len(fields)+1)
	args := []any{row.AssetID}
	for _, f := range fields {
		accessor, ok := readModelFields[f]
		if !ok {
			return fmt.Errorf("unknown read model field %q", f)
		}
		args = append(args, accessor(row))
		sets = append(sets, fmt.Sprintf("%s = $%d", f, len(args)))
	}
	args = append(args, row.UpdatedAt)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	query := fmt.Sprintf(`UPDATE asset_read_models SET %s WHERE asset_id = $1`, strings.Join(sets, ", "))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update read model fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get returns the projection row for an asset.
func (r *ReadModelRepository) Get(ctx context.Context, assetID uuid.UUID) (*domain.AssetReadModel, error) {
	query := `
		SELECT asset_id, user_id, code, type, currency, objective, quantity,
		       normalized_total_invested, normalized_avg_price, normalized_current_total,
		       normalized_closed_roi, normalized_credited_incomes, updated_at
		FROM asset_read_models
		WHERE asset_id = $1
	`
	return scanReadModel(r.pool.QueryRow(ctx, query, assetID))
}

// List pages the user's projection rows, largest positions first.
func (r *ReadModelRepository) List(ctx context.Context, userID uuid.UUID, page, size int) ([]*domain.AssetReadModel, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	if size > 100 {
		size = 100
	}
	query := `
		SELECT asset_id, user_id, code, type, currency, objective, quantity,
		       normalized_total_invested, normalized_avg_price, normalized_current_total,
		       normalized_closed_roi, normalized_credited_incomes, updated_at
		FROM asset_read_models
		WHERE user_id = $1 AND quantity > 0
		ORDER BY normalized_total_invested DESC, code
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("failed to list read models: %w", err)
	}
	defer rows.Close()

	var out []*domain.AssetReadModel
	for rows.Next() {
		rm, err := scanReadModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

// Delete removes the projection row for an asset.
func (r *ReadModelRepository) Delete(ctx context.Context, assetID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM asset_read_models WHERE asset_id = $1`, assetID); err != nil {
		return fmt.Errorf("failed to delete read model: %w", err)
	}
	return nil
}

// SumMonthlySellTotal sums the normalized SELL gross totals for the
// user and asset type within the calendar month of the given date.
func (r *ReadModelRepository) SumMonthlySellTotal(ctx context.Context, userID uuid.UUID, typ domain.AssetType, month time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(t.quantity * t.price * t.conversion_rate), 0)
		FROM transactions t
		JOIN assets a ON a.id = t.asset_id
		WHERE a.user_id = $1 AND a.type = $2 AND t.action = 'SELL'
		  AND date_trunc('month', t.operation_date) = date_trunc('month', $3::timestamptz)
	`
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, query, userID, string(typ), month).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum monthly sells: %w", err)
	}
	return total, nil
}

// SumTotalInvestedByUser rolls up normalized_total_invested per user
// across their open assets.
func (r *ReadModelRepository) SumTotalInvestedByUser(ctx context.Context) (map[uuid.UUID]decimal.Decimal, error) {
	query := `
		SELECT user_id, SUM(normalized_total_invested)
		FROM asset_read_models
		WHERE quantity > 0
		GROUP BY user_id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to sum invested totals: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]decimal.Decimal)
	for rows.Next() {
		var userID uuid.UUID
		var total decimal.Decimal
		if err := rows.Scan(&userID, &total); err != nil {
			return nil, fmt.Errorf("failed to scan invested total: %w", err)
		}
		out[userID] = total
	}
	return out, rows.Err()
}

func scanReadModel(row pgx.Row) (*domain.AssetReadModel, error) {
	var (
		rm                        domain.AssetReadModel
		typ, currency, objective string
	)
	err := row.Scan(&rm.AssetID, &rm.UserID, &rm.Code, &typ, &currency, &objective,
		&rm.Quantity, &rm.NormalizedTotalInvested, &rm.NormalizedAvgPrice,
		&rm.NormalizedCurrentTotal, &rm.NormalizedClosedROI,
		&rm.NormalizedCreditedIncomes, &rm.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan read model: %w", err)
	}
	rm.Type = domain.AssetType(typ)
	rm.Currency = money.Currency(currency)
	rm.Objective = domain.Objective(objective)
	return &rm, nil
}
