package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/money"
)

// queryable is the subset of pgx satisfied by both pgx.Tx and
// *pgxpool.Pool, so repositories run inside or outside a unit of work.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AssetRepository persists the aggregate and its children. The
// write-session variant built inside a unit of work locks asset rows on
// read and tracks loaded aggregates so their events can be collected;
// the pool-backed variant is shared across goroutines and does neither.
type AssetRepository struct {
	db    queryable
	write bool
	seen  []*domain.Asset
}

// NewAssetRepository creates a read-only asset repository over the
// given pool. It is safe for concurrent use and keeps no references to
// the aggregates it loads.
func NewAssetRepository(db queryable) *AssetRepository {
	return &AssetRepository{db: db}
}

// newWriteAssetRepository creates the transaction-scoped repository
// used inside a unit of work.
func newWriteAssetRepository(tx queryable) *AssetRepository {
	return &AssetRepository{db: tx, write: true}
}

const assetColumns = `id, user_id, code, type, currency, objective, held_in_self_custody, created_at`

// Get retrieves an aggregate with its full child history. Inside a
// unit of work the asset row is locked FOR UPDATE so concurrent
// writers serialize before loading their snapshots.
func (r *AssetRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	query := fmt.Sprintf(`SELECT %s FROM assets WHERE id = $1%s`, assetColumns, r.lockClause())
	a, err := r.loadAsset(ctx, r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	r.markSeen(a)
	return a, nil
}

// GetByKey retrieves the user's aggregate for the natural key, locking
// the row when called inside a unit of work.
func (r *AssetRepository) GetByKey(ctx context.Context, userID uuid.UUID, key domain.AssetKey) (*domain.Asset, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM assets
		WHERE user_id = $1 AND code = $2 AND type = $3 AND currency = $4%s
	`, assetColumns, r.lockClause())
	a, err := r.loadAsset(ctx, r.db.QueryRow(ctx, query, userID, key.Code, string(key.Type), string(key.Currency)))
	if err != nil {
		return nil, err
	}
	r.markSeen(a)
	return a, nil
}

// GetOrCreate inserts the candidate or returns the existing aggregate
// for its natural key. Concurrent first-writers race on the unique
// constraint; the loser re-selects the winner's row.
func (r *AssetRepository) GetOrCreate(ctx context.Context, candidate *domain.Asset) (*domain.Asset, bool, error) {
	query := `
		INSERT INTO assets (id, user_id, code, type, currency, objective, held_in_self_custody, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, code, type, currency) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		candidate.ID, candidate.UserID, candidate.Code, string(candidate.Type),
		string(candidate.Currency), string(candidate.Objective), candidate.HeldInSelfCustody, candidate.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert asset: %w", err)
	}

	if tag.RowsAffected() == 1 {
		r.markSeen(candidate)
		return candidate, true, nil
	}

	existing, err := r.GetByKey(ctx, candidate.UserID, domain.AssetKey{
		Code:     candidate.Code,
		Type:     candidate.Type,
		Currency: candidate.Currency,
	})
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// AddTransaction persists a transaction. When the external id already
// exists for the asset the insert is skipped and false is returned, so
// repeated integration imports stay idempotent.
func (r *AssetRepository) AddTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	query := `
		INSERT INTO transactions (id, asset_id, action, quantity, price, currency, operation_date,
		                          external_id, conversion_rate, seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (asset_id, external_id) WHERE external_id IS NOT NULL DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		tx.ID, tx.AssetID, string(tx.Action), tx.Quantity, tx.Price.Amount,
		string(tx.Price.Currency), tx.OperationDate, tx.ExternalID, tx.ConversionRate,
		tx.Seq, tx.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateTransaction flushes a mutated transaction.
func (r *AssetRepository) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET action = $2, quantity = $3, price = $4, operation_date = $5, conversion_rate = $6
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		tx.ID, string(tx.Action), tx.Quantity, tx.Price.Amount, tx.OperationDate, tx.ConversionRate)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// DeleteTransaction removes a transaction row.
func (r *AssetRepository) DeleteTransaction(ctx context.Context, tx *domain.Transaction) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, tx.ID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// AddIncome persists a passive income.
func (r *AssetRepository) AddIncome(ctx context.Context, income *domain.PassiveIncome) error {
	query := `
		INSERT INTO passive_incomes (id, asset_id, kind, amount, currency, event_date,
		                             payment_forecast_date, credited_at, conversion_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		income.ID, income.AssetID, string(income.Kind), income.Amount.Amount,
		string(income.Amount.Currency), income.EventDate, income.PaymentForecastDate,
		income.CreditedAt, income.ConversionRate, income.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert income: %w", err)
	}
	return nil
}

// UpdateIncome flushes a mutated passive income.
func (r *AssetRepository) UpdateIncome(ctx context.Context, income *domain.PassiveIncome) error {
	query := `
		UPDATE passive_incomes
		SET kind = $2, amount = $3, event_date = $4, payment_forecast_date = $5,
		    credited_at = $6, conversion_rate = $7
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		income.ID, string(income.Kind), income.Amount.Amount, income.EventDate,
		income.PaymentForecastDate, income.CreditedAt, income.ConversionRate)
	if err != nil {
		return fmt.Errorf("failed to update income: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIncomeNotFound
	}
	return nil
}

// DeleteIncome removes a passive income row.
func (r *AssetRepository) DeleteIncome(ctx context.Context, income *domain.PassiveIncome) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM passive_incomes WHERE id = $1`, income.ID)
	if err != nil {
		return fmt.Errorf("failed to delete income: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIncomeNotFound
	}
	return nil
}

// AddClosedOperation persists a closed operation.
func (r *AssetRepository) AddClosedOperation(ctx context.Context, op *domain.ClosedOperation) error {
	query := `
		INSERT INTO closed_operations (id, asset_id, quantity_bought, total_bought, total_sold,
		                               credited_incomes, operation_datetime)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		op.ID, op.AssetID, op.QuantityBought, op.TotalBought.Amount,
		op.TotalSold.Amount, op.CreditedIncomes.Amount, op.OperationDatetime)
	if err != nil {
		return fmt.Errorf("failed to insert closed operation: %w", err)
	}
	return nil
}

// Seen returns the aggregates touched in this unit of work. Always
// empty on the pool-backed repository.
func (r *AssetRepository) Seen() []*domain.Asset {
	return r.seen
}

// markSeen records an aggregate for event collection. The pool-backed
// repository skips it: tracking there would retain every aggregate a
// read request loads, and the slice is unsynchronized.
func (r *AssetRepository) markSeen(a *domain.Asset) {
	if !r.write {
		return
	}
	for _, s := range r.seen {
		if s.ID == a.ID {
			return
		}
	}
	r.seen = append(r.seen, a)
}

func (r *AssetRepository) lockClause() string {
	if r.write {
		return " FOR UPDATE"
	}
	return ""
}

func (r *AssetRepository) loadAsset(ctx context.Context, row pgx.Row) (*domain.Asset, error) {
	var (
		id, userID    uuid.UUID
		code          string
		typ, currency string
		objective     string
		selfCustody   bool
		createdAt     time.Time
	)
	err := row.Scan(&id, &userID, &code, &typ, &currency, &objective, &selfCustody, &createdAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}

	transactions, err := r.loadTransactions(ctx, id)
	if err != nil {
		return nil, err
	}
	incomes, err := r.loadIncomes(ctx, id)
	if err != nil {
		return nil, err
	}
	closedOps, err := r.loadClosedOperations(ctx, id)
	if err != nil {
		return nil, err
	}

	return domain.RestoreAsset(
		id, userID, code,
		domain.AssetType(typ), money.Currency(currency), domain.Objective(objective),
		selfCustody, createdAt,
		transactions, incomes, closedOps,
	), nil
}

func (r *AssetRepository) loadTransactions(ctx context.Context, assetID uuid.UUID) ([]*domain.Transaction, error) {
	query := `
		SELECT id, asset_id, action, quantity, price, currency, operation_date,
		       external_id, conversion_rate, seq, created_at
		FROM transactions
		WHERE asset_id = $1
		ORDER BY operation_date, seq
	`
	rows, err := r.db.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var (
			tx       domain.Transaction
			action   string
			amount   decimal.Decimal
			currency string
		)
		err := rows.Scan(&tx.ID, &tx.AssetID, &action, &tx.Quantity, &amount, &currency,
			&tx.OperationDate, &tx.ExternalID, &tx.ConversionRate, &tx.Seq, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Action = domain.Action(action)
		tx.Price = money.New(amount, money.Currency(currency))
		out = append(out, &tx)
	}
	return out, rows.Err()
}

func (r *AssetRepository) loadIncomes(ctx context.Context, assetID uuid.UUID) ([]*domain.PassiveIncome, error) {
	query := `
		SELECT id, asset_id, kind, amount, currency, event_date,
		       payment_forecast_date, credited_at, conversion_rate, created_at
		FROM passive_incomes
		WHERE asset_id = $1
		ORDER BY event_date
	`
	rows, err := r.db.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query incomes: %w", err)
	}
	defer rows.Close()

	var out []*domain.PassiveIncome
	for rows.Next() {
		var (
			income   domain.PassiveIncome
			kind     string
			amount   decimal.Decimal
			currency string
		)
		err := rows.Scan(&income.ID, &income.AssetID, &kind, &amount, &currency,
			&income.EventDate, &income.PaymentForecastDate, &income.CreditedAt,
			&income.ConversionRate, &income.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan income: %w", err)
		}
		income.Kind = domain.IncomeKind(kind)
		income.Amount = money.New(amount, money.Currency(currency))
		out = append(out, &income)
	}
	return out, rows.Err()
}

func (r *AssetRepository) loadClosedOperations(ctx context.Context, assetID uuid.UUID) ([]*domain.ClosedOperation, error) {
	query := `
		SELECT id, asset_id, quantity_bought, total_bought, total_sold,
		       credited_incomes, operation_datetime
		FROM closed_operations
		WHERE asset_id = $1
		ORDER BY operation_datetime
	`
	rows, err := r.db.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed operations: %w", err)
	}
	defer rows.Close()

	var out []*domain.ClosedOperation
	for rows.Next() {
		var (
			op                            domain.ClosedOperation
			totalBought, totalSold, incme decimal.Decimal
		)
		err := rows.Scan(&op.ID, &op.AssetID, &op.QuantityBought, &totalBought,
			&totalSold, &incme, &op.OperationDatetime)
		if err != nil {
			return nil, fmt.Errorf("failed to scan closed operation: %w", err)
		}
		op.TotalBought = money.New(totalBought, money.Real)
		op.TotalSold = money.New(totalSold, money.Real)
		op.CreditedIncomes = money.New(incme, money.Real)
		out = append(out, &op)
	}
	return out, rows.Err()
}
