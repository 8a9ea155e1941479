package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/pkg/money"
)

// AssetKey is the natural identity of an aggregate for one owner.
type AssetKey struct {
	Code     string
	Type     AssetType
	Currency money.Currency
}

// AssetRepository is the persistence boundary for the aggregate and its
// children. Implementations run inside the unit-of-work transaction and
// mark loaded aggregates as seen so their events can be collected.
type AssetRepository interface {
	// Get returns the aggregate with its full child history, or
	// ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Asset, error)
	// GetByKey returns the user's aggregate for the natural key.
	GetByKey(ctx context.Context, userID uuid.UUID, key AssetKey) (*Asset, error)
	// GetOrCreate atomically inserts the candidate or returns the
	// existing aggregate for its key. The boolean reports creation.
	GetOrCreate(ctx context.Context, candidate *Asset) (*Asset, bool, error)

	// AddTransaction persists a child transaction. When the transaction
	// carries an external id that already exists for the asset, the
	// insert is a no-op and the boolean is false.
	AddTransaction(ctx context.Context, tx *Transaction) (bool, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	DeleteTransaction(ctx context.Context, tx *Transaction) error

	AddIncome(ctx context.Context, income *PassiveIncome) error
	UpdateIncome(ctx context.Context, income *PassiveIncome) error
	DeleteIncome(ctx context.Context, income *PassiveIncome) error

	AddClosedOperation(ctx context.Context, op *ClosedOperation) error

	// Seen returns the aggregates touched in this unit of work.
	Seen() []*Asset
}

// UnitOfWork scopes one write session: a database transaction, the
// repository set, and the events emitted by touched aggregates.
type UnitOfWork interface {
	Assets() AssetRepository
	// Commit flushes the transaction. Events become collectable after.
	Commit(ctx context.Context) error
	// Rollback aborts the transaction. Safe to call after Commit.
	Rollback(ctx context.Context)
	// CollectNewEvents drains pending events from seen aggregates.
	CollectNewEvents() []Event
}

// UnitOfWorkStarter opens units of work. Opening one while another is
// active on the same context fails with ErrNestedUnitOfWork.
type UnitOfWorkStarter interface {
	// Begin opens a unit of work. When assetID is non-nil the asset row
	// is locked FOR UPDATE so concurrent writers serialize.
	Begin(ctx context.Context, assetID *uuid.UUID) (UnitOfWork, context.Context, error)
}

// MetadataRepository is the persistence boundary for shared asset
// metadata.
type MetadataRepository interface {
	// GetOrCreate atomically inserts or returns the row for the key.
	// assetID is non-nil for self-custody assets.
	GetOrCreate(ctx context.Context, key MetadataKey, assetID *uuid.UUID, initialPrice decimal.Decimal) (*AssetMetaData, bool, error)
	// ListEligibleForRefresh returns rows referenced by at least one
	// open asset and not refreshed within the cooldown.
	ListEligibleForRefresh(ctx context.Context, cooldown time.Duration) ([]*AssetMetaData, error)
	// BatchUpdatePrices writes current_price and its timestamp for the
	// given rows in a single statement.
	BatchUpdatePrices(ctx context.Context, rows []*AssetMetaData, updatedAt time.Time) error
	// Get returns the metadata row for an asset.
	GetForAsset(ctx context.Context, asset *Asset) (*AssetMetaData, error)
	// AssetIDsForMetadata returns the ids of open assets referencing the
	// given metadata rows, for projection fan-out.
	AssetIDsForMetadata(ctx context.Context, rows []*AssetMetaData) (map[uuid.UUID]uuid.UUID, error)
}

// ReadModelRepository maintains the per-asset projection rows.
type ReadModelRepository interface {
	Upsert(ctx context.Context, row *AssetReadModel, fields []string) error
	Get(ctx context.Context, assetID uuid.UUID) (*AssetReadModel, error)
	List(ctx context.Context, userID uuid.UUID, page, size int) ([]*AssetReadModel, error)
	Delete(ctx context.Context, assetID uuid.UUID) error
	// SumMonthlySellTotal returns the summed SELL gross totals for the
	// user and asset type within the calendar month of the date.
	SumMonthlySellTotal(ctx context.Context, userID uuid.UUID, typ AssetType, month time.Time) (decimal.Decimal, error)
	// SumTotalInvestedByUser rolls up normalized_total_invested per user.
	SumTotalInvestedByUser(ctx context.Context) (map[uuid.UUID]decimal.Decimal, error)
}

// SnapshotRepository stores the patrimony rollups.
type SnapshotRepository interface {
	Add(ctx context.Context, snapshot *TotalInvestedSnapshot) error
	List(ctx context.Context, userID uuid.UUID) ([]*TotalInvestedSnapshot, error)
}

// RateRepository is the persistent singleton store behind the
// conversion-rate cache.
type RateRepository interface {
	Get(ctx context.Context, from, to money.Currency) (*ConversionRate, error)
	Upsert(ctx context.Context, rate *ConversionRate) error
}
