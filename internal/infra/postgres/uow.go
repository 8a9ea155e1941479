package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/logger"
)

type uowContextKey struct{}

// UnitOfWorkManager opens transaction-scoped units of work over the
// connection pool.
type UnitOfWorkManager struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewUnitOfWorkManager creates a unit-of-work manager.
func NewUnitOfWorkManager(pool *pgxpool.Pool, log *logger.Logger) *UnitOfWorkManager {
	return &UnitOfWorkManager{
		pool:   pool,
		logger: log.WithField("component", "uow"),
	}
}

// Begin opens a unit of work backed by a database transaction. When
// assetID is non-nil the asset row is locked FOR UPDATE so concurrent
// writers to the same aggregate serialize. Locking an id that does not
// exist yet is a no-op. The returned context carries an active-uow
// marker: Begin on that context fails with ErrNestedUnitOfWork.
func (m *UnitOfWorkManager) Begin(ctx context.Context, assetID *uuid.UUID) (domain.UnitOfWork, context.Context, error) {
	if ctx.Value(uowContextKey{}) != nil {
		return nil, ctx, domain.ErrNestedUnitOfWork
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if assetID != nil {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM assets WHERE id = $1 FOR UPDATE`, *assetID).Scan(&locked)
		if err != nil && err != pgx.ErrNoRows {
			_ = tx.Rollback(ctx)
			return nil, ctx, fmt.Errorf("failed to lock asset: %w", err)
		}
	}

	u := &unitOfWork{
		tx:     tx,
		assets: newWriteAssetRepository(tx),
		logger: m.logger,
	}
	return u, context.WithValue(ctx, uowContextKey{}, u), nil
}

type unitOfWork struct {
	tx        pgx.Tx
	assets    *AssetRepository
	logger    *logger.Logger
	committed bool
}

func (u *unitOfWork) Assets() domain.AssetRepository {
	return u.assets
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit unit of work: %w", err)
	}
	u.committed = true
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit, so
// callers can defer it unconditionally.
func (u *unitOfWork) Rollback(ctx context.Context) {
	if u.committed {
		return
	}
	if err := u.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		u.logger.Error("rollback failed", "error", err)
	}
}

func (u *unitOfWork) CollectNewEvents() []domain.Event {
	var events []domain.Event
	for _, a := range u.assets.Seen() {
		events = append(events, a.PopEvents()...)
	}
	return events
}
