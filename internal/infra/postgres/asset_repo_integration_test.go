//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
	"github.com/barbosaigor/investrack/testutil/testdb"
)

var testDB *testdb.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testdb.NewTestDB(ctx)
	if err != nil {
		panic("failed to create test database: " + err.Error())
	}

	code := m.Run()

	testDB.Close(ctx)
	if code != 0 {
		panic("tests failed")
	}
}

func setupTest(t *testing.T) context.Context {
	ctx := context.Background()
	require.NoError(t, testDB.Reset(ctx))
	return ctx
}

func createTestUser(t *testing.T, ctx context.Context) uuid.UUID {
	userID := uuid.New()
	_, err := testDB.Pool.Exec(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2)
	`, userID, "test-"+userID.String()[:8]+"@example.com")
	require.NoError(t, err)
	return userID
}

func newStockAsset(t *testing.T, userID uuid.UUID) *domain.Asset {
	t.Helper()
	a, err := domain.NewAsset(userID, "PETR4", domain.AssetTypeStock, money.Real, domain.ObjectiveUnknown, false)
	require.NoError(t, err)
	return a
}

func buyInput(extID *string) domain.TransactionInput {
	return domain.TransactionInput{
		Action:        domain.ActionBuy,
		Quantity:      decimal.NewFromInt(100),
		Price:         money.New(decimal.RequireFromString("38.50"), money.Real),
		OperationDate: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		ExternalID:    extID,
	}
}

func TestUnitOfWork_CommitPersistsAggregate(t *testing.T) {
	ctx := setupTest(t)
	userID := createTestUser(t, ctx)
	manager := NewUnitOfWorkManager(testDB.Pool, logger.NewDefault("development"))

	uow, uowCtx, err := manager.Begin(ctx, nil)
	require.NoError(t, err)
	defer uow.Rollback(uowCtx)

	candidate := newStockAsset(t, userID)
	a, created, err := uow.Assets().GetOrCreate(uowCtx, candidate)
	require.NoError(t, err)
	require.True(t, created)

	tx, err := a.AddTransaction(buyInput(nil))
	require.NoError(t, err)
	inserted, err := uow.Assets().AddTransaction(uowCtx, tx)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, uow.Commit(uowCtx))

	// Reload outside the transaction.
	reloaded, err := NewAssetRepository(testDB.Pool).Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "PETR4", reloaded.Code)
	assert.True(t, reloaded.OpenQuantity().Equal(decimal.NewFromInt(100)))
}

func TestUnitOfWork_RollbackDiscards(t *testing.T) {
	ctx := setupTest(t)
	userID := createTestUser(t, ctx)
	manager := NewUnitOfWorkManager(testDB.Pool, logger.NewDefault("development"))

	uow, uowCtx, err := manager.Begin(ctx, nil)
	require.NoError(t, err)

	candidate := newStockAsset(t, userID)
	_, created, err := uow.Assets().GetOrCreate(uowCtx, candidate)
	require.NoError(t, err)
	require.True(t, created)
	uow.Rollback(uowCtx)

	_, err = NewAssetRepository(testDB.Pool).Get(ctx, candidate.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnitOfWork_NestedBeginFails(t *testing.T) {
	ctx := setupTest(t)
	manager := NewUnitOfWorkManager(testDB.Pool, logger.NewDefault("development"))

	uow, uowCtx, err := manager.Begin(ctx, nil)
	require.NoError(t, err)
	defer uow.Rollback(uowCtx)

	_, _, err = manager.Begin(uowCtx, nil)
	assert.ErrorIs(t, err, domain.ErrNestedUnitOfWork)
}

func TestAssetRepository_ExternalIDDedup(t *testing.T) {
	ctx := setupTest(t)
	userID := createTestUser(t, ctx)
	repo := NewAssetRepository(testDB.Pool)

	a := newStockAsset(t, userID)
	_, created, err := repo.GetOrCreate(ctx, a)
	require.NoError(t, err)
	require.True(t, created)

	extID := "kucoin:t1"
	first, err := a.AddTransaction(buyInput(&extID))
	require.NoError(t, err)
	inserted, err := repo.AddTransaction(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup, err := a.AddTransaction(buyInput(&extID))
	require.NoError(t, err)
	inserted, err = repo.AddTransaction(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	reloaded, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Transactions(), 1)
}

func TestUnitOfWork_GetByKeyLocksRow(t *testing.T) {
	ctx := setupTest(t)
	userID := createTestUser(t, ctx)

	a := newStockAsset(t, userID)
	_, created, err := NewAssetRepository(testDB.Pool).GetOrCreate(ctx, a)
	require.NoError(t, err)
	require.True(t, created)

	manager := NewUnitOfWorkManager(testDB.Pool, logger.NewDefault("development"))

	// The ingestion path resolves aggregates by natural key with no
	// up-front id lock; the read itself must take the row lock.
	uow, uowCtx, err := manager.Begin(ctx, nil)
	require.NoError(t, err)
	defer uow.Rollback(uowCtx)

	_, err = uow.Assets().GetByKey(uowCtx, userID, domain.AssetKey{
		Code:     a.Code,
		Type:     a.Type,
		Currency: a.Currency,
	})
	require.NoError(t, err)

	var id uuid.UUID
	err = testDB.Pool.QueryRow(ctx, `SELECT id FROM assets WHERE id = $1 FOR UPDATE NOWAIT`, a.ID).Scan(&id)
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "55P03", pgErr.Code)
}

func TestAssetRepository_GetOrCreateRace(t *testing.T) {
	ctx := setupTest(t)
	userID := createTestUser(t, ctx)
	repo := NewAssetRepository(testDB.Pool)

	winner := newStockAsset(t, userID)
	_, created, err := repo.GetOrCreate(ctx, winner)
	require.NoError(t, err)
	require.True(t, created)

	loser := newStockAsset(t, userID)
	existing, created, err := repo.GetOrCreate(ctx, loser)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, existing.ID)
}
