package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/domain"
	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

func testLogger() *logger.Logger {
	return logger.New("development", io.Discard)
}

// fakeAssetRepo is an in-memory AssetRepository.
type fakeAssetRepo struct {
	byID        map[uuid.UUID]*domain.Asset
	externalIDs map[string]bool
	addedTx     []*domain.Transaction
	closedOps   []*domain.ClosedOperation
	seen        []*domain.Asset
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{
		byID:        make(map[uuid.UUID]*domain.Asset),
		externalIDs: make(map[string]bool),
	}
}

func (r *fakeAssetRepo) put(a *domain.Asset) { r.byID[a.ID] = a }

func (r *fakeAssetRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r.seen = append(r.seen, a)
	return a, nil
}

func (r *fakeAssetRepo) GetByKey(ctx context.Context, userID uuid.UUID, key domain.AssetKey) (*domain.Asset, error) {
	for _, a := range r.byID {
		if a.UserID == userID && a.Code == key.Code && a.Type == key.Type && a.Currency == key.Currency {
			r.seen = append(r.seen, a)
			return a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeAssetRepo) GetOrCreate(ctx context.Context, candidate *domain.Asset) (*domain.Asset, bool, error) {
	key := domain.AssetKey{Code: candidate.Code, Type: candidate.Type, Currency: candidate.Currency}
	if existing, err := r.GetByKey(ctx, candidate.UserID, key); err == nil {
		return existing, false, nil
	}
	r.put(candidate)
	r.seen = append(r.seen, candidate)
	return candidate, true, nil
}

func (r *fakeAssetRepo) AddTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if tx.ExternalID != nil {
		key := fmt.Sprintf("%s:%s", tx.AssetID, *tx.ExternalID)
		if r.externalIDs[key] {
			return false, nil
		}
		r.externalIDs[key] = true
	}
	r.addedTx = append(r.addedTx, tx)
	return true, nil
}

func (r *fakeAssetRepo) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error { return nil }
func (r *fakeAssetRepo) DeleteTransaction(ctx context.Context, tx *domain.Transaction) error { return nil }
func (r *fakeAssetRepo) AddIncome(ctx context.Context, income *domain.PassiveIncome) error   { return nil }
func (r *fakeAssetRepo) UpdateIncome(ctx context.Context, income *domain.PassiveIncome) error {
	return nil
}
func (r *fakeAssetRepo) DeleteIncome(ctx context.Context, income *domain.PassiveIncome) error {
	return nil
}

func (r *fakeAssetRepo) AddClosedOperation(ctx context.Context, op *domain.ClosedOperation) error {
	r.closedOps = append(r.closedOps, op)
	return nil
}

func (r *fakeAssetRepo) Seen() []*domain.Asset { return r.seen }

type fakeUow struct {
	repo      *fakeAssetRepo
	committed bool
}

func (u *fakeUow) Assets() domain.AssetRepository { return u.repo }
func (u *fakeUow) Commit(ctx context.Context) error {
	u.committed = true
	return nil
}
func (u *fakeUow) Rollback(ctx context.Context) {}
func (u *fakeUow) CollectNewEvents() []domain.Event {
	var events []domain.Event
	for _, a := range u.repo.Seen() {
		events = append(events, a.PopEvents()...)
	}
	return events
}

type stubRates struct {
	rate decimal.Decimal
	err  error
}

func (s *stubRates) Get(ctx context.Context, from, to money.Currency) (decimal.Decimal, error) {
	return s.rate, s.err
}

type fakeMetadataRepo struct {
	created []domain.MetadataKey
}

func (m *fakeMetadataRepo) GetOrCreate(ctx context.Context, key domain.MetadataKey, assetID *uuid.UUID, initialPrice decimal.Decimal) (*domain.AssetMetaData, bool, error) {
	m.created = append(m.created, key)
	return &domain.AssetMetaData{ID: uuid.New(), Code: key.Code, Type: key.Type, Currency: key.Currency}, true, nil
}

func (m *fakeMetadataRepo) ListEligibleForRefresh(ctx context.Context, cooldown time.Duration) ([]*domain.AssetMetaData, error) {
	return nil, nil
}

func (m *fakeMetadataRepo) BatchUpdatePrices(ctx context.Context, rows []*domain.AssetMetaData, updatedAt time.Time) error {
	return nil
}

func (m *fakeMetadataRepo) GetForAsset(ctx context.Context, asset *domain.Asset) (*domain.AssetMetaData, error) {
	return nil, domain.ErrNotFound
}

func (m *fakeMetadataRepo) AssetIDsForMetadata(ctx context.Context, rows []*domain.AssetMetaData) (map[uuid.UUID]uuid.UUID, error) {
	return nil, nil
}

type fakeUserRepo struct {
	updatedStatus domain.SubscriptionStatus
	updatedUntil  *time.Time
}

func (f *fakeUserRepo) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeUserRepo) UpdateSubscription(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, validUntil *time.Time) error {
	f.updatedStatus = status
	f.updatedUntil = validUntil
	return nil
}

func (f *fakeUserRepo) ListIDs(ctx context.Context) ([]uuid.UUID, error) { return nil, nil }

func (f *fakeUserRepo) GetCredential(ctx context.Context, userID uuid.UUID, exchange string) (*domain.ExchangeCredential, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeUserRepo) SaveCredential(ctx context.Context, cred *domain.ExchangeCredential) error {
	return nil
}

func (f *fakeUserRepo) TouchCredentialSync(ctx context.Context, credentialID uuid.UUID, at time.Time) error {
	return nil
}

func newTestHandlers(metadata *fakeMetadataRepo, rates *stubRates, users *fakeUserRepo) *Handlers {
	if metadata == nil {
		metadata = &fakeMetadataRepo{}
	}
	if rates == nil {
		rates = &stubRates{rate: decimal.NewFromFloat(5.25)}
	}
	if users == nil {
		users = &fakeUserRepo{}
	}
	return New(metadata, rates, users, testLogger())
}

func buyInput(quantity, price string) domain.TransactionInput {
	return domain.TransactionInput{
		Action:        domain.ActionBuy,
		Quantity:      decimal.RequireFromString(quantity),
		Price:         money.New(decimal.RequireFromString(price), money.Real),
		OperationDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestHandleCreateTransaction(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	key := domain.AssetKey{Code: "PETR4", Type: domain.AssetTypeStock, Currency: money.Real}

	t.Run("creates asset on first ingestion", func(t *testing.T) {
		metadata := &fakeMetadataRepo{}
		h := newTestHandlers(metadata, nil, nil)
		uow := &fakeUow{repo: newFakeAssetRepo()}

		cmd := &command.CreateTransaction{
			UserID:               userID,
			Key:                  key,
			Input:                buyInput("100", "38.50"),
			CreateAssetIfMissing: true,
		}
		require.NoError(t, h.handleCreateTransaction(ctx, cmd, uow))

		assert.True(t, cmd.Created)
		assert.NotEqual(t, uuid.Nil, cmd.AssetID)
		assert.True(t, uow.committed)
		require.Len(t, uow.repo.addedTx, 1)
		require.Len(t, metadata.created, 1)
		assert.Equal(t, "PETR4", metadata.created[0].Code)
	})

	t.Run("missing asset without create flag", func(t *testing.T) {
		h := newTestHandlers(nil, nil, nil)
		uow := &fakeUow{repo: newFakeAssetRepo()}

		cmd := &command.CreateTransaction{UserID: userID, Key: key, Input: buyInput("100", "38.50")}
		err := h.handleCreateTransaction(ctx, cmd, uow)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetAppError(err).Code)
	})

	t.Run("duplicate external id is idempotent", func(t *testing.T) {
		h := newTestHandlers(nil, nil, nil)
		repo := newFakeAssetRepo()
		a, err := domain.NewAsset(userID, key.Code, key.Type, key.Currency, domain.ObjectiveUnknown, false)
		require.NoError(t, err)
		a.PopEvents()
		repo.put(a)

		extID := "kucoin:t1"
		input := buyInput("100", "38.50")
		input.ExternalID = &extID

		first := &command.CreateTransaction{UserID: userID, Key: key, Input: input}
		require.NoError(t, h.handleCreateTransaction(ctx, first, &fakeUow{repo: repo}))
		require.True(t, first.Created)

		dup := &command.CreateTransaction{UserID: userID, Key: key, Input: input}
		uow := &fakeUow{repo: repo}
		require.NoError(t, h.handleCreateTransaction(ctx, dup, uow))

		assert.False(t, dup.Created)
		assert.Equal(t, a.ID, dup.AssetID)
		assert.True(t, uow.committed)
		// The discarded mutation must not leak events to the projector.
		assert.Empty(t, uow.CollectNewEvents())
		assert.Len(t, repo.addedTx, 1)
	})

	t.Run("dollar asset captures rate snapshot", func(t *testing.T) {
		rates := &stubRates{rate: decimal.RequireFromString("5.4321")}
		h := newTestHandlers(nil, rates, nil)
		repo := newFakeAssetRepo()
		uow := &fakeUow{repo: repo}

		usdKey := domain.AssetKey{Code: "AAPL", Type: domain.AssetTypeStockUSA, Currency: money.Dollar}
		cmd := &command.CreateTransaction{
			UserID: userID,
			Key:    usdKey,
			Input: domain.TransactionInput{
				Action:        domain.ActionBuy,
				Quantity:      decimal.NewFromInt(10),
				Price:         money.New(decimal.NewFromInt(200), money.Dollar),
				OperationDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			},
			CreateAssetIfMissing: true,
		}
		require.NoError(t, h.handleCreateTransaction(ctx, cmd, uow))

		require.Len(t, repo.addedTx, 1)
		assert.Equal(t, "5.4321", repo.addedTx[0].ConversionRate.String())
	})

	t.Run("unavailable rate is retryable", func(t *testing.T) {
		rates := &stubRates{err: errors.New("redis down")}
		h := newTestHandlers(nil, rates, nil)
		uow := &fakeUow{repo: newFakeAssetRepo()}

		usdKey := domain.AssetKey{Code: "AAPL", Type: domain.AssetTypeStockUSA, Currency: money.Dollar}
		cmd := &command.CreateTransaction{
			UserID: userID,
			Key:    usdKey,
			Input: domain.TransactionInput{
				Action:        domain.ActionBuy,
				Quantity:      decimal.NewFromInt(10),
				Price:         money.New(decimal.NewFromInt(200), money.Dollar),
				OperationDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			},
			CreateAssetIfMissing: true,
		}
		err := h.handleCreateTransaction(ctx, cmd, uow)
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))
		assert.False(t, uow.committed)
	})

	t.Run("closing sell persists the closed operation", func(t *testing.T) {
		h := newTestHandlers(nil, nil, nil)
		repo := newFakeAssetRepo()
		a, err := domain.NewAsset(userID, key.Code, key.Type, key.Currency, domain.ObjectiveUnknown, false)
		require.NoError(t, err)
		a.PopEvents()
		repo.put(a)

		buy := &command.CreateTransaction{UserID: userID, Key: key, Input: buyInput("100", "10")}
		require.NoError(t, h.handleCreateTransaction(ctx, buy, &fakeUow{repo: repo}))

		sellInput := domain.TransactionInput{
			Action:        domain.ActionSell,
			Quantity:      decimal.NewFromInt(100),
			Price:         money.New(decimal.NewFromInt(12), money.Real),
			OperationDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		}
		sell := &command.CreateTransaction{UserID: userID, Key: key, Input: sellInput}
		require.NoError(t, h.handleCreateTransaction(ctx, sell, &fakeUow{repo: repo}))

		require.Len(t, repo.closedOps, 1)
		assert.Equal(t, "1200", repo.closedOps[0].TotalSold.Amount.String())
	})
}

func TestHandleUpdateTransaction_ForeignUser(t *testing.T) {
	ctx := context.Background()
	h := newTestHandlers(nil, nil, nil)
	repo := newFakeAssetRepo()
	owner := uuid.New()
	a, err := domain.NewAsset(owner, "PETR4", domain.AssetTypeStock, money.Real, domain.ObjectiveUnknown, false)
	require.NoError(t, err)
	a.PopEvents()
	repo.put(a)

	cmd := command.UpdateTransaction{
		UserID:        uuid.New(),
		AssetID:       a.ID,
		TransactionID: uuid.New(),
		Input:         buyInput("100", "38.50"),
	}
	uow := &fakeUow{repo: repo}
	err = h.handleUpdateTransaction(ctx, cmd, uow)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetAppError(err).Code)
	assert.False(t, uow.committed)
}

func TestHandleCreateAsset(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	key := domain.AssetKey{Code: "HGLG11", Type: domain.AssetTypeFII, Currency: money.Real}

	t.Run("creates and seeds metadata", func(t *testing.T) {
		metadata := &fakeMetadataRepo{}
		h := newTestHandlers(metadata, nil, nil)
		uow := &fakeUow{repo: newFakeAssetRepo()}

		cmd := command.CreateAsset{UserID: userID, Key: key, Objective: domain.ObjectiveUnknown}
		require.NoError(t, h.handleCreateAsset(ctx, cmd, uow))
		assert.True(t, uow.committed)
		require.Len(t, metadata.created, 1)
		assert.Equal(t, "HGLG11", metadata.created[0].Code)
	})

	t.Run("duplicate key conflicts", func(t *testing.T) {
		h := newTestHandlers(nil, nil, nil)
		repo := newFakeAssetRepo()
		existing, err := domain.NewAsset(userID, key.Code, key.Type, key.Currency, domain.ObjectiveUnknown, false)
		require.NoError(t, err)
		existing.PopEvents()
		repo.put(existing)

		cmd := command.CreateAsset{UserID: userID, Key: key, Objective: domain.ObjectiveUnknown}
		err = h.handleCreateAsset(ctx, cmd, &fakeUow{repo: repo})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetAppError(err).Code)
	})
}

func TestHandleUpdateSubscription(t *testing.T) {
	users := &fakeUserRepo{}
	h := newTestHandlers(nil, nil, users)
	uow := &fakeUow{repo: newFakeAssetRepo()}

	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cmd := command.UpdateSubscription{UserID: uuid.New(), Status: "ACTIVE", ValidUntil: &until}
	require.NoError(t, h.handleUpdateSubscription(context.Background(), cmd, uow))

	assert.Equal(t, domain.SubscriptionStatus("ACTIVE"), users.updatedStatus)
	require.NotNil(t, users.updatedUntil)
	assert.True(t, users.updatedUntil.Equal(until))
	assert.True(t, uow.committed)
}
