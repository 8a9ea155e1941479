package pricing_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/barbosaigor/investrack/internal/bus"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/pricing"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

func testLogger() *logger.Logger {
	return logger.New("development", io.Discard)
}

type mockMetadataRepo struct {
	mock.Mock
}

func (m *mockMetadataRepo) GetOrCreate(ctx context.Context, key domain.MetadataKey, assetID *uuid.UUID, initialPrice decimal.Decimal) (*domain.AssetMetaData, bool, error) {
	args := m.Called(ctx, key, assetID, initialPrice)
	return args.Get(0).(*domain.AssetMetaData), args.Bool(1), args.Error(2)
}

func (m *mockMetadataRepo) ListEligibleForRefresh(ctx context.Context, cooldown time.Duration) ([]*domain.AssetMetaData, error) {
	args := m.Called(ctx, cooldown)
	return args.Get(0).([]*domain.AssetMetaData), args.Error(1)
}

func (m *mockMetadataRepo) BatchUpdatePrices(ctx context.Context, rows []*domain.AssetMetaData, updatedAt time.Time) error {
	args := m.Called(ctx, rows, updatedAt)
	return args.Error(0)
}

func (m *mockMetadataRepo) GetForAsset(ctx context.Context, asset *domain.Asset) (*domain.AssetMetaData, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(*domain.AssetMetaData), args.Error(1)
}

func (m *mockMetadataRepo) AssetIDsForMetadata(ctx context.Context, rows []*domain.AssetMetaData) (map[uuid.UUID]uuid.UUID, error) {
	args := m.Called(ctx, rows)
	return args.Get(0).(map[uuid.UUID]uuid.UUID), args.Error(1)
}

// stubSource returns a fixed quote map, or an error when set.
type stubSource struct {
	quotes map[string]decimal.Decimal
	err    error
	calls  int
}

func (s *stubSource) Quotes(_ context.Context, codes []string, _ money.Currency) (map[string]decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.quotes, nil
}

func metadataRow(code string, typ domain.AssetType, currency money.Currency) *domain.AssetMetaData {
	return &domain.AssetMetaData{
		ID:       uuid.New(),
		Code:     code,
		Type:     typ,
		Currency: currency,
	}
}

func TestRefresher_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("updates prices and fans out asset events", func(t *testing.T) {
		petr := metadataRow("PETR4", domain.AssetTypeStock, money.Real)
		btc := metadataRow("BTC", domain.AssetTypeCrypto, money.Real)

		repo := new(mockMetadataRepo)
		repo.On("ListEligibleForRefresh", ctx, time.Hour).
			Return([]*domain.AssetMetaData{petr, btc}, nil)
		repo.On("BatchUpdatePrices", ctx, mock.Anything, mock.Anything).Return(nil)

		assetID, userID := uuid.New(), uuid.New()
		repo.On("AssetIDsForMetadata", ctx, mock.Anything).
			Return(map[uuid.UUID]uuid.UUID{assetID: userID}, nil)

		b := bus.New(testLogger())
		var published []domain.Event
		b.Subscribe(domain.EventAssetUpdated, func(_ context.Context, e domain.Event) error {
			published = append(published, e)
			return nil
		})

		r := pricing.NewRefresher(repo, b, time.Hour, testLogger())
		r.RegisterSource(domain.AssetTypeStock, money.Real, &stubSource{
			quotes: map[string]decimal.Decimal{"PETR4": decimal.RequireFromString("38.54")},
		})
		r.RegisterSource(domain.AssetTypeCrypto, money.Real, &stubSource{
			quotes: map[string]decimal.Decimal{"BTC": decimal.RequireFromString("350000")},
		})

		updated, err := r.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, updated)
		assert.Equal(t, "38.54", petr.CurrentPrice.String())
		assert.Equal(t, "350000", btc.CurrentPrice.String())

		require.Len(t, published, 1)
		evt := published[0].(domain.AssetUpdated)
		assert.Equal(t, assetID, evt.AssetID)
		assert.Equal(t, userID, evt.UserID)
		repo.AssertExpectations(t)
	})

	t.Run("failed bucket does not block the others", func(t *testing.T) {
		petr := metadataRow("PETR4", domain.AssetTypeStock, money.Real)
		aapl := metadataRow("AAPL", domain.AssetTypeStockUSA, money.Dollar)

		repo := new(mockMetadataRepo)
		repo.On("ListEligibleForRefresh", ctx, time.Hour).
			Return([]*domain.AssetMetaData{petr, aapl}, nil)
		repo.On("BatchUpdatePrices", ctx, mock.MatchedBy(func(rows []*domain.AssetMetaData) bool {
			return len(rows) == 1 && rows[0].Code == "AAPL"
		}), mock.Anything).Return(nil)
		repo.On("AssetIDsForMetadata", ctx, mock.Anything).
			Return(map[uuid.UUID]uuid.UUID{}, nil)

		r := pricing.NewRefresher(repo, bus.New(testLogger()), time.Hour, testLogger())
		r.RegisterSource(domain.AssetTypeStock, money.Real, &stubSource{err: assert.AnError})
		r.RegisterSource(domain.AssetTypeStockUSA, money.Dollar, &stubSource{
			quotes: map[string]decimal.Decimal{"AAPL": decimal.RequireFromString("225.1")},
		})

		updated, err := r.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, updated)
		assert.True(t, petr.CurrentPrice.IsZero())
		repo.AssertExpectations(t)
	})

	t.Run("bucket without a source is skipped", func(t *testing.T) {
		doge := metadataRow("DOGE", domain.AssetTypeCrypto, money.Dollar)

		repo := new(mockMetadataRepo)
		repo.On("ListEligibleForRefresh", ctx, time.Hour).
			Return([]*domain.AssetMetaData{doge}, nil)

		r := pricing.NewRefresher(repo, bus.New(testLogger()), time.Hour, testLogger())
		updated, err := r.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, updated)
		repo.AssertNotCalled(t, "BatchUpdatePrices", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing quote keeps previous price", func(t *testing.T) {
		petr := metadataRow("PETR4", domain.AssetTypeStock, money.Real)
		vale := metadataRow("VALE3", domain.AssetTypeStock, money.Real)

		repo := new(mockMetadataRepo)
		repo.On("ListEligibleForRefresh", ctx, time.Hour).
			Return([]*domain.AssetMetaData{petr, vale}, nil)
		repo.On("BatchUpdatePrices", ctx, mock.MatchedBy(func(rows []*domain.AssetMetaData) bool {
			return len(rows) == 1 && rows[0].Code == "PETR4"
		}), mock.Anything).Return(nil)
		repo.On("AssetIDsForMetadata", ctx, mock.Anything).
			Return(map[uuid.UUID]uuid.UUID{}, nil)

		r := pricing.NewRefresher(repo, bus.New(testLogger()), time.Hour, testLogger())
		r.RegisterSource(domain.AssetTypeStock, money.Real, &stubSource{
			quotes: map[string]decimal.Decimal{"PETR4": decimal.RequireFromString("38.54")},
		})

		updated, err := r.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, updated)
		repo.AssertExpectations(t)
	})

	t.Run("no eligible rows is a no-op", func(t *testing.T) {
		repo := new(mockMetadataRepo)
		repo.On("ListEligibleForRefresh", ctx, time.Hour).
			Return([]*domain.AssetMetaData{}, nil)

		r := pricing.NewRefresher(repo, bus.New(testLogger()), time.Hour, testLogger())
		updated, err := r.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, updated)
	})
}
