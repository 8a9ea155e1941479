package projection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/task"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

type mockAssetLoader struct{ mock.Mock }

func (m *mockAssetLoader) Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*domain.Asset), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockMetadataRepo struct{ mock.Mock }

func (m *mockMetadataRepo) GetOrCreate(ctx context.Context, key domain.MetadataKey, assetID *uuid.UUID, initialPrice decimal.Decimal) (*domain.AssetMetaData, bool, error) {
	args := m.Called(ctx, key, assetID, initialPrice)
	return args.Get(0).(*domain.AssetMetaData), args.Bool(1), args.Error(2)
}

func (m *mockMetadataRepo) ListEligibleForRefresh(ctx context.Context, cooldown time.Duration) ([]*domain.AssetMetaData, error) {
	args := m.Called(ctx, cooldown)
	return args.Get(0).([]*domain.AssetMetaData), args.Error(1)
}

func (m *mockMetadataRepo) BatchUpdatePrices(ctx context.Context, rows []*domain.AssetMetaData, updatedAt time.Time) error {
	return m.Called(ctx, rows, updatedAt).Error(0)
}

func (m *mockMetadataRepo) GetForAsset(ctx context.Context, asset *domain.Asset) (*domain.AssetMetaData, error) {
	args := m.Called(ctx, asset)
	if md := args.Get(0); md != nil {
		return md.(*domain.AssetMetaData), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMetadataRepo) AssetIDsForMetadata(ctx context.Context, rows []*domain.AssetMetaData) (map[uuid.UUID]uuid.UUID, error) {
	args := m.Called(ctx, rows)
	return args.Get(0).(map[uuid.UUID]uuid.UUID), args.Error(1)
}

type mockReadModelRepo struct{ mock.Mock }

func (m *mockReadModelRepo) Upsert(ctx context.Context, row *domain.AssetReadModel, fields []string) error {
	return m.Called(ctx, row, fields).Error(0)
}

func (m *mockReadModelRepo) Get(ctx context.Context, assetID uuid.UUID) (*domain.AssetReadModel, error) {
	args := m.Called(ctx, assetID)
	if r := args.Get(0); r != nil {
		return r.(*domain.AssetReadModel), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReadModelRepo) List(ctx context.Context, userID uuid.UUID, page, size int) ([]*domain.AssetReadModel, error) {
	args := m.Called(ctx, userID, page, size)
	return args.Get(0).([]*domain.AssetReadModel), args.Error(1)
}

func (m *mockReadModelRepo) Delete(ctx context.Context, assetID uuid.UUID) error {
	return m.Called(ctx, assetID).Error(0)
}

func (m *mockReadModelRepo) SumMonthlySellTotal(ctx context.Context, userID uuid.UUID, typ domain.AssetType, month time.Time) (decimal.Decimal, error) {
	args := m.Called(ctx, userID, typ, month)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockReadModelRepo) SumTotalInvestedByUser(ctx context.Context) (map[uuid.UUID]decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[uuid.UUID]decimal.Decimal), args.Error(1)
}

type mockRateGetter struct{ mock.Mock }

func (m *mockRateGetter) Get(ctx context.Context, from, to money.Currency) (decimal.Decimal, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockTaskRepo struct{ mock.Mock }

func (m *mockTaskRepo) Add(ctx context.Context, t *task.Task) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockTaskRepo) Update(ctx context.Context, t *task.Task) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockTaskRepo) Get(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*task.Task), args.Error(1)
}

func (m *mockTaskRepo) List(ctx context.Context, userID uuid.UUID, page, size int) ([]*task.Task, error) {
	args := m.Called(ctx, userID, page, size)
	return args.Get(0).([]*task.Task), args.Error(1)
}

func (m *mockTaskRepo) ListUnnotified(ctx context.Context, userID uuid.UUID) ([]*task.Task, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]*task.Task), args.Error(1)
}

func (m *mockTaskRepo) MarkNotified(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) error {
	return m.Called(ctx, userID, ids, at).Error(0)
}

func (m *mockTaskRepo) ExistsForMonth(ctx context.Context, userID uuid.UUID, name string, month time.Time) (bool, error) {
	args := m.Called(ctx, userID, name, month)
	return args.Bool(0), args.Error(1)
}

func thresholds() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"stock":     decimal.NewFromInt(20000),
		"stock_usa": decimal.NewFromInt(35000),
		"crypto":    decimal.NewFromInt(35000),
		"fii":       decimal.Zero,
	}
}

func testAsset(t *testing.T) *domain.Asset {
	t.Helper()
	a, err := domain.NewAsset(uuid.New(), "PETR4", domain.AssetTypeStock, money.Real, domain.ObjectiveGrowth, false)
	require.NoError(t, err)
	_, err = a.AddTransaction(domain.TransactionInput{
		Action:        domain.ActionBuy,
		Quantity:      decimal.NewFromInt(100),
		Price:         money.New(decimal.NewFromInt(10), money.Real),
		OperationDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	a.PopEvents()
	return a
}

func TestProjectorFullRefresh(t *testing.T) {
	a := testAsset(t)

	assets := new(mockAssetLoader)
	metadata := new(mockMetadataRepo)
	readModels := new(mockReadModelRepo)
	rates := new(mockRateGetter)
	tasks := new(mockTaskRepo)

	assets.On("Get", mock.Anything, a.ID).Return(a, nil)
	metadata.On("GetForAsset", mock.Anything, a).Return(&domain.AssetMetaData{
		Code: "PETR4", Type: domain.AssetTypeStock, Currency: money.Real,
		CurrentPrice: decimal.NewFromInt(12),
	}, nil)

	var captured *domain.AssetReadModel
	readModels.On("Upsert", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*domain.AssetReadModel)
			assert.Nil(t, args.Get(2))
		}).Return(nil)

	p := New(assets, metadata, readModels, rates, tasks, thresholds(), logger.NewDefault("test"))
	err := p.handle(context.Background(), domain.TransactionsCreated{
		AssetID: a.ID, UserID: a.UserID, NewAsset: true,
		Action: domain.ActionBuy, OperationDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.True(t, captured.Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, captured.NormalizedTotalInvested.Equal(decimal.NewFromInt(1000)))
	assert.True(t, captured.NormalizedAvgPrice.Equal(decimal.NewFromInt(10)))
	assert.True(t, captured.NormalizedCurrentTotal.Equal(decimal.NewFromInt(1200)))
	readModels.AssertExpectations(t)
}

func TestProjectorFieldScopedUpdate(t *testing.T) {
	a := testAsset(t)

	assets := new(mockAssetLoader)
	metadata := new(mockMetadataRepo)
	readModels := new(mockReadModelRepo)
	rates := new(mockRateGetter)
	tasks := new(mockTaskRepo)

	assets.On("Get", mock.Anything, a.ID).Return(a, nil)
	metadata.On("GetForAsset", mock.Anything, a).Return(nil, domain.ErrNotFound)
	readModels.On("Upsert", mock.Anything, mock.Anything, incomeFields).Return(nil)

	p := New(assets, metadata, readModels, rates, tasks, thresholds(), logger.NewDefault("test"))
	err := p.handle(context.Background(), domain.PassiveIncomeCreated{AssetID: a.ID, UserID: a.UserID})
	require.NoError(t, err)
	readModels.AssertExpectations(t)
}

func TestProjectorFallsBackToFullRefreshOnMissingRow(t *testing.T) {
	a := testAsset(t)

	assets := new(mockAssetLoader)
	metadata := new(mockMetadataRepo)
	readModels := new(mockReadModelRepo)
	rates := new(mockRateGetter)
	tasks := new(mockTaskRepo)

	assets.On("Get", mock.Anything, a.ID).Return(a, nil)
	metadata.On("GetForAsset", mock.Anything, a).Return(nil, domain.ErrNotFound)
	readModels.On("Upsert", mock.Anything, mock.Anything, incomeFields).Return(domain.ErrNotFound).Once()
	readModels.On("Upsert", mock.Anything, mock.Anything, []string(nil)).Return(nil).Once()

	p := New(assets, metadata, readModels, rates, tasks, thresholds(), logger.NewDefault("test"))
	err := p.handle(context.Background(), domain.PassiveIncomeCreated{AssetID: a.ID, UserID: a.UserID})
	require.NoError(t, err)
	readModels.AssertExpectations(t)
}

func TestProjectorDeletesRowForMissingAsset(t *testing.T) {
	id := uuid.New()

	assets := new(mockAssetLoader)
	metadata := new(mockMetadataRepo)
	readModels := new(mockReadModelRepo)
	rates := new(mockRateGetter)
	tasks := new(mockTaskRepo)

	assets.On("Get", mock.Anything, id).Return(nil, domain.ErrNotFound)
	readModels.On("Delete", mock.Anything, id).Return(nil)

	p := New(assets, metadata, readModels, rates, tasks, thresholds(), logger.NewDefault("test"))
	err := p.handle(context.Background(), domain.TransactionDeleted{AssetID: id})
	require.NoError(t, err)
	readModels.AssertExpectations(t)
}

func TestProjectorMonthlySellThreshold(t *testing.T) {
	userID := uuid.New()
	month := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	newUSASell := func(t *testing.T) *domain.Asset {
		a, err := domain.NewAsset(userID, "AAPL", domain.AssetTypeStockUSA, money.Dollar, domain.ObjectiveGrowth, false)
		require.NoError(t, err)
		_, err = a.AddTransaction(domain.TransactionInput{
			Action:         domain.ActionBuy,
			Quantity:       decimal.NewFromInt(100),
			Price:          money.New(decimal.NewFromInt(50), money.Dollar),
			OperationDate:  month.AddDate(0, -1, 0),
			ConversionRate: decimal.NewFromInt(5),
		})
		require.NoError(t, err)
		a.PopEvents()
		return a
	}

	setup := func(t *testing.T, monthlyTotal int64) (*Projector, *mockTaskRepo, *domain.Asset) {
		a := newUSASell(t)

		assets := new(mockAssetLoader)
		metadata := new(mockMetadataRepo)
		readModels := new(mockReadModelRepo)
		rates := new(mockRateGetter)
		tasks := new(mockTaskRepo)

		assets.On("Get", mock.Anything, a.ID).Return(a, nil)
		metadata.On("GetForAsset", mock.Anything, a).Return(nil, domain.ErrNotFound)
		rates.On("Get", mock.Anything, money.Dollar, money.Real).Return(decimal.NewFromInt(5), nil)
		readModels.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		readModels.On("SumMonthlySellTotal", mock.Anything, userID, domain.AssetTypeStockUSA, month).
			Return(decimal.NewFromInt(monthlyTotal), nil)
		tasks.On("ExistsForMonth", mock.Anything, userID, "above_monthly_sell_threshold_for_stock_usa", month).
			Return(false, nil)
		tasks.On("Add", mock.Anything, mock.Anything).Return(nil)

		return New(assets, metadata, readModels, rates, tasks, thresholds(), logger.NewDefault("test")), tasks, a
	}

	t.Run("below threshold records nothing", func(t *testing.T) {
		p, tasks, a := setup(t, 25000)
		err := p.handle(context.Background(), domain.TransactionsCreated{
			AssetID: a.ID, UserID: userID, Action: domain.ActionSell, OperationDate: month,
		})
		require.NoError(t, err)
		tasks.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
	})

	t.Run("above threshold records one task", func(t *testing.T) {
		p, tasks, a := setup(t, 40000)
		err := p.handle(context.Background(), domain.TransactionsCreated{
			AssetID: a.ID, UserID: userID, Action: domain.ActionSell, OperationDate: month,
		})
		require.NoError(t, err)
		tasks.AssertCalled(t, "Add", mock.Anything, mock.MatchedBy(func(tk *task.Task) bool {
			return tk.Name == "above_monthly_sell_threshold_for_stock_usa" &&
				tk.State == task.StateSuccess && tk.UserID == userID
		}))
	})
}
