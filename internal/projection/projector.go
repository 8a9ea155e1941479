// Package projection maintains the per-asset read model in response to
// domain events.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/bus"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/task"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

// AssetLoader loads aggregates outside a unit of work, for post-commit
// projection reads.
type AssetLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error)
}

// RateGetter resolves the current REAL-per-DOLLAR rate.
type RateGetter interface {
	Get(ctx context.Context, from, to money.Currency) (decimal.Decimal, error)
}

// Projector recomputes AssetReadModel rows from persisted aggregate
// state. It is idempotent: the same state always projects to the same
// row, so replays and retries are safe.
type Projector struct {
	assets     AssetLoader
	metadata   domain.MetadataRepository
	readModels domain.ReadModelRepository
	rates      RateGetter
	tasks      task.Repository
	// thresholds maps the lowercase asset-type name to the monthly-sell
	// tax-exemption threshold for that type.
	thresholds map[string]decimal.Decimal
	logger     *logger.Logger
}

// New creates a projector.
func New(
	assets AssetLoader,
	metadata domain.MetadataRepository,
	readModels domain.ReadModelRepository,
	rates RateGetter,
	tasks task.Repository,
	thresholds map[string]decimal.Decimal,
	log *logger.Logger,
) *Projector {
	return &Projector{
		assets:     assets,
		metadata:   metadata,
		readModels: readModels,
		rates:      rates,
		tasks:      tasks,
		thresholds: thresholds,
		logger:     log.WithField("component", "projector"),
	}
}

// Transaction-affected projection fields.
var transactionFields = []string{
	"quantity",
	"normalized_total_invested",
	"normalized_avg_price",
	"normalized_current_total",
	"normalized_closed_roi",
}

var incomeFields = []string{"normalized_credited_incomes"}

var priceFields = []string{"normalized_current_total"}

// Register subscribes the projector to every aggregate event.
func (p *Projector) Register(b *bus.Bus) {
	b.Subscribe(domain.EventAssetCreated, p.handle)
	b.Subscribe(domain.EventAssetUpdated, p.handle)
	b.Subscribe(domain.EventAssetOperationClosed, p.handle)
	b.Subscribe(domain.EventTransactionsCreated, p.handle)
	b.Subscribe(domain.EventTransactionUpdated, p.handle)
	b.Subscribe(domain.EventTransactionDeleted, p.handle)
	b.Subscribe(domain.EventPassiveIncomeCreated, p.handle)
	b.Subscribe(domain.EventPassiveIncomeUpdated, p.handle)
	b.Subscribe(domain.EventPassiveIncomeDeleted, p.handle)
}

func (p *Projector) handle(ctx context.Context, e domain.Event) error {
	switch ev := e.(type) {
	case domain.AssetCreated:
		return p.Project(ctx, ev.AssetID, nil)
	case domain.AssetUpdated:
		return p.Project(ctx, ev.AssetID, priceFields)
	case domain.AssetOperationClosed:
		return p.Project(ctx, ev.AssetID, transactionFields)
	case domain.TransactionsCreated:
		// An asset created together with its first child write gets a
		// full refresh so an out-of-order create burst cannot drop
		// freshly computed fields.
		fields := transactionFields
		if ev.NewAsset {
			fields = nil
		}
		if err := p.Project(ctx, ev.AssetID, fields); err != nil {
			return err
		}
		if ev.Action == domain.ActionSell {
			p.checkMonthlySellThreshold(ctx, ev)
		}
		return nil
	case domain.TransactionUpdated:
		return p.Project(ctx, ev.AssetID, transactionFields)
	case domain.TransactionDeleted:
		return p.Project(ctx, ev.AssetID, transactionFields)
	case domain.PassiveIncomeCreated:
		return p.Project(ctx, ev.AssetID, incomeFields)
	case domain.PassiveIncomeUpdated:
		return p.Project(ctx, ev.AssetID, incomeFields)
	case domain.PassiveIncomeDeleted:
		return p.Project(ctx, ev.AssetID, incomeFields)
	default:
		return nil
	}
}

// Project recomputes the read-model row for the asset. A nil field list
// replaces the whole row. A field-scoped update against a row that does
// not exist yet falls back to a full refresh.
func (p *Projector) Project(ctx context.Context, assetID uuid.UUID, fields []string) error {
	a, err := p.assets.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p.readModels.Delete(ctx, assetID)
		}
		return fmt.Errorf("failed to load asset for projection: %w", err)
	}

	row, err := p.computeRow(ctx, a)
	if err != nil {
		return err
	}

	err = p.readModels.Upsert(ctx, row, fields)
	if errors.Is(err, domain.ErrNotFound) && len(fields) > 0 {
		return p.readModels.Upsert(ctx, row, nil)
	}
	return err
}

func (p *Projector) computeRow(ctx context.Context, a *domain.Asset) (*domain.AssetReadModel, error) {
	row := &domain.AssetReadModel{
		AssetID:   a.ID,
		UserID:    a.UserID,
		Code:      a.Code,
		Type:      a.Type,
		Currency:  a.Currency,
		Objective: a.Objective,
		Quantity:  a.OpenQuantity(),
		UpdatedAt: time.Now().UTC(),
	}

	if invested, ok := a.TotalInvested(); ok {
		normalized, err := p.normalize(ctx, invested)
		if err != nil {
			return nil, err
		}
		row.NormalizedTotalInvested = normalized
	}
	if avg, ok := a.AveragePrice(); ok {
		normalized, err := p.normalize(ctx, avg)
		if err != nil {
			return nil, err
		}
		row.NormalizedAvgPrice = normalized
	}

	row.NormalizedClosedROI = a.ClosedROI().Amount
	row.NormalizedCreditedIncomes = a.CreditedIncomesTotal().Amount

	md, err := p.metadata.GetForAsset(ctx, a)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if md != nil {
		current, err := p.normalize(ctx, a.CurrentTotal(md.CurrentPrice))
		if err != nil {
			return nil, err
		}
		row.NormalizedCurrentTotal = current
	}

	return row, nil
}

// normalize converts a money amount to REAL at the current rate.
func (p *Projector) normalize(ctx context.Context, m money.Money) (decimal.Decimal, error) {
	if m.Currency == money.Real {
		return m.Amount, nil
	}
	rate, err := p.rates.Get(ctx, m.Currency, money.Real)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to resolve conversion rate: %w", err)
	}
	normalized, err := m.Normalize(money.Real, rate)
	if err != nil {
		return decimal.Zero, err
	}
	return normalized.Amount, nil
}

// checkMonthlySellThreshold records a notification task when the
// month's sells for the asset type cross the tax-exemption threshold.
// One task per user, type and month. Failures only log: the projection
// itself already succeeded.
func (p *Projector) checkMonthlySellThreshold(ctx context.Context, ev domain.TransactionsCreated) {
	a, err := p.assets.Get(ctx, ev.AssetID)
	if err != nil {
		p.logger.WithError(err).Error("threshold check: failed to load asset")
		return
	}

	threshold, ok := p.thresholds[a.Type.String()]
	if !ok || !threshold.IsPositive() {
		return
	}

	total, err := p.readModels.SumMonthlySellTotal(ctx, ev.UserID, a.Type, ev.OperationDate)
	if err != nil {
		p.logger.WithError(err).Error("threshold check: failed to sum monthly sells")
		return
	}
	if total.LessThanOrEqual(threshold) {
		return
	}

	name := fmt.Sprintf("above_monthly_sell_threshold_for_%s", a.Type)
	exists, err := p.tasks.ExistsForMonth(ctx, ev.UserID, name, ev.OperationDate)
	if err != nil {
		p.logger.WithError(err).Error("threshold check: failed to query tasks")
		return
	}
	if exists {
		return
	}

	now := time.Now().UTC()
	t := task.New(ev.UserID, name)
	_ = t.Start(now)
	_ = t.Succeed(now, fmt.Sprintf(
		"Vendas do mês acima do limite de isenção para %s", a.Type))
	if err := p.tasks.Add(ctx, t); err != nil {
		p.logger.WithError(err).Error("threshold check: failed to record task")
	}
}
