// Package handlers binds command messages to the domain model. Each
// handler runs inside the unit of work it receives and commits before
// returning; the bus drains the emitted events afterwards.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/bus"
	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/domain"
	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/pkg/logger"
	"github.com/barbosaigor/investrack/pkg/money"
)

// RateGetter resolves the current REAL-per-DOLLAR rate for snapshot
// capture on dollar-denominated writes.
type RateGetter interface {
	Get(ctx context.Context, from, to money.Currency) (decimal.Decimal, error)
}

// Handlers holds the dependencies shared by every command handler.
type Handlers struct {
	metadata domain.MetadataRepository
	rates    RateGetter
	users    domain.UserRepository
	logger   *logger.Logger
}

// New creates the command handler set.
func New(metadata domain.MetadataRepository, rates RateGetter, users domain.UserRepository, log *logger.Logger) *Handlers {
	return &Handlers{
		metadata: metadata,
		rates:    rates,
		users:    users,
		logger:   log.WithField("component", "handlers"),
	}
}

// Register binds every command to its handler on the bus.
func (h *Handlers) Register(b *bus.Bus) error {
	bindings := map[string]bus.CommandHandler{
		command.NameCreateTransaction:  h.handleCreateTransaction,
		command.NameUpdateTransaction:  h.handleUpdateTransaction,
		command.NameDeleteTransaction:  h.handleDeleteTransaction,
		command.NameCreateIncome:       h.handleCreateIncome,
		command.NameUpdateIncome:       h.handleUpdateIncome,
		command.NameDeleteIncome:       h.handleDeleteIncome,
		command.NameCreateAsset:        h.handleCreateAsset,
		command.NameUpdateSubscription: h.handleUpdateSubscription,
	}
	for name, handler := range bindings {
		if err := b.RegisterCommand(name, handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) handleCreateTransaction(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
	c, ok := cmd.(*command.CreateTransaction)
	if !ok {
		return fmt.Errorf("unexpected command type %T", cmd)
	}
	repo := uow.Assets()

	var createdAsset bool
	a, err := repo.GetByKey(ctx, c.UserID, c.Key)
	if errors.Is(err, domain.ErrNotFound) {
		if !c.CreateAssetIfMissing {
			return apperrors.NotFound("asset")
		}
		candidate, err := domain.NewAsset(c.UserID, c.Key.Code, c.Key.Type, c.Key.Currency, domain.ObjectiveUnknown, false)
		if err != nil {
			return mapDomainError(err)
		}
		a, createdAsset, err = repo.GetOrCreate(ctx, candidate)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	in := c.Input
	if err := h.ensureRateSnapshot(ctx, a, &in.ConversionRate); err != nil {
		return err
	}

	tx, err := a.AddTransaction(in)
	if err != nil {
		return mapDomainError(err)
	}

	inserted, err := repo.AddTransaction(ctx, tx)
	if err != nil {
		return err
	}
	c.AssetID = a.ID
	c.Created = inserted

	if !inserted {
		// Duplicate external id: the aggregate mutation is discarded
		// along with its events and any pending close.
		a.PopEvents()
		a.PopPendingClosedOperations()
		return uow.Commit(ctx)
	}

	for _, op := range a.PopPendingClosedOperations() {
		if err := repo.AddClosedOperation(ctx, op); err != nil {
			return err
		}
	}
	if err := uow.Commit(ctx); err != nil {
		return err
	}

	if createdAsset {
		h.maybeCreateMetadata(ctx, a, c.Input.Price.Amount)
	}
	return nil
}

func (h *Handlers) handleUpdateTransaction(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
	c, ok := cmd.(command.UpdateTransaction)
	if !ok {
		return fmt.Errorf("unexpected command type %T", cmd)
	}
	repo := uow.Assets()

	a, err := repo.Get(ctx, c.AssetID)
	if err != nil {
		return mapDomainError(err)
	}
	if a.UserID != c.UserID {
		return apperrors.Forbidden("asset belongs to another user")
	}

	in := c.Input
	if err := h.ensureRateSnapshot(ctx, a, &in.ConversionRate); err != nil {
		return err
	}

	tx, err := a.UpdateTransaction(c.TransactionID, in)
	if err != nil {
		return mapDomainError(err)
	}
	if err := repo.UpdateTransaction(ctx, tx); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

func (h *Handlers) handleDeleteTransaction(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
	c, ok := cmd.(command.DeleteTransaction)
	if !ok {
		return fmt.Errorf("unexpected command type %T", cmd)
	}
	repo := uow.Assets()

	a, err := repo.Get(ctx, c.AssetID)
	if err != nil {
		return mapDomainError(err)
	}
	if a.UserID != c.UserID {
		return apperrors.Forbidden("asset belongs to another user")
	}

	removed, err := a.DeleteTransaction(c.TransactionID)
	if err != nil {
		return mapDomainError(err)
	}
	if err := repo.DeleteTransaction(ctx, removed); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

func (h *Handlers) handleCreateIncome(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
	c, ok := cmd.(command.CreateIncome)
	if !ok {
		return fmt.Errorf("unexpected command type %T", cmd)
	}
	repo := uow.Assets()

	a, err := repo.Get(ctx, c.AssetID)
	if err != nil {
		return mapDomainError(err)
	}
	if a.UserID != c.UserID {
		return apperrors.Forbidden("asset belongs to another user")
	}

	in := c.Input
	if err := h.ensureRateSnapshot(ctx, a, &in.ConversionRate); err != nil {
		return err
	}

	income, err := a.AddIncome(in)
	if err != nil {
		return mapDomainError(err)
	}
	if err := repo.AddIncome(ctx, income); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

func (h *Handlers) handleUpdateIncome(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
	c, ok := cmd.(command.UpdateIncome)
	if !ok {
		return fmt.Errorf("unexpected command type %T", cmd)
	}
	repo := uow.Assets()

	a, err := repo.Get(ctx, c.AssetID)
	if err != nil {
		return mapDomainError(err)
	}
	if a.UserID != c.UserID {
		return apperrors.Forbidden("asset belongs to another user")
	}

	income, err := a.UpdateIncome(c.IncomeID, c.Input)
	if err != nil {
		return mapDomainError(err)
	}
	if err := repo.UpdateIncome(ctx, income); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

func (h *Handlers) handleDeleteIncome(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
	c, ok := cmd.(command.DeleteIncome)
	if !ok {
		return fmt.Errorf("unexpected command type %T", cmd)
	}
	repo := uow.Assets()

	a, err := repo.Get(ctx, c.AssetID)
	if err != nil {
		return mapDomainError(err)
	}
	if a.UserID != c.UserID {
		return apperrors.Forbidden("asset belongs to another user")
	}

	removed, err := a.DeleteIncome(c.IncomeID)
	if err != nil {
		return mapDomainError(err)
	}
	if err := repo.DeleteIncome(ctx, removed); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

func (h *Handlers) handleCreateAsset(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
	c, ok := cmd.(command.CreateAsset)
	if !ok {
		return fmt.Errorf("unexpected command type %T", cmd)
	}

	candidate, err := domain.NewAsset(c.UserID, c.Key.Code, c.Key.Type, c.Key.Currency, c.Objective, c.HeldInSelfCustody)
	if err != nil {
		return mapDomainError(err)
	}
	a, created, err := uow.Assets().GetOrCreate(ctx, candidate)
	if err != nil {
		return err
	}
	if !created {
		return apperrors.Conflict("asset already exists")
	}
	if err := uow.Commit(ctx); err != nil {
		return err
	}

	h.maybeCreateMetadata(ctx, a, decimal.Zero)
	return nil
}

func (h *Handlers) handleUpdateSubscription(ctx context.Context, cmd command.Command, uow domain.UnitOfWork) error {
	c, ok := cmd.(command.UpdateSubscription)
	if !ok {
		return fmt.Errorf("unexpected command type %T", cmd)
	}
	if err := h.users.UpdateSubscription(ctx, c.UserID, domain.SubscriptionStatus(c.Status), c.ValidUntil); err != nil {
		return mapDomainError(err)
	}
	return uow.Commit(ctx)
}

// ensureRateSnapshot fills a missing conversion-rate snapshot for
// dollar-denominated assets from the current cached rate. A rate that
// cannot be resolved makes the write retryable: accepting it would
// freeze an unusable snapshot.
func (h *Handlers) ensureRateSnapshot(ctx context.Context, a *domain.Asset, rate *decimal.Decimal) error {
	if !rate.IsZero() || a.Currency != money.Dollar {
		return nil
	}
	current, err := h.rates.Get(ctx, money.Dollar, money.Real)
	if err != nil {
		return apperrors.Retryable("conversion rate unavailable", err)
	}
	*rate = current
	return nil
}

// maybeCreateMetadata lazily creates the metadata row for a fresh
// asset, seeding current_price from the incoming transaction. Runs
// post-commit; failures only log since the row is recreated on demand.
func (h *Handlers) maybeCreateMetadata(ctx context.Context, a *domain.Asset, initialPrice decimal.Decimal) {
	key := domain.MetadataKey{Code: a.Code, Type: a.Type, Currency: a.Currency}
	var assetID *uuid.UUID
	if a.HeldInSelfCustody {
		id := a.ID
		assetID = &id
	}
	if _, _, err := h.metadata.GetOrCreate(ctx, key, assetID, initialPrice); err != nil {
		h.logger.WithError(err).Error("failed to create asset metadata",
			"code", a.Code, "type", string(a.Type))
	}
}

// mapDomainError translates domain errors into transport-level codes.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrIncomeNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "resource not found")
	case errors.Is(err, domain.ErrQuantityNotPositive),
		errors.Is(err, domain.ErrNegativeRunningQuantity),
		errors.Is(err, domain.ErrCurrencyNotAllowed),
		errors.Is(err, domain.ErrTransactionCurrencyWrong),
		errors.Is(err, domain.ErrIncomeKindNotAllowed),
		errors.Is(err, domain.ErrIncomeNotPositive):
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	default:
		return err
	}
}
