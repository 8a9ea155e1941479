// Package command defines the command messages dispatched through the
// bus. Commands are dependency-free values: handlers are bound to them
// at startup.
package command

import (
	"time"

	"github.com/google/uuid"

	"github.com/barbosaigor/investrack/internal/domain"
)

// Command is a message with exactly one registered handler.
type Command interface {
	CommandName() string
}

// Command names, used as bus registration keys.
const (
	NameCreateTransaction  = "create_transaction"
	NameUpdateTransaction  = "update_transaction"
	NameDeleteTransaction  = "delete_transaction"
	NameCreateIncome       = "create_income"
	NameUpdateIncome       = "update_income"
	NameDeleteIncome       = "delete_income"
	NameCreateAsset        = "create_asset"
	NameUpdateSubscription = "update_subscription"
)

// CreateTransaction records a transaction on the user's asset for the
// given key, creating the asset on first ingestion. Dispatch it as a
// pointer: the handler reports the outcome through the result fields.
type CreateTransaction struct {
	UserID uuid.UUID
	Key    domain.AssetKey
	Input  domain.TransactionInput
	// CreateAssetIfMissing is set by integration ingestion, which may
	// see tickers the user never registered.
	CreateAssetIfMissing bool

	// Created reports whether a transaction row was inserted. False
	// when the external id was already seen, so integration runs can
	// count real imports.
	Created bool
	// AssetID is the id of the asset the transaction landed on.
	AssetID uuid.UUID
}

func (*CreateTransaction) CommandName() string { return NameCreateTransaction }

// UpdateTransaction applies a diff to an existing transaction.
type UpdateTransaction struct {
	UserID        uuid.UUID
	AssetID       uuid.UUID
	TransactionID uuid.UUID
	Input         domain.TransactionInput
}

func (UpdateTransaction) CommandName() string { return NameUpdateTransaction }

// DeleteTransaction removes a transaction from an asset.
type DeleteTransaction struct {
	UserID        uuid.UUID
	AssetID       uuid.UUID
	TransactionID uuid.UUID
}

func (DeleteTransaction) CommandName() string { return NameDeleteTransaction }

// CreateIncome records a passive income on an asset.
type CreateIncome struct {
	UserID  uuid.UUID
	AssetID uuid.UUID
	Input   domain.IncomeInput
}

func (CreateIncome) CommandName() string { return NameCreateIncome }

// UpdateIncome applies a diff to an existing income.
type UpdateIncome struct {
	UserID   uuid.UUID
	AssetID  uuid.UUID
	IncomeID uuid.UUID
	Input    domain.IncomeInput
}

func (UpdateIncome) CommandName() string { return NameUpdateIncome }

// DeleteIncome removes a passive income from an asset.
type DeleteIncome struct {
	UserID   uuid.UUID
	AssetID  uuid.UUID
	IncomeID uuid.UUID
}

func (DeleteIncome) CommandName() string { return NameDeleteIncome }

// CreateAsset explicitly creates an aggregate before any transaction.
type CreateAsset struct {
	UserID            uuid.UUID
	Key               domain.AssetKey
	Objective         domain.Objective
	HeldInSelfCustody bool
}

func (CreateAsset) CommandName() string { return NameCreateAsset }

// UpdateSubscription mirrors a payment-provider webhook into the user's
// subscription state.
type UpdateSubscription struct {
	UserID     uuid.UUID
	Status     string
	ValidUntil *time.Time
}

func (UpdateSubscription) CommandName() string { return NameUpdateSubscription }
