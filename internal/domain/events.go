package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is a domain event emitted by an aggregate and drained through
// the message bus within the same logical unit.
type Event interface {
	EventName() string
}

// Event names, used as bus subscription keys.
const (
	EventTransactionsCreated  = "transactions_created"
	EventTransactionUpdated   = "transaction_updated"
	EventTransactionDeleted   = "transaction_deleted"
	EventPassiveIncomeCreated = "passive_income_created"
	EventPassiveIncomeUpdated = "passive_income_updated"
	EventPassiveIncomeDeleted = "passive_income_deleted"
	EventAssetCreated         = "asset_created"
	EventAssetUpdated         = "asset_updated"
	EventAssetOperationClosed = "asset_operation_closed"
)

// TransactionsCreated is emitted when transactions are appended to an
// asset. NewAsset is set when the asset itself was created in the same
// write, so the projector performs a full refresh instead of a
// field-scoped update.
type TransactionsCreated struct {
	AssetID       uuid.UUID
	UserID        uuid.UUID
	NewAsset      bool
	Action        Action
	OperationDate time.Time
}

func (TransactionsCreated) EventName() string { return EventTransactionsCreated }

// TransactionUpdated is emitted when a transaction's quantity or price
// changed. QuantityDelta is new minus old signed quantity.
type TransactionUpdated struct {
	AssetID       uuid.UUID
	UserID        uuid.UUID
	QuantityDelta decimal.Decimal
	OperationDate time.Time
}

func (TransactionUpdated) EventName() string { return EventTransactionUpdated }

// TransactionDeleted is emitted when a transaction is removed.
type TransactionDeleted struct {
	AssetID uuid.UUID
	UserID  uuid.UUID
}

func (TransactionDeleted) EventName() string { return EventTransactionDeleted }

// PassiveIncomeCreated is emitted when an income is recorded.
type PassiveIncomeCreated struct {
	AssetID uuid.UUID
	UserID  uuid.UUID
}

func (PassiveIncomeCreated) EventName() string { return EventPassiveIncomeCreated }

// PassiveIncomeUpdated is emitted when an income changes.
type PassiveIncomeUpdated struct {
	AssetID uuid.UUID
	UserID  uuid.UUID
}

func (PassiveIncomeUpdated) EventName() string { return EventPassiveIncomeUpdated }

// PassiveIncomeDeleted is emitted when an income is removed.
type PassiveIncomeDeleted struct {
	AssetID uuid.UUID
	UserID  uuid.UUID
}

func (PassiveIncomeDeleted) EventName() string { return EventPassiveIncomeDeleted }

// AssetCreated is emitted when a new aggregate is created, either
// explicitly or on first integration ingestion.
type AssetCreated struct {
	AssetID uuid.UUID
	UserID  uuid.UUID
}

func (AssetCreated) EventName() string { return EventAssetCreated }

// AssetUpdated is emitted when asset attributes or its metadata price
// changed, so the projector recomputes current totals.
type AssetUpdated struct {
	AssetID uuid.UUID
	UserID  uuid.UUID
}

func (AssetUpdated) EventName() string { return EventAssetUpdated }

// AssetOperationClosed is emitted when a sell returns the running net
// quantity to zero and a ClosedOperation is recorded.
type AssetOperationClosed struct {
	AssetID uuid.UUID
	UserID  uuid.UUID
}

func (AssetOperationClosed) EventName() string { return EventAssetOperationClosed }
