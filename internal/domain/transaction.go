package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/pkg/money"
)

// Transaction is a buy or sell applied to an asset. Transactions are
// owned by their Asset and only mutated through it.
type Transaction struct {
	ID            uuid.UUID
	AssetID       uuid.UUID
	Action        Action
	Quantity      decimal.Decimal
	Price         money.Money
	OperationDate time.Time
	// ExternalID carries the provider-side identifier when the
	// transaction was ingested through an integration. It uniques
	// together with AssetID for idempotency.
	ExternalID *string
	// ConversionRate is the REAL-per-DOLLAR rate snapshot captured at
	// ingestion. It is 1 for REAL-denominated assets.
	ConversionRate decimal.Decimal
	CreatedAt      time.Time
	// Seq is the monotonic insertion sequence. It breaks ties between
	// transactions sharing an operation date.
	Seq int64
}

// GrossTotal returns price times quantity in the asset currency.
func (t *Transaction) GrossTotal() money.Money {
	return t.Price.MulScalar(t.Quantity)
}

// NormalizedTotal returns the gross total converted to REAL using the
// captured conversion-rate snapshot.
func (t *Transaction) NormalizedTotal() (money.Money, error) {
	return t.GrossTotal().Normalize(money.Real, t.ConversionRate)
}

// SignedQuantity returns the quantity with a negative sign for sells.
func (t *Transaction) SignedQuantity() decimal.Decimal {
	if t.Action == ActionSell {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

// TransactionInput carries the fields for creating or updating a
// transaction on an asset.
type TransactionInput struct {
	Action         Action
	Quantity       decimal.Decimal
	Price          money.Money
	OperationDate  time.Time
	ExternalID     *string
	ConversionRate decimal.Decimal
}
