package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/pkg/money"
)

// PassiveIncome is a dividend or JCP event applied to an asset. It is
// PROVISIONED while CreditedAt is nil and CREDITED afterwards.
type PassiveIncome struct {
	ID                  uuid.UUID
	AssetID             uuid.UUID
	Kind                IncomeKind
	Amount              money.Money
	EventDate           time.Time
	PaymentForecastDate *time.Time
	CreditedAt          *time.Time
	// ConversionRate is the REAL-per-DOLLAR snapshot captured when the
	// income was recorded. It is 1 for REAL-denominated assets.
	ConversionRate decimal.Decimal
	CreatedAt      time.Time
}

// Credited reports whether the income has been credited.
func (p *PassiveIncome) Credited() bool {
	return p.CreditedAt != nil
}

// NormalizedAmount returns the gross amount converted to REAL using the
// captured conversion-rate snapshot.
func (p *PassiveIncome) NormalizedAmount() (money.Money, error) {
	return p.Amount.Normalize(money.Real, p.ConversionRate)
}

// IncomeInput carries the fields for creating or updating a passive
// income on an asset.
type IncomeInput struct {
	Kind                IncomeKind
	Amount              money.Money
	EventDate           time.Time
	PaymentForecastDate *time.Time
	CreditedAt          *time.Time
	ConversionRate      decimal.Decimal
}
