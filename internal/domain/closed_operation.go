package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/pkg/money"
)

// ClosedOperation is the record emitted when an asset's running net
// quantity returns to zero: the window between the first BUY after a
// zero position and the SELL that zeroed it again. Totals are
// normalized to REAL using the per-transaction conversion-rate
// snapshots captured at ingestion.
type ClosedOperation struct {
	ID                uuid.UUID
	AssetID           uuid.UUID
	QuantityBought    decimal.Decimal
	TotalBought       money.Money
	TotalSold         money.Money
	CreditedIncomes   money.Money
	OperationDatetime time.Time
}

// ROI returns total_sold - total_bought + credited_incomes in REAL.
func (c *ClosedOperation) ROI() money.Money {
	roi, _ := c.TotalSold.Sub(c.TotalBought)
	roi, _ = roi.Add(c.CreditedIncomes)
	return roi
}
