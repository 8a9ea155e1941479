package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/pkg/money"
)

// AssetMetaData is shared per (code, type, currency) market ticker,
// except for self-custody assets where AssetID pins it to a single
// aggregate. It is created lazily on the first asset of its triple and
// refreshed by the price pipeline.
type AssetMetaData struct {
	ID       uuid.UUID
	Code     string
	Type     AssetType
	Currency money.Currency
	// AssetID is set only when the owning asset is held in self-custody.
	AssetID               *uuid.UUID
	Sector                string
	CurrentPrice          decimal.Decimal
	CurrentPriceUpdatedAt *time.Time
}

// MetadataKey identifies a shared metadata row.
type MetadataKey struct {
	Code     string
	Type     AssetType
	Currency money.Currency
}

// ConversionRate is the singleton exchange rate between two currencies,
// refreshed by job or webhook and read by every normalization path.
type ConversionRate struct {
	From      money.Currency
	To        money.Currency
	Rate      decimal.Decimal
	UpdatedAt time.Time
}

// AssetReadModel is the denormalized per-asset projection used for
// listing and indicators. It is derived and never authoritative.
type AssetReadModel struct {
	AssetID                   uuid.UUID
	UserID                    uuid.UUID
	Code                      string
	Type                      AssetType
	Currency                  money.Currency
	Objective                 Objective
	Quantity                  decimal.Decimal
	NormalizedTotalInvested   decimal.Decimal
	NormalizedAvgPrice        decimal.Decimal
	NormalizedCurrentTotal    decimal.Decimal
	NormalizedClosedROI       decimal.Decimal
	NormalizedCreditedIncomes decimal.Decimal
	UpdatedAt                 time.Time
}

// TotalInvestedSnapshot is the periodic per-user rollup backing
// patrimony-growth queries.
type TotalInvestedSnapshot struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	OperationDate time.Time
	Total         decimal.Decimal
}
