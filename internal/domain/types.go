package domain

import (
	"fmt"
	"strings"

	"github.com/barbosaigor/investrack/pkg/money"
)

// AssetType categorizes an asset for tax and pricing purposes.
type AssetType string

const (
	// AssetTypeStock is a domestic (B3-listed) stock.
	AssetTypeStock AssetType = "STOCK"
	// AssetTypeStockUSA is a US-listed stock.
	AssetTypeStockUSA AssetType = "STOCK_USA"
	// AssetTypeFII is a domestic real-estate investment fund (REIT).
	AssetTypeFII AssetType = "FII"
	// AssetTypeCrypto is a cryptocurrency.
	AssetTypeCrypto AssetType = "CRYPTO"
)

// AssetTypes lists every valid asset type.
func AssetTypes() []AssetType {
	return []AssetType{AssetTypeStock, AssetTypeStockUSA, AssetTypeFII, AssetTypeCrypto}
}

// ParseAssetType parses a string into an AssetType.
func ParseAssetType(s string) (AssetType, error) {
	switch AssetType(strings.ToUpper(strings.TrimSpace(s))) {
	case AssetTypeStock:
		return AssetTypeStock, nil
	case AssetTypeStockUSA:
		return AssetTypeStockUSA, nil
	case AssetTypeFII:
		return AssetTypeFII, nil
	case AssetTypeCrypto:
		return AssetTypeCrypto, nil
	default:
		return "", fmt.Errorf("invalid asset type: %q", s)
	}
}

// ValidCurrencies returns the currencies an asset of this type may be
// denominated in.
func (t AssetType) ValidCurrencies() []money.Currency {
	switch t {
	case AssetTypeStockUSA:
		return []money.Currency{money.Dollar}
	case AssetTypeCrypto:
		return []money.Currency{money.Real, money.Dollar}
	default:
		return []money.Currency{money.Real}
	}
}

// AcceptsCurrency reports whether the currency is valid for this type.
func (t AssetType) AcceptsCurrency(c money.Currency) bool {
	for _, valid := range t.ValidCurrencies() {
		if valid == c {
			return true
		}
	}
	return false
}

// AcceptsIncomeKind reports whether the income kind is valid for this
// type. JCP is restricted to domestic stocks.
func (t AssetType) AcceptsIncomeKind(k IncomeKind) bool {
	switch k {
	case IncomeKindDividend:
		return t == AssetTypeStock || t == AssetTypeStockUSA || t == AssetTypeFII
	case IncomeKindJCP:
		return t == AssetTypeStock
	default:
		return false
	}
}

// String returns the lowercase form used in task names and URLs.
func (t AssetType) String() string {
	return strings.ToLower(string(t))
}

// Objective classifies why the user holds an asset.
type Objective string

const (
	ObjectiveGrowth   Objective = "GROWTH"
	ObjectiveDividend Objective = "DIVIDEND"
	ObjectiveUnknown  Objective = "UNKNOWN"
)

// Action is the direction of a transaction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ParseAction parses a string into an Action.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, nil
	case ActionSell:
		return ActionSell, nil
	default:
		return "", fmt.Errorf("invalid action: %q", s)
	}
}

// IncomeKind is the category of a passive income event.
type IncomeKind string

const (
	IncomeKindDividend IncomeKind = "DIVIDEND"
	// IncomeKindJCP is "juros sobre capital próprio", a domestic-stock-only
	// income category taxed differently from dividends.
	IncomeKindJCP IncomeKind = "JCP"
)
