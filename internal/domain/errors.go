package domain

import "errors"

// Transaction errors
var (
	ErrQuantityNotPositive      = errors.New("quantity must be positive")
	ErrNegativeRunningQuantity  = errors.New("sell would drive running quantity negative")
	ErrTransactionNotFound      = errors.New("transaction not found on asset")
	ErrCurrencyNotAllowed       = errors.New("currency not allowed for asset type")
	ErrTransactionCurrencyWrong = errors.New("transaction currency differs from asset currency")
)

// Income errors
var (
	ErrIncomeKindNotAllowed = errors.New("income kind not allowed for asset type")
	ErrIncomeNotFound       = errors.New("income not found on asset")
	ErrIncomeNotPositive    = errors.New("income amount must be positive")
)

// Unit of work errors
var (
	ErrNestedUnitOfWork = errors.New("unit of work already active")
	ErrNotFound         = errors.New("not found")
)
