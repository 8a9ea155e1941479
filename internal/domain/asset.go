package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/pkg/money"
)

// Asset is the aggregate root of the investments domain. It owns its
// transactions, passive incomes and closed operations and enforces
// every invariant over them. Identity is (owner, code, type, currency).
type Asset struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Code   string
	Type   AssetType
	// Currency the asset is denominated in. Transaction prices and
	// income amounts must match it.
	Currency  money.Currency
	Objective Objective
	// HeldInSelfCustody marks fixed-income-style instruments whose
	// metadata is per owner instead of shared across the market ticker.
	HeldInSelfCustody bool
	CreatedAt         time.Time

	transactions []*Transaction
	incomes      []*PassiveIncome
	closedOps    []*ClosedOperation

	events           []Event
	pendingClosedOps []*ClosedOperation
	isNew            bool
	nextSeq          int64
}

// NewAsset creates a fresh aggregate and emits AssetCreated.
func NewAsset(userID uuid.UUID, code string, typ AssetType, currency money.Currency, objective Objective, selfCustody bool) (*Asset, error) {
	if !typ.AcceptsCurrency(currency) {
		return nil, ErrCurrencyNotAllowed
	}
	a := &Asset{
		ID:                uuid.New(),
		UserID:            userID,
		Code:              code,
		Type:              typ,
		Currency:          currency,
		Objective:         objective,
		HeldInSelfCustody: selfCustody,
		CreatedAt:         time.Now().UTC(),
		isNew:             true,
		nextSeq:           1,
	}
	a.record(AssetCreated{AssetID: a.ID, UserID: userID})
	return a, nil
}

// RestoreAsset rebuilds an aggregate from persisted state. Children
// must be complete enough to enforce invariants.
func RestoreAsset(
	id, userID uuid.UUID,
	code string,
	typ AssetType,
	currency money.Currency,
	objective Objective,
	selfCustody bool,
	createdAt time.Time,
	transactions []*Transaction,
	incomes []*PassiveIncome,
	closedOps []*ClosedOperation,
) *Asset {
	a := &Asset{
		ID:                id,
		UserID:            userID,
		Code:              code,
		Type:              typ,
		Currency:          currency,
		Objective:         objective,
		HeldInSelfCustody: selfCustody,
		CreatedAt:         createdAt,
		transactions:      transactions,
		incomes:           incomes,
		closedOps:         closedOps,
		nextSeq:           1,
	}
	for _, tx := range transactions {
		if tx.Seq >= a.nextSeq {
			a.nextSeq = tx.Seq + 1
		}
	}
	return a
}

// Transactions returns the asset's transactions ordered by operation
// date and insertion sequence.
func (a *Asset) Transactions() []*Transaction {
	return a.ordered()
}

// Incomes returns the asset's passive incomes.
func (a *Asset) Incomes() []*PassiveIncome {
	out := make([]*PassiveIncome, len(a.incomes))
	copy(out, a.incomes)
	return out
}

// ClosedOperations returns the asset's closed-operation log.
func (a *Asset) ClosedOperations() []*ClosedOperation {
	out := make([]*ClosedOperation, len(a.closedOps))
	copy(out, a.closedOps)
	return out
}

// AddTransaction appends a transaction, re-validating the running net
// quantity. When a sell returns the net quantity to zero it atomically
// records a ClosedOperation covering the window since the previous
// close (or the first buy) and emits AssetOperationClosed.
func (a *Asset) AddTransaction(in TransactionInput) (*Transaction, error) {
	if !in.Quantity.IsPositive() {
		return nil, ErrQuantityNotPositive
	}
	if in.Price.Currency != a.Currency {
		return nil, ErrTransactionCurrencyWrong
	}

	rate := in.ConversionRate
	if rate.IsZero() && a.Currency == money.Real {
		rate = decimal.NewFromInt(1)
	}

	tx := &Transaction{
		ID:             uuid.New(),
		AssetID:        a.ID,
		Action:         in.Action,
		Quantity:       in.Quantity,
		Price:          in.Price,
		OperationDate:  in.OperationDate,
		ExternalID:     in.ExternalID,
		ConversionRate: rate,
		CreatedAt:      time.Now().UTC(),
		Seq:            a.nextSeq,
	}
	a.transactions = append(a.transactions, tx)

	// A sell must leave every intermediate net non-negative, not just
	// the net at its own date: a backdated sell can starve a later one.
	if in.Action == ActionSell {
		if err := a.validateRunningQuantity(); err != nil {
			a.transactions = a.transactions[:len(a.transactions)-1]
			return nil, err
		}
	}
	a.nextSeq++

	a.record(TransactionsCreated{
		AssetID:       a.ID,
		UserID:        a.UserID,
		NewAsset:      a.isNew,
		Action:        in.Action,
		OperationDate: in.OperationDate,
	})
	a.isNew = false

	if in.Action == ActionSell && a.OpenQuantity().IsZero() {
		op, err := a.closeOperation(tx)
		if err != nil {
			return nil, err
		}
		a.closedOps = append(a.closedOps, op)
		a.pendingClosedOps = append(a.pendingClosedOps, op)
		a.record(AssetOperationClosed{AssetID: a.ID, UserID: a.UserID})
	}

	return tx, nil
}

// UpdateTransaction applies the input diff to an existing transaction.
// Quantity or price changes emit TransactionUpdated with the signed
// quantity delta.
func (a *Asset) UpdateTransaction(transactionID uuid.UUID, in TransactionInput) (*Transaction, error) {
	tx := a.findTransaction(transactionID)
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	if !in.Quantity.IsPositive() {
		return nil, ErrQuantityNotPositive
	}
	if in.Price.Currency != a.Currency {
		return nil, ErrTransactionCurrencyWrong
	}

	prev := *tx
	tx.Action = in.Action
	tx.Quantity = in.Quantity
	tx.Price = in.Price
	tx.OperationDate = in.OperationDate
	if !in.ConversionRate.IsZero() {
		tx.ConversionRate = in.ConversionRate
	}

	if err := a.validateRunningQuantity(); err != nil {
		*tx = prev
		return nil, err
	}

	if !prev.Quantity.Equal(tx.Quantity) || !prev.Price.Amount.Equal(tx.Price.Amount) {
		a.record(TransactionUpdated{
			AssetID:       a.ID,
			UserID:        a.UserID,
			QuantityDelta: tx.SignedQuantity().Sub(prev.SignedQuantity()),
			OperationDate: tx.OperationDate,
		})
	}
	return tx, nil
}

// DeleteTransaction removes a transaction, rejecting removals that
// would drive any intermediate running quantity negative.
func (a *Asset) DeleteTransaction(transactionID uuid.UUID) (*Transaction, error) {
	idx := -1
	for i, tx := range a.transactions {
		if tx.ID == transactionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrTransactionNotFound
	}

	removed := a.transactions[idx]
	a.transactions = append(a.transactions[:idx], a.transactions[idx+1:]...)
	if err := a.validateRunningQuantity(); err != nil {
		a.transactions = append(a.transactions, removed)
		return nil, err
	}

	a.record(TransactionDeleted{AssetID: a.ID, UserID: a.UserID})
	return removed, nil
}

// AddIncome records a passive income. Only income kinds valid for the
// asset type are accepted; JCP is restricted to domestic stocks.
func (a *Asset) AddIncome(in IncomeInput) (*PassiveIncome, error) {
	if !a.Type.AcceptsIncomeKind(in.Kind) {
		return nil, ErrIncomeKindNotAllowed
	}
	if !in.Amount.Amount.IsPositive() {
		return nil, ErrIncomeNotPositive
	}
	if in.Amount.Currency != a.Currency {
		return nil, ErrTransactionCurrencyWrong
	}

	rate := in.ConversionRate
	if rate.IsZero() && a.Currency == money.Real {
		rate = decimal.NewFromInt(1)
	}

	income := &PassiveIncome{
		ID:                  uuid.New(),
		AssetID:             a.ID,
		Kind:                in.Kind,
		Amount:              in.Amount,
		EventDate:           in.EventDate,
		PaymentForecastDate: in.PaymentForecastDate,
		CreditedAt:          in.CreditedAt,
		ConversionRate:      rate,
		CreatedAt:           time.Now().UTC(),
	}
	a.incomes = append(a.incomes, income)
	a.record(PassiveIncomeCreated{AssetID: a.ID, UserID: a.UserID})
	return income, nil
}

// UpdateIncome applies the input diff to an existing income.
func (a *Asset) UpdateIncome(incomeID uuid.UUID, in IncomeInput) (*PassiveIncome, error) {
	income := a.findIncome(incomeID)
	if income == nil {
		return nil, ErrIncomeNotFound
	}
	if !a.Type.AcceptsIncomeKind(in.Kind) {
		return nil, ErrIncomeKindNotAllowed
	}
	if !in.Amount.Amount.IsPositive() {
		return nil, ErrIncomeNotPositive
	}

	income.Kind = in.Kind
	income.Amount = in.Amount
	income.EventDate = in.EventDate
	income.PaymentForecastDate = in.PaymentForecastDate
	income.CreditedAt = in.CreditedAt
	if !in.ConversionRate.IsZero() {
		income.ConversionRate = in.ConversionRate
	}

	a.record(PassiveIncomeUpdated{AssetID: a.ID, UserID: a.UserID})
	return income, nil
}

// DeleteIncome removes a passive income.
func (a *Asset) DeleteIncome(incomeID uuid.UUID) (*PassiveIncome, error) {
	idx := -1
	for i, income := range a.incomes {
		if income.ID == incomeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrIncomeNotFound
	}
	removed := a.incomes[idx]
	a.incomes = append(a.incomes[:idx], a.incomes[idx+1:]...)
	a.record(PassiveIncomeDeleted{AssetID: a.ID, UserID: a.UserID})
	return removed, nil
}

// AveragePrice returns the quantity-weighted average buy price of the
// current open operation, in the asset currency. The boolean is false
// when there is no open position.
func (a *Asset) AveragePrice() (money.Money, bool) {
	buys := a.openWindowBuys()
	totalQty := decimal.Zero
	total := money.Zero(a.Currency)
	for _, tx := range buys {
		totalQty = totalQty.Add(tx.Quantity)
		total, _ = total.Add(tx.GrossTotal())
	}
	if totalQty.IsZero() {
		return money.Zero(a.Currency), false
	}
	avg, _ := total.DivScalar(totalQty)
	return avg, true
}

// AdjustedAveragePrice returns the average price reduced by the
// credited incomes of the open operation, spread over the bought
// quantity.
func (a *Asset) AdjustedAveragePrice() (money.Money, bool) {
	buys := a.openWindowBuys()
	totalQty := decimal.Zero
	total := money.Zero(a.Currency)
	for _, tx := range buys {
		totalQty = totalQty.Add(tx.Quantity)
		total, _ = total.Add(tx.GrossTotal())
	}
	if totalQty.IsZero() {
		return money.Zero(a.Currency), false
	}
	adjusted, _ := total.Sub(a.creditedIncomesInOpenPeriod())
	avg, _ := adjusted.DivScalar(totalQty)
	return avg, true
}

// ClosedROI returns the summed return of every closed operation,
// normalized to REAL at close time.
func (a *Asset) ClosedROI() money.Money {
	total := money.Zero(money.Real)
	for _, op := range a.closedOps {
		total, _ = total.Add(op.ROI())
	}
	return total
}

// OpenQuantity returns the current net quantity held.
func (a *Asset) OpenQuantity() decimal.Decimal {
	net := decimal.Zero
	for _, tx := range a.transactions {
		net = net.Add(tx.SignedQuantity())
	}
	return net
}

// TotalInvested returns average price times open quantity in the asset
// currency. The boolean is false when there is no open position.
func (a *Asset) TotalInvested() (money.Money, bool) {
	avg, ok := a.AveragePrice()
	if !ok {
		return money.Zero(a.Currency), false
	}
	return avg.MulScalar(a.OpenQuantity()), true
}

// CurrentTotal returns the open quantity valued at the given unit
// price, in the asset currency.
func (a *Asset) CurrentTotal(currentPrice decimal.Decimal) money.Money {
	return money.New(currentPrice.Mul(a.OpenQuantity()), a.Currency)
}

// CreditedIncomesTotal returns the sum of all credited incomes,
// normalized to REAL using the per-income rate snapshots.
func (a *Asset) CreditedIncomesTotal() money.Money {
	total := money.Zero(money.Real)
	for _, income := range a.incomes {
		if !income.Credited() {
			continue
		}
		normalized, err := income.NormalizedAmount()
		if err != nil {
			continue
		}
		total, _ = total.Add(normalized)
	}
	return total
}

// OperationPeriod is one entry of the open/closed operation timeline.
type OperationPeriod struct {
	StartedAt time.Time
	ClosedAt  *time.Time
	ROI       *money.Money
}

// OperationPeriods enumerates closed operations followed by the open
// one, if any transactions exist past the last close.
func (a *Asset) OperationPeriods() []OperationPeriod {
	var periods []OperationPeriod
	ordered := a.ordered()

	net := decimal.Zero
	var windowStart *time.Time
	opIdx := 0
	for _, tx := range ordered {
		if windowStart == nil {
			start := tx.OperationDate
			windowStart = &start
		}
		net = net.Add(tx.SignedQuantity())
		if net.IsZero() && tx.Action == ActionSell {
			period := OperationPeriod{StartedAt: *windowStart}
			closedAt := tx.OperationDate
			period.ClosedAt = &closedAt
			if opIdx < len(a.closedOps) {
				roi := a.closedOps[opIdx].ROI()
				period.ROI = &roi
				opIdx++
			}
			periods = append(periods, period)
			windowStart = nil
		}
	}
	if windowStart != nil {
		periods = append(periods, OperationPeriod{StartedAt: *windowStart})
	}
	return periods
}

// PopEvents returns and clears the pending domain events.
func (a *Asset) PopEvents() []Event {
	events := a.events
	a.events = nil
	return events
}

// PopPendingClosedOperations returns and clears closed operations not
// yet persisted.
func (a *Asset) PopPendingClosedOperations() []*ClosedOperation {
	ops := a.pendingClosedOps
	a.pendingClosedOps = nil
	return ops
}

// RecordUpdated emits AssetUpdated, used when asset attributes change
// outside the child-entity paths.
func (a *Asset) RecordUpdated() {
	a.record(AssetUpdated{AssetID: a.ID, UserID: a.UserID})
}

func (a *Asset) record(e Event) {
	a.events = append(a.events, e)
}

func (a *Asset) findTransaction(id uuid.UUID) *Transaction {
	for _, tx := range a.transactions {
		if tx.ID == id {
			return tx
		}
	}
	return nil
}

func (a *Asset) findIncome(id uuid.UUID) *PassiveIncome {
	for _, income := range a.incomes {
		if income.ID == id {
			return income
		}
	}
	return nil
}

// ordered returns transactions sorted by operation date, then by
// insertion sequence. Same-date buys arriving out of order therefore
// settle into a deterministic order.
func (a *Asset) ordered() []*Transaction {
	out := make([]*Transaction, len(a.transactions))
	copy(out, a.transactions)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OperationDate.Equal(out[j].OperationDate) {
			return out[i].OperationDate.Before(out[j].OperationDate)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// validateRunningQuantity walks the ordered history applying same-date
// buys before sells and fails if any intermediate net goes negative.
func (a *Asset) validateRunningQuantity() error {
	ordered := a.ordered()
	net := decimal.Zero
	i := 0
	for i < len(ordered) {
		j := i
		for j < len(ordered) && ordered[j].OperationDate.Equal(ordered[i].OperationDate) {
			j++
		}
		for _, tx := range ordered[i:j] {
			if tx.Action == ActionBuy {
				net = net.Add(tx.Quantity)
			}
		}
		for _, tx := range ordered[i:j] {
			if tx.Action == ActionSell {
				net = net.Sub(tx.Quantity)
			}
		}
		if net.IsNegative() {
			return ErrNegativeRunningQuantity
		}
		i = j
	}
	return nil
}

// openWindowBuys returns the buy transactions since the last zero net
// position.
func (a *Asset) openWindowBuys() []*Transaction {
	var window []*Transaction
	net := decimal.Zero
	for _, tx := range a.ordered() {
		net = net.Add(tx.SignedQuantity())
		if tx.Action == ActionBuy {
			window = append(window, tx)
		}
		if net.IsZero() && tx.Action == ActionSell {
			window = nil
		}
	}
	return window
}

// creditedIncomesInOpenPeriod sums credited incomes with event dates
// inside the open window, in the asset currency.
func (a *Asset) creditedIncomesInOpenPeriod() money.Money {
	start, ok := a.openWindowStart()
	total := money.Zero(a.Currency)
	if !ok {
		return total
	}
	for _, income := range a.incomes {
		if !income.Credited() || income.EventDate.Before(start) {
			continue
		}
		total, _ = total.Add(income.Amount)
	}
	return total
}

// openWindowStart returns the operation date of the first transaction
// after the last close.
func (a *Asset) openWindowStart() (time.Time, bool) {
	var start time.Time
	found := false
	net := decimal.Zero
	for _, tx := range a.ordered() {
		if !found {
			start = tx.OperationDate
			found = true
		}
		net = net.Add(tx.SignedQuantity())
		if net.IsZero() && tx.Action == ActionSell {
			found = false
		}
	}
	if !found {
		return time.Time{}, false
	}
	return start, true
}

// closeOperation builds the ClosedOperation for the window ending with
// the given sell. Totals are normalized to REAL using each
// transaction's captured conversion-rate snapshot.
func (a *Asset) closeOperation(closing *Transaction) (*ClosedOperation, error) {
	ordered := a.ordered()

	// Find the window: transactions after the previous zero point.
	windowStart := 0
	net := decimal.Zero
	for i, tx := range ordered {
		net = net.Add(tx.SignedQuantity())
		if net.IsZero() && tx.Action == ActionSell && tx.ID != closing.ID {
			windowStart = i + 1
		}
	}

	qtyBought := decimal.Zero
	totalBought := money.Zero(money.Real)
	totalSold := money.Zero(money.Real)
	var firstDate time.Time
	for i, tx := range ordered[windowStart:] {
		if i == 0 {
			firstDate = tx.OperationDate
		}
		normalized, err := tx.NormalizedTotal()
		if err != nil {
			return nil, err
		}
		if tx.Action == ActionBuy {
			qtyBought = qtyBought.Add(tx.Quantity)
			totalBought, _ = totalBought.Add(normalized)
		} else {
			totalSold, _ = totalSold.Add(normalized)
		}
	}

	creditedIncomes := money.Zero(money.Real)
	for _, income := range a.incomes {
		if !income.Credited() || income.EventDate.Before(firstDate) || income.EventDate.After(closing.OperationDate) {
			continue
		}
		normalized, err := income.NormalizedAmount()
		if err != nil {
			return nil, err
		}
		creditedIncomes, _ = creditedIncomes.Add(normalized)
	}

	return &ClosedOperation{
		ID:                uuid.New(),
		AssetID:           a.ID,
		QuantityBought:    qtyBought,
		TotalBought:       totalBought,
		TotalSold:         totalSold,
		CreditedIncomes:   creditedIncomes,
		OperationDatetime: closing.OperationDate,
	}, nil
}
