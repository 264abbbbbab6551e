package lending

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/services/custody"
)

// Borrow lends owner borrowKind tokens worth value against the deposit held in collateralKind.
// value is denominated in price units.
func (e *Engine) Borrow(ctx context.Context, owner domain.AccountID, collateralKind, borrowKind domain.AssetKind, value decimal.Decimal) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(domain.OpBorrow, start, err) }()

	if collateralKind == borrowKind {
		return Result{}, errors.Wrapf(domain.ErrBorrowNotAllowed, "collateral and borrow are both %s", borrowKind)
	}
	if !value.IsPositive() {
		return Result{}, errors.Wrapf(domain.ErrInvalidAmount, "borrow value %s must be positive", value.String())
	}
	if err := validAsset(collateralKind); err != nil {
		return Result{}, err
	}
	if err := validAsset(borrowKind); err != nil {
		return Result{}, err
	}
	if err := validOwner(owner); err != nil {
		return Result{}, err
	}

	unlock := e.locks.lockRecords(owner, collateralKind, borrowKind)
	defer unlock()

	t, err := e.begin(owner, collateralKind, borrowKind)
	if err != nil {
		return Result{}, err
	}
	bank := t.banks[borrowKind]

	prices, err := e.prices(ctx, t.pos, collateralKind, borrowKind)
	if err != nil {
		return Result{}, err
	}

	collateralValue := t.pos.deposit(collateralKind).Mul(prices[collateralKind])
	if !collateralValue.IsPositive() {
		return Result{}, errors.Wrapf(domain.ErrNoCollateral, "%s collateral of %s", collateralKind, owner)
	}

	limit := collateralValue.Mul(bank.MaxLTV)
	debtValue := debtValue(t.pos, prices)
	if debtValue.Add(value).GreaterThan(limit) {
		return Result{}, errors.Wrapf(domain.ErrInsufficientCollateral,
			"borrow %s with existing debt %s exceeds limit %s", value.String(), debtValue.String(), limit.String())
	}

	amount, err := accounting.ToAmountFloor(value.Div(prices[borrowKind]))
	if err != nil {
		return Result{}, err
	}
	if amount == 0 {
		return Result{}, errors.Wrapf(domain.ErrInvalidAmount, "borrow value %s is worth less than one %s unit", value.String(), borrowKind)
	}
	if bank.TotalBorrowedAmount > math.MaxUint64-amount {
		return Result{}, errors.Wrapf(domain.ErrInvalidAmount, "borrow %d overflows pool total %d", amount, bank.TotalBorrowedAmount)
	}

	change := accounting.AmountFromUint64(amount)
	delta, err := e.mintShares(change, bank.BorrowedTotal(), bank.TotalBorrowedShares)
	if err != nil {
		return Result{}, err
	}

	bank.TotalBorrowedShares, err = accounting.ApplyShareDelta(bank.TotalBorrowedShares, delta, accounting.Increase)
	if err != nil {
		return Result{}, err
	}
	bank.TotalBorrowedAmount += amount

	t.pos.borrowed[borrowKind] = t.pos.debt(borrowKind).Add(change)
	bal := t.user.Balance(borrowKind)
	bal.BorrowedShares = bal.BorrowedShares.Add(delta)

	batch, err := e.batch(t)
	if err != nil {
		return Result{}, err
	}
	req := &custody.Request{
		From:      bank.Treasury,
		To:        owner,
		Asset:     borrowKind,
		Amount:    amount,
		Authority: custody.AuthorityPool,
	}
	if err := e.commit(ctx, req, batch); err != nil {
		return Result{}, err
	}

	event := domain.NewLedgerEvent(t.now, domain.OpBorrow, owner, borrowKind, amount)
	event.SharesDelta = delta.String()
	event.Value = value.String()
	e.emit(event)

	e.logger.Info("borrow committed",
		zap.String("owner", owner.String()),
		zap.String("collateral", collateralKind.String()),
		zap.String("asset", borrowKind.String()),
		zap.String("value", value.String()),
		zap.String("collateral_value", collateralValue.String()),
		zap.Uint64("amount", amount),
		zap.String("shares", delta.String()))

	return e.result(t, event, delta, value), nil
}

// prices quotes the given kinds plus every kind the position owes.
func (e *Engine) prices(ctx context.Context, pos position, kinds ...domain.AssetKind) (map[domain.AssetKind]decimal.Decimal, error) {
	prices := make(map[domain.AssetKind]decimal.Decimal, len(kinds))
	need := append([]domain.AssetKind{}, kinds...)
	for kind, debt := range pos.borrowed {
		if debt.IsPositive() {
			need = append(need, kind)
		}
	}

	for _, kind := range need {
		if _, ok := prices[kind]; ok {
			continue
		}
		price, err := e.quote(ctx, kind)
		if err != nil {
			return nil, err
		}
		prices[kind] = price
	}
	return prices, nil
}

// debtValue is the price-denominated value of every outstanding debt of pos.
func debtValue(pos position, prices map[domain.AssetKind]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for kind, debt := range pos.borrowed {
		if debt.IsPositive() {
			total = total.Add(debt.Mul(prices[kind]))
		}
	}
	return total
}
