package lending

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/services/custody"
)

// Withdraw moves amount of asset from the pool back to owner and burns the matching deposit shares.
func (e *Engine) Withdraw(ctx context.Context, owner domain.AccountID, asset domain.AssetKind, amount uint64) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(domain.OpWithdraw, start, err) }()

	if amount == 0 {
		return Result{}, errors.Wrap(domain.ErrInvalidAmount, "withdraw amount must be positive")
	}
	if err := validAsset(asset); err != nil {
		return Result{}, err
	}
	if err := validOwner(owner); err != nil {
		return Result{}, err
	}

	unlock := e.locks.lockRecords(owner, asset)
	defer unlock()

	t, err := e.begin(owner, asset)
	if err != nil {
		return Result{}, err
	}
	bank := t.banks[asset]

	if t.user.Peek(asset).DepositedAmount == 0 {
		return Result{}, errors.Wrapf(domain.ErrNotEnoughBalance, "%s has no %s deposit", owner, asset)
	}

	available := t.pos.deposit(asset)
	change := accounting.AmountFromUint64(amount)
	if change.GreaterThan(available) {
		return Result{}, errors.Wrapf(domain.ErrNotEnoughBalance,
			"withdraw %d exceeds available %s %s", amount, available.String(), asset)
	}

	bal := t.user.Balance(asset)
	held := bal.DepositedShares

	delta, err := accounting.SharesForChange(change, bank.DepositedTotal(),
		bank.TotalDepositedShares, e.precision)
	if err != nil {
		return Result{}, err
	}
	remaining := available.Sub(change)
	if settled, err := accounting.ToAmountFloor(remaining); err != nil {
		return Result{}, err
	} else if settled == 0 {
		delta = held
		remaining = decimal.Zero
	}
	delta = decimal.Min(delta, held)

	drained, err := shrinkSide(depositSide(bank), amount, delta, held)
	if err != nil {
		return Result{}, errors.Wrapf(err, "withdraw %d %s", amount, asset)
	}
	bal.DepositedShares, err = accounting.ApplyShareDelta(held, delta, accounting.Decrease)
	if err != nil {
		return Result{}, err
	}
	if drained {
		bal.DepositedShares = decimal.Zero
		remaining = decimal.Zero
	}
	t.pos.deposited[asset] = remaining

	if err := e.checkSolvent(ctx, t); err != nil {
		return Result{}, err
	}

	batch, err := e.batch(t)
	if err != nil {
		return Result{}, err
	}
	req := &custody.Request{
		From:      bank.Treasury,
		To:        owner,
		Asset:     asset,
		Amount:    amount,
		Authority: custody.AuthorityPool,
	}
	if err := e.commit(ctx, req, batch); err != nil {
		return Result{}, err
	}

	event := domain.NewLedgerEvent(t.now, domain.OpWithdraw, owner, asset, amount)
	event.SharesDelta = delta.Neg().String()
	e.emit(event)

	e.logger.Info("withdraw committed",
		zap.String("owner", owner.String()),
		zap.String("asset", asset.String()),
		zap.Uint64("amount", amount),
		zap.String("available", available.String()),
		zap.String("shares_burnt", delta.String()),
		zap.Uint64("pool_amount", bank.TotalDepositedAmount))

	return e.result(t, event, delta, decimal.Zero), nil
}

// checkSolvent rejects a position whose remaining collateral no longer covers its debt.
// Each kind of deposit is weighted by the smallest max LTV among the banks the user owes.
func (e *Engine) checkSolvent(ctx context.Context, t *txn) error {
	rates := e.ratesFrom(bankList(t.banks)...)
	var ltv decimal.Decimal
	owes := false
	for kind, debt := range t.pos.borrowed {
		if !debt.IsPositive() {
			continue
		}
		bank, err := rates(kind)
		if err != nil {
			return err
		}
		if !owes || bank.MaxLTV.LessThan(ltv) {
			ltv = bank.MaxLTV
		}
		owes = true
	}
	if !owes {
		return nil
	}

	prices, err := e.prices(ctx, t.pos)
	if err != nil {
		return err
	}
	collateral := decimal.Zero
	for kind, deposit := range t.pos.deposited {
		if !deposit.IsPositive() {
			continue
		}
		price, ok := prices[kind]
		if !ok {
			if price, err = e.quote(ctx, kind); err != nil {
				return err
			}
			prices[kind] = price
		}
		collateral = collateral.Add(deposit.Mul(price))
	}

	debt := debtValue(t.pos, prices)
	if limit := collateral.Mul(ltv); debt.GreaterThan(limit) {
		return errors.Wrapf(domain.ErrInsufficientCollateral,
			"remaining collateral limit %s does not cover debt %s", limit.String(), debt.String())
	}
	return nil
}

func bankList(banks map[domain.AssetKind]*domain.Bank) []*domain.Bank {
	list := make([]*domain.Bank, 0, len(banks))
	for _, bank := range banks {
		list = append(list, bank)
	}
	return list
}
