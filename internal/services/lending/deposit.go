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

// Deposit moves amount of asset from owner into the pool and mints deposit shares.
func (e *Engine) Deposit(ctx context.Context, owner domain.AccountID, asset domain.AssetKind, amount uint64) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(domain.OpDeposit, start, err) }()

	if amount == 0 {
		return Result{}, errors.Wrap(domain.ErrInvalidAmount, "deposit amount must be positive")
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

	if bank.TotalDepositedAmount > math.MaxUint64-amount {
		return Result{}, errors.Wrapf(domain.ErrInvalidAmount, "deposit %d overflows pool total %d", amount, bank.TotalDepositedAmount)
	}

	change := accounting.AmountFromUint64(amount)
	delta, err := e.mintShares(change, bank.DepositedTotal(), bank.TotalDepositedShares)
	if err != nil {
		return Result{}, err
	}

	bank.TotalDepositedShares, err = accounting.ApplyShareDelta(bank.TotalDepositedShares, delta, accounting.Increase)
	if err != nil {
		return Result{}, err
	}
	bank.TotalDepositedAmount += amount

	t.pos.deposited[asset] = t.pos.deposit(asset).Add(change)
	bal := t.user.Balance(asset)
	bal.DepositedShares = bal.DepositedShares.Add(delta)

	batch, err := e.batch(t)
	if err != nil {
		return Result{}, err
	}
	req := &custody.Request{
		From:      owner,
		To:        bank.Treasury,
		Asset:     asset,
		Amount:    amount,
		Authority: custody.AuthorityUser,
		Signer:    owner,
	}
	if err := e.commit(ctx, req, batch); err != nil {
		return Result{}, err
	}

	event := domain.NewLedgerEvent(t.now, domain.OpDeposit, owner, asset, amount)
	event.SharesDelta = delta.String()
	e.emit(event)

	e.logger.Info("deposit committed",
		zap.String("owner", owner.String()),
		zap.String("asset", asset.String()),
		zap.Uint64("amount", amount),
		zap.String("shares", delta.String()),
		zap.Uint64("pool_amount", bank.TotalDepositedAmount),
		zap.String("pool_shares", bank.TotalDepositedShares.String()))

	return e.result(t, event, delta, decimal.Zero), nil
}

// mintShares returns the shares a change of the pool side is worth. An empty side mints 1:1.
func (e *Engine) mintShares(change, total, totalShares decimal.Decimal) (decimal.Decimal, error) {
	if total.IsZero() {
		return change, nil
	}
	delta, err := accounting.SharesForChange(change, total, totalShares, e.precision)
	if err != nil {
		return decimal.Zero, err
	}
	if !delta.IsPositive() {
		return decimal.Zero, errors.Wrapf(domain.ErrInvalidAmount, "amount %s is worth no shares", change.String())
	}
	return delta, nil
}
