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

// Repay moves amount of asset from owner into the pool and burns the matching debt shares.
func (e *Engine) Repay(ctx context.Context, owner domain.AccountID, asset domain.AssetKind, amount uint64) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(domain.OpRepay, start, err) }()

	if amount == 0 {
		return Result{}, errors.Wrap(domain.ErrInvalidAmount, "repay amount must be positive")
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

	if t.user.Peek(asset).BorrowedAmount == 0 {
		return Result{}, errors.Wrapf(domain.ErrNothingToRepay, "%s has no %s debt", owner, asset)
	}

	outstanding := t.pos.debt(asset)
	change := accounting.AmountFromUint64(amount)
	if change.GreaterThan(outstanding) {
		return Result{}, errors.Wrapf(domain.ErrRepayExceedsOutstanding,
			"repay %d exceeds outstanding %s %s", amount, outstanding.String(), asset)
	}

	bal := t.user.Balance(asset)
	held := bal.BorrowedShares

	// the user's own shares, in proportion to the part of their own debt being repaid
	delta, err := accounting.SharesForChange(change, outstanding, held, e.precision)
	if err != nil {
		return Result{}, err
	}
	remaining := outstanding.Sub(change)
	if settled, err := accounting.ToAmountFloor(remaining); err != nil {
		return Result{}, err
	} else if settled == 0 {
		delta = held
		remaining = decimal.Zero
	}
	delta = decimal.Min(delta, held, bank.TotalBorrowedShares)

	drained, err := shrinkSide(borrowSide(bank), amount, delta, held)
	if err != nil {
		return Result{}, errors.Wrapf(err, "repay %d %s", amount, asset)
	}
	bal.BorrowedShares = accounting.ClampedDecrease(held, delta)
	if drained {
		bal.BorrowedShares = decimal.Zero
		remaining = decimal.Zero
	}
	t.pos.borrowed[asset] = remaining

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

	event := domain.NewLedgerEvent(t.now, domain.OpRepay, owner, asset, amount)
	event.SharesDelta = delta.Neg().String()
	e.emit(event)

	e.logger.Info("repay committed",
		zap.String("owner", owner.String()),
		zap.String("asset", asset.String()),
		zap.Uint64("amount", amount),
		zap.String("outstanding", outstanding.String()),
		zap.String("shares_burnt", delta.String()),
		zap.String("remaining", remaining.String()))

	return e.result(t, event, delta, decimal.Zero), nil
}
