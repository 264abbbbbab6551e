package lending

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
)

// accrueBank folds pool interest pending since bank.LastUpdated into both totals.
// Shares are left untouched, so each share claims more of the grown total. Growth that does not
// make a whole unit stays in the side's remainder and keeps compounding.
func (e *Engine) accrueBank(bank *domain.Bank, now time.Time) error {
	var err error
	bank.TotalDepositedAmount, bank.DepositedRemainder, err = e.grow(bank.DepositedTotal(),
		bank.DepositedInterestRatio, bank.LastUpdated, now)
	if err != nil {
		return errors.Wrapf(err, "accrue %s deposits", bank.Asset)
	}
	bank.TotalBorrowedAmount, bank.BorrowedRemainder, err = e.grow(bank.BorrowedTotal(),
		bank.BorrowedInterestRatio, bank.LastUpdated, now)
	if err != nil {
		return errors.Wrapf(err, "accrue %s borrows", bank.Asset)
	}

	if now.After(bank.LastUpdated) {
		bank.LastUpdated = now
	}
	return nil
}

// grow compounds total and splits the result into whole units and the fractional remainder.
func (e *Engine) grow(total, rate decimal.Decimal, lastUpdate, now time.Time) (uint64, decimal.Decimal, error) {
	if total.IsZero() {
		return 0, decimal.Zero, nil
	}
	grown, err := accounting.PrincipalAt(now, total, rate, lastUpdate, e.precision)
	if err != nil {
		return 0, decimal.Zero, err
	}
	whole, err := accounting.ToAmountFloor(grown)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return whole, grown.Sub(accounting.AmountFromUint64(whole)), nil
}

// position is a user's principals brought up to now, in fractional units.
type position struct {
	deposited map[domain.AssetKind]decimal.Decimal
	borrowed  map[domain.AssetKind]decimal.Decimal
}

func (p position) deposit(kind domain.AssetKind) decimal.Decimal {
	if v, ok := p.deposited[kind]; ok {
		return v
	}
	return decimal.Zero
}

func (p position) debt(kind domain.AssetKind) decimal.Decimal {
	if v, ok := p.borrowed[kind]; ok {
		return v
	}
	return decimal.Zero
}

// rateBook resolves the bank whose rates apply to a balance of kind.
type rateBook func(kind domain.AssetKind) (*domain.Bank, error)

// ratesFrom prefers the banks loaded (and locked) by the operation, falling back to the store.
func (e *Engine) ratesFrom(loaded ...*domain.Bank) rateBook {
	return func(kind domain.AssetKind) (*domain.Bank, error) {
		for _, bank := range loaded {
			if bank != nil && bank.Asset == kind {
				return bank, nil
			}
		}
		return e.store.Bank(kind)
	}
}

// settle computes every balance of user with interest accrued since user.LastUpdated.
func (e *Engine) settle(user *domain.User, rates rateBook, now time.Time) (position, error) {
	pos := position{
		deposited: make(map[domain.AssetKind]decimal.Decimal, len(user.Balances)),
		borrowed:  make(map[domain.AssetKind]decimal.Decimal, len(user.Balances)),
	}

	for _, kind := range user.Kinds() {
		bal := user.Peek(kind)
		if bal.DepositedAmount == 0 && bal.BorrowedAmount == 0 {
			continue
		}
		bank, err := rates(kind)
		if err != nil {
			return position{}, errors.Wrapf(err, "rates for %s balance of %s", kind, user.Owner)
		}

		deposited, err := accounting.PrincipalAt(now, accounting.AmountFromUint64(bal.DepositedAmount),
			bank.DepositedInterestRatio, user.LastUpdated, e.precision)
		if err != nil {
			return position{}, err
		}
		borrowed, err := accounting.PrincipalAt(now, accounting.AmountFromUint64(bal.BorrowedAmount),
			bank.BorrowedInterestRatio, user.LastUpdated, e.precision)
		if err != nil {
			return position{}, err
		}

		pos.deposited[kind] = deposited
		pos.borrowed[kind] = borrowed
	}

	return pos, nil
}

// writeBack stores the settled principals on user, floored to whole units, and moves its reference point to now.
// The dropped fractions stay in the pool totals, which therefore never fall below the sum of the positions.
func (e *Engine) writeBack(user *domain.User, pos position, now time.Time) error {
	for kind, v := range pos.deposited {
		amount, err := accounting.ToAmountFloor(v)
		if err != nil {
			return errors.Wrapf(err, "%s deposit of %s", kind, user.Owner)
		}
		user.Balance(kind).DepositedAmount = amount
	}
	for kind, v := range pos.borrowed {
		amount, err := accounting.ToAmountFloor(v)
		if err != nil {
			return errors.Wrapf(err, "%s debt of %s", kind, user.Owner)
		}
		user.Balance(kind).BorrowedAmount = amount
	}
	if now.After(user.LastUpdated) {
		user.LastUpdated = now
	}
	return nil
}

// poolSide is one side of a bank: whole units, fractional remainder and shares.
type poolSide struct {
	amount    *uint64
	remainder *decimal.Decimal
	shares    *decimal.Decimal
}

func depositSide(bank *domain.Bank) poolSide {
	return poolSide{amount: &bank.TotalDepositedAmount, remainder: &bank.DepositedRemainder, shares: &bank.TotalDepositedShares}
}

func borrowSide(bank *domain.Bank) poolSide {
	return poolSide{amount: &bank.TotalBorrowedAmount, remainder: &bank.BorrowedRemainder, shares: &bank.TotalBorrowedShares}
}

// shrinkSide removes amount and delta shares from one side of a pool.
// holderShares is what the shrinking party held before the decrease. Rounding dust left on a side
// nobody holds shares in is swept. Draining a side others still hold shares in is an underflow; draining
// it as the sole holder reports drained, and the caller forfeits the holder's remaining claim.
func shrinkSide(side poolSide, amount uint64, delta, holderShares decimal.Decimal) (drained bool, err error) {
	soleHolder := holderShares.GreaterThanOrEqual(*side.shares)

	if amount > *side.amount && !soleHolder {
		return false, errors.Wrapf(domain.ErrLedgerUnderflow, "pool total %d cannot cover %d", *side.amount, amount)
	}

	shares, err := accounting.ApplyShareDelta(*side.shares, delta, accounting.Decrease)
	if err != nil {
		return false, err
	}

	remaining := uint64(0)
	if amount < *side.amount {
		remaining = *side.amount - amount
	}
	remainder := *side.remainder

	switch {
	case shares.IsZero():
		remaining = 0
		remainder = decimal.Zero
	case remaining == 0 && soleHolder:
		shares = decimal.Zero
		remainder = decimal.Zero
		drained = true
	case remaining == 0:
		return false, errors.Wrapf(domain.ErrLedgerUnderflow, "pool drained while %s shares remain", shares.String())
	}

	*side.amount = remaining
	*side.remainder = remainder
	*side.shares = shares
	return drained, nil
}
