package accounting

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// DefaultPrecision decimal places kept for shares and interest.
const DefaultPrecision int32 = 4

// ShareOp direction of a share delta.
type ShareOp int

const (
	Increase ShareOp = iota
	Decrease
)

// String returns the string representation.
func (o ShareOp) String() string {
	if o == Decrease {
		return "decrease"
	}
	return "increase"
}

// Round rounds half away from zero to precision decimal places.
func Round(value decimal.Decimal, precision int32) decimal.Decimal {
	return value.Round(precision)
}

// SharesForChange returns round(change / totalAmount * totalShares, precision).
func SharesForChange(change, totalAmount, totalShares decimal.Decimal, precision int32) (decimal.Decimal, error) {
	if totalAmount.IsZero() {
		return decimal.Zero, errors.Wrapf(domain.ErrDivisionByZeroPool, "shares for change %s", change.String())
	}
	// multiply first, so the quotient is rounded only once
	return Round(change.Mul(totalShares).DivRound(totalAmount, precision+16), precision), nil
}

// ApplyShareDelta adds or removes delta from totalShares.
func ApplyShareDelta(totalShares, delta decimal.Decimal, op ShareOp) (decimal.Decimal, error) {
	switch op {
	case Increase:
		return totalShares.Add(delta), nil
	case Decrease:
		next := totalShares.Sub(delta)
		if next.IsNegative() {
			return decimal.Zero, errors.Wrapf(domain.ErrLedgerUnderflow,
				"decrease %s shares by %s", totalShares.String(), delta.String())
		}
		return next, nil
	default:
		return decimal.Zero, errors.Errorf("unknown share op %d", op)
	}
}

// ClampedDecrease subtracts delta from totalShares, stopping at zero.
func ClampedDecrease(totalShares, delta decimal.Decimal) decimal.Decimal {
	next := totalShares.Sub(delta)
	if next.IsNegative() {
		return decimal.Zero
	}
	return next
}

// AmountFromUint64 converts a token amount into a decimal.
func AmountFromUint64(amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0)
}

// ToAmountFloor converts a non-negative decimal into a token amount, rounding down.
func ToAmountFloor(value decimal.Decimal) (uint64, error) {
	return toAmount(value.Floor())
}

func toAmount(value decimal.Decimal) (uint64, error) {
	if value.IsNegative() {
		return 0, errors.Wrapf(domain.ErrLedgerUnderflow, "negative amount %s", value.String())
	}
	n := value.BigInt()
	if !n.IsUint64() {
		return 0, errors.Wrapf(domain.ErrInvalidAmount, "amount %s overflows uint64", value.String())
	}
	return n.Uint64(), nil
}
