// Package accounting implements the fixed-point math behind the ledger:
// continuously compounded interest and proportional share accounting.
package accounting

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// expPrecision digits kept by the Taylor expansion of e^x.
const expPrecision int32 = 24

// MaxExponent bounds rate*elapsed. e^45 exceeds the uint64 range, so no amount survives a larger growth.
const MaxExponent = 45

var (
	maxExponent = decimal.NewFromInt(MaxExponent)
	one         = decimal.NewFromInt(1)
	half        = decimal.New(5, -1)
)

// Growth returns e^(rate*elapsed), rate per second, elapsed in seconds.
// The exponent is halved below 1 before the Taylor expansion and the result squared back.
func Growth(rate decimal.Decimal, elapsed int64) (decimal.Decimal, error) {
	if elapsed == 0 || rate.IsZero() {
		return one, nil
	}
	exponent := rate.Mul(decimal.NewFromInt(elapsed))
	if exponent.Abs().GreaterThan(maxExponent) {
		return decimal.Zero, errors.Wrapf(domain.ErrInvalidAmount,
			"interest exponent %s exceeds %d", exponent.String(), MaxExponent)
	}

	squarings := 0
	for exponent.Abs().GreaterThan(one) {
		exponent = exponent.Mul(half)
		squarings++
	}
	growth, err := exponent.ExpTaylor(expPrecision)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "compute e^%s", exponent.String())
	}
	for i := 0; i < squarings; i++ {
		growth = growth.Mul(growth).Round(expPrecision)
	}
	return growth, nil
}

// ElapsedSeconds whole seconds between lastUpdate and now; negative when the clock went back.
func ElapsedSeconds(lastUpdate, now time.Time) int64 {
	return now.Unix() - lastUpdate.Unix()
}

// AccruedInterest returns the interest earned on base since lastUpdate, read from clk.
func AccruedInterest(clk Clock, base, rate decimal.Decimal, lastUpdate time.Time, precision int32) (decimal.Decimal, error) {
	now, err := clk.Now()
	if err != nil {
		return decimal.Zero, err
	}
	return InterestAt(now, base, rate, lastUpdate, precision)
}

// PrincipalPlusInterest returns base plus the interest accrued since lastUpdate, read from clk.
func PrincipalPlusInterest(clk Clock, base, rate decimal.Decimal, lastUpdate time.Time, precision int32) (decimal.Decimal, error) {
	now, err := clk.Now()
	if err != nil {
		return decimal.Zero, err
	}
	return PrincipalAt(now, base, rate, lastUpdate, precision)
}

// InterestAt is AccruedInterest for a known now:
// round(base * (e^(rate*elapsed) - 1), precision), zero when nothing elapsed or base is zero.
func InterestAt(now time.Time, base, rate decimal.Decimal, lastUpdate time.Time, precision int32) (decimal.Decimal, error) {
	elapsed := ElapsedSeconds(lastUpdate, now)
	if elapsed <= 0 || base.IsZero() {
		return decimal.Zero, nil
	}
	growth, err := Growth(rate, elapsed)
	if err != nil {
		return decimal.Zero, err
	}
	return Round(base.Mul(growth.Sub(one)), precision), nil
}

// PrincipalAt is PrincipalPlusInterest for a known now.
func PrincipalAt(now time.Time, base, rate decimal.Decimal, lastUpdate time.Time, precision int32) (decimal.Decimal, error) {
	interest, err := InterestAt(now, base, rate, lastUpdate, precision)
	if err != nil {
		return decimal.Zero, err
	}
	return base.Add(interest), nil
}
