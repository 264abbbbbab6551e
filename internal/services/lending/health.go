package lending

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// HealthReport values a user's positions at current prices.
type HealthReport struct {
	Owner domain.AccountID
	// CollateralValue sum of deposit values.
	CollateralValue decimal.Decimal
	// WeightedCollateral sum of deposit values weighted by each bank's liquidation threshold.
	WeightedCollateral decimal.Decimal
	DebtValue          decimal.Decimal
	// HealthFactor WeightedCollateral / DebtValue, meaningless when Infinite.
	HealthFactor decimal.Decimal
	// Infinite the user owes nothing.
	Infinite bool
}

// Liquidatable reports whether the position fell below the liquidation threshold.
func (h HealthReport) Liquidatable() bool {
	return !h.Infinite && h.HealthFactor.LessThan(decimal.NewFromInt(1))
}

// HealthFactor values owner's positions with accrued interest and current prices. Nothing is written.
func (e *Engine) HealthFactor(ctx context.Context, owner domain.AccountID) (HealthReport, error) {
	if err := validOwner(owner); err != nil {
		return HealthReport{}, err
	}
	user, err := e.store.User(owner)
	if err != nil {
		return HealthReport{}, err
	}
	now, err := e.now()
	if err != nil {
		return HealthReport{}, err
	}
	rates := e.ratesFrom()
	pos, err := e.settle(user, rates, now)
	if err != nil {
		return HealthReport{}, err
	}

	report := HealthReport{
		Owner:              owner,
		CollateralValue:    decimal.Zero,
		WeightedCollateral: decimal.Zero,
		DebtValue:          decimal.Zero,
		HealthFactor:       decimal.Zero,
	}

	for _, kind := range user.Kinds() {
		deposit, debt := pos.deposit(kind), pos.debt(kind)
		if !deposit.IsPositive() && !debt.IsPositive() {
			continue
		}
		price, err := e.quote(ctx, kind)
		if err != nil {
			return HealthReport{}, err
		}
		bank, err := rates(kind)
		if err != nil {
			return HealthReport{}, err
		}

		value := deposit.Mul(price)
		report.CollateralValue = report.CollateralValue.Add(value)
		report.WeightedCollateral = report.WeightedCollateral.Add(value.Mul(bank.LiquidateThreshold))
		report.DebtValue = report.DebtValue.Add(debt.Mul(price))
	}

	if !report.DebtValue.IsPositive() {
		report.Infinite = true
		return report, nil
	}
	report.HealthFactor = report.WeightedCollateral.DivRound(report.DebtValue, e.precision)
	return report, nil
}
