// Package pricer provides price quotes for ledger assets.
package pricer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// Pricer returns the current price of one smallest unit of asset.
// Quotes older than maxAge fail with domain.ErrStalePrice; maxAge <= 0 disables the check.
type Pricer interface {
	GetPrice(ctx context.Context, asset domain.AssetKind, maxAge time.Duration) (Quote, error)
}

// Quote is a timestamped price of one smallest unit of Asset.
type Quote struct {
	Asset      domain.AssetKind
	Price      decimal.Decimal
	Confidence decimal.Decimal
	Timestamp  time.Time
}

// UnitPrice converts a price per whole token into a price per smallest unit.
func UnitPrice(asset domain.AssetKind, wholePrice decimal.Decimal) decimal.Decimal {
	return wholePrice.Shift(-asset.Decimals())
}

// CheckFresh fails when q is older than maxAge at now.
func CheckFresh(q Quote, now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	if age := now.Sub(q.Timestamp); age > maxAge {
		return errors.Wrapf(domain.ErrStalePrice, "%s quote is %s old, max %s", q.Asset, age, maxAge)
	}
	return nil
}

func validatePrice(asset domain.AssetKind, price decimal.Decimal) error {
	if !price.IsPositive() {
		return errors.Errorf("non-positive %s price %s", asset, price.String())
	}
	return nil
}
