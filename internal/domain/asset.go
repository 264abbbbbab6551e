// Package domain defines the ledger records shared by the lending engine, its stores and its API.
package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// AssetKind is one of the fungible assets the pool supports.
type AssetKind string

const (
	// AssetSOL native SOL, 9 decimals.
	AssetSOL AssetKind = "SOL"
	// AssetUSDC USD Coin, 6 decimals.
	AssetUSDC AssetKind = "USDC"
)

var assetDecimals = map[AssetKind]int32{
	AssetSOL:  9,
	AssetUSDC: 6,
}

// AllAssetKinds returns the supported kinds in their fixed lock order.
func AllAssetKinds() []AssetKind {
	return []AssetKind{AssetSOL, AssetUSDC}
}

// ParseAssetKind parses a case-insensitive asset symbol.
func ParseAssetKind(s string) (AssetKind, error) {
	kind := AssetKind(strings.ToUpper(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", errors.Wrapf(ErrUnsupportedAsset, "asset %q", s)
	}
	return kind, nil
}

// String returns the string representation.
func (a AssetKind) String() string {
	return string(a)
}

// IsValid checks if the AssetKind value is supported.
func (a AssetKind) IsValid() bool {
	_, ok := assetDecimals[a]
	return ok
}

// Decimals number of decimal digits of the smallest indivisible unit.
func (a AssetKind) Decimals() int32 {
	return assetDecimals[a]
}

// Symbol returns the exchange ticker symbol quoted against quote, e.g. SOLUSDT.
func (a AssetKind) Symbol(quote string) string {
	return string(a) + strings.ToUpper(quote)
}

// Order position of the asset in the global lock order.
func (a AssetKind) Order() int {
	for i, kind := range AllAssetKinds() {
		if kind == a {
			return i
		}
	}
	return len(assetDecimals)
}
