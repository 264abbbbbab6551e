package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const treasurySeed = "treasury"

// MaxInterestRatio caps the per-second rate of either side of a bank.
var MaxInterestRatio = decimal.RequireFromString("0.001")

// AccountID identifies a participant or a custodial account.
type AccountID string

// String returns the string representation.
func (a AccountID) String() string {
	return string(a)
}

// TreasuryAccount derives the custodial account that holds the pool funds of asset.
func TreasuryAccount(asset AssetKind) AccountID {
	return AccountID(crypto.Keccak256Hash([]byte(treasurySeed), []byte(asset)).Hex())
}

// RiskParameters bounds how much can be borrowed against collateral.
type RiskParameters struct {
	LiquidateThreshold   decimal.Decimal `json:"liquidate_threshold"`
	LiquidateBonus       decimal.Decimal `json:"liquidate_bonus"`
	LiquidateCloseFactor decimal.Decimal `json:"liquidate_close_factor"`
	MaxLTV               decimal.Decimal `json:"max_ltv"`
}

// Validate checks that every parameter is a fraction and max LTV stays below the liquidation threshold.
func (p RiskParameters) Validate() error {
	one := decimal.NewFromInt(1)
	fractions := map[string]decimal.Decimal{
		"liquidate_threshold":    p.LiquidateThreshold,
		"liquidate_bonus":        p.LiquidateBonus,
		"liquidate_close_factor": p.LiquidateCloseFactor,
		"max_ltv":                p.MaxLTV,
	}
	for name, v := range fractions {
		if v.IsNegative() || v.GreaterThan(one) {
			return errors.Wrapf(ErrInvalidConfig, "%s must be within [0,1], got %s", name, v.String())
		}
	}
	if !p.MaxLTV.LessThan(p.LiquidateThreshold) {
		return errors.Wrapf(ErrInvalidConfig, "max_ltv %s must be below liquidate_threshold %s",
			p.MaxLTV.String(), p.LiquidateThreshold.String())
	}
	return nil
}

// BankConfig enumerates every initial field of a Bank.
type BankConfig struct {
	Authority              AccountID
	Asset                  AssetKind
	Risk                   RiskParameters
	DepositedInterestRatio decimal.Decimal
	BorrowedInterestRatio  decimal.Decimal
	CreatedAt              time.Time
}

// Bank is the pool ledger of a single asset kind.
type Bank struct {
	Authority AccountID `json:"authority"`
	Asset     AssetKind `json:"asset"`
	Treasury  AccountID `json:"treasury"`

	TotalDepositedAmount uint64          `json:"total_deposited_amount"`
	TotalDepositedShares decimal.Decimal `json:"total_deposited_shares"`
	TotalBorrowedAmount  uint64          `json:"total_borrowed_amount"`
	TotalBorrowedShares  decimal.Decimal `json:"total_borrowed_shares"`

	// interest accrued on each side that does not add up to a whole unit yet, in [0,1)
	DepositedRemainder decimal.Decimal `json:"deposited_remainder"`
	BorrowedRemainder  decimal.Decimal `json:"borrowed_remainder"`

	RiskParameters

	// per-second continuous rates
	DepositedInterestRatio decimal.Decimal `json:"deposited_interest_ratio"`
	BorrowedInterestRatio  decimal.Decimal `json:"borrowed_interest_ratio"`

	LastUpdated time.Time `json:"last_updated"`
}

// NewBank validates cfg and returns an empty pool ledger.
func NewBank(cfg BankConfig) (*Bank, error) {
	if !cfg.Asset.IsValid() {
		return nil, errors.Wrapf(ErrUnsupportedAsset, "asset %q", cfg.Asset)
	}
	if cfg.Authority == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "bank authority is required")
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateInterestRatio(cfg.DepositedInterestRatio); err != nil {
		return nil, errors.Wrap(err, "deposited_interest_ratio")
	}
	if err := ValidateInterestRatio(cfg.BorrowedInterestRatio); err != nil {
		return nil, errors.Wrap(err, "borrowed_interest_ratio")
	}

	return &Bank{
		Authority:              cfg.Authority,
		Asset:                  cfg.Asset,
		Treasury:               TreasuryAccount(cfg.Asset),
		TotalDepositedShares:   decimal.Zero,
		TotalBorrowedShares:    decimal.Zero,
		DepositedRemainder:     decimal.Zero,
		BorrowedRemainder:      decimal.Zero,
		RiskParameters:         cfg.Risk,
		DepositedInterestRatio: cfg.DepositedInterestRatio,
		BorrowedInterestRatio:  cfg.BorrowedInterestRatio,
		LastUpdated:            cfg.CreatedAt,
	}, nil
}

// ValidateInterestRatio accepts per-second rates within [0, MaxInterestRatio].
func ValidateInterestRatio(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(MaxInterestRatio) {
		return errors.Wrapf(ErrInvalidConfig, "interest ratio %s must be within [0,%s]",
			rate.String(), MaxInterestRatio.String())
	}
	return nil
}

// DepositedTotal is the deposited amount including the fractional remainder.
func (b *Bank) DepositedTotal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(b.TotalDepositedAmount), 0).Add(b.DepositedRemainder)
}

// BorrowedTotal is the borrowed amount including the fractional remainder.
func (b *Bank) BorrowedTotal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(b.TotalBorrowedAmount), 0).Add(b.BorrowedRemainder)
}

// Clone returns a copy safe to mutate.
func (b *Bank) Clone() *Bank {
	if b == nil {
		return nil
	}
	clone := *b
	return &clone
}

// CheckInvariants verifies the zero-shares/zero-amount symmetry of both sides.
func (b *Bank) CheckInvariants() error {
	if b.TotalDepositedShares.IsNegative() || b.TotalBorrowedShares.IsNegative() {
		return errors.Wrapf(ErrLedgerUnderflow, "bank %s holds negative shares", b.Asset)
	}
	one := decimal.NewFromInt(1)
	for side, rem := range map[string]decimal.Decimal{"deposited": b.DepositedRemainder, "borrowed": b.BorrowedRemainder} {
		if rem.IsNegative() || rem.GreaterThanOrEqual(one) {
			return errors.Errorf("bank %s %s remainder %s outside [0,1)", b.Asset, side, rem.String())
		}
	}
	if b.TotalDepositedShares.IsZero() && !b.DepositedRemainder.IsZero() {
		return errors.Errorf("bank %s keeps deposited remainder %s without shares", b.Asset, b.DepositedRemainder.String())
	}
	if b.TotalBorrowedShares.IsZero() && !b.BorrowedRemainder.IsZero() {
		return errors.Errorf("bank %s keeps borrowed remainder %s without shares", b.Asset, b.BorrowedRemainder.String())
	}
	if b.TotalDepositedShares.IsZero() != (b.TotalDepositedAmount == 0) {
		return errors.Errorf("bank %s deposited side out of sync: amount %d shares %s",
			b.Asset, b.TotalDepositedAmount, b.TotalDepositedShares.String())
	}
	if b.TotalBorrowedShares.IsZero() != (b.TotalBorrowedAmount == 0) {
		return errors.Errorf("bank %s borrowed side out of sync: amount %d shares %s",
			b.Asset, b.TotalBorrowedAmount, b.TotalBorrowedShares.String())
	}
	return nil
}
