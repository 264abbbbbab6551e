package web

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/services/lending"
)

type createBankRequest struct {
	Authority              string `json:"authority"`
	Asset                  string `json:"asset"`
	MaxLTV                 string `json:"max_ltv"`
	LiquidateThreshold     string `json:"liquidate_threshold"`
	LiquidateBonus         string `json:"liquidate_bonus"`
	LiquidateCloseFactor   string `json:"liquidate_close_factor"`
	DepositedInterestRatio string `json:"deposited_interest_ratio"`
	BorrowedInterestRatio  string `json:"borrowed_interest_ratio"`
}

func (r createBankRequest) config() (domain.BankConfig, error) {
	asset, err := domain.ParseAssetKind(r.Asset)
	if err != nil {
		return domain.BankConfig{}, err
	}

	cfg := domain.BankConfig{Authority: domain.AccountID(r.Authority), Asset: asset}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"max_ltv", r.MaxLTV, &cfg.Risk.MaxLTV},
		{"liquidate_threshold", r.LiquidateThreshold, &cfg.Risk.LiquidateThreshold},
		{"liquidate_bonus", r.LiquidateBonus, &cfg.Risk.LiquidateBonus},
		{"liquidate_close_factor", r.LiquidateCloseFactor, &cfg.Risk.LiquidateCloseFactor},
		{"deposited_interest_ratio", r.DepositedInterestRatio, &cfg.DepositedInterestRatio},
		{"borrowed_interest_ratio", r.BorrowedInterestRatio, &cfg.BorrowedInterestRatio},
	}
	for _, f := range fields {
		if *f.dst, err = parseDecimal(f.name, f.raw); err != nil {
			return domain.BankConfig{}, err
		}
	}
	return cfg, nil
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

type amountRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type borrowRequest struct {
	Owner      string `json:"owner"`
	Collateral string `json:"collateral"`
	Asset      string `json:"asset"`
	// Value is denominated in price units.
	Value string `json:"value"`
}

type faucetRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"`
}

type faucetResponse struct {
	Account domain.AccountID `json:"account"`
	Asset   domain.AssetKind `json:"asset"`
	Balance uint64           `json:"balance"`
}

type resultResponse struct {
	EventID     string           `json:"event_id"`
	Op          domain.Operation `json:"op"`
	Asset       domain.AssetKind `json:"asset"`
	Amount      uint64           `json:"amount"`
	SharesDelta string           `json:"shares_delta"`
	Value       string           `json:"value,omitempty"`
	Bank        *domain.Bank     `json:"bank"`
	User        *domain.User     `json:"user"`
}

func newResultResponse(res lending.Result) resultResponse {
	out := resultResponse{
		EventID:     res.EventID,
		Op:          res.Op,
		Asset:       res.Asset,
		Amount:      res.Amount,
		SharesDelta: res.SharesDelta.String(),
		Bank:        res.Bank,
		User:        res.User,
	}
	if !res.Value.IsZero() {
		out.Value = res.Value.String()
	}
	return out
}

type assetPosition struct {
	Asset           domain.AssetKind `json:"asset"`
	Deposited       string           `json:"deposited"`
	DepositedShares string           `json:"deposited_shares"`
	Borrowed        string           `json:"borrowed"`
	BorrowedShares  string           `json:"borrowed_shares"`
}

type positionResponse struct {
	Owner       domain.AccountID `json:"owner"`
	LastUpdated time.Time        `json:"last_updated"`
	AsOf        time.Time        `json:"as_of"`
	Assets      []assetPosition  `json:"assets"`
}

func newPositionResponse(view lending.PositionView) positionResponse {
	out := positionResponse{
		Owner:       view.Owner,
		LastUpdated: view.LastUpdated,
		AsOf:        view.AsOf,
		Assets:      make([]assetPosition, 0, len(view.Assets)),
	}
	for _, a := range view.Assets {
		out.Assets = append(out.Assets, assetPosition{
			Asset:           a.Asset,
			Deposited:       a.Deposited.String(),
			DepositedShares: a.DepositedShares.String(),
			Borrowed:        a.Borrowed.String(),
			BorrowedShares:  a.BorrowedShares.String(),
		})
	}
	return out
}

type healthResponse struct {
	Owner              domain.AccountID `json:"owner"`
	CollateralValue    string           `json:"collateral_value"`
	WeightedCollateral string           `json:"weighted_collateral"`
	DebtValue          string           `json:"debt_value"`
	// HealthFactor is "infinite" when nothing is owed.
	HealthFactor string `json:"health_factor"`
	Infinite     bool   `json:"infinite"`
	Liquidatable bool   `json:"liquidatable"`
}

func newHealthResponse(report lending.HealthReport) healthResponse {
	out := healthResponse{
		Owner:              report.Owner,
		CollateralValue:    report.CollateralValue.String(),
		WeightedCollateral: report.WeightedCollateral.String(),
		DebtValue:          report.DebtValue.String(),
		HealthFactor:       report.HealthFactor.String(),
		Infinite:           report.Infinite,
		Liquidatable:       report.Liquidatable(),
	}
	if report.Infinite {
		out.HealthFactor = "infinite"
	}
	return out
}

// parseDecimal parses an optional decimal field; empty is zero.
func parseDecimal(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(domain.ErrInvalidConfig, "field %s: %q is not a decimal", name, raw)
	}
	return d, nil
}
