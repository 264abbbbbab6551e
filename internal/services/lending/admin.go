package lending

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/storage/ledger"
)

// CreateBank creates the pool ledger of cfg.Asset. A zero cfg.CreatedAt is set to the clock time.
func (e *Engine) CreateBank(ctx context.Context, cfg domain.BankConfig) (bank *domain.Bank, err error) {
	start := time.Now()
	defer func() { e.observe(domain.OpCreateBank, start, err) }()

	if err := validAsset(cfg.Asset); err != nil {
		return nil, err
	}

	unlock := e.locks.lockRecords("", cfg.Asset)
	defer unlock()

	if _, err := e.store.Bank(cfg.Asset); err == nil {
		return nil, errors.Wrapf(domain.ErrBankExists, "asset %s", cfg.Asset)
	} else if !errors.Is(err, domain.ErrBankNotFound) {
		return nil, err
	}

	now, err := e.now()
	if err != nil {
		return nil, err
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}

	bank, err = domain.NewBank(cfg)
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, nil, ledger.Batch{Banks: []*domain.Bank{bank}}); err != nil {
		return nil, err
	}

	e.emit(domain.NewLedgerEvent(now, domain.OpCreateBank, cfg.Authority, cfg.Asset, 0))
	e.logger.Info("bank created",
		zap.String("asset", bank.Asset.String()),
		zap.String("authority", bank.Authority.String()),
		zap.String("treasury", bank.Treasury.String()),
		zap.String("max_ltv", bank.MaxLTV.String()),
		zap.String("liquidate_threshold", bank.LiquidateThreshold.String()))

	return bank.Clone(), nil
}

// CreateUser creates the position ledger of owner.
func (e *Engine) CreateUser(ctx context.Context, owner domain.AccountID) (user *domain.User, err error) {
	start := time.Now()
	defer func() { e.observe(domain.OpCreateUser, start, err) }()

	unlock := e.locks.lockRecords(owner)
	defer unlock()

	if _, err := e.store.User(owner); err == nil {
		return nil, errors.Wrapf(domain.ErrUserExists, "owner %s", owner)
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	now, err := e.now()
	if err != nil {
		return nil, err
	}

	user, err = domain.NewUser(owner, now)
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, nil, ledger.Batch{Users: []*domain.User{user}}); err != nil {
		return nil, err
	}

	e.emit(domain.NewLedgerEvent(now, domain.OpCreateUser, owner, "", 0))
	e.logger.Info("user created", zap.String("owner", owner.String()))

	return user.Clone(), nil
}

// Bank returns the pool ledger of asset with pending interest folded in.
func (e *Engine) Bank(_ context.Context, asset domain.AssetKind) (*domain.Bank, error) {
	if err := validAsset(asset); err != nil {
		return nil, err
	}
	bank, err := e.store.Bank(asset)
	if err != nil {
		return nil, err
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}
	if err := e.accrueBank(bank, now); err != nil {
		return nil, err
	}
	return bank, nil
}

// Banks returns every pool ledger with pending interest folded in.
func (e *Engine) Banks(ctx context.Context) ([]*domain.Bank, error) {
	banks, err := e.store.Banks()
	if err != nil {
		return nil, err
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}
	for _, bank := range banks {
		if err := e.accrueBank(bank, now); err != nil {
			return nil, err
		}
	}
	return banks, nil
}

// AssetPosition is a user's balance in one asset with interest accrued to now.
type AssetPosition struct {
	Asset           domain.AssetKind
	Deposited       decimal.Decimal
	DepositedShares decimal.Decimal
	Borrowed        decimal.Decimal
	BorrowedShares  decimal.Decimal
}

// PositionView is a read-only snapshot of a user's positions.
type PositionView struct {
	Owner       domain.AccountID
	LastUpdated time.Time
	AsOf        time.Time
	Assets      []AssetPosition
}

// Position returns the positions of owner with interest accrued to now. Nothing is written.
func (e *Engine) Position(_ context.Context, owner domain.AccountID) (PositionView, error) {
	if err := validOwner(owner); err != nil {
		return PositionView{}, err
	}
	user, err := e.store.User(owner)
	if err != nil {
		return PositionView{}, err
	}
	now, err := e.now()
	if err != nil {
		return PositionView{}, err
	}
	pos, err := e.settle(user, e.ratesFrom(), now)
	if err != nil {
		return PositionView{}, err
	}

	view := PositionView{Owner: user.Owner, LastUpdated: user.LastUpdated, AsOf: now}
	for _, kind := range user.Kinds() {
		bal := user.Peek(kind)
		view.Assets = append(view.Assets, AssetPosition{
			Asset:           kind,
			Deposited:       pos.deposit(kind),
			DepositedShares: bal.DepositedShares,
			Borrowed:        pos.debt(kind),
			BorrowedShares:  bal.BorrowedShares,
		})
	}
	return view, nil
}
