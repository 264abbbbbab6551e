package custody

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/storage/custodystate"
)

// SimulateCustody keeps custodial balances in memory, optionally persisted to a state file.
type SimulateCustody struct {
	mu        sync.Mutex
	balances  map[domain.AccountID]map[domain.AssetKind]uint64
	transfers uint64

	store  *custodystate.Store
	clock  accounting.Clock
	logger *zap.Logger
}

// NewSimulateCustody restores balances from store (nil keeps them in memory only).
func NewSimulateCustody(store *custodystate.Store, clk accounting.Clock, logger *zap.Logger) (*SimulateCustody, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &SimulateCustody{
		balances: make(map[domain.AccountID]map[domain.AssetKind]uint64),
		store:    store,
		clock:    clk,
		logger:   logger,
	}

	state, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "restore custody state")
	}
	if state != nil {
		for account, assets := range state.Balances {
			for asset, amount := range assets {
				kind, err := domain.ParseAssetKind(asset)
				if err != nil {
					return nil, errors.Wrapf(err, "restore balance of %s", account)
				}
				c.account(domain.AccountID(account))[kind] = amount
			}
		}
		c.transfers = state.Transfers
		logger.Info("custody state restored",
			zap.String("path", store.Path()),
			zap.Int("accounts", len(state.Balances)),
			zap.Uint64("transfers", state.Transfers))
	}

	return c, nil
}

// Transfer moves req.Amount from req.From to req.To.
func (c *SimulateCustody) Transfer(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.account(req.From)
	to := c.account(req.To)

	if from[req.Asset] < req.Amount {
		return errors.Wrapf(domain.ErrInsufficientFunds, "%s holds %d %s, transfer needs %d",
			req.From, from[req.Asset], req.Asset, req.Amount)
	}
	if to[req.Asset] > math.MaxUint64-req.Amount {
		return errors.Wrapf(domain.ErrTransferRejected, "%s %s balance overflows", req.To, req.Asset)
	}

	from[req.Asset] -= req.Amount
	to[req.Asset] += req.Amount
	c.transfers++

	if err := c.persist(); err != nil {
		from[req.Asset] += req.Amount
		to[req.Asset] -= req.Amount
		c.transfers--
		return err
	}

	c.logger.Debug("transfer executed",
		zap.String("id", req.ID),
		zap.String("from", req.From.String()),
		zap.String("to", req.To.String()),
		zap.String("asset", req.Asset.String()),
		zap.Uint64("amount", req.Amount),
		zap.Stringer("authority", req.Authority))

	return nil
}

// Fund credits amount of asset to account out of thin air.
func (c *SimulateCustody) Fund(account domain.AccountID, asset domain.AssetKind, amount uint64) error {
	if amount == 0 {
		return errors.Wrap(domain.ErrInvalidAmount, "fund amount")
	}
	if !asset.IsValid() {
		return errors.Wrapf(domain.ErrUnsupportedAsset, "fund asset %q", asset)
	}
	if account == "" {
		return errors.Wrap(domain.ErrTransferRejected, "fund account is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	balances := c.account(account)
	if balances[asset] > math.MaxUint64-amount {
		return errors.Wrapf(domain.ErrTransferRejected, "%s %s balance overflows", account, asset)
	}
	balances[asset] += amount

	if err := c.persist(); err != nil {
		balances[asset] -= amount
		return err
	}

	c.logger.Info("account funded",
		zap.String("account", account.String()),
		zap.String("asset", asset.String()),
		zap.Uint64("amount", amount))

	return nil
}

// Balance returns the custodial balance of account in asset.
func (c *SimulateCustody) Balance(account domain.AccountID, asset domain.AssetKind) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.balances[account][asset]
}

// Transfers returns the number of executed transfers.
func (c *SimulateCustody) Transfers() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.transfers
}

func (c *SimulateCustody) account(id domain.AccountID) map[domain.AssetKind]uint64 {
	balances, ok := c.balances[id]
	if !ok {
		balances = make(map[domain.AssetKind]uint64)
		c.balances[id] = balances
	}
	return balances
}

func (c *SimulateCustody) persist() error {
	if c.store == nil {
		return nil
	}

	state := custodystate.State{
		Balances:  make(map[string]map[string]uint64, len(c.balances)),
		Transfers: c.transfers,
		UpdatedAt: c.now(),
	}
	for account, assets := range c.balances {
		copied := make(map[string]uint64, len(assets))
		for asset, amount := range assets {
			copied[asset.String()] = amount
		}
		state.Balances[account.String()] = copied
	}

	return errors.Wrap(c.store.Save(state), "save custody state")
}

func (c *SimulateCustody) now() time.Time {
	if c.clock == nil {
		return time.Time{}
	}
	now, err := c.clock.Now()
	if err != nil {
		return time.Time{}
	}
	return now
}
