// Package lending implements the pool operations: deposit, borrow, repay and withdraw.
package lending

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/metrics"
	"github.com/vadiminshakov/lendpool/internal/services/custody"
	"github.com/vadiminshakov/lendpool/internal/services/pricer"
	"github.com/vadiminshakov/lendpool/internal/storage/ledger"
)

// DefaultMaxPriceAge staleness window applied to price quotes.
const DefaultMaxPriceAge = time.Minute

// Journal records committed ledger events.
type Journal interface {
	Append(event domain.LedgerEvent) (uint64, error)
}

// Publisher delivers committed ledger events to live subscribers.
type Publisher interface {
	Publish(event domain.LedgerEvent)
}

// Engine runs ledger operations against the store and its collaborators.
type Engine struct {
	store   ledger.Store
	pricer  pricer.Pricer
	custody custody.Transferer
	clock   accounting.Clock
	logger  *zap.Logger

	precision   int32
	maxPriceAge time.Duration
	journal     Journal
	publisher   Publisher
	metrics     *metrics.LedgerMetrics

	locks *keyedLocker
}

// Option configures the Engine.
type Option func(*Engine)

// WithPrecision sets the decimal places kept for shares and interest.
func WithPrecision(p int32) Option {
	return func(e *Engine) {
		e.precision = p
	}
}

// WithMaxPriceAge sets the staleness window of price quotes.
func WithMaxPriceAge(d time.Duration) Option {
	return func(e *Engine) {
		e.maxPriceAge = d
	}
}

// WithJournal appends every committed event to j.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithPublisher publishes every committed event on p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithMetrics exports operation metrics to m.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine.
func New(store ledger.Store, p pricer.Pricer, c custody.Transferer, clk accounting.Clock, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if p == nil {
		return nil, errors.New("pricer is required")
	}
	if c == nil {
		return nil, errors.New("custody is required")
	}
	if clk == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		store:       store,
		pricer:      p,
		custody:     c,
		clock:       clk,
		logger:      logger,
		precision:   accounting.DefaultPrecision,
		maxPriceAge: DefaultMaxPriceAge,
		locks:       newKeyedLocker(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.precision < 0 {
		return nil, errors.Wrapf(domain.ErrInvalidConfig, "precision %d", e.precision)
	}

	return e, nil
}

// Result describes a committed operation.
type Result struct {
	EventID     string
	Op          domain.Operation
	Asset       domain.AssetKind
	Amount      uint64
	SharesDelta decimal.Decimal
	// Value is the price-denominated value of a borrow.
	Value decimal.Decimal
	Bank  *domain.Bank
	User  *domain.User
}

func (e *Engine) now() (time.Time, error) {
	now, err := e.clock.Now()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "read clock")
	}
	return now, nil
}

func (e *Engine) observe(op domain.Operation, start time.Time, err error) {
	e.metrics.ObserveOperation(op, err, time.Since(start))
	if err == nil {
		return
	}

	fields := []zap.Field{zap.String("op", string(op)), zap.Error(err)}
	switch domain.Kind(err) {
	case domain.ErrorKindLedger, domain.ErrorKindInternal:
		e.logger.Error("ledger operation failed", fields...)
	default:
		e.logger.Warn("ledger operation rejected", fields...)
	}
}

// commit executes the transfer and writes the batch. A failed commit is compensated by a reverse transfer.
func (e *Engine) commit(ctx context.Context, req *custody.Request, batch ledger.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	if req != nil {
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		if err := e.custody.Transfer(ctx, *req); err != nil {
			return errors.Wrapf(err, "transfer %d %s", req.Amount, req.Asset)
		}
	}

	if err := e.store.Commit(batch); err != nil {
		if req != nil {
			e.compensate(ctx, *req)
		}
		return errors.Wrap(err, "commit ledger batch")
	}

	for _, bank := range batch.Banks {
		e.metrics.SetBank(bank)
	}
	return nil
}

func (e *Engine) compensate(ctx context.Context, req custody.Request) {
	rev := req.Reverse(uuid.NewString())
	if err := e.custody.Transfer(context.WithoutCancel(ctx), rev); err != nil {
		e.logger.Error("compensating transfer failed, custody and ledger diverged",
			zap.String("transfer_id", req.ID),
			zap.String("reverse_id", rev.ID),
			zap.String("asset", req.Asset.String()),
			zap.Uint64("amount", req.Amount),
			zap.Error(err))
		return
	}
	e.logger.Warn("transfer reversed after failed commit",
		zap.String("transfer_id", req.ID),
		zap.String("reverse_id", rev.ID))
}

// emit journals and publishes a committed event. Failures here never undo the commit.
func (e *Engine) emit(event domain.LedgerEvent) {
	if e.journal != nil {
		if _, err := e.journal.Append(event); err != nil {
			e.logger.Error("failed to journal ledger event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}
	if e.publisher != nil {
		e.publisher.Publish(event)
	}
}

func (e *Engine) quote(ctx context.Context, asset domain.AssetKind) (decimal.Decimal, error) {
	q, err := e.pricer.GetPrice(ctx, asset, e.maxPriceAge)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "price of %s", asset)
	}
	if !q.Price.IsPositive() {
		return decimal.Zero, errors.Errorf("non-positive %s price %s", asset, q.Price.String())
	}
	return q.Price, nil
}

func validAsset(asset domain.AssetKind) error {
	if !asset.IsValid() {
		return errors.Wrapf(domain.ErrUnsupportedAsset, "asset %q", asset)
	}
	return nil
}

func validOwner(owner domain.AccountID) error {
	if owner == "" {
		return errors.Wrap(domain.ErrUserNotFound, "owner is empty")
	}
	return nil
}
