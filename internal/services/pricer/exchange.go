package pricer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/pkg/retrier"
)

// DefaultQuoteCurrency the stable coin exchange tickers are quoted against.
const DefaultQuoteCurrency = "USDT"

// tickerSource returns the last traded price of a spot symbol as text.
type tickerSource interface {
	LastPrice(ctx context.Context, symbol string) (string, error)
}

// exchangePricer polls a spot ticker and stamps quotes with the local clock.
type exchangePricer struct {
	name    string
	source  tickerSource
	clock   accounting.Clock
	quote   string
	retrier *retrier.Retrier
	logger  *zap.Logger
}

func newExchangePricer(name string, source tickerSource, clk accounting.Clock, quote string, logger *zap.Logger, opts ...retrier.Option) *exchangePricer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if quote == "" {
		quote = DefaultQuoteCurrency
	}
	logger = logger.With(zap.String("pricer", name))
	opts = append([]retrier.Option{retrier.WithOnRetry(func(attempt int, err error) {
		logger.Warn("price fetch failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	})}, opts...)

	return &exchangePricer{
		name:    name,
		source:  source,
		clock:   clk,
		quote:   quote,
		retrier: retrier.New(opts...),
		logger:  logger,
	}
}

// GetPrice fetches the ticker of asset and converts it to a per-unit quote.
func (p *exchangePricer) GetPrice(ctx context.Context, asset domain.AssetKind, maxAge time.Duration) (Quote, error) {
	if !asset.IsValid() {
		return Quote{}, errors.Wrapf(domain.ErrUnsupportedAsset, "asset %q", asset)
	}
	symbol := asset.Symbol(p.quote)

	raw, err := retrier.DoWithData(p.retrier, ctx, func(ctx context.Context) (string, error) {
		return p.source.LastPrice(ctx, symbol)
	})
	if err != nil {
		return Quote{}, errors.Wrapf(err, "%s ticker %s", p.name, symbol)
	}

	whole, err := decimal.NewFromString(raw)
	if err != nil {
		return Quote{}, errors.Wrapf(err, "parse %s price %q", p.name, raw)
	}
	if err := validatePrice(asset, whole); err != nil {
		return Quote{}, err
	}

	now, err := p.clock.Now()
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		Asset:      asset,
		Price:      UnitPrice(asset, whole),
		Confidence: decimal.Zero,
		Timestamp:  now,
	}
	p.logger.Debug("price fetched", zap.String("symbol", symbol), zap.String("price", whole.String()))

	return q, CheckFresh(q, now, maxAge)
}
