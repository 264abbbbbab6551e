package pricer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
)

// StaticPricer serves quotes set by hand. Used by simulations and tests.
type StaticPricer struct {
	mu     sync.RWMutex
	clock  accounting.Clock
	quotes map[domain.AssetKind]Quote
}

// NewStaticPricer creates an empty static pricer reading freshness against clk.
func NewStaticPricer(clk accounting.Clock) *StaticPricer {
	return &StaticPricer{
		clock:  clk,
		quotes: make(map[domain.AssetKind]Quote),
	}
}

// SetQuote stores q as the current quote of q.Asset.
func (p *StaticPricer) SetQuote(q Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[q.Asset] = q
}

// SetWholePrice stores a quote of asset given its price per whole token, stamped with the clock time.
func (p *StaticPricer) SetWholePrice(asset domain.AssetKind, wholePrice decimal.Decimal) error {
	if err := validatePrice(asset, wholePrice); err != nil {
		return err
	}
	now, err := p.clock.Now()
	if err != nil {
		return err
	}
	p.SetQuote(Quote{Asset: asset, Price: UnitPrice(asset, wholePrice), Confidence: decimal.Zero, Timestamp: now})
	return nil
}

// GetPrice returns the stored quote of asset.
func (p *StaticPricer) GetPrice(_ context.Context, asset domain.AssetKind, maxAge time.Duration) (Quote, error) {
	p.mu.RLock()
	q, ok := p.quotes[asset]
	p.mu.RUnlock()
	if !ok {
		return Quote{}, errors.Errorf("no price for %s", asset)
	}

	now, err := p.clock.Now()
	if err != nil {
		return Quote{}, err
	}
	return q, CheckFresh(q, now, maxAge)
}

// Run stamps prices (per whole token) now and again every interval until ctx is done.
func (p *StaticPricer) Run(ctx context.Context, prices map[domain.AssetKind]decimal.Decimal, interval time.Duration) error {
	stamp := func() error {
		for asset, price := range prices {
			if err := p.SetWholePrice(asset, price); err != nil {
				return errors.Wrapf(err, "stamp %s price", asset)
			}
		}
		return nil
	}
	if err := stamp(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := stamp(); err != nil {
				return err
			}
		}
	}
}
