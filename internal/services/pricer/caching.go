package pricer

import (
	"context"
	"sync"
	"time"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
)

// CachingPricer serves quotes of the wrapped pricer until they are older than refresh.
type CachingPricer struct {
	inner   Pricer
	clock   accounting.Clock
	refresh time.Duration

	mu    sync.Mutex
	cache map[domain.AssetKind]Quote
}

// NewCachingPricer wraps inner. refresh <= 0 disables caching.
func NewCachingPricer(inner Pricer, clk accounting.Clock, refresh time.Duration) *CachingPricer {
	return &CachingPricer{
		inner:   inner,
		clock:   clk,
		refresh: refresh,
		cache:   make(map[domain.AssetKind]Quote),
	}
}

// GetPrice returns a cached quote when it is younger than the refresh interval.
func (p *CachingPricer) GetPrice(ctx context.Context, asset domain.AssetKind, maxAge time.Duration) (Quote, error) {
	now, err := p.clock.Now()
	if err != nil {
		return Quote{}, err
	}

	p.mu.Lock()
	cached, ok := p.cache[asset]
	p.mu.Unlock()

	if ok && p.refresh > 0 && now.Sub(cached.Timestamp) < p.refresh {
		return cached, CheckFresh(cached, now, maxAge)
	}

	q, err := p.inner.GetPrice(ctx, asset, maxAge)
	if err != nil {
		return Quote{}, err
	}

	p.mu.Lock()
	p.cache[asset] = q
	p.mu.Unlock()

	return q, nil
}
