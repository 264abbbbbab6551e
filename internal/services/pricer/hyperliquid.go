package pricer

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/pkg/retrier"
)

// HyperliquidQuoteCurrency is the currency Hyperliquid mids are denominated in.
const HyperliquidQuoteCurrency = "USDC"

// midsSource is the part of the Hyperliquid Info client the pricer uses.
type midsSource interface {
	AllMids(ctx context.Context) (map[string]string, error)
}

// hyperliquidTicker resolves SOLUSDC-style symbols against the mids, which are keyed by base coin.
type hyperliquidTicker struct {
	info midsSource
}

func (h hyperliquidTicker) LastPrice(ctx context.Context, symbol string) (string, error) {
	coin := strings.TrimSuffix(symbol, HyperliquidQuoteCurrency)
	// no market quotes the quote currency against itself
	if coin == HyperliquidQuoteCurrency {
		return "1", nil
	}

	mids, err := h.info.AllMids(ctx)
	if err != nil {
		return "", err
	}
	mid, ok := mids[coin]
	if !ok || mid == "" {
		return "", retrier.Permanent(errors.Errorf("hyperliquid API returned empty mid price for %s", coin))
	}
	return mid, nil
}

// HyperliquidPricer quotes assets from the Hyperliquid mid prices, always against USDC.
type HyperliquidPricer struct {
	*exchangePricer
}

// NewHyperliquidPricer creates a pricer backed by info, usually a *hyperliquid.Info.
func NewHyperliquidPricer(info midsSource, clk accounting.Clock, logger *zap.Logger, opts ...retrier.Option) *HyperliquidPricer {
	return &HyperliquidPricer{exchangePricer: newExchangePricer("hyperliquid", hyperliquidTicker{info: info}, clk,
		HyperliquidQuoteCurrency, logger, opts...)}
}
