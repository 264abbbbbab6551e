package pricer

import (
	"context"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/pkg/retrier"
)

type bybitTicker struct {
	client *bybit.Client
}

func (b bybitTicker) LastPrice(_ context.Context, symbol string) (string, error) {
	sym := bybit.SymbolV5(symbol)

	result, err := b.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &sym,
	})
	if err != nil {
		return "", err
	}
	if result.Result.Spot == nil || len(result.Result.Spot.List) == 0 {
		return "", retrier.Permanent(errors.Errorf("bybit API returned empty prices for %s", symbol))
	}
	return result.Result.Spot.List[0].LastPrice, nil
}

// BybitPricer quotes assets from the Bybit V5 spot tickers.
type BybitPricer struct {
	*exchangePricer
}

// NewBybitPricer creates a pricer backed by client, quoting against quote (USDT when empty).
func NewBybitPricer(client *bybit.Client, clk accounting.Clock, quote string, logger *zap.Logger, opts ...retrier.Option) *BybitPricer {
	return &BybitPricer{exchangePricer: newExchangePricer("bybit", bybitTicker{client: client}, clk, quote, logger, opts...)}
}
