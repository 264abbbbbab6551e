package pricer

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/pkg/retrier"
)

type binanceTicker struct {
	client *binance.Client
}

func (b binanceTicker) LastPrice(ctx context.Context, symbol string) (string, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return "", err
	}
	if len(prices) == 0 {
		return "", retrier.Permanent(errors.Errorf("binance API returned empty prices for %s", symbol))
	}
	return prices[0].Price, nil
}

// BinancePricer quotes assets from the Binance public spot ticker.
type BinancePricer struct {
	*exchangePricer
}

// NewBinancePricer creates a pricer backed by client, quoting against quote (USDT when empty).
func NewBinancePricer(client *binance.Client, clk accounting.Clock, quote string, logger *zap.Logger, opts ...retrier.Option) *BinancePricer {
	return &BinancePricer{exchangePricer: newExchangePricer("binance", binanceTicker{client: client}, clk, quote, logger, opts...)}
}
