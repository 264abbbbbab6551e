package clients

import (
	"os"

	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates a Binance client. Market data endpoints need no keys, so empty keys are allowed.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// NewBinanceClientFromEnv reads BINANCE_API_KEY and BINANCE_API_SECRET.
func NewBinanceClientFromEnv() *binance.Client {
	return NewBinanceClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
}
