package clients

import (
	"os"

	"github.com/hirokisan/bybit/v2"
)

// NewBybitClient creates a Bybit client, authenticated only when both keys are set.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	client := bybit.NewClient()
	if apiKey != "" && apiSecret != "" {
		client = client.WithAuth(apiKey, apiSecret)
	}
	return client
}

// NewBybitClientFromEnv reads BYBIT_API_KEY and BYBIT_API_SECRET.
func NewBybitClientFromEnv() *bybit.Client {
	return NewBybitClient(os.Getenv("BYBIT_API_KEY"), os.Getenv("BYBIT_API_SECRET"))
}
