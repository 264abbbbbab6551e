package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClients(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	b := NewBinanceClientFromEnv()
	assert.Equal(t, "key", b.APIKey)
	assert.Equal(t, "secret", b.SecretKey)

	t.Setenv("BYBIT_API_KEY", "")
	assert.NotNil(t, NewBybitClientFromEnv())
	assert.NotNil(t, NewBybitClient("key", "secret"))

	_, err := NewHyperliquidInfo("0xnot-a-key", "")
	require.Error(t, err)
}
