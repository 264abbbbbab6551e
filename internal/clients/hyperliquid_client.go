package clients

import (
	"context"
	"crypto/ecdsa"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// HyperliquidMainnetURL is the public Hyperliquid API.
const HyperliquidMainnetURL = "https://api.hyperliquid.xyz"

// NewHyperliquidInfo creates a Hyperliquid Info client for market data.
// Info endpoints are public, so an empty privateKeyHex signs with a throwaway key.
func NewHyperliquidInfo(privateKeyHex, baseURL string) (*hyperliquid.Info, error) {
	if baseURL == "" {
		baseURL = HyperliquidMainnetURL
	}

	var (
		privateKey *ecdsa.PrivateKey
		err        error
	)
	key := strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")
	if key == "" {
		privateKey, err = crypto.GenerateKey()
	} else {
		privateKey, err = crypto.HexToECDSA(key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "hyperliquid signing key")
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("hyperliquid key has no ECDSA public key")
	}
	accountAddr := crypto.PubkeyToAddress(*pub).Hex()

	ex := hyperliquid.NewExchange(
		context.Background(),
		privateKey,
		baseURL,
		nil,
		"",
		accountAddr,
		nil,
	)
	return ex.Info(), nil
}

// NewHyperliquidInfoFromEnv reads HYPERLIQUID_PRIVATE_KEY and HYPERLIQUID_API_URL.
func NewHyperliquidInfoFromEnv() (*hyperliquid.Info, error) {
	return NewHyperliquidInfo(os.Getenv("HYPERLIQUID_PRIVATE_KEY"), os.Getenv("HYPERLIQUID_API_URL"))
}
