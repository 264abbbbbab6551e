package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

const (
	StorageMemory = "memory"
	StorageWAL    = "wal"
	StorageBolt   = "bolt"

	PricerStatic  = "static"
	PricerBinance = "binance"
	PricerBybit   = "bybit"

	PricerHyperliquid = "hyperliquid"

	defaultListen      = ":8080"
	defaultPrecision   = 4
	defaultMaxPriceAge = time.Minute
	defaultQuote       = "USDT"
	defaultRefresh     = 10 * time.Second
)

type Config struct {
	Listen      string
	LogLevel    zapcore.Level
	Precision   int32
	MaxPriceAge time.Duration
	Storage     StorageConfig
	// JournalDir enables the event journal when set.
	JournalDir string
	Custody    CustodyConfig
	Pricer     PricerConfig
	Banks      []domain.BankConfig
}

type StorageConfig struct {
	Driver string
	Path   string
}

// CustodyConfig persists simulated custody balances when StateDir is set.
type CustodyConfig struct {
	StateDir string
	Scope    string
}

type PricerConfig struct {
	Source  string
	Quote   string
	Refresh time.Duration
	// Prices per whole token, static source only.
	Prices map[domain.AssetKind]decimal.Decimal
}

// ConfigTmp is the yaml representation of Config.
type ConfigTmp struct {
	Listen       string        `yaml:"listen,omitempty"`
	LogLevel     string        `yaml:"log_level,omitempty"`
	PrecisionStr string        `yaml:"precision,omitempty"`
	MaxPriceAge  time.Duration `yaml:"max_price_age,omitempty"`
	Storage      StorageTmp    `yaml:"storage"`
	JournalDir   string        `yaml:"journal_dir,omitempty"`
	Custody      CustodyTmp    `yaml:"custody,omitempty"`
	Pricer       PricerTmp     `yaml:"pricer"`
	Banks        []BankTmp     `yaml:"banks"`
}

type StorageTmp struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"`
}

type CustodyTmp struct {
	StateDir string `yaml:"state_dir,omitempty"`
	Scope    string `yaml:"scope,omitempty"`
}

type PricerTmp struct {
	Source  string            `yaml:"source"`
	Quote   string            `yaml:"quote,omitempty"`
	Refresh time.Duration     `yaml:"refresh,omitempty"`
	Prices  map[string]string `yaml:"prices,omitempty"`
}

type BankTmp struct {
	Asset                     string `yaml:"asset"`
	Authority                 string `yaml:"authority"`
	MaxLTVStr                 string `yaml:"max_ltv"`
	LiquidateThresholdStr     string `yaml:"liquidate_threshold"`
	LiquidateBonusStr         string `yaml:"liquidate_bonus,omitempty"`
	LiquidateCloseFactorStr   string `yaml:"liquidate_close_factor,omitempty"`
	DepositedInterestRatioStr string `yaml:"deposited_interest_ratio,omitempty"`
	BorrowedInterestRatioStr  string `yaml:"borrowed_interest_ratio,omitempty"`
}

// Load reads the yaml config at path.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(f)
}

// Parse decodes and validates a yaml config.
func Parse(data []byte) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, fmt.Errorf("decode yaml config: %w", err)
	}
	return tmp.Config()
}

// Config converts the raw yaml values, applying defaults.
func (c ConfigTmp) Config() (Config, error) {
	cfg := Config{
		Listen:      c.Listen,
		Precision:   defaultPrecision,
		MaxPriceAge: c.MaxPriceAge,
		Storage:     StorageConfig{Driver: strings.ToLower(c.Storage.Driver), Path: c.Storage.Path},
		JournalDir:  c.JournalDir,
		Custody:     CustodyConfig{StateDir: c.Custody.StateDir, Scope: c.Custody.Scope},
		Pricer: PricerConfig{
			Source:  strings.ToLower(c.Pricer.Source),
			Quote:   strings.ToUpper(c.Pricer.Quote),
			Refresh: c.Pricer.Refresh,
			Prices:  make(map[domain.AssetKind]decimal.Decimal, len(c.Pricer.Prices)),
		},
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.MaxPriceAge == 0 {
		cfg.MaxPriceAge = defaultMaxPriceAge
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}
	if cfg.Pricer.Source == "" {
		cfg.Pricer.Source = PricerStatic
	}
	if cfg.Pricer.Quote == "" {
		cfg.Pricer.Quote = defaultQuote
	}
	if cfg.Pricer.Refresh == 0 {
		cfg.Pricer.Refresh = defaultRefresh
	}

	cfg.LogLevel = zapcore.InfoLevel
	if c.LogLevel != "" {
		level, err := zapcore.ParseLevel(c.LogLevel)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'log_level' param in yaml config: %w", err)
		}
		cfg.LogLevel = level
	}

	if c.PrecisionStr != "" {
		precision, err := decimal.NewFromString(c.PrecisionStr)
		if err != nil || !precision.IsInteger() || precision.IsNegative() || precision.GreaterThan(decimal.NewFromInt(18)) {
			return Config{}, fmt.Errorf("incorrect 'precision' param in yaml config (must be an integer in [0,18]): %q", c.PrecisionStr)
		}
		cfg.Precision = int32(precision.IntPart())
	}

	for symbol, raw := range c.Pricer.Prices {
		asset, err := domain.ParseAssetKind(symbol)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'pricer.prices' key in yaml config: %w", err)
		}
		price, err := decimal.NewFromString(raw)
		if err != nil || !price.IsPositive() {
			return Config{}, fmt.Errorf("incorrect 'pricer.prices.%s' param in yaml config (must be a positive decimal): %q", symbol, raw)
		}
		cfg.Pricer.Prices[asset] = price
	}

	seen := make(map[domain.AssetKind]struct{}, len(c.Banks))
	for i, b := range c.Banks {
		bank, err := b.BankConfig()
		if err != nil {
			return Config{}, fmt.Errorf("banks[%d]: %w", i, err)
		}
		if _, dup := seen[bank.Asset]; dup {
			return Config{}, fmt.Errorf("banks[%d]: duplicate bank for %s", i, bank.Asset)
		}
		seen[bank.Asset] = struct{}{}
		cfg.Banks = append(cfg.Banks, bank)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BankConfig converts the raw bank values.
func (b BankTmp) BankConfig() (domain.BankConfig, error) {
	asset, err := domain.ParseAssetKind(b.Asset)
	if err != nil {
		return domain.BankConfig{}, fmt.Errorf("incorrect 'asset' param in yaml config: %w", err)
	}
	cfg := domain.BankConfig{Authority: domain.AccountID(b.Authority), Asset: asset}
	if cfg.Authority == "" {
		return domain.BankConfig{}, fmt.Errorf("'authority' param is required for %s bank", asset)
	}

	fields := []struct {
		name     string
		raw      string
		required bool
		dst      *decimal.Decimal
	}{
		{"max_ltv", b.MaxLTVStr, true, &cfg.Risk.MaxLTV},
		{"liquidate_threshold", b.LiquidateThresholdStr, true, &cfg.Risk.LiquidateThreshold},
		{"liquidate_bonus", b.LiquidateBonusStr, false, &cfg.Risk.LiquidateBonus},
		{"liquidate_close_factor", b.LiquidateCloseFactorStr, false, &cfg.Risk.LiquidateCloseFactor},
		{"deposited_interest_ratio", b.DepositedInterestRatioStr, false, &cfg.DepositedInterestRatio},
		{"borrowed_interest_ratio", b.BorrowedInterestRatioStr, false, &cfg.BorrowedInterestRatio},
	}
	for _, f := range fields {
		if f.raw == "" {
			if f.required {
				return domain.BankConfig{}, fmt.Errorf("'%s' param is required for %s bank", f.name, asset)
			}
			*f.dst = decimal.Zero
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.BankConfig{}, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal), error: %w", f.name, err)
		}
		*f.dst = v
	}

	if err := cfg.Risk.Validate(); err != nil {
		return domain.BankConfig{}, err
	}
	for name, rate := range map[string]decimal.Decimal{
		"deposited_interest_ratio": cfg.DepositedInterestRatio,
		"borrowed_interest_ratio":  cfg.BorrowedInterestRatio,
	} {
		if err := domain.ValidateInterestRatio(rate); err != nil {
			return domain.BankConfig{}, fmt.Errorf("incorrect '%s' param of %s bank: %w", name, asset, err)
		}
	}
	return cfg, nil
}

// Validate rejects unknown drivers and sources and incomplete settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageWAL, StorageBolt:
		if c.Storage.Path == "" {
			return fmt.Errorf("'storage.path' is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Pricer.Source {
	case PricerStatic:
		for _, asset := range domain.AllAssetKinds() {
			if _, ok := c.Pricer.Prices[asset]; !ok {
				return fmt.Errorf("static pricer needs a price for %s", asset)
			}
		}
	case PricerBinance, PricerBybit, PricerHyperliquid:
	default:
		return fmt.Errorf("unsupported pricer source %q", c.Pricer.Source)
	}

	if c.MaxPriceAge < 0 {
		return fmt.Errorf("'max_price_age' must not be negative")
	}
	return nil
}

// Marshal encodes c as yaml.
func (c ConfigTmp) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
