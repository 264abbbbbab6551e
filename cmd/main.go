// Command lendpool runs the share-based lending ledger behind an HTTP API.
// It keeps pool and user ledgers for SOL and USDC, prices collateral from
// a static table, Binance, Bybit or Hyperliquid, and moves funds through a simulated custody.
//
// Usage:
//
//	lendpool --config lendpool.yaml
//	lendpool --setup (interactive config wizard)
//
// Optional environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
//	For Hyperliquid: HYPERLIQUID_PRIVATE_KEY, HYPERLIQUID_API_URL (quotes are always in USDC)
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/lendpool/config"
	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/clients"
	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/events"
	"github.com/vadiminshakov/lendpool/internal/metrics"
	"github.com/vadiminshakov/lendpool/internal/services/custody"
	"github.com/vadiminshakov/lendpool/internal/services/lending"
	"github.com/vadiminshakov/lendpool/internal/services/pricer"
	"github.com/vadiminshakov/lendpool/internal/setup"
	"github.com/vadiminshakov/lendpool/internal/storage/custodystate"
	"github.com/vadiminshakov/lendpool/internal/storage/journal"
	"github.com/vadiminshakov/lendpool/internal/storage/ledger"
	"github.com/vadiminshakov/lendpool/internal/web"
)

const eventBuffer = 256

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		path := flags.ConfigPath
		if path == "" {
			path = setup.DefaultConfigFile
		}
		if err := setup.RunTUI(path); err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = path
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("lendpool stopped", zap.Error(err))
	}
	logger.Info("lendpool stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clk := accounting.NewSystemClock()

	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close ledger store", zap.Error(err))
		}
	}()

	var custodyState *custodystate.Store
	if cfg.Custody.StateDir != "" {
		if custodyState, err = custodystate.NewStore(cfg.Custody.StateDir, cfg.Custody.Scope); err != nil {
			return err
		}
	}
	sim, err := custody.NewSimulateCustody(custodyState, clk, logger.Named("custody"))
	if err != nil {
		return err
	}

	broadcaster := events.NewBroadcaster(eventBuffer)
	opts := []lending.Option{
		lending.WithPrecision(cfg.Precision),
		lending.WithMaxPriceAge(cfg.MaxPriceAge),
		lending.WithPublisher(broadcaster),
		lending.WithMetrics(metrics.Ledger()),
	}
	webOpts := []web.Option{web.WithFaucet(sim)}

	if cfg.JournalDir != "" {
		j, err := journal.NewWALStore(cfg.JournalDir)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, lending.WithJournal(j))
		webOpts = append(webOpts, web.WithEvents(j))
	}

	g, ctx := errgroup.WithContext(ctx)

	var prices pricer.Pricer
	switch cfg.Pricer.Source {
	case config.PricerStatic:
		static := pricer.NewStaticPricer(clk)
		g.Go(func() error {
			return static.Run(ctx, cfg.Pricer.Prices, cfg.Pricer.Refresh)
		})
		prices = static
	case config.PricerBinance:
		p := pricer.NewBinancePricer(clients.NewBinanceClientFromEnv(), clk, cfg.Pricer.Quote, logger.Named("pricer"))
		prices = pricer.NewCachingPricer(p, clk, cfg.Pricer.Refresh)
	case config.PricerBybit:
		p := pricer.NewBybitPricer(clients.NewBybitClientFromEnv(), clk, cfg.Pricer.Quote, logger.Named("pricer"))
		prices = pricer.NewCachingPricer(p, clk, cfg.Pricer.Refresh)
	case config.PricerHyperliquid:
		info, err := clients.NewHyperliquidInfoFromEnv()
		if err != nil {
			return errors.Wrap(err, "hyperliquid client")
		}
		p := pricer.NewHyperliquidPricer(info, clk, logger.Named("pricer"))
		prices = pricer.NewCachingPricer(p, clk, cfg.Pricer.Refresh)
	default:
		return errors.Errorf("unsupported pricer source %q", cfg.Pricer.Source)
	}

	engine, err := lending.New(store, prices, sim, clk, logger.Named("ledger"), opts...)
	if err != nil {
		return err
	}
	if err := createBanks(ctx, engine, cfg.Banks, logger); err != nil {
		return err
	}

	server := web.NewServer(cfg.Listen, engine, logger.Named("http"), webOpts...)
	g.Go(func() error {
		return server.Start(ctx)
	})

	logger.Info("lendpool started",
		zap.String("listen", cfg.Listen),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("pricer", cfg.Pricer.Source),
		zap.Bool("journal", cfg.JournalDir != ""))

	return g.Wait()
}

func openStore(cfg config.StorageConfig, logger *zap.Logger) (ledger.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return ledger.NewMemoryStore(), nil
	case config.StorageWAL:
		return ledger.NewWALStore(cfg.Path, logger.Named("ledger-wal"))
	case config.StorageBolt:
		return ledger.NewBoltStore(cfg.Path, nil)
	default:
		return nil, errors.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// createBanks creates the configured banks, keeping the ones already in the store.
func createBanks(ctx context.Context, engine *lending.Engine, banks []domain.BankConfig, logger *zap.Logger) error {
	for _, bank := range banks {
		_, err := engine.CreateBank(ctx, bank)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrBankExists):
			logger.Info("bank already exists", zap.String("asset", bank.Asset.String()))
		default:
			return errors.Wrapf(err, "create %s bank", bank.Asset)
		}
	}
	return nil
}
