package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/services/lending"
)

const (
	requestLimit      = 1 << 20 // 1 MiB
	requestTimeout    = 10 * time.Second
	eventPollInterval = 2 * time.Second
	heartbeatInterval = 30 * time.Second
)

// Ledger is the set of ledger operations served over HTTP.
type Ledger interface {
	CreateBank(ctx context.Context, cfg domain.BankConfig) (*domain.Bank, error)
	CreateUser(ctx context.Context, owner domain.AccountID) (*domain.User, error)
	Bank(ctx context.Context, asset domain.AssetKind) (*domain.Bank, error)
	Banks(ctx context.Context) ([]*domain.Bank, error)
	Position(ctx context.Context, owner domain.AccountID) (lending.PositionView, error)
	HealthFactor(ctx context.Context, owner domain.AccountID) (lending.HealthReport, error)
	Deposit(ctx context.Context, owner domain.AccountID, asset domain.AssetKind, amount uint64) (lending.Result, error)
	Borrow(ctx context.Context, owner domain.AccountID, collateral, borrow domain.AssetKind, value decimal.Decimal) (lending.Result, error)
	Repay(ctx context.Context, owner domain.AccountID, asset domain.AssetKind, amount uint64) (lending.Result, error)
	Withdraw(ctx context.Context, owner domain.AccountID, asset domain.AssetKind, amount uint64) (lending.Result, error)
}

type eventReader interface {
	EventsAfter(index uint64, ops ...domain.Operation) ([]domain.LedgerEventRecord, error)
}

// Faucet credits custodial accounts of the simulated custody.
type Faucet interface {
	Fund(account domain.AccountID, asset domain.AssetKind, amount uint64) error
	Balance(account domain.AccountID, asset domain.AssetKind) uint64
}

// Server exposes the ledger operations, the event stream and metrics over HTTP.
type Server struct {
	Addr string

	ledger       Ledger
	events       eventReader
	faucet       Faucet
	gatherer     prometheus.Gatherer
	logger       *zap.Logger
	pollInterval time.Duration
}

// Option configures the Server.
type Option func(*Server)

// WithEvents serves the journal on /events/stream.
func WithEvents(events eventReader) Option {
	return func(s *Server) {
		s.events = events
	}
}

// WithFaucet enables /faucet.
func WithFaucet(f Faucet) Option {
	return func(s *Server) {
		s.faucet = f
	}
}

// WithGatherer serves g on /metrics instead of the default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithPollInterval sets how often the event stream polls the journal.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.pollInterval = d
	}
}

// NewServer creates a new web server instance.
func NewServer(addr string, ledger Ledger, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		Addr:         addr,
		ledger:       ledger,
		gatherer:     prometheus.DefaultGatherer,
		logger:       logger,
		pollInterval: eventPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/events/stream", s.handleEventStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/banks", s.listBanks)
		r.Post("/banks", s.createBank)
		r.Get("/banks/{asset}", s.getBank)

		r.Post("/users", s.createUser)
		r.Get("/users/{owner}", s.getUser)
		r.Get("/users/{owner}/health", s.getHealth)

		r.Post("/deposit", s.deposit)
		r.Post("/borrow", s.borrow)
		r.Post("/repay", s.repay)
		r.Post("/withdraw", s.withdraw)
		r.Post("/faucet", s.fund)
	})

	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
