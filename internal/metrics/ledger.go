// Package metrics exports ledger activity to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

type LedgerMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bankTotals *prometheus.GaugeVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide metrics registered on the default registerer.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = NewLedgerMetrics(prometheus.DefaultRegisterer)
	})
	return ledgerRegistry
}

// NewLedgerMetrics creates the ledger collectors and registers them on reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendpool_operations_total",
			Help: "Count of ledger operations by type and outcome.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lendpool_operation_duration_seconds",
			Help:    "Latency of ledger operations by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		bankTotals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lendpool_bank_total",
			Help: "Pool ledger totals per asset, side (deposited|borrowed) and unit (amount|shares).",
		}, []string{"asset", "side", "unit"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.bankTotals)
	}
	return m
}

// ObserveOperation records the outcome and latency of op. Errors are labelled by kind.
func (m *LedgerMetrics) ObserveOperation(op domain.Operation, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(domain.Kind(err))
	}
	m.operations.WithLabelValues(string(op), result).Inc()
	m.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// SetBank exports the totals of bank.
func (m *LedgerMetrics) SetBank(bank *domain.Bank) {
	if m == nil || bank == nil {
		return
	}
	asset := bank.Asset.String()
	m.bankTotals.WithLabelValues(asset, "deposited", "amount").Set(float64(bank.TotalDepositedAmount))
	m.bankTotals.WithLabelValues(asset, "deposited", "shares").Set(bank.TotalDepositedShares.InexactFloat64())
	m.bankTotals.WithLabelValues(asset, "borrowed", "amount").Set(float64(bank.TotalBorrowedAmount))
	m.bankTotals.WithLabelValues(asset, "borrowed", "shares").Set(bank.TotalBorrowedShares.InexactFloat64())
}
