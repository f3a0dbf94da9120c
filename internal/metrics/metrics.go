// Package metrics instruments repository operations and transactions.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nrjais/reposql/internal/apperr"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	// OperationsTotal counts repository operations by outcome.
	OperationsTotal *prometheus.CounterVec
	// OperationDuration is the latency of repository operations.
	OperationDuration *prometheus.HistogramVec
	// TransactionsTotal counts finished transactions by outcome.
	TransactionsTotal *prometheus.CounterVec
	// ActiveTransactions is the number of transactions currently open.
	ActiveTransactions prometheus.Gauge
}

// New registers the collectors with reg under namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of repository operations",
			},
			[]string{"entity", "operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Repository operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"entity", "operation"},
		),
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of finished transactions",
			},
			[]string{"outcome"},
		),
		ActiveTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_transactions",
				Help:      "Number of open transactions",
			},
		),
	}
}

// Outcome labels an operation result: "ok", the error's message code, or
// "error" for errors outside the taxonomy.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.MessageCode != "" {
		return appErr.MessageCode
	}
	return "error"
}

func (m *Metrics) ObserveOperation(entity, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(entity, operation, Outcome(err)).Inc()
	m.OperationDuration.WithLabelValues(entity, operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) TransactionStarted() {
	if m == nil {
		return
	}
	m.ActiveTransactions.Inc()
}

// TransactionFinished records a transaction leaving the active state with
// outcome "committed", "rolledback", "reaped" or "failed".
func (m *Metrics) TransactionFinished(outcome string) {
	if m == nil {
		return
	}
	m.ActiveTransactions.Dec()
	m.TransactionsTotal.WithLabelValues(outcome).Inc()
}
