package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/nrjais/reposql/internal/apperr"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "unknown_column", Outcome(apperr.UnknownColumn("products", "x")))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestMetrics_ObserveOperation(t *testing.T) {
	m := New("reposql", prometheus.NewRegistry())

	m.ObserveOperation("products", "find", time.Now(), nil)
	m.ObserveOperation("products", "find", time.Now(), nil)
	m.ObserveOperation("products", "create", time.Now(), apperr.Validation("bad"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("products", "find", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("products", "create", "validation_failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.OperationDuration))
}

func TestMetrics_Transactions(t *testing.T) {
	m := New("reposql", prometheus.NewRegistry())

	m.TransactionStarted()
	m.TransactionStarted()
	m.TransactionFinished("committed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveTransactions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("committed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("products", "find", time.Now(), nil)
		m.TransactionStarted()
		m.TransactionFinished("rolledback")
	})
}
