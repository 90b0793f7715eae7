package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LedgerOp("debit", "ok")
	m.Placement("ok", 0.1)
	m.Settlement("WON", "ok")
	m.CryptoAction("approve", "ok")
	m.RateQuote("cache")
	m.FeedMessage("market_results", "consumed")
}

func TestCountersRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LedgerOp("debit", Result(nil))
	m.LedgerOp("debit", Result(errors.New("x")))
	m.LedgerOp("debit", "ok")

	require.Equal(t, 2.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("debit", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("debit", "error")))
}
