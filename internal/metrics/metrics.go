// Package metrics exposes engine outcomes as Prometheus collectors.
package metrics

import (
	"time"

	"funds-ledger/internal/ledger"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine implements ledger.Observer.
type Engine struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
	retries *prometheus.CounterVec
}

var _ ledger.Observer = (*Engine)(nil)

// NewEngine builds the collectors and registers them with reg.
func NewEngine(reg prometheus.Registerer) (*Engine, error) {
	m := &Engine{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "operations_total",
			Help:      "Engine operations by outcome code (OK on success).",
		}, []string{"op", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency including conflict retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "conflict_retries_total",
			Help:      "Atomic units re-run after a write conflict.",
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{m.ops, m.latency, m.retries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Engine) Observe(op string, code ledger.Code, elapsed time.Duration) {
	label := string(code)
	if label == "" {
		label = "OK"
	}
	m.ops.WithLabelValues(op, label).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Engine) Retried(op string) {
	m.retries.WithLabelValues(op).Inc()
}
