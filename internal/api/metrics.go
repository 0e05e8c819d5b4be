package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus collectors the syncers and
// balance engine report into. Kept separate from the per-request handlers
// in api.go so non-HTTP callers (the syncers and the balance engine) can
// update it directly.
type Metrics struct {
	BatchesProcessed *prometheus.CounterVec
	TxPersisted      *prometheus.CounterVec
	AnomaliesLogged  *prometheus.CounterVec
	SyncLag          *prometheus.GaugeVec
	registry         *prometheus.Registry
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BatchesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icrc_indexer_batches_processed_total",
			Help: "Number of ledger/archive batches processed.",
		}, []string{"token", "source"}),
		TxPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icrc_indexer_transactions_persisted_total",
			Help: "Number of transactions persisted.",
		}, []string{"token"}),
		AnomaliesLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icrc_indexer_balance_anomalies_total",
			Help: "Number of balance anomalies logged.",
		}, []string{"token"}),
		SyncLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "icrc_indexer_sync_lag_indices",
			Help: "log_length minus last_synced_index, observed at the last tick.",
		}, []string{"token"}),
	}
	reg.MustRegister(m.BatchesProcessed, m.TxPersisted, m.AnomaliesLogged, m.SyncLag)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
