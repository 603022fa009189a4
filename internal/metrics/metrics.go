// Package metrics exposes the pipeline's Prometheus collectors. Everything
// registers on the default registry; the server mounts promhttp at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts decisions by kind (ACT_LONG/ACT_SHORT/WAIT/SKIP).
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signald_decisions_total",
		Help: "Decisions computed, by decision kind.",
	}, []string{"kind"})

	// GateFailuresTotal counts failed gate evaluations by gate name.
	GateFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signald_gate_failures_total",
		Help: "Gate evaluations that failed, by gate.",
	}, []string{"gate"})

	// SnapshotDegradedTotal counts decisions made on neutral market context.
	SnapshotDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signald_snapshot_degraded_total",
		Help: "Decisions evaluated with degraded market data.",
	})

	// AppendFailuresTotal counts failed ledger appends by failure kind
	// (retryable vs schema_mismatch).
	AppendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signald_ledger_append_failures_total",
		Help: "Ledger append failures, by failure kind.",
	}, []string{"kind"})

	// AmendFailuresTotal counts failed exit-outcome amendments.
	AmendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signald_ledger_amend_failures_total",
		Help: "Ledger amend failures.",
	})

	// RetryQueueDepth is the number of pending appends awaiting retry.
	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signald_retry_queue_depth",
		Help: "Decisions parked in the append retry queue.",
	})

	// IngestRejectedTotal counts rejected inbound events by reason
	// (auth, malformed, routing).
	IngestRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signald_ingest_rejected_total",
		Help: "Inbound events rejected before evaluation, by reason.",
	}, []string{"reason"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
