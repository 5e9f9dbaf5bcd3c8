package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the daemon's operational counters. Each daemon carries
// its own registry so the optional /metrics listener serves exactly
// this instance.
type metrics struct {
	registry *prometheus.Registry

	processed       *prometheus.CounterVec
	dedupHits       prometheus.Counter
	decryptFailures prometheus.Counter
	scanVerdicts    *prometheus.CounterVec
	sinkFailures    *prometheus.CounterVec
	acked           prometheus.Counter
	ackFailures     prometheus.Counter
	pollFailures    prometheus.Counter
	reconnects      prometheus.Counter
	sessionState    prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpost_messages_processed_total",
				Help: "Messages processed by routing outcome",
			},
			[]string{"route"},
		),
		dedupHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpost_dedup_hits_total",
				Help: "Messages skipped because their id and read level were already processed",
			},
		),
		decryptFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpost_decrypt_failures_total",
				Help: "Envelopes that failed authenticated decryption",
			},
		),
		scanVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpost_scan_verdicts_total",
				Help: "Guardrail scan outcomes",
			},
			[]string{"verdict"},
		),
		sinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpost_sink_failures_total",
				Help: "Delivery failures by sink",
			},
			[]string{"sink"},
		),
		acked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpost_messages_acked_total",
				Help: "Message ids acknowledged to the relay",
			},
		),
		ackFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpost_ack_failures_total",
				Help: "Acknowledgment batches that failed and were requeued",
			},
		),
		pollFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpost_poll_failures_total",
				Help: "Inbox polls that failed",
			},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpost_push_reconnects_total",
				Help: "Push session reconnect attempts",
			},
		),
		sessionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpost_push_session_state",
				Help: "Push session state (0 disconnected, 1 connecting, 2 authenticated, 3 draining, 4 closed)",
			},
		),
	}

	m.registry.MustRegister(
		m.processed,
		m.dedupHits,
		m.decryptFailures,
		m.scanVerdicts,
		m.sinkFailures,
		m.acked,
		m.ackFailures,
		m.pollFailures,
		m.reconnects,
		m.sessionState,
	)
	return m
}
