package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_ingested_total",
			Help: "Total number of log entries ingested",
		},
		[]string{"source"},
	)

	AlertsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_broadcast_total",
			Help: "Total number of alerts broadcast to live subscribers",
		},
		[]string{"severity"},
	)

	MaliciousAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_malicious_alerts_total",
			Help: "Total number of alerts escalated as malicious",
		},
		[]string{"source"},
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_push_deliveries_total",
			Help: "Push deliveries by acknowledgment outcome",
		},
		[]string{"outcome"},
	)

	DuplicateEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_duplicate_entries_total",
			Help: "Push entries dropped as duplicates",
		},
	)

	AnalysisRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_analysis_requests_total",
			Help: "Analysis requests by engine that produced the result",
		},
		[]string{"engine"},
	)

	AnalysisFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_analysis_fallbacks_total",
			Help: "Remote analysis failures that fell back to local rules",
		},
		[]string{"reason"},
	)

	RemoteAnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_remote_analysis_duration_seconds",
			Help:    "Latency of calls to the remote analysis service",
			Buckets: prometheus.DefBuckets,
		},
	)

	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_poll_cycles_total",
			Help: "Poll cycles by result",
		},
		[]string{"result"},
	)

	PollWatermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_poll_watermark_seconds",
			Help: "Current poll watermark as unix seconds",
		},
	)

	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_sink_writes_total",
			Help: "Persistence sink writes by sink and result",
		},
		[]string{"sink", "result"},
	)

	StageEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_stage_events_total",
			Help: "Stage tracker events by stage and status",
		},
		[]string{"stage", "status"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_websocket_clients",
			Help: "Number of connected live subscribers",
		},
	)

	DLQEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_dlq_events_total",
			Help: "Deliveries written to the dead-letter queue by reason",
		},
		[]string{"reason"},
	)

	DeadLetterInsertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_dead_letter_insert_failures_total",
			Help: "Total number of dead letter insertion failures",
		},
	)

	RelayPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_relay_publishes_total",
			Help: "Alerts forwarded to the message bus by result",
		},
		[]string{"result"},
	)
)
