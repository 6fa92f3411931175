package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// --- Core processing ---
	InstructionsApplied  *prometheus.CounterVec
	InstructionsRejected *prometheus.CounterVec
	InstructionDuration  *prometheus.HistogramVec
	EntriesGenerated     *prometheus.CounterVec
	CoreSequence         prometheus.Gauge

	// --- Channel & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDropped  prometheus.Counter
	PublishDropped     prometheus.Counter

	// --- Persistence ---
	PersistInstructionsWritten prometheus.Counter
	PersistEntriesWritten      prometheus.Counter
	PersistBatchSize           prometheus.Histogram
	PersistBatchDur            prometheus.Histogram
	PersistErrors              *prometheus.CounterVec
	PersistRetry               prometheus.Counter
	PersistLastSequence        prometheus.Gauge

	// --- Balance snapshots (record-date captures) ---
	SnapshotsTaken prometheus.Counter

	// --- State snapshots (recovery) ---
	StateSnapshotTaken    prometheus.Counter
	StateSnapshotDuration prometheus.Histogram
	StateSnapshotLastSeq  prometheus.Gauge
	ReplayInstructions    prometheus.Counter

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		InstructionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stl_core_instructions_applied_total",
			Help: "Instructions successfully applied by core",
		}, []string{"instruction_type"}),

		InstructionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stl_core_instructions_rejected_total",
			Help: "Instructions rejected (dedup, validation, authorization)",
		}, []string{"instruction_type", "reason"}),

		InstructionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stl_core_instruction_apply_duration_seconds",
			Help:    "Time to apply a single instruction in core",
			Buckets: latencyBuckets,
		}, []string{"instruction_type"}),

		EntriesGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stl_core_entries_generated_total",
			Help: "Ledger entries generated",
		}, []string{"entry_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stl_core_sequence",
			Help: "Current asset-wide sequence number",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stl_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stl_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stl_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stl_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stl_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistInstructionsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stl_persist_instructions_written_total",
			Help: "Instruction envelopes written to Postgres",
		}),

		PersistEntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stl_persist_entries_written_total",
			Help: "Ledger entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stl_persist_batch_size",
			Help:    "Instructions per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stl_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stl_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stl_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stl_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotsTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stl_balance_snapshots_taken_total",
			Help: "Record-date balance snapshots captured",
		}),

		StateSnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stl_state_snapshot_taken_total",
			Help: "Recovery state snapshots created",
		}),

		StateSnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stl_state_snapshot_duration_seconds",
			Help:    "State snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		StateSnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stl_state_snapshot_last_sequence",
			Help: "Sequence of last state snapshot",
		}),

		ReplayInstructions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stl_replay_instructions_total",
			Help: "Instructions replayed on startup",
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stl_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stl_projection_last_sequence",
			Help: "Last projected sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stl_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stl_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
