package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the loan ledger.
type Metrics struct {
	// --- Engine ---
	OpsApplied     *prometheus.CounterVec
	OpsRejected    *prometheus.CounterVec
	OpDuration     *prometheus.HistogramVec
	Journals       *prometheus.CounterVec
	EngineSequence prometheus.Gauge
	LoansTotal     prometheus.Gauge
	LoansByStatus  *prometheus.GaugeVec
	VaultBalance   *prometheus.GaugeVec

	// --- Liquidation ---
	LiquidationsTriggered *prometheus.CounterVec
	LiquidationSeized     prometheus.Counter

	// --- Oracle ---
	OracleLookups *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_ops_applied_total",
			Help: "Lifecycle operations successfully applied",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_ops_rejected_total",
			Help: "Lifecycle operations rejected (authorization, state, amounts)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loan_op_duration_seconds",
			Help:    "Time to apply a single lifecycle operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		Journals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_journals_generated_total",
			Help: "Custody journal entries generated",
		}, []string{"journal_type"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loan_engine_sequence",
			Help: "Current global event sequence number",
		}),

		LoansTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loan_loans_total",
			Help: "Loans ever recorded in the ledger",
		}),

		LoansByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loan_loans_by_status",
			Help: "Loans per lifecycle status",
		}, []string{"status"}),

		VaultBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loan_vault_balance",
			Help: "Vault custody balance per asset (base units)",
		}, []string{"asset"}),

		LiquidationsTriggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_liquidations_triggered_total",
			Help: "Liquidations triggered",
		}, []string{"trigger"}),

		LiquidationSeized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loan_liquidation_seized_total",
			Help: "Total collateral seized (base units)",
		}),

		OracleLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_oracle_lookups_total",
			Help: "Oracle price lookups",
		}, []string{"outcome"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loan_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loan_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loan_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loan_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loan_persist_backpressure_total",
			Help: "Times engine blocked on persist channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loan_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loan_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "loan_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "loan_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "loan_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "loan_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loan_api_duration_seconds",
			Help:    "API request latency",
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
