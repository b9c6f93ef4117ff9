package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the ledger service.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	Journals         *prometheus.CounterVec
	Sequence         prometheus.Gauge

	// --- Liquidation ---
	Liquidations       *prometheus.CounterVec
	DebtOffset         prometheus.Counter
	DebtRedistributed  prometheus.Counter
	CollRedistributed  prometheus.Counter
	RecoveryMode       prometheus.Gauge
	TotalCollateralRat prometheus.Gauge

	// --- Redemption ---
	Redemptions       prometheus.Counter
	RedeemedDebt      prometheus.Counter
	PositionsRedeemed *prometheus.CounterVec
	BaseRate          prometheus.Gauge

	// --- Stability Pool ---
	SPDeposits    prometheus.Gauge
	SPCollateral  prometheus.Gauge
	SPProduct     prometheus.Gauge
	SPEpoch       prometheus.Gauge
	SPScale       prometheus.Gauge
	RewardsIssued prometheus.Counter

	// --- Positions ---
	ActivePositions prometheus.Gauge
	SystemDebt      prometheus.Gauge
	SystemColl      prometheus.Gauge

	// --- Channels & ingestion ---
	PublishDrops          prometheus.Counter
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	IngestMessages        *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge
	SnapshotTaken          prometheus.Counter
	SnapshotDuration       prometheus.Histogram

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers every metric with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers every metric with reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	persistBuckets := []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	return &Metrics{
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_engine_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command"}),
		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_engine_commands_rejected_total",
			Help: "Commands rejected (duplicate, validation)",
		}, []string{"command", "reason"}),
		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trove_engine_command_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command"}),
		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_engine_journals_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),
		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_engine_sequence",
			Help: "Current global sequence number",
		}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_liquidations_total",
			Help: "Liquidated positions by mode",
		}, []string{"mode"}),
		DebtOffset: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_liquidation_debt_offset_total",
			Help: "Debt cancelled against the stability pool",
		}),
		DebtRedistributed: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_liquidation_debt_redistributed_total",
			Help: "Debt redistributed to active positions",
		}),
		CollRedistributed: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_liquidation_coll_redistributed_total",
			Help: "Collateral redistributed to active positions",
		}),
		RecoveryMode: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_recovery_mode",
			Help: "1 while the system is in recovery mode",
		}),
		TotalCollateralRat: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_tcr",
			Help: "Total collateral ratio at the last price",
		}),

		Redemptions: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_redemptions_total",
			Help: "Redemption commands applied",
		}),
		RedeemedDebt: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_redeemed_debt_total",
			Help: "Debt tokens redeemed",
		}),
		PositionsRedeemed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_positions_redeemed_total",
			Help: "Positions touched by redemptions",
		}, []string{"kind"}),
		BaseRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_base_rate",
			Help: "Fee base rate after the last fee operation",
		}),

		SPDeposits: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_sp_total_deposits",
			Help: "Debt tokens deposited in the stability pool",
		}),
		SPCollateral: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_sp_collateral",
			Help: "Collateral held by the stability pool",
		}),
		SPProduct: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_sp_product",
			Help: "Running product P",
		}),
		SPEpoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_sp_epoch",
			Help: "Current stability pool epoch",
		}),
		SPScale: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_sp_scale",
			Help: "Current stability pool scale",
		}),
		RewardsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_rewards_issued_total",
			Help: "Reward tokens issued to the stability pool",
		}),

		ActivePositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_active_positions",
			Help: "Active positions",
		}),
		SystemDebt: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_system_debt",
			Help: "Active plus default pool debt",
		}),
		SystemColl: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_system_collateral",
			Help: "Active plus default pool collateral",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_publish_drops_total",
			Help: "Outputs dropped because the publish channel was full",
		}),
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"tier"}),
		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_dedup_lru_size",
			Help: "Entries in the dedup LRU",
		}),
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_ingest_messages_total",
			Help: "Messages received from NATS",
		}, []string{"subject", "result"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_persist_events_written_total",
			Help: "Event envelopes written to Postgres",
		}),
		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_persist_journals_written_total",
			Help: "Journals written to Postgres",
		}),
		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_persist_batch_duration_seconds",
			Help:    "Time to commit one persistence batch",
			Buckets: persistBuckets,
		}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"operation"}),
		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_persist_last_sequence",
			Help: "Last persisted sequence",
		}),
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_snapshots_total",
			Help: "State snapshots written",
		}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: persistBuckets,
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_query_requests_total",
			Help: "Query API requests",
		}, []string{"method", "code"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trove_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: latencyBuckets,
		}, []string{"method"}),
	}
}
