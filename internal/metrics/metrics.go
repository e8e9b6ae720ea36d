// Package metrics holds the prometheus collectors exported by the processor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fraud"

var (
	TransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_processed_total",
		Help:      "Transactions scored by the rule engine.",
	}, []string{"shard"})

	TransactionsFlagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_flagged_total",
		Help:      "Rule hits, one per fired rule.",
	}, []string{"rule"})

	TransactionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_rejected_total",
		Help:      "Transactions skipped before reaching a batch.",
	}, []string{"reason"})

	BatchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_flushes_total",
		Help:      "Batch flush attempts by result.",
	}, []string{"result"})

	BatchPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "batch_pending",
		Help:      "Transactions buffered and not yet persisted.",
	}, []string{"shard"})

	TrackedCards = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "history_tracked_cards",
		Help:      "Distinct cards held in history.",
	}, []string{"shard"})

	FraudScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "score",
		Help:      "Fraud score of flagged transactions.",
		Buckets:   []float64{0.3, 0.5, 0.7, 0.8, 0.9, 1.0},
	})

	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Alert deliveries by channel and result.",
	}, []string{"channel", "result"})

	AlertsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_dropped_total",
		Help:      "Alerts discarded because the dispatch queue was full.",
	})

	RowsPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_rows_purged_total",
		Help:      "Rows deleted by the retention task.",
	}, []string{"table"})

	SystemStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_status",
		Help:      "1 for the status reported by the last health check, 0 otherwise.",
	}, []string{"status"})
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)
