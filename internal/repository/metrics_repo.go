package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RuleMetricRow aggregates every fraud record a rule fired on.
type RuleMetricRow struct {
	Rule          string
	FiredCount    int
	TotalAmount   float64
	AvgFraudScore float64
	SoleTrigger   int
}

type MetricsRepository struct {
	pool *pgxpool.Pool
}

func NewMetricsRepository(pool *pgxpool.Pool) *MetricsRepository {
	return &MetricsRepository{pool: pool}
}

var ruleSorts = map[string]string{
	"fired_count":     "fired_count",
	"total_amount":    "total_amount",
	"avg_fraud_score": "avg_fraud_score",
	"rule":            "rule",
}

// RuleMetrics returns per-rule counts for frauds detected in [from, to).
// A zero to means no upper bound. Unknown sort columns fall back to
// fired_count.
func (r *MetricsRepository) RuleMetrics(ctx context.Context, from, to time.Time, sortBy, order string) ([]RuleMetricRow, int, error) {
	sortCol, ok := ruleSorts[sortBy]
	if !ok {
		sortCol = "fired_count"
	}
	orderDir := "DESC"
	if order == "asc" {
		orderDir = "ASC"
	}

	var upper *time.Time
	if !to.IsZero() {
		upper = &to
	}

	query := fmt.Sprintf(`
		WITH window_frauds AS (
			SELECT transaction_id, amount, fraud_score, fired_rules
			FROM fraudulent_transactions
			WHERE detection_timestamp >= $1
				AND ($2::timestamptz IS NULL OR detection_timestamp < $2)
		)
		SELECT
			r.rule,
			COUNT(*) AS fired_count,
			COALESCE(SUM(f.amount), 0)::float8 AS total_amount,
			COALESCE(ROUND(AVG(f.fraud_score)::numeric, 3), 0)::float8 AS avg_fraud_score,
			COUNT(*) FILTER (WHERE cardinality(f.fired_rules) = 1) AS sole_trigger,
			(SELECT COUNT(*) FROM window_frauds) AS total_frauds
		FROM window_frauds f
		CROSS JOIN LATERAL unnest(f.fired_rules) AS r(rule)
		GROUP BY r.rule
		ORDER BY %s %s, r.rule
	`, sortCol, orderDir)

	rows, err := r.pool.Query(ctx, query, from, upper)
	if err != nil {
		return nil, 0, fmt.Errorf("query rule metrics: %w", err)
	}

	var totalFrauds int
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RuleMetricRow, error) {
		var m RuleMetricRow
		err := row.Scan(&m.Rule, &m.FiredCount, &m.TotalAmount, &m.AvgFraudScore, &m.SoleTrigger, &totalFrauds)
		return m, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan rule metrics: %w", err)
	}
	return out, totalFrauds, nil
}
