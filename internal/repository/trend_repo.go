package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	PeriodHour = "hour"
	PeriodDay  = "day"
)

type TrendRepository struct {
	pool *pgxpool.Pool
}

func NewTrendRepository(pool *pgxpool.Pool) *TrendRepository {
	return &TrendRepository{pool: pool}
}

type TrendBucket struct {
	Period           time.Time
	TransactionCount int
	FraudCount       int
	TotalAmount      float64
	FraudAmount      float64
}

// GetTrends buckets stored transactions by transaction time. period must be
// PeriodHour or PeriodDay; anything else is rejected before reaching SQL.
func (r *TrendRepository) GetTrends(ctx context.Context, period string, since time.Time) ([]TrendBucket, error) {
	if period != PeriodHour && period != PeriodDay {
		return nil, fmt.Errorf("unsupported trend period %q", period)
	}

	query := fmt.Sprintf(`
		SELECT
			DATE_TRUNC('%s', timestamp) AS period,
			COUNT(*) AS txn_count,
			COUNT(*) FILTER (WHERE is_fraudulent) AS fraud_count,
			COALESCE(SUM(amount), 0)::float8 AS total_amount,
			COALESCE(SUM(amount) FILTER (WHERE is_fraudulent), 0)::float8 AS fraud_amount
		FROM transactions
		WHERE timestamp >= $1
		GROUP BY 1
		ORDER BY 1 ASC
	`, period)

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query trends: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TrendBucket, error) {
		var b TrendBucket
		err := row.Scan(&b.Period, &b.TransactionCount, &b.FraudCount, &b.TotalAmount, &b.FraudAmount)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan trend: %w", err)
	}
	return out, nil
}
