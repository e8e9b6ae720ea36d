package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

type FraudStatsRow struct {
	TotalFrauds   int
	TotalAmount   float64
	AvgAmount     float64
	MaxAmount     float64
	AvgFraudScore float64
	AffectedCards int
}

type CountryRow struct {
	Country     string
	FraudCount  int
	TotalAmount float64
}

type CategoryRow struct {
	Category    string
	FraudCount  int
	TotalAmount float64
	AvgScore    float64
}

// FraudRepository serves the read-only API.
type FraudRepository struct {
	pool *pgxpool.Pool
}

func NewFraudRepository(pool *pgxpool.Pool) *FraudRepository {
	return &FraudRepository{pool: pool}
}

func (r *FraudRepository) Recent(ctx context.Context, limit, offset int) ([]model.FraudRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fraudulent_transactions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count frauds: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT transaction_id, timestamp, card_number, amount::float8,
			COALESCE(merchant_id, ''), COALESCE(merchant_name, ''), COALESCE(merchant_category, ''),
			country, COALESCE(city, ''), fraud_reasons, fraud_score, detection_timestamp
		FROM fraudulent_transactions
		ORDER BY detection_timestamp DESC, transaction_id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query recent frauds: %w", err)
	}
	defer rows.Close()

	var records []model.FraudRecord
	for rows.Next() {
		var rec model.FraudRecord
		if err := rows.Scan(
			&rec.TransactionID, &rec.Timestamp, &rec.CardNumber, &rec.Amount,
			&rec.MerchantID, &rec.MerchantName, &rec.MerchantCategory,
			&rec.Country, &rec.City, &rec.FraudReasons, &rec.FraudScore, &rec.DetectionTimestamp,
		); err != nil {
			return nil, 0, fmt.Errorf("scan fraud record: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func (r *FraudRepository) Stats(ctx context.Context, since time.Time) (FraudStatsRow, error) {
	var s FraudStatsRow
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount), 0)::float8,
			COALESCE(ROUND(AVG(amount), 2), 0)::float8,
			COALESCE(MAX(amount), 0)::float8,
			COALESCE(ROUND(AVG(fraud_score)::numeric, 3), 0)::float8,
			COUNT(DISTINCT card_number)
		FROM fraudulent_transactions
		WHERE detection_timestamp >= $1`, since,
	).Scan(&s.TotalFrauds, &s.TotalAmount, &s.AvgAmount, &s.MaxAmount, &s.AvgFraudScore, &s.AffectedCards)
	if err != nil {
		return FraudStatsRow{}, fmt.Errorf("query fraud stats: %w", err)
	}
	return s, nil
}

func (r *FraudRepository) ByCountry(ctx context.Context, since time.Time, limit int) ([]CountryRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT country, COUNT(*) AS fraud_count, COALESCE(SUM(amount), 0)::float8 AS total_amount
		FROM fraudulent_transactions
		WHERE detection_timestamp >= $1
		GROUP BY country
		ORDER BY fraud_count DESC, country
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query frauds by country: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CountryRow, error) {
		var c CountryRow
		err := row.Scan(&c.Country, &c.FraudCount, &c.TotalAmount)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan frauds by country: %w", err)
	}
	return out, nil
}

func (r *FraudRepository) ByCategory(ctx context.Context, since time.Time) ([]CategoryRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			COALESCE(merchant_category, 'Unknown') AS category,
			COUNT(*) AS fraud_count,
			COALESCE(SUM(amount), 0)::float8,
			COALESCE(ROUND(AVG(fraud_score)::numeric, 3), 0)::float8
		FROM fraudulent_transactions
		WHERE detection_timestamp >= $1
		GROUP BY category
		ORDER BY fraud_count DESC, category`, since)
	if err != nil {
		return nil, fmt.Errorf("query frauds by category: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CategoryRow, error) {
		var c CategoryRow
		err := row.Scan(&c.Category, &c.FraudCount, &c.TotalAmount, &c.AvgScore)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan frauds by category: %w", err)
	}
	return out, nil
}

// Transaction returns one stored transaction with its fraud annotation, if
// any. It returns pgx.ErrNoRows when the id is unknown.
func (r *FraudRepository) Transaction(ctx context.Context, id string) (model.StoredTransaction, error) {
	var t model.StoredTransaction
	err := r.pool.QueryRow(ctx, `
		SELECT t.transaction_id, t.timestamp, t.card_number, t.amount::float8,
			COALESCE(t.merchant_id, ''), COALESCE(t.merchant_name, ''), COALESCE(t.merchant_category, ''),
			t.country, COALESCE(t.city, ''), t.latitude, t.longitude, t.is_fraudulent,
			COALESCE(f.fraud_reasons, '{}'), f.fraud_score, t.created_at
		FROM transactions t
		LEFT JOIN fraudulent_transactions f ON f.transaction_id = t.transaction_id
		WHERE t.transaction_id = $1`, id,
	).Scan(
		&t.TransactionID, &t.Timestamp, &t.CardNumber, &t.Amount,
		&t.MerchantID, &t.MerchantName, &t.MerchantCategory,
		&t.Country, &t.City, &t.Latitude, &t.Longitude, &t.IsFraudulent,
		&t.FraudReasons, &t.FraudScore, &t.CreatedAt,
	)
	if err != nil {
		return model.StoredTransaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}
