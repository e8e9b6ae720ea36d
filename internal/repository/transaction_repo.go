package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

// TransactionRepository is the write side used by the batcher. Every insert
// is an upsert on transaction_id so a retried batch overwrites itself.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const upsertTransactionSQL = `
	INSERT INTO transactions (transaction_id, timestamp, card_number, amount, merchant_id, merchant_name,
		merchant_category, country, city, latitude, longitude, is_fraudulent)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (transaction_id) DO UPDATE SET
		timestamp = EXCLUDED.timestamp,
		card_number = EXCLUDED.card_number,
		amount = EXCLUDED.amount,
		merchant_id = EXCLUDED.merchant_id,
		merchant_name = EXCLUDED.merchant_name,
		merchant_category = EXCLUDED.merchant_category,
		country = EXCLUDED.country,
		city = EXCLUDED.city,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		is_fraudulent = EXCLUDED.is_fraudulent`

const upsertFraudSQL = `
	INSERT INTO fraudulent_transactions (transaction_id, timestamp, card_number, amount, merchant_id, merchant_name,
		merchant_category, country, city, latitude, longitude, fraud_reasons, fired_rules, fraud_score)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (transaction_id) DO UPDATE SET
		fraud_reasons = EXCLUDED.fraud_reasons,
		fired_rules = EXCLUDED.fired_rules,
		fraud_score = EXCLUDED.fraud_score`

func (r *TransactionRepository) InsertTransactions(ctx context.Context, txns []model.AnnotatedTransaction) error {
	if len(txns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range txns {
		batch.Queue(upsertTransactionSQL,
			t.ID, t.Timestamp, t.CardNumber, t.Amount, nullable(t.MerchantID), nullable(t.MerchantName),
			nullable(t.MerchantCategory), t.Country, nullable(t.City), t.Latitude, t.Longitude, t.IsFraudulent,
		)
	}
	return r.sendBatch(ctx, batch, len(txns), "transaction")
}

func (r *TransactionRepository) InsertFraudRecords(ctx context.Context, txns []model.AnnotatedTransaction) error {
	if len(txns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range txns {
		batch.Queue(upsertFraudSQL,
			t.ID, t.Timestamp, t.CardNumber, t.Amount, nullable(t.MerchantID), nullable(t.MerchantName),
			nullable(t.MerchantCategory), t.Country, nullable(t.City), t.Latitude, t.Longitude,
			t.FraudReasons, nonNil(t.FiredRules), t.FraudScore,
		)
	}
	return r.sendBatch(ctx, batch, len(txns), "fraud record")
}

func (r *TransactionRepository) sendBatch(ctx context.Context, batch *pgx.Batch, n int, kind string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert %s %d: %w", kind, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// Count returns the number of stored transactions.
func (r *TransactionRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// PurgeResult counts the rows removed by one retention pass.
type PurgeResult struct {
	Transactions int64
	FraudRecords int64
}

// PurgeOlderThan deletes transactions and fraud records whose event
// timestamp is before cutoff. Both deletes commit together.
func (r *TransactionRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	var res PurgeResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM fraudulent_transactions WHERE timestamp < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("purge fraud records: %w", err)
	}
	res.FraudRecords = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM transactions WHERE timestamp < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("purge transactions: %w", err)
	}
	res.Transactions = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return PurgeResult{}, fmt.Errorf("commit purge: %w", err)
	}
	return res, nil
}

// ActivitySince summarises what was stored after since. AvgDetectionLag is
// zero when no fraud was recorded.
func (r *TransactionRepository) ActivitySince(ctx context.Context, since time.Time) (Activity, error) {
	var (
		a       Activity
		lagSecs float64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM transactions WHERE timestamp >= $1),
			(SELECT COUNT(*) FROM fraudulent_transactions WHERE timestamp >= $1),
			(SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (detection_timestamp - timestamp))), 0)::float8
				FROM fraudulent_transactions WHERE timestamp >= $1)`, since,
	).Scan(&a.Transactions, &a.Frauds, &lagSecs)
	if err != nil {
		return Activity{}, fmt.Errorf("activity since %s: %w", since.Format(time.RFC3339), err)
	}
	a.AvgDetectionLag = time.Duration(lagSecs * float64(time.Second))
	return a, nil
}

type Activity struct {
	Transactions    int64
	Frauds          int64
	AvgDetectionLag time.Duration
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
