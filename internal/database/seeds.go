package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/anyulbade/card-fraud-monitor/internal/history"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/repository"
	"github.com/anyulbade/card-fraud-monitor/internal/rules"
	"github.com/anyulbade/card-fraud-monitor/internal/simulator"
)

const (
	seedTransactions     = 600
	seedFraudProbability = 0.08
	seedSpan             = 48 * time.Hour
	seedBatchSize        = 100
)

// SeedData fills an empty database with a deterministic day or two of
// scored traffic so the read API has something to show. It does nothing
// when transactions already exist.
func SeedData(ctx context.Context, pool *pgxpool.Pool) error {
	repo := repository.NewTransactionRepository(pool)

	count, err := repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("check existing data: %w", err)
	}
	if count > 0 {
		log.Info().Int("transactions", count).Msg("seed data already exists, skipping")
		return nil
	}

	txns, err := seedBatch(time.Now().UTC())
	if err != nil {
		return err
	}

	var frauds []model.AnnotatedTransaction
	for _, tx := range txns {
		if tx.IsFraudulent {
			frauds = append(frauds, tx)
		}
	}

	for start := 0; start < len(txns); start += seedBatchSize {
		end := min(start+seedBatchSize, len(txns))
		if err := repo.InsertTransactions(ctx, txns[start:end]); err != nil {
			return fmt.Errorf("insert seed transactions: %w", err)
		}
	}
	if len(frauds) > 0 {
		if err := repo.InsertFraudRecords(ctx, frauds); err != nil {
			return fmt.Errorf("insert seed fraud records: %w", err)
		}
	}

	log.Info().
		Int("transactions", len(txns)).
		Int("frauds", len(frauds)).
		Msg("seed data generation complete")
	return nil
}

// seedBatch generates and scores the seed traffic, spread evenly over the
// span ending at end.
func seedBatch(end time.Time) ([]model.AnnotatedTransaction, error) {
	step := seedSpan / seedTransactions
	clock := end.Add(-seedSpan)

	gen := simulator.NewGenerator(simulator.Options{
		Cards:            60,
		Merchants:        40,
		FraudProbability: seedFraudProbability,
		Seed:             42,
		Now: func() time.Time {
			clock = clock.Add(step)
			return clock
		},
	})
	engine := rules.NewEngine(rules.DefaultConfig(), history.NewTracker(history.DefaultClockSkew))

	out := make([]model.AnnotatedTransaction, 0, seedTransactions)
	for len(out) < seedTransactions {
		tx := gen.Next()
		verdict, err := engine.Evaluate(tx)
		if err != nil {
			return nil, fmt.Errorf("score seed transaction %s: %w", tx.ID, err)
		}
		out = append(out, model.Annotate(tx, verdict))
	}
	return out, nil
}
