package service

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/repository"
)

// FraudReader is the query side the service depends on.
type FraudReader interface {
	Recent(ctx context.Context, limit, offset int) ([]model.FraudRecord, int, error)
	Stats(ctx context.Context, since time.Time) (repository.FraudStatsRow, error)
	ByCountry(ctx context.Context, since time.Time, limit int) ([]repository.CountryRow, error)
	ByCategory(ctx context.Context, since time.Time) ([]repository.CategoryRow, error)
	Transaction(ctx context.Context, id string) (model.StoredTransaction, error)
}

type FraudService struct {
	repo FraudReader
	now  func() time.Time
}

func NewFraudService(repo FraudReader) *FraudService {
	return &FraudService{repo: repo, now: time.Now}
}

type FraudStats struct {
	WindowHours   int     `json:"window_hours"`
	TotalFrauds   int     `json:"total_frauds"`
	TotalAmount   float64 `json:"total_amount"`
	AvgAmount     float64 `json:"avg_amount"`
	MaxAmount     float64 `json:"max_amount"`
	AvgFraudScore float64 `json:"avg_fraud_score"`
	AffectedCards int     `json:"affected_cards"`
}

type CountryStat struct {
	Country     string  `json:"country"`
	FraudCount  int     `json:"fraud_count"`
	TotalAmount float64 `json:"total_amount"`
	SharePct    float64 `json:"share_pct"`
}

type CategoryStat struct {
	Category    string  `json:"category"`
	FraudCount  int     `json:"fraud_count"`
	TotalAmount float64 `json:"total_amount"`
	AvgScore    float64 `json:"avg_fraud_score"`
}

type Overview struct {
	Stats      FraudStats     `json:"stats"`
	Countries  []CountryStat  `json:"top_countries"`
	Categories []CategoryStat `json:"categories"`
}

func (s *FraudService) since(hours int) time.Time {
	return s.now().UTC().Add(-time.Duration(hours) * time.Hour)
}

func (s *FraudService) Recent(ctx context.Context, limit, offset int) ([]model.FraudRecord, int, error) {
	records, total, err := s.repo.Recent(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if records == nil {
		records = []model.FraudRecord{}
	}
	return records, total, nil
}

func (s *FraudService) Stats(ctx context.Context, hours int) (FraudStats, error) {
	row, err := s.repo.Stats(ctx, s.since(hours))
	if err != nil {
		return FraudStats{}, err
	}
	return FraudStats{
		WindowHours:   hours,
		TotalFrauds:   row.TotalFrauds,
		TotalAmount:   round2(row.TotalAmount),
		AvgAmount:     round2(row.AvgAmount),
		MaxAmount:     round2(row.MaxAmount),
		AvgFraudScore: math.Round(row.AvgFraudScore*1000) / 1000,
		AffectedCards: row.AffectedCards,
	}, nil
}

// TopCountries ranks countries by fraud count. SharePct is relative to the
// frauds in the returned rows.
func (s *FraudService) TopCountries(ctx context.Context, hours, limit int) ([]CountryStat, error) {
	rows, err := s.repo.ByCountry(ctx, s.since(hours), limit)
	if err != nil {
		return nil, err
	}

	var total int
	for _, r := range rows {
		total += r.FraudCount
	}

	out := make([]CountryStat, len(rows))
	for i, r := range rows {
		out[i] = CountryStat{
			Country:     r.Country,
			FraudCount:  r.FraudCount,
			TotalAmount: round2(r.TotalAmount),
		}
		if total > 0 {
			out[i].SharePct = round2(float64(r.FraudCount) / float64(total) * 100)
		}
	}
	return out, nil
}

func (s *FraudService) Categories(ctx context.Context, hours int) ([]CategoryStat, error) {
	rows, err := s.repo.ByCategory(ctx, s.since(hours))
	if err != nil {
		return nil, err
	}

	out := make([]CategoryStat, len(rows))
	for i, r := range rows {
		out[i] = CategoryStat{
			Category:    r.Category,
			FraudCount:  r.FraudCount,
			TotalAmount: round2(r.TotalAmount),
			AvgScore:    math.Round(r.AvgScore*1000) / 1000,
		}
	}
	return out, nil
}

// Overview runs the three aggregate queries concurrently. The first failure
// cancels the others.
func (s *FraudService) Overview(ctx context.Context, hours, limit int) (Overview, error) {
	var ov Overview
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st, err := s.Stats(gctx, hours)
		ov.Stats = st
		return err
	})
	g.Go(func() error {
		cs, err := s.TopCountries(gctx, hours, limit)
		ov.Countries = cs
		return err
	})
	g.Go(func() error {
		cats, err := s.Categories(gctx, hours)
		ov.Categories = cats
		return err
	})

	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return ov, nil
}

func (s *FraudService) Transaction(ctx context.Context, id string) (model.StoredTransaction, error) {
	return s.repo.Transaction(ctx, id)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
