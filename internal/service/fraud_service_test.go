package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/repository"
)

type stubReader struct {
	since      []time.Time
	stats      repository.FraudStatsRow
	countries  []repository.CountryRow
	categories []repository.CategoryRow
	err        error
}

func (s *stubReader) Recent(context.Context, int, int) ([]model.FraudRecord, int, error) {
	return nil, 0, s.err
}

func (s *stubReader) Stats(_ context.Context, since time.Time) (repository.FraudStatsRow, error) {
	s.since = append(s.since, since)
	return s.stats, s.err
}

func (s *stubReader) ByCountry(_ context.Context, since time.Time, _ int) ([]repository.CountryRow, error) {
	return s.countries, s.err
}

func (s *stubReader) ByCategory(context.Context, time.Time) ([]repository.CategoryRow, error) {
	return s.categories, s.err
}

func (s *stubReader) Transaction(context.Context, string) (model.StoredTransaction, error) {
	return model.StoredTransaction{}, s.err
}

func newService(r *stubReader) *FraudService {
	svc := NewFraudService(r)
	svc.now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestFraudService_Stats(t *testing.T) {
	r := &stubReader{stats: repository.FraudStatsRow{
		TotalFrauds: 3, TotalAmount: 12000.456, AvgAmount: 4000.152, MaxAmount: 6000,
		AvgFraudScore: 0.73333, AffectedCards: 2,
	}}

	st, err := newService(r).Stats(context.Background(), 6)
	require.NoError(t, err)

	assert.Equal(t, 6, st.WindowHours)
	assert.Equal(t, 12000.46, st.TotalAmount)
	assert.Equal(t, 4000.15, st.AvgAmount)
	assert.Equal(t, 0.733, st.AvgFraudScore)
	require.Len(t, r.since, 1)
	assert.Equal(t, time.Date(2025, 3, 14, 6, 0, 0, 0, time.UTC), r.since[0])
}

func TestFraudService_TopCountries(t *testing.T) {
	r := &stubReader{countries: []repository.CountryRow{
		{Country: "Nigeria", FraudCount: 3, TotalAmount: 300},
		{Country: "Russia", FraudCount: 1, TotalAmount: 100},
	}}

	out, err := newService(r).TopCountries(context.Background(), 24, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 75.0, out[0].SharePct)
	assert.Equal(t, 25.0, out[1].SharePct)
}

func TestFraudService_Recent(t *testing.T) {
	out, total, err := newService(&stubReader{}).Recent(context.Background(), 20, 0)
	require.NoError(t, err)
	assert.NotNil(t, out, "empty result serialises as []")
	assert.Zero(t, total)
}

func TestFraudService_Overview(t *testing.T) {
	t.Run("happy: combines all three queries", func(t *testing.T) {
		r := &stubReader{
			stats:      repository.FraudStatsRow{TotalFrauds: 2},
			countries:  []repository.CountryRow{{Country: "Brazil", FraudCount: 2}},
			categories: []repository.CategoryRow{{Category: "Travel", FraudCount: 2, AvgScore: 0.8}},
		}
		ov, err := newService(r).Overview(context.Background(), 24, 5)
		require.NoError(t, err)
		assert.Equal(t, 2, ov.Stats.TotalFrauds)
		assert.Equal(t, "Brazil", ov.Countries[0].Country)
		assert.Equal(t, "Travel", ov.Categories[0].Category)
	})

	t.Run("bad: a failing query fails the overview", func(t *testing.T) {
		boom := errors.New("db down")
		_, err := newService(&stubReader{err: boom}).Overview(context.Background(), 24, 5)
		assert.ErrorIs(t, err, boom)
	})
}
