package history

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

var base = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func tx(card, merchant, country string, amount string, at time.Time) model.Transaction {
	return model.Transaction{
		ID:         card + at.String(),
		Timestamp:  at,
		CardNumber: card,
		Amount:     decimal.RequireFromString(amount),
		MerchantID: merchant,
		Country:    country,
	}
}

func TestTracker_ColdCard(t *testing.T) {
	tr := NewTracker(0)

	assert.Equal(t, 0, tr.RecentTransactionCount("4111****1111", base, 30*time.Second))
	country, ok := tr.LastCountry("4111****1111")
	assert.False(t, ok)
	assert.Empty(t, country)
	assert.False(t, tr.HasSimilar("4111****1111", "M1", decimal.NewFromInt(10), base, 5*time.Minute))
	assert.Equal(t, 0, tr.Cards())
}

func TestTracker_RecentTransactionCount(t *testing.T) {
	window := 30 * time.Second

	t.Run("happy: counts entries inside the window", func(t *testing.T) {
		tr := NewTracker(0)
		tr.Record("c1", tx("c1", "M1", "USA", "10", base))
		tr.Record("c1", tx("c1", "M1", "USA", "10", base.Add(10*time.Second)))
		tr.Record("c1", tx("c1", "M1", "USA", "10", base.Add(20*time.Second)))

		assert.Equal(t, 3, tr.RecentTransactionCount("c1", base.Add(25*time.Second), window))
	})

	t.Run("happy: window boundary is inclusive", func(t *testing.T) {
		tr := NewTracker(0)
		tr.Record("c1", tx("c1", "M1", "USA", "10", base))

		assert.Equal(t, 1, tr.RecentTransactionCount("c1", base.Add(window), window))
	})

	t.Run("happy: entries older than the window are evicted", func(t *testing.T) {
		tr := NewTracker(0)
		tr.Record("c1", tx("c1", "M1", "USA", "10", base))

		assert.Equal(t, 0, tr.RecentTransactionCount("c1", base.Add(window+time.Second), window))
		assert.Empty(t, tr.cards["c1"].timestamps)
	})

	t.Run("happy: eviction is relative to the transaction time not wall clock", func(t *testing.T) {
		tr := NewTracker(0)
		old := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
		tr.Record("c1", tx("c1", "M1", "USA", "10", old))

		assert.Equal(t, 1, tr.RecentTransactionCount("c1", old.Add(5*time.Second), window))
	})

	t.Run("happy: skew tolerates slightly newer entries", func(t *testing.T) {
		tr := NewTracker(2 * time.Second)
		tr.Record("c1", tx("c1", "M1", "USA", "10", base.Add(time.Second)))

		assert.Equal(t, 1, tr.RecentTransactionCount("c1", base, window))
	})

	t.Run("bad: entries beyond skew are not counted but kept", func(t *testing.T) {
		tr := NewTracker(0)
		tr.Record("c1", tx("c1", "M1", "USA", "10", base.Add(10*time.Second)))

		assert.Equal(t, 0, tr.RecentTransactionCount("c1", base, window))
		assert.Len(t, tr.cards["c1"].timestamps, 1)
	})

	t.Run("happy: cards are isolated", func(t *testing.T) {
		tr := NewTracker(0)
		tr.Record("c1", tx("c1", "M1", "USA", "10", base))

		assert.Equal(t, 0, tr.RecentTransactionCount("c2", base, window))
	})
}

func TestTracker_LastCountry(t *testing.T) {
	tr := NewTracker(0)
	tr.Record("c1", tx("c1", "M1", "USA", "10", base))
	tr.Record("c1", tx("c1", "M1", "Canada", "10", base.Add(time.Second)))

	country, ok := tr.LastCountry("c1")
	assert.True(t, ok)
	assert.Equal(t, "Canada", country)
}

func TestTracker_HasSimilar(t *testing.T) {
	window := 5 * time.Minute

	tests := []struct {
		name     string
		merchant string
		amount   string
		at       time.Time
		want     bool
	}{
		{"happy: same merchant and amount", "M1", "49.99", base.Add(time.Minute), true},
		{"happy: equal amount with different scale", "M1", "49.990", base.Add(time.Minute), true},
		{"bad: different merchant", "M2", "49.99", base.Add(time.Minute), false},
		{"bad: different amount", "M1", "50.00", base.Add(time.Minute), false},
		{"bad: outside window", "M1", "49.99", base.Add(window + time.Second), false},
		{"happy: at window edge", "M1", "49.99", base.Add(window), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker(0)
			tr.Record("c1", tx("c1", "M1", "USA", "49.99", base))

			got := tr.HasSimilar("c1", tc.merchant, decimal.RequireFromString(tc.amount), tc.at, window)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTracker_HasSimilarEvicts(t *testing.T) {
	tr := NewTracker(0)
	tr.Record("c1", tx("c1", "M1", "USA", "10", base))
	tr.Record("c1", tx("c1", "M2", "USA", "20", base.Add(4*time.Minute)))

	assert.False(t, tr.HasSimilar("c1", "M1", decimal.NewFromInt(10), base.Add(6*time.Minute), 5*time.Minute))
	assert.Len(t, tr.cards["c1"].purchases, 1)
	assert.Equal(t, 1, tr.Cards())
}

func TestTracker_DropsExpiredCards(t *testing.T) {
	window := 30 * time.Second
	dupWindow := 5 * time.Minute

	tr := NewTracker(0)
	tr.Record("c1", tx("c1", "M1", "USA", "10", base))
	tr.Record("c2", tx("c2", "M1", "France", "10", base.Add(5*time.Minute)))
	assert.Equal(t, 2, tr.Cards())

	t.Run("happy: card kept while one window still holds entries", func(t *testing.T) {
		later := base.Add(time.Minute)
		assert.Equal(t, 0, tr.RecentTransactionCount("c1", later, window))
		assert.Equal(t, 2, tr.Cards())
	})

	t.Run("happy: card dropped once both windows are empty", func(t *testing.T) {
		later := base.Add(10 * time.Minute)
		assert.Equal(t, 0, tr.RecentTransactionCount("c1", later, window))
		assert.False(t, tr.HasSimilar("c1", "M1", decimal.NewFromInt(10), later, dupWindow))
		assert.Equal(t, 1, tr.Cards())
		_, held := tr.cards["c1"]
		assert.False(t, held)
	})

	t.Run("happy: last country outlives the windows", func(t *testing.T) {
		country, ok := tr.LastCountry("c1")
		assert.True(t, ok)
		assert.Equal(t, "USA", country)
	})

	t.Run("happy: dropped card starts a fresh window", func(t *testing.T) {
		again := base.Add(11 * time.Minute)
		tr.Record("c1", tx("c1", "M2", "Spain", "25", again))
		assert.Equal(t, 1, tr.RecentTransactionCount("c1", again, window))
		assert.Equal(t, 2, tr.Cards())
	})
}
