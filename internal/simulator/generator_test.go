package simulator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyulbade/card-fraud-monitor/internal/history"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/rules"
	"github.com/anyulbade/card-fraud-monitor/internal/source"
)

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newGenerator(prob float64) *Generator {
	return NewGenerator(Options{
		Cards:            20,
		Merchants:        10,
		FraudProbability: prob,
		Seed:             42,
		Now:              func() time.Time { return fixedNow },
	})
}

func TestMaskCard(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"4111111111111111", "4111********1111"},
		{"4111-1111-1111-1111", "4111********1111"},
		{"378282246310005", "3782*******0005"},
		{"1234", "1234"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, MaskCard(tc.in))
	}
}

func TestGenerator_NormalTransactionsAreValid(t *testing.T) {
	g := newGenerator(0)

	for i := 0; i < 200; i++ {
		tx := g.Next()
		require.NoError(t, tx.Validate())
		assert.Contains(t, []string{"USA"}, tx.Country)
		assert.True(t, strings.Contains(tx.CardNumber, "****"), "card %s must be masked", tx.CardNumber)
		assert.True(t, tx.Amount.IsPositive())
		assert.NotEmpty(t, tx.MerchantCategory)
		assert.NotNil(t, tx.Latitude)
	}
}

func TestGenerator_PatternsTriggerRules(t *testing.T) {
	tests := []struct {
		pattern string
		rule    string
	}{
		{PatternHighAmount, rules.HighAmount},
		{PatternForeignCountry, rules.UnusualLocation},
		{PatternRapid, rules.RapidTransactions},
		{PatternMidnight, rules.LateNightSpending},
		{PatternDuplicate, rules.DuplicateTransaction},
	}

	for _, tc := range tests {
		t.Run(tc.pattern, func(t *testing.T) {
			g := newGenerator(0)
			engine := rules.NewEngine(rules.DefaultConfig(), history.NewTracker(0))

			// warm every card so location changes are visible
			for _, card := range g.cards {
				warm := g.normal()
				warm.CardNumber = card
				warm.Country = g.home[card].Country
				warm.Timestamp = fixedNow.Add(-time.Hour)
				_, err := engine.Evaluate(warm)
				require.NoError(t, err)
			}

			fired := map[string]bool{}
			first := g.Pattern(tc.pattern)
			txns := []model.Transaction{first}
			for len(g.pending) > 0 {
				txns = append(txns, g.Next())
			}
			for _, tx := range txns {
				v, err := engine.Evaluate(tx)
				require.NoError(t, err)
				for _, r := range v.FiredRules {
					fired[r] = true
				}
			}
			assert.True(t, fired[tc.rule], "pattern %s should fire %s, fired %v", tc.pattern, tc.rule, fired)
		})
	}
}

func TestGenerator_FraudProbability(t *testing.T) {
	g := newGenerator(1)
	tx := g.Next()
	require.NoError(t, tx.Validate())
}

func TestGenerator_RunIntoQueue(t *testing.T) {
	g := newGenerator(0)
	q := source.NewQueue(3)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, g.Run(ctx, 5*time.Millisecond, QueueSink(q)))
	assert.Equal(t, 3, q.Len(), "queue fills up and extra transactions are dropped")
}
