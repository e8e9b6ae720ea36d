// Package simulator produces synthetic card transactions, a small share of
// which follow known fraud patterns.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

const (
	PatternHighAmount     = "high_amount"
	PatternForeignCountry = "foreign_country"
	PatternRapid          = "rapid_transactions"
	PatternMidnight       = "midnight_spending"
	PatternDuplicate      = "duplicate"
)

var Patterns = []string{PatternHighAmount, PatternForeignCountry, PatternRapid, PatternMidnight, PatternDuplicate}

type category struct {
	Name      string
	MinAmount float64
	MaxAmount float64
}

var categories = []category{
	{"Grocery", 10, 200},
	{"Restaurant", 15, 150},
	{"Gas Station", 20, 100},
	{"Online Shopping", 10, 500},
	{"Electronics", 50, 2000},
	{"Travel", 100, 3000},
	{"Entertainment", 10, 200},
	{"Healthcare", 20, 500},
	{"Clothing", 20, 300},
	{"Home Improvement", 30, 1000},
}

type location struct {
	Country string
	City    string
	Lat     float64
	Lon     float64
}

var homeLocations = []location{
	{"USA", "New York", 40.7128, -74.0060},
	{"USA", "Los Angeles", 34.0522, -118.2437},
	{"USA", "Chicago", 41.8781, -87.6298},
	{"USA", "Houston", 29.7604, -95.3698},
	{"USA", "Miami", 25.7617, -80.1918},
}

var foreignLocations = []location{
	{"Canada", "Toronto", 43.6532, -79.3832},
	{"United Kingdom", "London", 51.5074, -0.1278},
	{"Nigeria", "Lagos", 6.5244, 3.3792},
	{"Russia", "Moscow", 55.7558, 37.6173},
	{"Brazil", "Sao Paulo", -23.5505, -46.6333},
	{"Indonesia", "Jakarta", -6.2088, 106.8456},
}

type merchant struct {
	ID       string
	Name     string
	Category category
}

type Options struct {
	Cards            int
	Merchants        int
	FraudProbability float64
	Seed             int64
	Now              func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Cards:            100,
		Merchants:        50,
		FraudProbability: 0.05,
		Now:              time.Now,
	}
}

// Generator is not safe for concurrent use.
type Generator struct {
	opts      Options
	rng       *rand.Rand
	cards     []string
	home      map[string]location
	merchants []merchant
	pending   []model.Transaction
}

func NewGenerator(opts Options) *Generator {
	def := DefaultOptions()
	if opts.Cards < 1 {
		opts.Cards = def.Cards
	}
	if opts.Merchants < 1 {
		opts.Merchants = def.Merchants
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := &Generator{
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
		home: make(map[string]location),
	}

	for i := 0; i < opts.Cards; i++ {
		card := MaskCard(faker.CCNumber())
		if _, dup := g.home[card]; dup {
			card = fmt.Sprintf("%s%02d", card[:len(card)-2], i%100)
		}
		g.cards = append(g.cards, card)
		g.home[card] = homeLocations[g.rng.Intn(len(homeLocations))]
	}

	for i := 0; i < opts.Merchants; i++ {
		cat := categories[g.rng.Intn(len(categories))]
		g.merchants = append(g.merchants, merchant{
			ID:       fmt.Sprintf("MERCH_%04d", i+1),
			Name:     fmt.Sprintf("%s %s", faker.LastName(), cat.Name),
			Category: cat,
		})
	}

	log.Info().
		Int("cards", len(g.cards)).
		Int("merchants", len(g.merchants)).
		Float64("fraud_probability", opts.FraudProbability).
		Msg("simulator initialised")

	return g
}

// MaskCard keeps the first and last four digits of a card number.
func MaskCard(number string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if len(digits) < 8 {
		return digits
	}
	return digits[:4] + strings.Repeat("*", len(digits)-8) + digits[len(digits)-4:]
}

// Next returns the next transaction. Burst patterns queue follow-up
// transactions that are returned by subsequent calls.
func (g *Generator) Next() model.Transaction {
	if len(g.pending) > 0 {
		tx := g.pending[0]
		g.pending = g.pending[1:]
		return tx
	}

	if g.rng.Float64() < g.opts.FraudProbability {
		return g.fraud(Patterns[g.rng.Intn(len(Patterns))])
	}
	return g.normal()
}

// Pattern forces a specific fraud pattern. Its follow-up transactions, if
// any, come out of the next calls to Next.
func (g *Generator) Pattern(name string) model.Transaction {
	return g.fraud(name)
}

func (g *Generator) normal() model.Transaction {
	card := g.cards[g.rng.Intn(len(g.cards))]
	m := g.merchants[g.rng.Intn(len(g.merchants))]
	amount := m.Category.MinAmount + g.rng.Float64()*(m.Category.MaxAmount-m.Category.MinAmount)
	return g.build(card, m, decimal.NewFromFloat(amount).Round(2), g.home[card], g.opts.Now())
}

func (g *Generator) fraud(pattern string) model.Transaction {
	tx := g.normal()

	switch pattern {
	case PatternHighAmount:
		tx.Amount = decimal.NewFromFloat(5000 + g.rng.Float64()*10000).Round(2)
	case PatternForeignCountry:
		loc := foreignLocations[g.rng.Intn(len(foreignLocations))]
		tx.Country, tx.City = loc.Country, loc.City
		tx.Latitude, tx.Longitude = coords(loc)
	case PatternRapid:
		for i := 1; i <= 4; i++ {
			follow := g.normal()
			follow.CardNumber = tx.CardNumber
			follow.Country, follow.City = tx.Country, tx.City
			follow.Timestamp = tx.Timestamp.Add(time.Duration(i) * 2 * time.Second)
			g.pending = append(g.pending, follow)
		}
	case PatternMidnight:
		ts := tx.Timestamp
		tx.Timestamp = time.Date(ts.Year(), ts.Month(), ts.Day(), g.rng.Intn(5), g.rng.Intn(60), g.rng.Intn(60), 0, ts.Location())
		tx.Amount = decimal.NewFromFloat(150 + g.rng.Float64()*850).Round(2)
	case PatternDuplicate:
		dup := tx
		dup.ID = uuid.NewString()
		dup.Timestamp = tx.Timestamp.Add(time.Duration(10+g.rng.Intn(50)) * time.Second)
		g.pending = append(g.pending, dup)
	}
	return tx
}

func (g *Generator) build(card string, m merchant, amount decimal.Decimal, loc location, at time.Time) model.Transaction {
	lat, lon := coords(loc)
	return model.Transaction{
		ID:               uuid.NewString(),
		Timestamp:        at,
		CardNumber:       card,
		Amount:           amount,
		MerchantID:       m.ID,
		MerchantName:     m.Name,
		MerchantCategory: m.Category.Name,
		Country:          loc.Country,
		City:             loc.City,
		Latitude:         lat,
		Longitude:        lon,
	}
}

func coords(loc location) (*float64, *float64) {
	lat, lon := loc.Lat, loc.Lon
	return &lat, &lon
}

// Run emits one transaction every interval into sink until ctx ends.
// Transactions the sink refuses are logged and dropped.
func (g *Generator) Run(ctx context.Context, interval time.Duration, sink Sink) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sent, dropped int
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("sent", sent).Int("dropped", dropped).Msg("simulator stopped")
			return nil
		case <-ticker.C:
		}

		tx := g.Next()
		if err := sink(ctx, tx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			dropped++
			log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("simulator dropped transaction")
			continue
		}
		sent++
	}
}
