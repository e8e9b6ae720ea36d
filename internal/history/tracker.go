// Package history keeps the short-horizon per-card state the fraud rules
// consult: recent timestamps, the last seen country and recently seen
// (merchant, amount) pairs.
//
// A Tracker is not safe for concurrent use. Each consumer shard owns its own
// tracker so that every card's updates are applied in order by one goroutine.
package history

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

// DefaultClockSkew is how far past the queried instant a recorded entry may
// lie and still count, covering small reordering between producers.
const DefaultClockSkew = 2 * time.Second

type purchase struct {
	merchantID string
	amount     decimal.Decimal
	at         time.Time
}

type cardState struct {
	timestamps []time.Time
	purchases  []purchase
}

func (st *cardState) empty() bool {
	return len(st.timestamps) == 0 && len(st.purchases) == 0
}

// Tracker holds the windowed history of every card it has recorded. A card
// whose windows have fully expired is dropped on its next query; only its
// last country is kept.
type Tracker struct {
	cards     map[string]*cardState
	countries map[string]string
	skew      time.Duration
}

// NewTracker returns an empty tracker. Entries timestamped up to skew after
// the queried instant are still treated as inside the window, so slightly
// out-of-order deliveries are not lost.
func NewTracker(skew time.Duration) *Tracker {
	if skew < 0 {
		skew = 0
	}
	return &Tracker{
		cards:     make(map[string]*cardState),
		countries: make(map[string]string),
		skew:      skew,
	}
}

// RecentTransactionCount returns how many recorded timestamps for card fall
// within [asOf-window, asOf]. Timestamps older than the window are evicted.
func (t *Tracker) RecentTransactionCount(card string, asOf time.Time, window time.Duration) int {
	st, ok := t.cards[card]
	if !ok {
		return 0
	}

	cutoff := asOf.Add(-window)
	upper := asOf.Add(t.skew)

	kept := st.timestamps[:0]
	count := 0
	for _, ts := range st.timestamps {
		if ts.Before(cutoff) {
			continue
		}
		kept = append(kept, ts)
		if !ts.After(upper) {
			count++
		}
	}
	st.timestamps = compact(kept)
	t.release(card, st)

	return count
}

func (t *Tracker) LastCountry(card string) (string, bool) {
	country, ok := t.countries[card]
	if !ok || country == "" {
		return "", false
	}
	return country, true
}

// HasSimilar reports whether card already spent the same amount at the same
// merchant within window before asOf. Pairs older than the window are evicted.
func (t *Tracker) HasSimilar(card, merchantID string, amount decimal.Decimal, asOf time.Time, window time.Duration) bool {
	st, ok := t.cards[card]
	if !ok {
		return false
	}

	cutoff := asOf.Add(-window)
	upper := asOf.Add(t.skew)

	kept := st.purchases[:0]
	found := false
	for _, p := range st.purchases {
		if p.at.Before(cutoff) {
			continue
		}
		kept = append(kept, p)
		if !found && !p.at.After(upper) && p.merchantID == merchantID && p.amount.Equal(amount) {
			found = true
		}
	}
	if len(kept) == 0 {
		st.purchases = nil
	} else {
		st.purchases = kept
	}
	t.release(card, st)

	return found
}

// Record stores tx as the newest activity for card. The last country is
// overwritten unconditionally.
func (t *Tracker) Record(card string, tx model.Transaction) {
	st, ok := t.cards[card]
	if !ok {
		st = &cardState{}
		t.cards[card] = st
	}

	st.timestamps = append(st.timestamps, tx.Timestamp)
	st.purchases = append(st.purchases, purchase{
		merchantID: tx.MerchantID,
		amount:     tx.Amount,
		at:         tx.Timestamp,
	})
	t.countries[card] = tx.Country
}

// Cards is the number of cards with unexpired window entries.
func (t *Tracker) Cards() int {
	return len(t.cards)
}

func (t *Tracker) release(card string, st *cardState) {
	if st.empty() {
		delete(t.cards, card)
	}
}

func compact(ts []time.Time) []time.Time {
	if len(ts) == 0 {
		return nil
	}
	return ts
}
