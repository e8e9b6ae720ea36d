package rules

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anyulbade/card-fraud-monitor/internal/history"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

const (
	HighAmount           = "high_amount"
	RapidTransactions    = "rapid_transactions"
	UnusualLocation      = "unusual_location"
	DuplicateTransaction = "duplicate_transaction"
	LateNightSpending    = "late_night_spending"
)

// Rule is one heuristic check. Check returns a reason when it fires.
// Checks only read history; the engine records the transaction afterwards.
type Rule struct {
	Name   string
	Weight decimal.Decimal
	Check  func(tx model.Transaction, h *history.Tracker) (string, bool)
}

// Config holds the tunable parameters of the default rules.
type Config struct {
	HighAmountThreshold      decimal.Decimal
	RapidWindow              time.Duration
	RapidMaxCount            int
	DuplicateWindow          time.Duration
	LateNightStartHour       int
	LateNightEndHour         int
	LateNightAmountThreshold decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		HighAmountThreshold:      decimal.NewFromInt(5000),
		RapidWindow:              30 * time.Second,
		RapidMaxCount:            3,
		DuplicateWindow:          5 * time.Minute,
		LateNightStartHour:       0,
		LateNightEndHour:         5,
		LateNightAmountThreshold: decimal.NewFromInt(100),
	}
}

// DefaultRules returns the five rules in evaluation order. The order is the
// order reasons appear in a verdict.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		{
			Name:   HighAmount,
			Weight: decimal.RequireFromString("0.7"),
			Check: func(tx model.Transaction, _ *history.Tracker) (string, bool) {
				if tx.Amount.LessThan(cfg.HighAmountThreshold) {
					return "", false
				}
				return fmt.Sprintf("High amount: $%s", tx.Amount.StringFixed(2)), true
			},
		},
		{
			Name:   RapidTransactions,
			Weight: decimal.RequireFromString("0.5"),
			Check: func(tx model.Transaction, h *history.Tracker) (string, bool) {
				// the current transaction occupies a slot of its own
				count := h.RecentTransactionCount(tx.CardNumber, tx.Timestamp, cfg.RapidWindow) + 1
				if count <= cfg.RapidMaxCount {
					return "", false
				}
				return fmt.Sprintf("Too many transactions: %d in %d seconds", count, int(cfg.RapidWindow/time.Second)), true
			},
		},
		{
			Name:   UnusualLocation,
			Weight: decimal.RequireFromString("0.8"),
			Check: func(tx model.Transaction, h *history.Tracker) (string, bool) {
				last, ok := h.LastCountry(tx.CardNumber)
				if !ok || last == tx.Country {
					return "", false
				}
				return fmt.Sprintf("Unusual location: %s -> %s", last, tx.Country), true
			},
		},
		{
			Name:   DuplicateTransaction,
			Weight: decimal.RequireFromString("0.9"),
			Check: func(tx model.Transaction, h *history.Tracker) (string, bool) {
				if !h.HasSimilar(tx.CardNumber, tx.MerchantID, tx.Amount, tx.Timestamp, cfg.DuplicateWindow) {
					return "", false
				}
				return fmt.Sprintf("Duplicate transaction: $%s at %s", tx.Amount.StringFixed(2), tx.MerchantLabel()), true
			},
		},
		{
			Name:   LateNightSpending,
			Weight: decimal.RequireFromString("0.3"),
			Check: func(tx model.Transaction, _ *history.Tracker) (string, bool) {
				hour := tx.Timestamp.Hour()
				if hour < cfg.LateNightStartHour || hour >= cfg.LateNightEndHour {
					return "", false
				}
				if !tx.Amount.GreaterThan(cfg.LateNightAmountThreshold) {
					return "", false
				}
				return fmt.Sprintf("Late night spending: $%s at %02d:%02d",
					tx.Amount.StringFixed(2), hour, tx.Timestamp.Minute()), true
			},
		},
	}
}
