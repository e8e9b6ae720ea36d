// Package rules scores card transactions against a fixed, ordered list of
// heuristic fraud rules.
package rules

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/anyulbade/card-fraud-monitor/internal/history"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrRuleFailed         = errors.New("rule evaluation failed")
)

var maxScore = decimal.NewFromInt(1)

// Engine evaluates transactions against its rules and keeps the card
// history they depend on. An Engine must be driven by a single goroutine.
type Engine struct {
	rules   []Rule
	history *history.Tracker
}

func NewEngine(cfg Config, tracker *history.Tracker) *Engine {
	return &Engine{
		rules:   DefaultRules(cfg),
		history: tracker,
	}
}

// RuleNames lists the rules in evaluation order.
func (e *Engine) RuleNames() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}

// TrackedCards reports how many cards the engine's history holds.
func (e *Engine) TrackedCards() int {
	return e.history.Cards()
}

// Evaluate scores tx and then records it into history. Weights of fired
// rules are summed and clamped to 1. A transaction that fails validation or
// makes a rule fail is not recorded.
func (e *Engine) Evaluate(tx model.Transaction) (model.Verdict, error) {
	if err := tx.Validate(); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	verdict := model.Verdict{
		Reasons:    []string{},
		FiredRules: []string{},
	}
	sum := decimal.Zero

	for _, r := range e.rules {
		reason, fired, err := e.check(r, tx)
		if err != nil {
			return model.Verdict{}, err
		}
		if !fired {
			continue
		}
		verdict.Reasons = append(verdict.Reasons, reason)
		verdict.FiredRules = append(verdict.FiredRules, r.Name)
		sum = sum.Add(r.Weight)
	}

	if sum.GreaterThan(maxScore) {
		sum = maxScore
	}
	verdict.Score = sum.InexactFloat64()

	e.history.Record(tx.CardNumber, tx)

	return verdict, nil
}

func (e *Engine) check(r Rule, tx model.Transaction) (reason string, fired bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &RuleError{Rule: r.Name, Cause: fmt.Errorf("panic: %v", p)}
		}
	}()
	reason, fired = r.Check(tx, e.history)
	return reason, fired, nil
}

// RuleError names the rule that failed on a transaction.
type RuleError struct {
	Rule  string
	Cause error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Cause)
}

func (e *RuleError) Unwrap() []error {
	return []error{ErrRuleFailed, e.Cause}
}
