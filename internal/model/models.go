package model

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Transaction is one card payment as delivered by a source. Amount is a
// decimal so duplicate detection compares exact values.
type Transaction struct {
	ID               string          `json:"transaction_id" validate:"required"`
	Timestamp        time.Time       `json:"timestamp" validate:"required"`
	CardNumber       string          `json:"card_number" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
	MerchantID       string          `json:"merchant_id,omitempty"`
	MerchantName     string          `json:"merchant_name,omitempty"`
	MerchantCategory string          `json:"merchant_category,omitempty"`
	Country          string          `json:"country" validate:"required"`
	City             string          `json:"city,omitempty"`
	Latitude         *float64        `json:"latitude,omitempty"`
	Longitude        *float64        `json:"longitude,omitempty"`
}

// Validate checks the fields every rule depends on. Optional merchant and
// location data is never validated.
func (t Transaction) Validate() error {
	if err := validate.Struct(t); err != nil {
		return err
	}
	if t.Amount.IsNegative() {
		return errors.New("amount must not be negative")
	}
	return nil
}

// MerchantLabel is the merchant name, falling back to its id.
func (t Transaction) MerchantLabel() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.MerchantID
}

type Verdict struct {
	Reasons    []string `json:"fraud_reasons"`
	FiredRules []string `json:"fired_rules"`
	Score      float64  `json:"fraud_score"`
}

func (v Verdict) IsFraudulent() bool {
	return len(v.Reasons) > 0
}

// AnnotatedTransaction is a transaction after scoring. It is what the
// batcher persists and what alert channels receive.
type AnnotatedTransaction struct {
	Transaction
	IsFraudulent bool     `json:"is_fraudulent"`
	FraudReasons []string `json:"fraud_reasons,omitempty"`
	FraudScore   float64  `json:"fraud_score"`
	FiredRules   []string `json:"fired_rules,omitempty"`
}

func Annotate(tx Transaction, v Verdict) AnnotatedTransaction {
	return AnnotatedTransaction{
		Transaction:  tx,
		IsFraudulent: v.IsFraudulent(),
		FraudReasons: v.Reasons,
		FraudScore:   v.Score,
		FiredRules:   v.FiredRules,
	}
}

// Read models returned by the query side.

type FraudRecord struct {
	TransactionID      string    `json:"transaction_id"`
	Timestamp          time.Time `json:"timestamp"`
	CardNumber         string    `json:"card_number"`
	Amount             float64   `json:"amount"`
	MerchantID         string    `json:"merchant_id,omitempty"`
	MerchantName       string    `json:"merchant_name,omitempty"`
	MerchantCategory   string    `json:"merchant_category,omitempty"`
	Country            string    `json:"country"`
	City               string    `json:"city,omitempty"`
	FraudReasons       []string  `json:"fraud_reasons"`
	FraudScore         float64   `json:"fraud_score"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
}

type StoredTransaction struct {
	TransactionID    string    `json:"transaction_id"`
	Timestamp        time.Time `json:"timestamp"`
	CardNumber       string    `json:"card_number"`
	Amount           float64   `json:"amount"`
	MerchantID       string    `json:"merchant_id,omitempty"`
	MerchantName     string    `json:"merchant_name,omitempty"`
	MerchantCategory string    `json:"merchant_category,omitempty"`
	Country          string    `json:"country"`
	City             string    `json:"city,omitempty"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	IsFraudulent     bool      `json:"is_fraudulent"`
	FraudReasons     []string  `json:"fraud_reasons,omitempty"`
	FraudScore       *float64  `json:"fraud_score,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
