package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

var validate = validator.New()

var ErrNegativeAmount = errors.New("amount must not be negative")

// TransactionMessage is the JSON shape transactions take on a broker.
// Amount is a pointer so a missing amount is distinguishable from zero.
type TransactionMessage struct {
	TransactionID    string           `json:"transaction_id" validate:"required"`
	Timestamp        string           `json:"timestamp" validate:"required"`
	CardNumber       string           `json:"card_number" validate:"required"`
	Amount           *decimal.Decimal `json:"amount" validate:"required"`
	MerchantID       string           `json:"merchant_id"`
	MerchantName     string           `json:"merchant_name"`
	MerchantCategory string           `json:"merchant_category"`
	Country          string           `json:"country" validate:"required"`
	City             string           `json:"city"`
	Latitude         *float64         `json:"latitude"`
	Longitude        *float64         `json:"longitude"`
}

// Accepted timestamp layouts. Producers without zone information are read
// as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// DecodeTransaction parses and validates one broker payload.
func DecodeTransaction(payload []byte) (model.Transaction, error) {
	var msg TransactionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return model.Transaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	return msg.ToModel()
}

func (m TransactionMessage) ToModel() (model.Transaction, error) {
	if err := validate.Struct(m); err != nil {
		return model.Transaction{}, fmt.Errorf("validate transaction %q: %w", m.TransactionID, err)
	}

	if m.Amount.IsNegative() {
		return model.Transaction{}, fmt.Errorf("transaction %q: %w", m.TransactionID, ErrNegativeAmount)
	}

	ts, err := ParseTimestamp(m.Timestamp)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("transaction %q: %w", m.TransactionID, err)
	}

	tx := model.Transaction{
		ID:               m.TransactionID,
		Timestamp:        ts,
		CardNumber:       m.CardNumber,
		Amount:           *m.Amount,
		MerchantID:       m.MerchantID,
		MerchantName:     m.MerchantName,
		MerchantCategory: m.MerchantCategory,
		Country:          m.Country,
		City:             m.City,
		Latitude:         m.Latitude,
		Longitude:        m.Longitude,
	}
	if err := tx.Validate(); err != nil {
		return model.Transaction{}, fmt.Errorf("transaction %q: %w", m.TransactionID, err)
	}
	return tx, nil
}

// EncodeTransaction is the inverse of DecodeTransaction, used by producers.
func EncodeTransaction(tx model.Transaction) ([]byte, error) {
	amount := tx.Amount
	return json.Marshal(TransactionMessage{
		TransactionID:    tx.ID,
		Timestamp:        tx.Timestamp.Format(time.RFC3339Nano),
		CardNumber:       tx.CardNumber,
		Amount:           &amount,
		MerchantID:       tx.MerchantID,
		MerchantName:     tx.MerchantName,
		MerchantCategory: tx.MerchantCategory,
		Country:          tx.Country,
		City:             tx.City,
		Latitude:         tx.Latitude,
		Longitude:        tx.Longitude,
	})
}
