package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

// Message renders the human readable alert body shared by the text channels.
func Message(tx model.AnnotatedTransaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FRAUD ALERT (score %.2f)\n", tx.FraudScore)
	fmt.Fprintf(&b, "Transaction: %s\n", tx.ID)
	fmt.Fprintf(&b, "Card: %s\n", tx.CardNumber)
	fmt.Fprintf(&b, "Amount: $%s at %s\n", tx.Amount.StringFixed(2), tx.MerchantLabel())
	fmt.Fprintf(&b, "Location: %s", tx.Country)
	if tx.City != "" {
		fmt.Fprintf(&b, ", %s", tx.City)
	}
	fmt.Fprintf(&b, "\nTime: %s\n", tx.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("Reasons:\n")
	for _, r := range tx.FraudReasons {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return b.String()
}

// LogAlerter writes alerts to the process log. It is always enabled.
type LogAlerter struct{}

func (LogAlerter) Name() string { return "log" }

func (LogAlerter) Send(_ context.Context, tx model.AnnotatedTransaction) error {
	log.Warn().
		Str("transaction_id", tx.ID).
		Str("card", tx.CardNumber).
		Str("amount", tx.Amount.StringFixed(2)).
		Float64("score", tx.FraudScore).
		Strs("reasons", tx.FraudReasons).
		Msg("fraud alert")
	return nil
}

const DefaultTelegramURL = "https://api.telegram.org"

// TelegramAlerter posts alerts through the Bot API sendMessage method.
type TelegramAlerter struct {
	client *resty.Client
	token  string
	chatID string
}

func NewTelegramAlerter(baseURL, token, chatID string) *TelegramAlerter {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &TelegramAlerter{
		client: resty.New().SetBaseURL(baseURL).SetHeader("Content-Type", "application/json"),
		token:  token,
		chatID: chatID,
	}
}

func (a *TelegramAlerter) Name() string { return "telegram" }

func (a *TelegramAlerter) Send(ctx context.Context, tx model.AnnotatedTransaction) error {
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": a.chatID, "text": Message(tx)}).
		SetResult(&result).
		SetError(&result).
		Post("/bot" + a.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode(), result.Description)
	}
	return nil
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailAlerter sends plain text alerts over SMTP.
type EmailAlerter struct {
	cfg  EmailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailAlerter(cfg EmailConfig) *EmailAlerter {
	return &EmailAlerter{cfg: cfg, send: smtp.SendMail}
}

func (a *EmailAlerter) Name() string { return "email" }

func (a *EmailAlerter) Send(ctx context.Context, tx model.AnnotatedTransaction) error {
	var auth smtp.Auth
	if a.cfg.Username != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
	}

	subject := fmt.Sprintf("Fraud alert: $%s on %s", tx.Amount.StringFixed(2), tx.CardNumber)
	msg := "From: " + a.cfg.From + "\r\n" +
		"To: " + strings.Join(a.cfg.To, ", ") + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		strings.ReplaceAll(Message(tx), "\n", "\r\n")

	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)

	// smtp.SendMail has no context; run it aside so the dispatcher timeout still applies
	errc := make(chan error, 1)
	go func() { errc <- a.send(addr, auth, a.cfg.From, a.cfg.To, []byte(msg)) }()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email: %w", ctx.Err())
	}
}

// RedisStreamAlerter appends alerts to a capped Redis stream that
// dashboards or downstream workers can read with XREAD.
type RedisStreamAlerter struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamAlerter(client *redis.Client, stream string) *RedisStreamAlerter {
	return &RedisStreamAlerter{client: client, stream: stream, maxLen: 10000}
}

func (a *RedisStreamAlerter) Name() string { return "redis" }

func (a *RedisStreamAlerter) Send(ctx context.Context, tx model.AnnotatedTransaction) error {
	reasons, err := json.Marshal(tx.FraudReasons)
	if err != nil {
		return err
	}
	err = a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: a.stream,
		MaxLen: a.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"transaction_id": tx.ID,
			"card_number":    tx.CardNumber,
			"amount":         tx.Amount.StringFixed(2),
			"country":        tx.Country,
			"fraud_score":    tx.FraudScore,
			"fraud_reasons":  string(reasons),
			"timestamp":      tx.Timestamp.UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", a.stream, err)
	}
	return nil
}

func (a *RedisStreamAlerter) Close() error { return a.client.Close() }

// KafkaAlerter publishes the annotated transaction as JSON to an alerts topic.
type KafkaAlerter struct {
	writer *kafka.Writer
}

func NewKafkaAlerter(brokers []string, topic string) *KafkaAlerter {
	return &KafkaAlerter{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (a *KafkaAlerter) Name() string { return "kafka" }

func (a *KafkaAlerter) Send(ctx context.Context, tx model.AnnotatedTransaction) error {
	body, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	if err := a.writer.WriteMessages(ctx, kafka.Message{Key: []byte(tx.CardNumber), Value: body}); err != nil {
		return fmt.Errorf("kafka alert: %w", err)
	}
	return nil
}

func (a *KafkaAlerter) Close() error { return a.writer.Close() }
