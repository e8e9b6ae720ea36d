package source

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/anyulbade/card-fraud-monitor/internal/dto"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

type RabbitMQConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// RabbitMQ consumes a durable queue with manual acknowledgements. Commit
// acks every delivery received so far in one multiple-ack.
type RabbitMQ struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	acks       ackTracker
}

func NewRabbitMQ(cfg RabbitMQConfig) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set rabbitmq qos: %w", err)
		}
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}

	deliveries, err := ch.Consume(cfg.Queue, "fraud-processor", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume queue %s: %w", cfg.Queue, err)
	}

	log.Info().Str("queue", cfg.Queue).Int("prefetch", cfg.Prefetch).Msg("rabbitmq source configured")

	return &RabbitMQ{conn: conn, ch: ch, deliveries: deliveries}, nil
}

func (r *RabbitMQ) Pull(ctx context.Context, wait time.Duration) (model.Transaction, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case d, open := <-r.deliveries:
		if !open {
			return model.Transaction{}, false, ErrClosed
		}
		r.acks.received(d.DeliveryTag)

		tx, err := dto.DecodeTransaction(d.Body)
		if err != nil {
			return model.Transaction{}, false, fmt.Errorf("%w: delivery %d: %v", ErrMalformedMessage, d.DeliveryTag, err)
		}
		return tx, true, nil
	case <-timer.C:
		return model.Transaction{}, false, nil
	case <-ctx.Done():
		return model.Transaction{}, false, ctx.Err()
	}
}

func (r *RabbitMQ) Commit(_ context.Context) error {
	return r.acks.ack(func(tag uint64) error {
		if err := r.ch.Ack(tag, true); err != nil {
			return fmt.Errorf("ack deliveries up to %d: %w", tag, err)
		}
		return nil
	})
}

func (r *RabbitMQ) Close() error {
	if err := r.ch.Close(); err != nil {
		r.conn.Close()
		return fmt.Errorf("close rabbitmq channel: %w", err)
	}
	return r.conn.Close()
}

// PublishTransaction sends tx to queue on ch as a persistent JSON message.
// The simulator uses it to feed a broker instead of the in-process queue.
func PublishTransaction(ctx context.Context, ch *amqp.Channel, queue string, tx model.Transaction) error {
	body, err := dto.EncodeTransaction(tx)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    tx.ID,
		Timestamp:    tx.Timestamp,
		Body:         body,
	})
}
