package simulator

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"github.com/anyulbade/card-fraud-monitor/internal/dto"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/source"
)

var ErrQueueFull = errors.New("queue full")

type Sink func(context.Context, model.Transaction) error

// QueueSink offers transactions to q without blocking the generator.
func QueueSink(q *source.Queue) Sink {
	return func(_ context.Context, tx model.Transaction) error {
		if !q.TryPush(tx) {
			return fmt.Errorf("%w: %d/%d", ErrQueueFull, q.Len(), q.Cap())
		}
		return nil
	}
}

// KafkaSink publishes JSON transactions keyed by card so a card's events
// stay on one partition.
func KafkaSink(w *kafka.Writer) Sink {
	return func(ctx context.Context, tx model.Transaction) error {
		body, err := dto.EncodeTransaction(tx)
		if err != nil {
			return err
		}
		return w.WriteMessages(ctx, kafka.Message{Key: []byte(tx.CardNumber), Value: body})
	}
}

func RabbitMQSink(ch *amqp.Channel, queue string) Sink {
	return func(ctx context.Context, tx model.Transaction) error {
		return source.PublishTransaction(ctx, ch, queue, tx)
	}
}
