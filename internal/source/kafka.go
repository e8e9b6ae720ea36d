package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/anyulbade/card-fraud-monitor/internal/dto"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Kafka reads transactions from a consumer-group topic. Offsets are
// committed only through Commit, so anything fetched but not yet persisted
// is redelivered after a restart.
type Kafka struct {
	reader  *kafka.Reader
	offsets *offsetTracker
}

func NewKafka(cfg KafkaConfig) *Kafka {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("group", cfg.GroupID).
		Msg("kafka source configured")

	return &Kafka{
		reader:  reader,
		offsets: newOffsetTracker(),
	}
}

func (k *Kafka) Pull(ctx context.Context, wait time.Duration) (model.Transaction, bool, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msg, err := k.reader.FetchMessage(fetchCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return model.Transaction{}, false, nil
		}
		if errors.Is(err, io.EOF) {
			return model.Transaction{}, false, ErrClosed
		}
		return model.Transaction{}, false, fmt.Errorf("fetch kafka message: %w", err)
	}

	// Malformed payloads are still marked so a commit moves past them.
	k.offsets.track(msg)

	tx, err := dto.DecodeTransaction(msg.Value)
	if err != nil {
		return model.Transaction{}, false, fmt.Errorf("%w: partition %d offset %d: %v",
			ErrMalformedMessage, msg.Partition, msg.Offset, err)
	}
	return tx, true, nil
}

func (k *Kafka) Commit(ctx context.Context) error {
	msgs := k.offsets.snapshot()
	if len(msgs) == 0 {
		return nil
	}
	if err := k.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("commit kafka offsets: %w", err)
	}

	k.offsets.committed(msgs)
	return nil
}

func (k *Kafka) Close() error {
	return k.reader.Close()
}
