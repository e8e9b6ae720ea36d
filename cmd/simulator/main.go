package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/anyulbade/card-fraud-monitor/internal/config"
	"github.com/anyulbade/card-fraud-monitor/internal/simulator"
)

// The simulator publishes synthetic transactions to the broker named by
// SOURCE so a processor can consume them from there.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg := config.Load()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink simulator.Sink
	switch cfg.Source {
	case config.SourceKafka:
		w := &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Topic:                  cfg.KafkaTopic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
		defer w.Close()
		sink = simulator.KafkaSink(w)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing to kafka")

	case config.SourceRabbitMQ:
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open rabbitmq channel")
		}
		defer ch.Close()

		if _, err := ch.QueueDeclare(cfg.RabbitMQQueue, true, false, false, false, nil); err != nil {
			log.Fatal().Err(err).Str("queue", cfg.RabbitMQQueue).Msg("failed to declare queue")
		}
		sink = simulator.RabbitMQSink(ch, cfg.RabbitMQQueue)
		log.Info().Str("queue", cfg.RabbitMQQueue).Msg("publishing to rabbitmq")

	default:
		log.Fatal().Str("source", cfg.Source).Msg("SOURCE must be kafka or rabbitmq for the standalone simulator")
	}

	gen := simulator.NewGenerator(simulator.Options{
		FraudProbability: cfg.FraudProbability,
		Seed:             cfg.SimulatorSeed,
	})
	if err := gen.Run(ctx, cfg.TransactionFrequency, sink); err != nil {
		log.Error().Err(err).Msg("simulator failed")
	}
}
