package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anyulbade/card-fraud-monitor/internal/alert"
	"github.com/anyulbade/card-fraud-monitor/internal/config"
	"github.com/anyulbade/card-fraud-monitor/internal/consumer"
	"github.com/anyulbade/card-fraud-monitor/internal/database"
	"github.com/anyulbade/card-fraud-monitor/internal/handler"
	"github.com/anyulbade/card-fraud-monitor/internal/history"
	"github.com/anyulbade/card-fraud-monitor/internal/maintenance"
	"github.com/anyulbade/card-fraud-monitor/internal/middleware"
	"github.com/anyulbade/card-fraud-monitor/internal/repository"
	"github.com/anyulbade/card-fraud-monitor/internal/rules"
	"github.com/anyulbade/card-fraud-monitor/internal/simulator"
	"github.com/anyulbade/card-fraud-monitor/internal/source"
)

// pipeline is either a single consumer or a sharded router.
type pipeline interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type storage interface {
	consumer.Gateway
	maintenance.Store
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg := config.Load()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, pool := openStorage(cfg)
	if pool != nil {
		defer pool.Close()
	}

	src, queue := openSource(cfg)

	dispatcher := alert.NewDispatcher(alert.DispatcherOptions{
		QueueSize:   cfg.AlertQueueSize,
		SendTimeout: cfg.AlertTimeout,
	}, alerters(cfg)...)

	pipe, state := buildPipeline(cfg, src, gateway, dispatcher)

	// runCtx is cancelled only after the pipeline drained
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if err := pipe.Start(runCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start pipeline")
	}

	simDone := make(chan struct{})
	if queue != nil {
		go func() {
			defer close(simDone)
			gen := simulator.NewGenerator(simulator.Options{
				FraudProbability: cfg.FraudProbability,
				Seed:             cfg.SimulatorSeed,
			})
			_ = gen.Run(ctx, cfg.TransactionFrequency, simulator.QueueSink(queue))
		}()
	} else {
		close(simDone)
	}

	upkeep := maintenance.New(gateway, maintenance.Options{
		RetentionDays:     cfg.RetentionDays,
		RetentionInterval: cfg.RetentionInterval,
		HealthInterval:    cfg.HealthCheckInterval,
	})
	upkeepDone := make(chan struct{})
	go func() {
		defer close(upkeepDone)
		upkeep.Run(ctx)
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      processorRouter(cfg, pool, queue, state),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.MetricsPort).Msg("starting processor api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("processor api failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down processor")

	<-simDone
	<-upkeepDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("processor api forced to shutdown")
	}
	if queue != nil {
		_ = queue.Close()
	}
	if err := pipe.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("pipeline did not stop cleanly")
	}
	cancelRun()

	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("alerts not fully delivered")
	}
	if c, ok := src.(io.Closer); ok && queue == nil {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("close source")
		}
	}

	log.Info().Msg("processor exited")
}

func openStorage(cfg *config.Config) (storage, *pgxpool.Pool) {
	if cfg.StorageBackend == config.StorageMemory {
		log.Warn().Msg("using in-memory storage, results are lost on exit")
		return repository.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL()); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}
	return repository.NewTransactionRepository(pool), pool
}

// openSource returns the configured source. The queue is non-nil only for
// the in-process simulator feed.
func openSource(cfg *config.Config) (source.Source, *source.Queue) {
	switch cfg.Source {
	case config.SourceKafka:
		return source.NewKafka(source.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroup,
		}), nil
	case config.SourceRabbitMQ:
		r, err := source.NewRabbitMQ(source.RabbitMQConfig{
			URL:      cfg.RabbitMQURL,
			Queue:    cfg.RabbitMQQueue,
			Prefetch: cfg.RabbitMQPrefetch,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}
		return r, nil
	default:
		q := source.NewQueue(cfg.QueueCapacity)
		return q, q
	}
}

func alerters(cfg *config.Config) []alert.Alerter {
	out := []alert.Alerter{alert.LogAlerter{}}

	if cfg.TelegramEnabled() {
		out = append(out, alert.NewTelegramAlerter(cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.EmailEnabled() {
		out = append(out, alert.NewEmailAlerter(alert.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.AlertEmailFrom,
			To:       cfg.AlertEmailTo,
		}))
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		out = append(out, alert.NewRedisStreamAlerter(client, cfg.RedisAlertStream))
	}
	if cfg.KafkaAlertsTopic != "" {
		out = append(out, alert.NewKafkaAlerter(cfg.KafkaBrokers, cfg.KafkaAlertsTopic))
	}
	return out
}

func buildPipeline(cfg *config.Config, src source.Source, gw consumer.Gateway, n consumer.Notifier) (pipeline, func() string) {
	newShard := func(shard int, in source.Source) *consumer.Consumer {
		engine := rules.NewEngine(cfg.Rules(), history.NewTracker(cfg.HistoryClockSkew))
		// a broker stops delivering at its prefetch window, so a partial
		// batch must not wait for the threshold
		return consumer.New(in, engine, gw, n, consumer.Options{
			BatchSize:    cfg.BatchSize,
			PullTimeout:  cfg.PullTimeout,
			FlushTimeout: cfg.FlushTimeout,
			Shard:        shard,
			IdleFlush:    true,
		})
	}

	if cfg.WorkerShards == 1 {
		c := newShard(0, src)
		return c, func() string { return c.State().String() }
	}

	r := consumer.NewRouter(src, cfg.WorkerShards, cfg.QueueCapacity, cfg.PullTimeout, newShard)
	return r, func() string {
		states := ""
		for i, s := range r.Shards() {
			if i > 0 {
				states += ","
			}
			states += strconv.Itoa(i) + ":" + s.State().String()
		}
		return states
	}
}

func processorRouter(cfg *config.Config, pool *pgxpool.Pool, queue *source.Queue, state func() string) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Logger("processor"))
	router.Use(middleware.ErrorHandler())
	router.Use(gin.Recovery())

	var db handler.Pinger
	if pool != nil {
		db = pool
	}
	health := handler.NewHealthHandler(db).WithState("consumer", state)
	router.GET("/health", health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if queue != nil {
		api := router.Group("/api/v1")
		api.Use(middleware.APIKey(cfg.APIKey))
		handler.RegisterIngestRoutes(api, queue, cfg.PullTimeout)
	}
	return router
}
