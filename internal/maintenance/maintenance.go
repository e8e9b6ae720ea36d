// Package maintenance runs the periodic housekeeping of the processor:
// deleting stored data past its retention and logging a health summary.
package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/anyulbade/card-fraud-monitor/internal/metrics"
	"github.com/anyulbade/card-fraud-monitor/internal/repository"
)

// Store is implemented by the SQL repository and the in-memory store.
type Store interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (repository.PurgeResult, error)
	ActivitySince(ctx context.Context, since time.Time) (repository.Activity, error)
}

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

var statuses = []Status{StatusHealthy, StatusWarning, StatusCritical}

type Options struct {
	// RetentionDays of zero disables purging.
	RetentionDays     int
	RetentionInterval time.Duration
	HealthInterval    time.Duration
	// HealthWindow is how far back the health check counts activity.
	HealthWindow time.Duration
	Timeout      time.Duration
}

func DefaultOptions() Options {
	return Options{
		RetentionDays:     90,
		RetentionInterval: 24 * time.Hour,
		HealthInterval:    time.Hour,
		HealthWindow:      24 * time.Hour,
		Timeout:           time.Minute,
	}
}

type Health struct {
	Status   Status
	Activity repository.Activity
	Err      error
}

type Scheduler struct {
	store  Store
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

func New(store Store, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.RetentionInterval <= 0 {
		opts.RetentionInterval = def.RetentionInterval
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = def.HealthInterval
	}
	if opts.HealthWindow <= 0 {
		opts.HealthWindow = def.HealthWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Scheduler{
		store:  store,
		opts:   opts,
		now:    time.Now,
		logger: log.With().Str("component", "maintenance").Logger(),
	}
}

// Purge deletes everything timestamped more than RetentionDays ago.
func (s *Scheduler) Purge(ctx context.Context) (repository.PurgeResult, error) {
	if s.opts.RetentionDays <= 0 {
		return repository.PurgeResult{}, nil
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.opts.RetentionDays)
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	res, err := s.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("retention purge failed")
		return res, err
	}

	metrics.RowsPurged.WithLabelValues("transactions").Add(float64(res.Transactions))
	metrics.RowsPurged.WithLabelValues("fraudulent_transactions").Add(float64(res.FraudRecords))
	s.logger.Info().
		Time("cutoff", cutoff).
		Int64("transactions", res.Transactions).
		Int64("fraud_records", res.FraudRecords).
		Msg("retention purge complete")
	return res, nil
}

// CheckHealth is critical when the store cannot be queried and a warning
// when nothing arrived within HealthWindow.
func (s *Scheduler) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	a, err := s.store.ActivitySince(ctx, s.now().Add(-s.opts.HealthWindow))
	h := Health{Status: StatusHealthy, Activity: a, Err: err}
	switch {
	case err != nil:
		h.Status = StatusCritical
	case a.Transactions == 0:
		h.Status = StatusWarning
	}

	for _, st := range statuses {
		v := 0.0
		if st == h.Status {
			v = 1
		}
		metrics.SystemStatus.WithLabelValues(string(st)).Set(v)
	}

	event := s.logger.Info()
	switch h.Status {
	case StatusCritical:
		event = s.logger.Error().Err(err)
	case StatusWarning:
		event = s.logger.Warn()
	}
	event.
		Str("status", string(h.Status)).
		Dur("window", s.opts.HealthWindow).
		Int64("transactions", a.Transactions).
		Int64("frauds", a.Frauds).
		Dur("avg_detection_lag", a.AvgDetectionLag).
		Msg("health check")
	return h
}

// Run performs both tasks once, then on their intervals until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	var wg conc.WaitGroup
	wg.Go(func() {
		every(ctx, s.opts.RetentionInterval, func() { _, _ = s.Purge(ctx) })
	})
	wg.Go(func() {
		every(ctx, s.opts.HealthInterval, func() { s.CheckHealth(ctx) })
	})
	wg.Wait()
}

func every(ctx context.Context, interval time.Duration, task func()) {
	task()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}
