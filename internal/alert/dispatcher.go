// Package alert forwards flagged transactions to notification channels.
// Delivery is best effort: a failing channel never holds up the others or
// the consumer that produced the alert.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/sourcegraph/conc"

	"github.com/anyulbade/card-fraud-monitor/internal/metrics"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

// Alerter is one notification channel.
type Alerter interface {
	Name() string
	Send(ctx context.Context, tx model.AnnotatedTransaction) error
}

type DispatcherOptions struct {
	QueueSize   int
	SendTimeout time.Duration
	// consecutive failures before a channel's breaker opens
	TripAfter uint32
	// how long an open breaker rejects sends before a trial send
	CooldownPeriod time.Duration
}

func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		QueueSize:      256,
		SendTimeout:    5 * time.Second,
		TripAfter:      5,
		CooldownPeriod: 30 * time.Second,
	}
}

type channel struct {
	alerter Alerter
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher queues alerts and delivers each one to every channel in
// parallel from a background goroutine.
type Dispatcher struct {
	channels []channel
	opts     DispatcherOptions
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan model.AnnotatedTransaction
	done   chan struct{}
}

func NewDispatcher(opts DispatcherOptions, alerters ...Alerter) *Dispatcher {
	def := DefaultDispatcherOptions()
	if opts.QueueSize < 1 {
		opts.QueueSize = def.QueueSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.TripAfter == 0 {
		opts.TripAfter = def.TripAfter
	}
	if opts.CooldownPeriod <= 0 {
		opts.CooldownPeriod = def.CooldownPeriod
	}

	d := &Dispatcher{
		opts:   opts,
		logger: log.With().Str("component", "alerts").Logger(),
		queue:  make(chan model.AnnotatedTransaction, opts.QueueSize),
		done:   make(chan struct{}),
	}

	for _, a := range alerters {
		tripAfter := opts.TripAfter
		name := a.Name()
		d.channels = append(d.channels, channel{
			alerter: a,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    name,
				Timeout: opts.CooldownPeriod,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= tripAfter
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					d.logger.Warn().Str("channel", name).Str("from", from.String()).Str("to", to.String()).Msg("alert channel breaker changed state")
				},
			}),
		})
	}

	go d.loop()

	names := make([]string, len(d.channels))
	for i, c := range d.channels {
		names[i] = c.alerter.Name()
	}
	d.logger.Info().Strs("channels", names).Int("queue_size", opts.QueueSize).Msg("alert dispatcher started")

	return d
}

// Notify enqueues tx without blocking. When the queue is full the alert is
// dropped and counted.
func (d *Dispatcher) Notify(_ context.Context, tx model.AnnotatedTransaction) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- tx:
	default:
		metrics.AlertsDropped.Inc()
		d.logger.Warn().Str("transaction_id", tx.ID).Msg("alert queue full, dropping alert")
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for tx := range d.queue {
		d.Deliver(context.Background(), tx)
	}
}

// Deliver sends tx to every channel concurrently and waits for all of them.
// The result maps channel name to its error, nil on success.
func (d *Dispatcher) Deliver(ctx context.Context, tx model.AnnotatedTransaction) map[string]error {
	results := make([]error, len(d.channels))

	var wg conc.WaitGroup
	for i, ch := range d.channels {
		i, ch := i, ch
		wg.Go(func() {
			results[i] = d.send(ctx, ch, tx)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		d.logger.Error().Str("transaction_id", tx.ID).Str("panic", r.String()).Msg("alert channel panicked")
	}

	out := make(map[string]error, len(d.channels))
	for i, ch := range d.channels {
		name := ch.alerter.Name()
		err := results[i]
		out[name] = err

		if err != nil {
			metrics.AlertsSent.WithLabelValues(name, metrics.ResultError).Inc()
			d.logger.Warn().Err(err).Str("channel", name).Str("transaction_id", tx.ID).Msg("alert delivery failed")
			continue
		}
		metrics.AlertsSent.WithLabelValues(name, metrics.ResultOK).Inc()
	}
	return out
}

func (d *Dispatcher) send(ctx context.Context, ch channel, tx model.AnnotatedTransaction) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	_, err = ch.breaker.Execute(func() (interface{}, error) {
		return nil, ch.alerter.Send(sendCtx, tx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s skipped: %w", ch.alerter.Name(), err)
	}
	return err
}

// Close stops accepting alerts and waits until the queued ones were
// delivered or ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		for _, ch := range d.channels {
			if c, ok := ch.alerter.(interface{ Close() error }); ok {
				if err := c.Close(); err != nil {
					d.logger.Warn().Err(err).Str("channel", ch.alerter.Name()).Msg("close alert channel")
				}
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
