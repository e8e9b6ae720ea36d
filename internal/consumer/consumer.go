// Package consumer pulls transactions from a source, scores them and
// persists the results in batches with at-least-once semantics.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/anyulbade/card-fraud-monitor/internal/metrics"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/rules"
	"github.com/anyulbade/card-fraud-monitor/internal/source"
)

var ErrAlreadyRunning = errors.New("consumer already running")

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	}
	return "unknown"
}

// Gateway persists batches. Both calls must be idempotent on transaction id
// because a failed flush is retried with the same records.
type Gateway interface {
	InsertTransactions(ctx context.Context, txns []model.AnnotatedTransaction) error
	InsertFraudRecords(ctx context.Context, txns []model.AnnotatedTransaction) error
}

type Evaluator interface {
	Evaluate(tx model.Transaction) (model.Verdict, error)
	TrackedCards() int
}

// Notifier receives flagged transactions. It must not block for long.
type Notifier interface {
	Notify(ctx context.Context, tx model.AnnotatedTransaction)
}

type Options struct {
	BatchSize    int
	PullTimeout  time.Duration
	FlushTimeout time.Duration
	Shard        int
	// IdleFlush also flushes a partial batch whenever a pull times out.
	// Sources that stop delivering until a commit need it.
	IdleFlush bool
}

func DefaultOptions() Options {
	return Options{
		BatchSize:    10,
		PullTimeout:  time.Second,
		FlushTimeout: 10 * time.Second,
	}
}

type Consumer struct {
	src      source.Source
	engine   Evaluator
	gateway  Gateway
	notifier Notifier
	opts     Options
	logger   zerolog.Logger
	shard    string

	batch     Batch
	processed atomic.Int64
	handled   atomic.Int64
	finalErr  error

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

// New builds a stopped consumer. notifier may be nil.
func New(src source.Source, engine Evaluator, gateway Gateway, notifier Notifier, opts Options) *Consumer {
	def := DefaultOptions()
	if opts.BatchSize < 1 {
		opts.BatchSize = def.BatchSize
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = def.PullTimeout
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = def.FlushTimeout
	}

	shard := strconv.Itoa(opts.Shard)
	return &Consumer{
		src:      src,
		engine:   engine,
		gateway:  gateway,
		notifier: notifier,
		opts:     opts,
		shard:    shard,
		logger:   log.With().Str("component", "consumer").Str("shard", shard).Logger(),
	}
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Processed counts transactions that were scored and buffered.
func (c *Consumer) Processed() int64 {
	return c.processed.Load()
}

// Handled counts every transaction pulled, including skipped ones. It is
// incremented only after any flush the transaction triggered.
func (c *Consumer) Handled() int64 {
	return c.handled.Load()
}

// Err is the result of the last final flush. It is only meaningful after
// the consumer stopped.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalErr
}

// Pending is the number of buffered transactions not yet persisted.
func (c *Consumer) Pending() int {
	return c.batch.Len()
}

// Start launches the worker loop. The loop also ends when ctx is cancelled,
// after its final flush.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStopped {
		return ErrAlreadyRunning
	}

	c.state = StateRunning
	c.finalErr = nil
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.run(ctx, c.stop, c.done)

	c.logger.Info().
		Int("batch_size", c.opts.BatchSize).
		Dur("pull_timeout", c.opts.PullTimeout).
		Msg("consumer started")
	return nil
}

// Stop asks the worker to finish its current iteration, empties a Buffered
// source, waits for the final flush and returns. It returns ctx.Err() if ctx expires first; the worker
// still completes in the background.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStopped:
		c.mu.Unlock()
		return nil
	case StateRunning:
		c.state = StateDraining
		close(c.stop)
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the worker has exited.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Consumer) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		c.drain(context.WithoutCancel(ctx))
		err := c.finalFlush(ctx)

		c.mu.Lock()
		c.finalErr = err
		c.state = StateStopped
		c.mu.Unlock()
		close(done)

		c.logger.Info().Int64("processed", c.Processed()).Msg("consumer stopped")
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !c.step(ctx) {
			// source exhausted; idle until told to stop
			select {
			case <-stop:
			case <-ctx.Done():
			}
			return
		}
	}
}

// step runs one pull/evaluate/append cycle. It returns false once the source
// is closed for good.
func (c *Consumer) step(ctx context.Context) bool {
	tx, ok, err := c.src.Pull(ctx, c.opts.PullTimeout)
	switch {
	case errors.Is(err, source.ErrClosed):
		c.logger.Info().Msg("source closed")
		return false
	case err != nil:
		if ctx.Err() == nil {
			reason := "source"
			if errors.Is(err, source.ErrMalformedMessage) {
				reason = "malformed"
			}
			metrics.TransactionsRejected.WithLabelValues(reason).Inc()
			c.logger.Warn().Err(err).Msg("pull failed")
		}
		return true
	case !ok:
		if c.opts.IdleFlush && c.batch.Len() > 0 {
			c.flushWithTimeout(ctx, "idle flush failed, will retry")
		}
		return true
	}

	c.process(ctx, tx)
	c.handled.Add(1)
	return true
}

func (c *Consumer) process(ctx context.Context, tx model.Transaction) {
	verdict, err := c.evaluate(tx)
	if err != nil {
		event := c.logger.Warn().Err(err).Str("transaction_id", tx.ID).Str("card", tx.CardNumber)
		reason := "error"
		var ruleErr *rules.RuleError
		switch {
		case errors.As(err, &ruleErr):
			reason = "rule_failed"
			event = event.Str("rule", ruleErr.Rule)
		case errors.Is(err, rules.ErrInvalidTransaction):
			reason = "invalid"
		}
		metrics.TransactionsRejected.WithLabelValues(reason).Inc()
		event.Msg("transaction skipped")
		return
	}

	annotated := model.Annotate(tx, verdict)
	size := c.batch.Add(annotated)
	c.processed.Add(1)

	metrics.TransactionsProcessed.WithLabelValues(c.shard).Inc()
	metrics.BatchPending.WithLabelValues(c.shard).Set(float64(size))
	metrics.TrackedCards.WithLabelValues(c.shard).Set(float64(c.engine.TrackedCards()))

	if annotated.IsFraudulent {
		for _, r := range verdict.FiredRules {
			metrics.TransactionsFlagged.WithLabelValues(r).Inc()
		}
		metrics.FraudScore.Observe(verdict.Score)

		c.logger.Info().
			Str("transaction_id", tx.ID).
			Str("card", tx.CardNumber).
			Float64("score", verdict.Score).
			Strs("reasons", verdict.Reasons).
			Msg("fraud detected")

		if c.notifier != nil {
			c.notifier.Notify(ctx, annotated)
		}
	}

	if size >= c.opts.BatchSize {
		c.flushWithTimeout(ctx, "flush failed, will retry")
	}
}

func (c *Consumer) flushWithTimeout(ctx context.Context, failMsg string) {
	flushCtx, cancel := context.WithTimeout(ctx, c.opts.FlushTimeout)
	defer cancel()
	if err := c.flush(flushCtx); err != nil {
		c.logger.Warn().Err(err).Int("pending", c.batch.Len()).Msg(failMsg)
	}
}

// drain processes what an in-memory source still holds. Producers must
// have stopped, so only the transactions present at entry are pulled.
func (c *Consumer) drain(ctx context.Context) {
	buf, ok := c.src.(source.Buffered)
	if !ok {
		return
	}

	n := buf.Len()
	before := c.handled.Load()
	for i := 0; i < n; i++ {
		if !c.step(ctx) {
			break
		}
	}
	if drained := c.handled.Load() - before; drained > 0 {
		c.logger.Info().Int64("transactions", drained).Msg("drained source before final flush")
	}
}

// evaluate shields the loop from panics outside individual rule checks.
func (c *Consumer) evaluate(tx model.Transaction) (v model.Verdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &rules.RuleError{Rule: "engine", Cause: fmt.Errorf("panic: %v", p)}
		}
	}()
	return c.engine.Evaluate(tx)
}

// flush writes both buffers. Nothing is discarded unless both writes succeed.
func (c *Consumer) flush(ctx context.Context) error {
	all, fraud := c.batch.Snapshot()
	if len(all) == 0 {
		return nil
	}

	if err := c.gateway.InsertTransactions(ctx, all); err != nil {
		metrics.BatchFlushes.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	if len(fraud) > 0 {
		if err := c.gateway.InsertFraudRecords(ctx, fraud); err != nil {
			metrics.BatchFlushes.WithLabelValues(metrics.ResultError).Inc()
			return err
		}
	}

	c.batch.Discard(len(all), len(fraud))
	metrics.BatchFlushes.WithLabelValues(metrics.ResultOK).Inc()
	metrics.BatchPending.WithLabelValues(c.shard).Set(float64(c.batch.Len()))

	c.logger.Debug().Int("transactions", len(all)).Int("frauds", len(fraud)).Msg("batch flushed")

	if committer, ok := c.src.(source.Committer); ok {
		if err := committer.Commit(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("source commit failed")
		}
	}
	return nil
}

// finalFlush runs once on shutdown. ctx may already be cancelled, so the
// write gets its own deadline.
func (c *Consumer) finalFlush(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FlushTimeout)
	defer cancel()

	pending := c.batch.Len()
	if err := c.flush(flushCtx); err != nil {
		c.logger.Error().Err(err).Int("lost", pending).Msg("final flush failed")
		return err
	}
	if pending > 0 {
		c.logger.Info().Int("transactions", pending).Msg("final flush complete")
	}
	return nil
}
