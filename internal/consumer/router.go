package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/anyulbade/card-fraud-monitor/internal/metrics"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/source"
)

var ErrRouterStopped = errors.New("router already stopped")

// ShardFactory builds the consumer for one shard reading from in. The
// router turns on IdleFlush for every shard it builds.
type ShardFactory func(shard int, in source.Source) *Consumer

// Router fans a single upstream source out to per-shard consumers. A card
// always maps to the same shard, so each card's history is only ever touched
// by one goroutine. A stopped router closes its shard queues and cannot be
// started again.
type Router struct {
	upstream    source.Source
	queues      []*source.Queue
	shards      []*Consumer
	pullTimeout time.Duration
	logger      zerolog.Logger

	routed    int64
	committed int64

	mu      sync.Mutex
	running bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

func NewRouter(upstream source.Source, shards, queueCapacity int, pullTimeout time.Duration, factory ShardFactory) *Router {
	if shards < 1 {
		shards = 1
	}
	if pullTimeout <= 0 {
		pullTimeout = time.Second
	}

	r := &Router{
		upstream:    upstream,
		queues:      make([]*source.Queue, shards),
		shards:      make([]*Consumer, shards),
		pullTimeout: pullTimeout,
		logger:      log.With().Str("component", "router").Logger(),
	}
	for i := range r.shards {
		r.queues[i] = source.NewQueue(queueCapacity)
		r.shards[i] = factory(i, r.queues[i])
		// upstream is only committed once every shard is empty, so a shard
		// must not sit on a partial batch while upstream waits for that commit
		r.shards[i].opts.IdleFlush = true
	}
	return r
}

// ShardFor maps a card to a shard index in [0, n).
func ShardFor(card string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(card) % uint64(n))
}

func (r *Router) Shards() []*Consumer {
	return r.shards
}

func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}
	if r.stopped {
		return ErrRouterStopped
	}

	for i, s := range r.shards {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start shard %d: %w", i, err)
		}
	}

	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.route(ctx, r.stop, r.done)

	r.logger.Info().Int("shards", len(r.shards)).Msg("router started")
	return nil
}

// Stop ends routing, hands anything an in-memory upstream still holds to
// the shards, then drains every shard concurrently. Upstream is committed
// only when everything routed was persisted.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.stopped = true
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.drainUpstream(ctx)
	for _, q := range r.queues {
		_ = q.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range r.shards {
		s := s
		g.Go(func() error {
			return s.Stop(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("stop shards: %w", err)
	}

	var errs []error
	for i, s := range r.shards {
		if err := s.Err(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if !r.persisted() {
		return fmt.Errorf("%d routed transactions not persisted, upstream left uncommitted", r.routed-r.handled())
	}
	if r.routed != r.committed {
		r.commit(ctx)
	}
	r.logger.Info().Int64("routed", r.routed).Msg("router stopped")
	return nil
}

// drainUpstream routes what a Buffered upstream still holds. Producers must
// have stopped, so only the transactions present at entry are pulled.
func (r *Router) drainUpstream(ctx context.Context) {
	buf, ok := r.upstream.(source.Buffered)
	if !ok {
		return
	}
	for n := buf.Len(); n > 0; n-- {
		tx, ok, err := r.upstream.Pull(ctx, 0)
		if errors.Is(err, source.ErrClosed) {
			return
		}
		if err != nil {
			r.reject(err)
			continue
		}
		if ok {
			r.dispatch(ctx, tx)
		}
	}
}

func (r *Router) route(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		tx, ok, err := r.upstream.Pull(ctx, r.pullTimeout)
		switch {
		case errors.Is(err, source.ErrClosed):
			r.logger.Info().Msg("upstream closed")
			select {
			case <-stop:
			case <-ctx.Done():
			}
			return
		case err != nil:
			if ctx.Err() == nil {
				r.reject(err)
			}
			continue
		case !ok:
			r.maybeCommit(ctx)
			continue
		}

		r.dispatch(ctx, tx)
		r.maybeCommit(ctx)
	}
}

func (r *Router) dispatch(ctx context.Context, tx model.Transaction) {
	shard := ShardFor(tx.CardNumber, len(r.queues))
	if err := r.queues[shard].Push(ctx, tx); err != nil {
		r.logger.Warn().Err(err).Str("transaction_id", tx.ID).Int("shard", shard).Msg("route failed")
		return
	}
	r.routed++
}

func (r *Router) reject(err error) {
	reason := "source"
	if errors.Is(err, source.ErrMalformedMessage) {
		reason = "malformed"
	}
	metrics.TransactionsRejected.WithLabelValues(reason).Inc()
	r.logger.Warn().Err(err).Msg("upstream pull failed")
}

func (r *Router) handled() int64 {
	var n int64
	for _, s := range r.shards {
		n += s.Handled()
	}
	return n
}

// persisted reports whether every routed transaction was handled by its
// shard and no shard holds unflushed transactions.
func (r *Router) persisted() bool {
	if r.handled() != r.routed {
		return false
	}
	for _, s := range r.shards {
		if s.Pending() > 0 {
			return false
		}
	}
	return true
}

// maybeCommit commits upstream once everything routed so far has been
// handled by its shard and no shard holds unpersisted transactions.
func (r *Router) maybeCommit(ctx context.Context) {
	if r.routed == r.committed || !r.persisted() {
		return
	}
	r.commit(ctx)
}

func (r *Router) commit(ctx context.Context) {
	committer, ok := r.upstream.(source.Committer)
	if !ok {
		r.committed = r.routed
		return
	}
	if err := committer.Commit(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("upstream commit failed")
		return
	}
	r.committed = r.routed
}
