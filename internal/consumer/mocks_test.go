package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/source"
)

var errStorageDown = errors.New("storage unavailable")

// fakeGateway records every call. FailTransactions and FailFraud make the
// next N calls of that kind fail. Delay slows every transactions write.
type fakeGateway struct {
	mu               sync.Mutex
	txCalls          [][]model.AnnotatedTransaction
	fraudCalls       [][]model.AnnotatedTransaction
	stored           map[string]bool
	FailTransactions int
	FailFraud        int
	Delay            time.Duration
}

func (g *fakeGateway) InsertTransactions(_ context.Context, txns []model.AnnotatedTransaction) error {
	if g.Delay > 0 {
		time.Sleep(g.Delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.txCalls = append(g.txCalls, append([]model.AnnotatedTransaction(nil), txns...))
	if g.FailTransactions > 0 {
		g.FailTransactions--
		return errStorageDown
	}
	if g.stored == nil {
		g.stored = make(map[string]bool)
	}
	for _, tx := range txns {
		g.stored[tx.ID] = true
	}
	return nil
}

// Stored is the number of distinct transactions written successfully.
func (g *fakeGateway) Stored() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.stored)
}

func (g *fakeGateway) InsertFraudRecords(_ context.Context, txns []model.AnnotatedTransaction) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.fraudCalls = append(g.fraudCalls, append([]model.AnnotatedTransaction(nil), txns...))
	if g.FailFraud > 0 {
		g.FailFraud--
		return errStorageDown
	}
	return nil
}

func (g *fakeGateway) TxCalls() [][]model.AnnotatedTransaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]model.AnnotatedTransaction(nil), g.txCalls...)
}

func (g *fakeGateway) FraudCalls() [][]model.AnnotatedTransaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]model.AnnotatedTransaction(nil), g.fraudCalls...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	seen []model.AnnotatedTransaction
}

func (n *fakeNotifier) Notify(_ context.Context, tx model.AnnotatedTransaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, tx)
}

func (n *fakeNotifier) Seen() []model.AnnotatedTransaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.AnnotatedTransaction(nil), n.seen...)
}

// panicEngine blows up on every evaluation.
type panicEngine struct{}

func (panicEngine) Evaluate(model.Transaction) (model.Verdict, error) {
	panic("corrupt state")
}

func (panicEngine) TrackedCards() int { return 0 }

// committingQueue counts commits on top of an in-process queue.
type committingQueue struct {
	*source.Queue
	mu      sync.Mutex
	commits int
}

func (q *committingQueue) Commit(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.commits++
	return nil
}

func (q *committingQueue) Commits() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.commits
}

// prefetchSource stops delivering once limit transactions are unacked,
// the way a broker with a prefetch window does.
type prefetchSource struct {
	mu        sync.Mutex
	pending   []model.Transaction
	limit     int
	unacked   int
	delivered int
}

func newPrefetchSource(limit int, txns ...model.Transaction) *prefetchSource {
	return &prefetchSource{pending: txns, limit: limit}
}

func (p *prefetchSource) Pull(ctx context.Context, wait time.Duration) (model.Transaction, bool, error) {
	p.mu.Lock()
	if p.unacked < p.limit && len(p.pending) > 0 {
		tx := p.pending[0]
		p.pending = p.pending[1:]
		p.unacked++
		p.delivered++
		p.mu.Unlock()
		return tx, true, nil
	}
	p.mu.Unlock()

	select {
	case <-time.After(wait):
		return model.Transaction{}, false, nil
	case <-ctx.Done():
		return model.Transaction{}, false, ctx.Err()
	}
}

func (p *prefetchSource) Commit(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unacked = 0
	return nil
}

func (p *prefetchSource) Delivered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered
}

// flakySource reports one malformed message before serving its queue.
type flakySource struct {
	*source.Queue
	mu     sync.Mutex
	failed bool
}

func (f *flakySource) Pull(ctx context.Context, wait time.Duration) (model.Transaction, bool, error) {
	f.mu.Lock()
	if !f.failed {
		f.failed = true
		f.mu.Unlock()
		return model.Transaction{}, false, fmt.Errorf("%w: offset 7", source.ErrMalformedMessage)
	}
	f.mu.Unlock()
	return f.Queue.Pull(ctx, wait)
}
