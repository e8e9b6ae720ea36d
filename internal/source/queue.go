package source

import (
	"context"
	"sync"
	"time"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

// Queue is a bounded in-process source. Producers either block on Push or
// drop on TryPush when the queue is full.
type Queue struct {
	ch        chan model.Transaction
	closeOnce sync.Once
	closed    chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan model.Transaction, capacity),
		closed: make(chan struct{}),
	}
}

func (q *Queue) Push(ctx context.Context, tx model.Transaction) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- tx:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush enqueues tx without blocking and reports whether it was accepted.
func (q *Queue) TryPush(tx model.Transaction) bool {
	select {
	case <-q.closed:
		return false
	default:
	}

	select {
	case q.ch <- tx:
		return true
	default:
		return false
	}
}

// Pull returns queued transactions even after Close until the queue is empty.
func (q *Queue) Pull(ctx context.Context, wait time.Duration) (model.Transaction, bool, error) {
	select {
	case tx := <-q.ch:
		return tx, true, nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case tx := <-q.ch:
		return tx, true, nil
	case <-timer.C:
		return model.Transaction{}, false, nil
	case <-q.closed:
		select {
		case tx := <-q.ch:
			return tx, true, nil
		default:
			return model.Transaction{}, false, ErrClosed
		}
	case <-ctx.Done():
		return model.Transaction{}, false, ctx.Err()
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close stops accepting new transactions.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}
