// Package source provides the transaction feeds the consumer pulls from.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

var (
	ErrClosed           = errors.New("source closed")
	ErrMalformedMessage = errors.New("malformed message")
)

// Source yields transactions one at a time. Pull waits at most wait for a
// transaction; ok is false with a nil error when nothing arrived in time.
type Source interface {
	Pull(ctx context.Context, wait time.Duration) (tx model.Transaction, ok bool, err error)
}

// Committer is implemented by sources that can acknowledge delivered
// messages. Commit acknowledges everything pulled so far and is called only
// after those transactions were persisted.
type Committer interface {
	Commit(ctx context.Context) error
}

// Buffered is implemented by sources that hold accepted transactions only
// in memory. Nothing upstream redelivers them, so a stopping consumer must
// pull whatever Len reports before its final flush.
type Buffered interface {
	Len() int
}
