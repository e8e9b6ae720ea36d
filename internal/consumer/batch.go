package consumer

import (
	"sync"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

// Batch buffers annotated transactions between flushes. Fraud holds the
// flagged subset of All.
type Batch struct {
	mu    sync.Mutex
	all   []model.AnnotatedTransaction
	fraud []model.AnnotatedTransaction
}

func (b *Batch) Add(tx model.AnnotatedTransaction) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, tx)
	if tx.IsFraudulent {
		b.fraud = append(b.fraud, tx)
	}
	return len(b.all)
}

// Snapshot returns copies of both buffers.
func (b *Batch) Snapshot() (all, fraud []model.AnnotatedTransaction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	all = append([]model.AnnotatedTransaction(nil), b.all...)
	fraud = append([]model.AnnotatedTransaction(nil), b.fraud...)
	return all, fraud
}

// Discard removes the first n entries of All and the first m of Fraud,
// keeping whatever was appended after the snapshot was taken.
func (b *Batch) Discard(n, m int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all[:0], b.all[n:]...)
	b.fraud = append(b.fraud[:0], b.fraud[m:]...)
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.all)
}

func (b *Batch) FraudLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fraud)
}
