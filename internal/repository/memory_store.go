package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anyulbade/card-fraud-monitor/internal/model"
)

// MemoryStore is an in-process gateway for running the processor without a
// database. It keeps the same upsert-by-id semantics as the SQL tables.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]model.AnnotatedTransaction
	frauds       map[string]model.AnnotatedTransaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]model.AnnotatedTransaction),
		frauds:       make(map[string]model.AnnotatedTransaction),
	}
}

func (s *MemoryStore) InsertTransactions(_ context.Context, txns []model.AnnotatedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range txns {
		s.transactions[t.ID] = t
	}
	return nil
}

func (s *MemoryStore) InsertFraudRecords(_ context.Context, txns []model.AnnotatedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range txns {
		s.frauds[t.ID] = t
	}
	return nil
}

func (s *MemoryStore) Counts() (transactions, frauds int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions), len(s.frauds)
}

// Frauds returns the stored fraud records ordered by timestamp.
func (s *MemoryStore) Frauds() []model.AnnotatedTransaction {
	s.mu.RLock()
	out := make([]model.AnnotatedTransaction, 0, len(s.frauds))
	for _, t := range s.frauds {
		out = append(out, t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// PurgeOlderThan drops records timestamped before cutoff.
func (s *MemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res PurgeResult
	for id, t := range s.transactions {
		if t.Timestamp.Before(cutoff) {
			delete(s.transactions, id)
			res.Transactions++
		}
	}
	for id, t := range s.frauds {
		if t.Timestamp.Before(cutoff) {
			delete(s.frauds, id)
			res.FraudRecords++
		}
	}
	return res, nil
}

// ActivitySince counts records at or after since. Detection time is not
// kept in memory, so AvgDetectionLag is always zero.
func (s *MemoryStore) ActivitySince(_ context.Context, since time.Time) (Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a Activity
	for _, t := range s.transactions {
		if !t.Timestamp.Before(since) {
			a.Transactions++
		}
	}
	for _, t := range s.frauds {
		if !t.Timestamp.Before(since) {
			a.Frauds++
		}
	}
	return a, nil
}
