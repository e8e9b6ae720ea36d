package consumer

import (
	"context"
	"fmt"
	"testing"
	"time"

	promdto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyulbade/card-fraud-monitor/internal/metrics"
	"github.com/anyulbade/card-fraud-monitor/internal/model"
	"github.com/anyulbade/card-fraud-monitor/internal/source"
)

func TestShardFor(t *testing.T) {
	t.Run("happy: stable per card", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			card := fmt.Sprintf("5500********%04d", i)
			assert.Equal(t, ShardFor(card, 4), ShardFor(card, 4))
			assert.GreaterOrEqual(t, ShardFor(card, 4), 0)
			assert.Less(t, ShardFor(card, 4), 4)
		}
	})

	t.Run("happy: single shard", func(t *testing.T) {
		assert.Equal(t, 0, ShardFor("anything", 1))
		assert.Equal(t, 0, ShardFor("anything", 0))
	})

	t.Run("happy: spreads cards", func(t *testing.T) {
		used := map[int]bool{}
		for i := 0; i < 200; i++ {
			used[ShardFor(fmt.Sprintf("card-%d", i), 4)] = true
		}
		assert.Len(t, used, 4)
	})
}

func newTestRouter(upstream source.Source, gw Gateway, shards, batch int) *Router {
	return NewRouter(upstream, shards, 16, 10*time.Millisecond, func(shard int, in source.Source) *Consumer {
		opts := testOptions(batch)
		opts.Shard = shard
		return New(in, newEngine(), gw, nil, opts)
	})
}

func TestRouter_PersistsEverythingOnStop(t *testing.T) {
	upstream := source.NewQueue(100)
	gw := &fakeGateway{}
	r := newTestRouter(upstream, gw, 3, 5)
	require.NoError(t, r.Start(context.Background()))

	for i := 0; i < 23; i++ {
		push(t, upstream, cleanTx(i))
	}
	require.Eventually(t, func() bool {
		var handled int64
		for _, s := range r.Shards() {
			handled += s.Handled()
		}
		return handled == 23
	}, waitFor, tick)

	require.NoError(t, r.Stop(context.Background()))

	seen := map[string]int{}
	for _, call := range gw.TxCalls() {
		for _, tx := range call {
			seen[tx.ID]++
		}
	}
	assert.Len(t, seen, 23)
	for id, n := range seen {
		assert.Equal(t, 1, n, "transaction %s written once", id)
	}
	for _, s := range r.Shards() {
		assert.Equal(t, StateStopped, s.State())
	}
}

func TestRouter_KeepsCardHistoryOnOneShard(t *testing.T) {
	upstream := source.NewQueue(100)
	gw := &fakeGateway{}
	r := newTestRouter(upstream, gw, 4, 1)
	require.NoError(t, r.Start(context.Background()))

	card := "4111********1111"
	for i, country := range []string{"USA", "Canada"} {
		push(t, upstream, model.Transaction{
			ID:         fmt.Sprintf("loc-%d", i),
			Timestamp:  noon.Add(time.Duration(i) * time.Minute),
			CardNumber: card,
			Amount:     decimal.NewFromInt(20),
			MerchantID: fmt.Sprintf("M-%d", i),
			Country:    country,
		})
	}

	require.Eventually(t, func() bool { return len(gw.FraudCalls()) == 1 }, waitFor, tick)
	require.NoError(t, r.Stop(context.Background()))

	fraud := gw.FraudCalls()[0]
	require.Len(t, fraud, 1)
	assert.Equal(t, "loc-1", fraud[0].ID)
	assert.Equal(t, []string{"Unusual location: USA -> Canada"}, fraud[0].FraudReasons)
}

func TestRouter_CommitsWhenIdleAndPersisted(t *testing.T) {
	upstream := &committingQueue{Queue: source.NewQueue(100)}
	gw := &fakeGateway{}
	r := newTestRouter(upstream, gw, 2, 1)
	require.NoError(t, r.Start(context.Background()))

	push(t, upstream.Queue, cleanTx(1), cleanTx(2))
	require.Eventually(t, func() bool { return upstream.Commits() >= 1 }, waitFor, tick)

	require.NoError(t, r.Stop(context.Background()))
}

func TestRouter_DoubleStart(t *testing.T) {
	r := newTestRouter(source.NewQueue(1), &fakeGateway{}, 2, 1)
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, r.Stop(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
}

func TestRouter_StopDrainsQueuedTransactions(t *testing.T) {
	upstream := &committingQueue{Queue: source.NewQueue(100)}
	gw := &fakeGateway{Delay: 20 * time.Millisecond}
	r := newTestRouter(upstream, gw, 2, 1)
	require.NoError(t, r.Start(context.Background()))

	for i := 0; i < 12; i++ {
		push(t, upstream.Queue, cleanTx(i))
	}
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, 12, gw.Stored(), "every routed transaction is persisted before stop returns")
	assert.GreaterOrEqual(t, upstream.Commits(), 1)
	assert.Zero(t, upstream.Len())
	for _, s := range r.Shards() {
		assert.Zero(t, s.Pending())
	}
}

func TestRouter_NoCommitWhenFinalFlushFails(t *testing.T) {
	upstream := &committingQueue{Queue: source.NewQueue(100)}
	gw := &fakeGateway{FailTransactions: 1000}
	r := newTestRouter(upstream, gw, 2, 100)
	require.NoError(t, r.Start(context.Background()))

	push(t, upstream.Queue, cleanTx(1), cleanTx(2), cleanTx(3))
	require.Eventually(t, func() bool { return r.handled() == 3 }, waitFor, tick)

	assert.Error(t, r.Stop(context.Background()))
	assert.Zero(t, upstream.Commits(), "nothing was persisted, nothing is acknowledged")
}

func TestRouter_ProgressesPastPrefetchWindow(t *testing.T) {
	txns := make([]model.Transaction, 200)
	for i := range txns {
		txns[i] = cleanTx(i)
	}
	upstream := newPrefetchSource(50, txns...)
	gw := &fakeGateway{}

	// 8 shards of batch 10 can hold 72 transactions without reaching a
	// threshold, more than the window allows
	r := newTestRouter(upstream, gw, 8, 10)
	require.NoError(t, r.Start(context.Background()))

	require.Eventually(t, func() bool { return gw.Stored() == 200 }, 5*time.Second, tick)
	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, 200, upstream.Delivered())
}

func TestRouter_CountsMalformedUpstream(t *testing.T) {
	counter := metrics.TransactionsRejected.WithLabelValues("malformed")
	read := func() float64 {
		var m promdto.Metric
		require.NoError(t, counter.Write(&m))
		return m.GetCounter().GetValue()
	}
	before := read()

	upstream := &flakySource{Queue: source.NewQueue(10)}
	gw := &fakeGateway{}
	r := newTestRouter(upstream, gw, 2, 1)
	require.NoError(t, r.Start(context.Background()))

	push(t, upstream.Queue, cleanTx(1))
	require.Eventually(t, func() bool { return gw.Stored() == 1 }, waitFor, tick)
	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, before+1, read())
}

func TestRouter_CannotRestart(t *testing.T) {
	r := newTestRouter(source.NewQueue(1), &fakeGateway{}, 2, 1)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrRouterStopped)
}
