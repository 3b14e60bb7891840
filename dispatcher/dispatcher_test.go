package dispatcher

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/solend-liquidator/lending"
	"github.com/solend-liquidator/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	lending.ChainStateClient
	obligations  []*lending.Obligation
	refreshed    map[solana.PublicKey]*lending.Obligation
	fetchCalls   int
	reservesErr  error
	refreshCalls int
}

func (f *fakeClient) FetchAllObligations(ctx context.Context) ([]*lending.Obligation, error) {
	f.fetchCalls++
	return f.obligations, nil
}

func (f *fakeClient) RefreshReserves(ctx context.Context) (lending.Reserves, error) {
	if f.reservesErr != nil {
		return nil, f.reservesErr
	}
	return lending.Reserves{}, nil
}

func (f *fakeClient) RefreshObligation(ob *lending.Obligation, reserves lending.Reserves) (*lending.Obligation, error) {
	f.refreshCalls++
	refreshed, ok := f.refreshed[ob.Key]
	if !ok {
		return nil, lending.ErrNoReserve
	}
	return refreshed, nil
}

type fakeQueue struct {
	ids  []string
	sets int
}

func (f *fakeQueue) Set(ctx context.Context, ids []string) error {
	f.sets++
	f.ids = ids
	return nil
}

type fakeMetrics struct {
	lock     sync.Mutex
	counters map[string]int
	gauges   map[string]float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{counters: make(map[string]int), gauges: make(map[string]float64)}
}

func (f *fakeMetrics) Increment(name string, tags map[string]string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.counters[name]++
}

func (f *fakeMetrics) Gauge(name string, value float64, tags map[string]string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.gauges[name] = value
}

func obligation(borrowing bool) *lending.Obligation {
	ob := &lending.Obligation{
		Key:      solana.NewWallet().PublicKey(),
		Deposits: []lending.Deposit{{CollateralAmount: 100}},
	}
	if borrowing {
		ob.Borrows = []lending.Borrow{{BorrowedAmountWads: decimal.NewFromInt(10)}}
	}
	return ob
}

func valued(ob *lending.Obligation, weighted, unhealthy int64) *lending.Obligation {
	refreshed := *ob
	refreshed.WeightedBorrowedValueUsd = decimal.NewFromInt(weighted)
	refreshed.UnhealthyBorrowValueUsd = decimal.NewFromInt(unhealthy)
	return &refreshed
}

type fixture struct {
	dispatcher *Dispatcher
	client     *fakeClient
	queue      *fakeQueue
	metrics    *fakeMetrics
	clock      time.Time
	unhealthy  []string
}

func newFixture() *fixture {
	idle := obligation(false)
	healthy := obligation(true)
	sick1 := obligation(true)
	sick2 := obligation(true)
	unpriced := obligation(true)
	client := &fakeClient{
		obligations: []*lending.Obligation{idle, healthy, sick1, unpriced, sick2},
		refreshed: map[solana.PublicKey]*lending.Obligation{
			healthy.Key: valued(healthy, 500, 800),
			sick1.Key:   valued(sick1, 850, 800),
			sick2.Key:   valued(sick2, 1200, 1000),
		},
	}
	f := &fixture{
		client:    client,
		queue:     &fakeQueue{},
		metrics:   newFakeMetrics(),
		clock:     time.Unix(1_700_000_000, 0),
		unhealthy: []string{sick1.Key.String(), sick2.Key.String()},
	}
	f.dispatcher = NewDispatcher(client, f.queue, f.metrics, rand.New(rand.NewSource(7)),
		time.Second, 10*time.Minute, zerolog.Nop())
	f.dispatcher.now = func() time.Time { return f.clock }
	return f
}

func TestIteratePublishesUnhealthy(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.dispatcher.iterate(context.Background()))

	assert.Len(t, f.dispatcher.obligations, 4)
	queued := append([]string{}, f.queue.ids...)
	sort.Strings(queued)
	expected := append([]string{}, f.unhealthy...)
	sort.Strings(expected)
	assert.Equal(t, expected, queued)

	assert.Equal(t, 1, f.metrics.counters[metrics.Heartbeat])
	assert.Equal(t, 2, f.metrics.counters[metrics.EnqueueLiquidation])
	assert.Equal(t, float64(4), f.metrics.gauges[metrics.ObligationCount])
	assert.Equal(t, float64(0), f.metrics.gauges[metrics.FetchObligationsDuration])
}

func TestCacheRefetchedWhenStale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.dispatcher.iterate(ctx))
	f.clock = f.clock.Add(5 * time.Minute)
	require.NoError(t, f.dispatcher.iterate(ctx))
	assert.Equal(t, 1, f.client.fetchCalls)
	assert.Equal(t, 2, f.queue.sets)

	f.clock = f.clock.Add(5 * time.Minute)
	require.NoError(t, f.dispatcher.iterate(ctx))
	assert.Equal(t, 2, f.client.fetchCalls)
}

func TestShuffleIsSeeded(t *testing.T) {
	a, b := newFixture(), newFixture()
	b.client.obligations = a.client.obligations
	b.client.refreshed = a.client.refreshed
	require.NoError(t, a.dispatcher.refreshObligationCache(context.Background()))
	require.NoError(t, b.dispatcher.refreshObligationCache(context.Background()))
	assert.Equal(t, a.dispatcher.obligations, b.dispatcher.obligations)
}

func TestQueueOverwrittenWhenPositionsRecover(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.dispatcher.iterate(ctx))
	require.Len(t, f.queue.ids, 2)

	for key, ob := range f.client.refreshed {
		f.client.refreshed[key] = valued(ob, 1, 800)
	}
	require.NoError(t, f.dispatcher.iterate(ctx))
	assert.Empty(t, f.queue.ids)
}

func TestReserveErrorAbortsIteration(t *testing.T) {
	f := newFixture()
	f.client.reservesErr = errors.New("rpc down")
	err := f.dispatcher.iterate(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, f.queue.sets)
	assert.Equal(t, 0, f.client.refreshCalls)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.dispatcher.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		f.metrics.lock.Lock()
		defer f.metrics.lock.Unlock()
		return f.metrics.counters[metrics.Heartbeat] > 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
