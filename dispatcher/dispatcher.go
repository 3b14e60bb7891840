package dispatcher

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/solend-liquidator/lending"
	"github.com/solend-liquidator/metrics"
	"github.com/solend-liquidator/utils"
)

type Queue interface {
	Set(ctx context.Context, ids []string) error
}

// Dispatcher scans every obligation of the market and publishes the unhealthy ones.
type Dispatcher struct {
	logger          zerolog.Logger
	client          lending.ChainStateClient
	queue           Queue
	metrics         metrics.Collector
	rand            *rand.Rand
	now             func() time.Time
	pollInterval    time.Duration
	refetchInterval time.Duration

	obligations []*lending.Obligation
	fetchedAt   time.Time
	fetched     bool
}

func NewDispatcher(client lending.ChainStateClient, queue Queue, collector metrics.Collector, rng *rand.Rand,
	pollInterval, refetchInterval time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:          logger,
		client:          client,
		queue:           queue,
		metrics:         collector,
		rand:            rng,
		now:             time.Now,
		pollInterval:    pollInterval,
		refetchInterval: refetchInterval,
	}
}

// Run loops until ctx is done. A failed iteration is logged and the next one starts after the
// poll interval.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info().
		Dur("poll", d.pollInterval).
		Dur("refetch", d.refetchInterval).
		Msg("dispatcher has started......")
	for {
		if err := d.iterate(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("dispatch")
		}
		if !utils.Sleep(ctx, d.pollInterval) {
			break
		}
	}
	d.logger.Info().Msg("dispatcher has stopped......")
}

func (d *Dispatcher) iterate(ctx context.Context) error {
	d.metrics.Increment(metrics.Heartbeat, map[string]string{"task": "dispatcher"})
	if d.stale() {
		if err := d.refreshObligationCache(ctx); err != nil {
			return err
		}
	}
	return d.updatePositions(ctx)
}

func (d *Dispatcher) stale() bool {
	return !d.fetched || d.now().Sub(d.fetchedAt) >= d.refetchInterval
}

// refreshObligationCache keeps the obligations with an outstanding borrow in shuffled order.
func (d *Dispatcher) refreshObligationCache(ctx context.Context) error {
	start := d.now()
	all, err := d.client.FetchAllObligations(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch obligations")
	}
	obligations := make([]*lending.Obligation, 0, len(all))
	for _, ob := range all {
		if ob.HasBorrows() {
			obligations = append(obligations, ob)
		}
	}
	d.rand.Shuffle(len(obligations), func(i, j int) {
		obligations[i], obligations[j] = obligations[j], obligations[i]
	})
	d.obligations = obligations
	d.fetchedAt = d.now()
	d.fetched = true

	elapsed := d.fetchedAt.Sub(start)
	d.metrics.Gauge(metrics.FetchObligationsDuration, elapsed.Seconds(), nil)
	d.metrics.Gauge(metrics.ObligationCount, float64(len(obligations)), nil)
	d.logger.Info().
		Int("fetched", len(all)).
		Int("borrowing", len(obligations)).
		Dur("elapsed", elapsed).
		Msg("obligation cache refreshed")
	return nil
}

// updatePositions overwrites the queue with the obligations that are currently unhealthy.
func (d *Dispatcher) updatePositions(ctx context.Context) error {
	reserves, err := d.client.RefreshReserves(ctx)
	if err != nil {
		return errors.Wrap(err, "refresh reserves")
	}
	ids := make([]string, 0)
	for _, ob := range d.obligations {
		refreshed, err := d.client.RefreshObligation(ob, reserves)
		if err != nil {
			d.logger.Warn().Err(err).Str("obligation", ob.Key.String()).Msg("refresh obligation")
			continue
		}
		if !lending.ShouldAttemptLiquidation(refreshed) {
			continue
		}
		ids = append(ids, refreshed.Key.String())
		d.metrics.Increment(metrics.EnqueueLiquidation, nil)
		d.logger.Info().
			Str("obligation", refreshed.Key.String()).
			Str("owner", refreshed.Owner.String()).
			Str("weightedBorrowed", refreshed.WeightedBorrowedValueUsd.StringFixed(2)).
			Str("unhealthyBorrow", refreshed.UnhealthyBorrowValueUsd.StringFixed(2)).
			Msg("unhealthy obligation")
	}
	if err := d.queue.Set(ctx, ids); err != nil {
		return errors.Wrap(err, "publish queue")
	}
	d.logger.Debug().Int("checked", len(d.obligations)).Int("queued", len(ids)).Msg("positions updated")
	return nil
}
