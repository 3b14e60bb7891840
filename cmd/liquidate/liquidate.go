package liquidate

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/solend-liquidator/backend"
	"github.com/solend-liquidator/config"
	"github.com/solend-liquidator/dispatcher"
	"github.com/solend-liquidator/env"
	"github.com/solend-liquidator/metrics"
	"github.com/solend-liquidator/program"
	"github.com/solend-liquidator/pyth"
	"github.com/solend-liquidator/queue"
	"github.com/solend-liquidator/solend"
	"github.com/solend-liquidator/swap"
	"github.com/solend-liquidator/utils"
	"github.com/solend-liquidator/worker"
)

type Mode string

const (
	ModeDispatcher Mode = "dispatcher"
	ModeWorker     Mode = "worker"
)

// Liquidate wires one process, either the dispatcher or the worker, from the workspace config.
type Liquidate struct {
	ctx        context.Context
	logger     zerolog.Logger
	config     *config.Config
	mode       Mode
	wg         sync.WaitGroup
	backend    *backend.Backend
	env        *env.Env
	pyth       *pyth.Program
	lending    *solend.Client
	queue      *queue.ObligationQueue
	metrics    *metrics.Prometheus
	dispatcher *dispatcher.Dispatcher
	worker     *worker.Worker
}

// NewLiquidate builds the process for mode, writing its log files under logDir.
func NewLiquidate(ctx context.Context, cfg *config.Config, mode Mode, logDir string) (*Liquidate, error) {
	liq := &Liquidate{
		ctx:    ctx,
		config: cfg,
		mode:   mode,
	}
	logger, err := utils.NewLog(logDir, string(mode))
	if err != nil {
		return nil, errors.Wrap(err, "open log")
	}
	liq.logger = logger
	backendLog, err := utils.NewLog(logDir, utils.BackendLog)
	if err != nil {
		return nil, errors.Wrap(err, "open backend log")
	}

	liq.env = env.NewEnv(cfg.WorkSpace, logger)
	be := backend.NewBackend(rpc.New(cfg.Rpc()), liq.env, backendLog)
	be.SetConfirmTimeout(cfg.ConfirmTimeout())
	be.SetPriorityFee(cfg.PriorityFeeMicroLamports, cfg.ComputeUnitLimit)
	if mode == ModeWorker {
		if err := be.ImportWallet(cfg.Key); err != nil {
			return nil, err
		}
	}
	liq.backend = be
	liq.pyth = pyth.NewProgram(cfg.OracleProgram, be, backendLog)
	liq.lending = solend.NewClient(cfg.LendingProgram, cfg.LendingMarket, be, liq.pyth, liq.env, logger)

	store, err := queue.Open(cfg.QueueHost)
	if err != nil {
		return nil, errors.Wrap(err, "open queue")
	}
	liq.queue = queue.NewObligationQueue(store, cfg.QueueKey)
	liq.metrics = metrics.NewPrometheus(logger)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	switch mode {
	case ModeDispatcher:
		liq.dispatcher = dispatcher.NewDispatcher(liq.lending, liq.queue, liq.metrics, rng,
			cfg.PollInterval(), cfg.RefetchInterval(), logger)
	case ModeWorker:
		liq.worker = worker.NewWorker(worker.Config{
			Stable:           cfg.Stable,
			Gas:              program.SOL,
			AttemptDuration:  cfg.AttemptDuration(),
			IdleInterval:     cfg.IdleInterval(),
			TargetGasBalance: decimal.NewFromFloat(cfg.TargetGasBalance),
		}, liq.lending, swap.NewTokenSwap(cfg.SwapProgram, be, liq.env, logger), be, liq.queue, liq.metrics, rng, logger)
	default:
		return nil, errors.Errorf("unknown mode %q", mode)
	}
	return liq, nil
}

// Service runs until the context is cancelled.
func (liq *Liquidate) Service() error {
	if err := liq.Start(); err != nil {
		return err
	}
	switch liq.mode {
	case ModeDispatcher:
		liq.dispatcher.Run(liq.ctx)
	case ModeWorker:
		liq.worker.Run(liq.ctx)
	}
	liq.Stop()
	return nil
}

func (liq *Liquidate) Start() error {
	if err := liq.env.Start(); err != nil {
		return err
	}
	if liq.config.Listen != "" {
		liq.wg.Add(1)
		go func() {
			defer liq.wg.Done()
			if err := liq.metrics.Serve(liq.ctx, liq.config.Listen); err != nil {
				liq.logger.Error().Err(err).Msg("metrics server")
			}
		}()
	}
	liq.logger.Info().Str("mode", string(liq.mode)).Str("rpc", liq.config.Rpc()).Msg("liquidator has started......")
	return nil
}

func (liq *Liquidate) Stop() {
	liq.wg.Wait()
	if err := liq.queue.Close(); err != nil {
		liq.logger.Error().Err(err).Msg("close queue")
	}
	liq.env.Stop()
	liq.logger.Info().Str("mode", string(liq.mode)).Msg("liquidator has stopped......")
}
