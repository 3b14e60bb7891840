package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/solend-liquidator/lending"
	"github.com/solend-liquidator/metrics"
	"github.com/solend-liquidator/swap"
	"github.com/solend-liquidator/utils"
)

var (
	repaySlippage = decimal.New(5, -2)
	dumpSlippage  = decimal.New(10, -2)
)

var ErrGiveUp = errors.New("liquidation attempt budget exhausted")

type Queue interface {
	Get(ctx context.Context) ([]string, error)
}

// Wallet is the signer's view of its own token accounts.
type Wallet interface {
	Player() solana.PublicKey
	Holdings(ctx context.Context) (lending.Holdings, error)
	MergeTokenAccounts(ctx context.Context, holding *lending.Holding) (*lending.TxResult, error)
}

type Config struct {
	Stable           solana.PublicKey
	Gas              solana.PublicKey
	AttemptDuration  time.Duration
	IdleInterval     time.Duration
	TargetGasBalance decimal.Decimal
}

// Worker drains the liquidation queue with one signer.
type Worker struct {
	logger  zerolog.Logger
	config  Config
	client  lending.ChainStateClient
	swapper swap.Adapter
	wallet  Wallet
	queue   Queue
	metrics metrics.Collector
	rand    *rand.Rand
	now     func() time.Time
}

func NewWorker(cfg Config, client lending.ChainStateClient, swapper swap.Adapter, wallet Wallet, queue Queue,
	collector metrics.Collector, rng *rand.Rand, logger zerolog.Logger) *Worker {
	return &Worker{
		logger:  logger,
		config:  cfg,
		client:  client,
		swapper: swapper,
		wallet:  wallet,
		queue:   queue,
		metrics: collector,
		rand:    rng,
		now:     time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Str("player", w.wallet.Player().String()).Msg("worker has started......")
	for ctx.Err() == nil {
		w.metrics.Increment(metrics.Heartbeat, map[string]string{"task": "worker"})
		ids, err := w.queue.Get(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("read queue")
			utils.Sleep(ctx, w.config.IdleInterval)
			continue
		}
		if len(ids) == 0 {
			w.rebalanceWallet(ctx)
			utils.Sleep(ctx, w.config.IdleInterval)
			continue
		}
		w.processAll(ctx, ids)
	}
	w.logger.Info().Msg("worker has stopped......")
}

// processAll handles ids one by one in shuffled order.
func (w *Worker) processAll(ctx context.Context, ids []string) {
	shuffled := append([]string{}, ids...)
	w.rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	for _, id := range shuffled {
		if ctx.Err() != nil {
			return
		}
		if err := w.process(ctx, id); err != nil {
			w.logger.Error().Err(err).Str("obligation", id).Msg("liquidate")
		}
	}
}

func (w *Worker) process(ctx context.Context, id string) error {
	key, err := solana.PublicKeyFromBase58(id)
	if err != nil {
		return errors.Wrap(err, "parse obligation id")
	}
	ob, reserves, err := w.refresh(ctx, key)
	if err != nil {
		return err
	}
	if !lending.ShouldAttemptLiquidation(ob) {
		w.logger.Debug().Str("obligation", id).Msg("obligation is healthy, skip")
		return nil
	}
	return w.tryLiquidatePosition(ctx, ob, reserves)
}

func (w *Worker) refresh(ctx context.Context, key solana.PublicKey) (*lending.Obligation, lending.Reserves, error) {
	raw, err := w.client.FetchObligation(ctx, key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fetch obligation")
	}
	reserves, err := w.client.RefreshReserves(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "refresh reserves")
	}
	ob, err := w.client.RefreshObligation(raw, reserves)
	if err != nil {
		return nil, nil, errors.Wrap(err, "refresh obligation")
	}
	return ob, reserves, nil
}

// tryLiquidatePosition retries until a liquidation lands or the attempt budget runs out. The
// obligation is re-read between attempts so the repay amount follows the chain.
func (w *Worker) tryLiquidatePosition(ctx context.Context, ob *lending.Obligation, reserves lending.Reserves) error {
	deposit, err := lending.SelectWithdrawAsset(ob)
	if err != nil {
		return err
	}
	withdrawMint := deposit.Mint
	start := w.now()
	for attempt := 1; ; attempt++ {
		borrow, amount, err := lending.SelectRepayAssetAndAmount(ob, reserves)
		if err != nil {
			return errors.Wrap(err, "select repay")
		}
		tags := map[string]string{
			"repayAsset":    symbol(reserves, borrow.Reserve),
			"withdrawAsset": symbol(reserves, deposit.Reserve),
		}
		logger := w.logger.With().
			Str("obligation", ob.Key.String()).
			Str("repay", tags["repayAsset"]).
			Str("withdraw", tags["withdrawAsset"]).
			Uint64("amount", amount).
			Int("attempt", attempt).
			Logger()

		tx := lending.NewTx()
		repayCoin, err := w.acquireRepayCoin(ctx, tx, borrow.Mint, amount)
		if errors.Is(err, lending.ErrNoRepayCoin) {
			w.metrics.Increment(metrics.LiquidateError, map[string]string{"type": "no_repay_coin"})
			return err
		}
		var result *lending.TxResult
		if err == nil {
			result, err = w.submit(ctx, tx, ob, borrow.Mint, withdrawMint, repayCoin, amount)
		}
		if err == nil {
			w.metrics.Increment(metrics.LiquidateSuccess, tags)
			logger.Info().Str("digest", result.Signature.String()).Msg("liquidated")
			w.dumpCollateral(ctx, result, ob, withdrawMint)
			return nil
		}

		w.metrics.Increment(metrics.LiquidateError, map[string]string{"type": "submit"})
		logger.Warn().Err(err).Msg("liquidation attempt failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.now().Sub(start) > w.config.AttemptDuration {
			w.metrics.Increment(metrics.LiquidateGiveUp, nil)
			logger.Error().Dur("budget", w.config.AttemptDuration).Msg("give up")
			return errors.Wrap(ErrGiveUp, err.Error())
		}

		fresh, freshReserves, err := w.refresh(ctx, ob.Key)
		if err != nil {
			logger.Warn().Err(err).Msg("refresh before retry")
			continue
		}
		if !lending.ShouldAttemptLiquidation(fresh) {
			logger.Info().Msg("obligation recovered before liquidation")
			return nil
		}
		ob, reserves = fresh, freshReserves
	}
}

// acquireRepayCoin returns the token account that pays amount of mint. Stable debt is repaid
// from holdings; anything else is bought with stable inside tx.
func (w *Worker) acquireRepayCoin(ctx context.Context, tx *lending.Tx, mint solana.PublicKey, amount uint64) (solana.PublicKey, error) {
	holdings, err := w.wallet.Holdings(ctx)
	if err != nil {
		return solana.PublicKey{}, errors.Wrap(err, "read holdings")
	}
	if mint == w.config.Stable {
		coin, ok := coinWithBalance(holdings[mint], w.wallet.Player(), amount)
		if !ok {
			return solana.PublicKey{}, errors.Wrapf(lending.ErrNoRepayCoin, "stable balance %d < %d", holdings.Amount(mint), amount)
		}
		return coin, nil
	}
	result, err := w.swapper.Swap(ctx, &swap.Request{
		From:        w.config.Stable,
		To:          mint,
		ToAmount:    amount,
		MaxSlippage: repaySlippage,
		Tx:          tx,
	})
	if errors.Is(err, swap.ErrNoRoute) {
		return solana.PublicKey{}, errors.Wrap(lending.ErrNoRepayCoin, err.Error())
	}
	if err != nil {
		return solana.PublicKey{}, err
	}
	if balance := coinBalance(holdings[w.config.Stable], result.FromRemainder); balance < result.AmountIn {
		return solana.PublicKey{}, errors.Wrapf(lending.ErrNoRepayCoin, "stable balance %d < swap input %d", balance, result.AmountIn)
	}
	return result.ToCoin, nil
}

func (w *Worker) submit(ctx context.Context, tx *lending.Tx, ob *lending.Obligation, repayMint, withdrawMint,
	repayCoin solana.PublicKey, amount uint64) (*lending.TxResult, error) {
	if _, err := w.client.BuildLiquidateAndRedeemTx(ctx, tx, ob, repayMint, withdrawMint, repayCoin, amount); err != nil {
		return nil, errors.Wrap(err, "build liquidation")
	}
	return w.client.Submit(ctx, tx)
}

// dumpCollateral sells the redeemed liquidity of a successful liquidation for stable.
func (w *Worker) dumpCollateral(ctx context.Context, result *lending.TxResult, ob *lending.Obligation, withdrawMint solana.PublicKey) {
	if withdrawMint == w.config.Stable {
		return
	}
	logger := w.logger.With().Str("obligation", ob.Key.String()).Str("digest", result.Signature.String()).Logger()
	redeemed, err := w.client.RedeemedAmount(result, ob, withdrawMint)
	if err != nil {
		logger.Error().Err(err).Msg("dump collateral")
		return
	}
	if redeemed == 0 {
		return
	}
	if _, err := w.sell(ctx, withdrawMint, redeemed); err != nil {
		logger.Error().Err(err).Uint64("redeemed", redeemed).Msg("dump collateral")
	}
}

// sell swaps amount of mint into stable in its own transaction.
func (w *Worker) sell(ctx context.Context, mint solana.PublicKey, amount uint64) (*lending.TxResult, error) {
	tx := lending.NewTx()
	if _, err := w.swapper.Swap(ctx, &swap.Request{
		From:        mint,
		To:          w.config.Stable,
		FromAmount:  amount,
		MaxSlippage: dumpSlippage,
		Tx:          tx,
	}); err != nil {
		return nil, err
	}
	return w.client.Submit(ctx, tx)
}

func symbol(reserves lending.Reserves, key solana.PublicKey) string {
	if reserve, ok := reserves[key]; ok && reserve.Symbol != "" {
		return reserve.Symbol
	}
	return key.String()
}

// coinWithBalance prefers the associated account, then any single account holding amount.
func coinWithBalance(holding *lending.Holding, player solana.PublicKey, amount uint64) (solana.PublicKey, bool) {
	if holding == nil {
		return solana.PublicKey{}, false
	}
	ata, _, err := solana.FindAssociatedTokenAddress(player, holding.Mint)
	if err == nil {
		if balance := coinBalance(holding, ata); balance >= amount {
			return ata, true
		}
	}
	for _, coin := range holding.Accounts {
		if coin.Amount >= amount {
			return coin.Key, true
		}
	}
	return solana.PublicKey{}, false
}

func coinBalance(holding *lending.Holding, key solana.PublicKey) uint64 {
	if holding == nil {
		return 0
	}
	for _, coin := range holding.Accounts {
		if coin.Key == key {
			return coin.Amount
		}
	}
	return 0
}
