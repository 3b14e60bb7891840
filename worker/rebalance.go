package worker

import (
	"context"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/solend-liquidator/backend"
	"github.com/solend-liquidator/lending"
	"github.com/solend-liquidator/metrics"
	"github.com/solend-liquidator/swap"
)

var (
	gasUpperBand = decimal.New(11, -1)
	gasLowerBand = decimal.New(9, -1)
)

// rebalanceWallet merges token accounts, sells stray tokens for stable and keeps the gas balance
// inside its band. A failing step is logged and the next one still runs.
func (w *Worker) rebalanceWallet(ctx context.Context) {
	holdings, err := w.wallet.Holdings(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("rebalance: read holdings, skip merge and sell")
	} else {
		w.mergeHoldings(ctx, holdings)
		w.sellStrayTokens(ctx, holdings)
	}

	holdings, err = w.wallet.Holdings(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("rebalance: re-read holdings")
		return
	}
	if err := w.balanceGas(ctx, holdings); err != nil {
		w.logger.Error().Err(err).Msg("rebalance: gas")
	}
	for _, mint := range sortedMints(holdings) {
		holding := holdings[mint]
		value, _ := holding.UiAmount().Float64()
		w.metrics.Gauge(metrics.WalletBalance, value, map[string]string{"symbol": holding.Symbol})
	}
}

func (w *Worker) mergeHoldings(ctx context.Context, holdings lending.Holdings) {
	for _, mint := range sortedMints(holdings) {
		holding := holdings[mint]
		if mint == w.config.Gas || len(holding.Accounts) < 2 {
			continue
		}
		if _, err := w.wallet.MergeTokenAccounts(ctx, holding); err != nil {
			w.logger.Error().Err(err).Str("symbol", holding.Symbol).Msg("rebalance: merge")
		}
	}
}

// sellStrayTokens swaps every holding that is neither gas, stable nor a reserve receipt token.
func (w *Worker) sellStrayTokens(ctx context.Context, holdings lending.Holdings) {
	reserves, err := w.client.RefreshReserves(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("rebalance: refresh reserves")
		return
	}
	for _, mint := range sortedMints(holdings) {
		holding := holdings[mint]
		if mint == w.config.Gas || mint == w.config.Stable || holding.Amount == 0 || reserves.IsCollateralMint(mint) {
			continue
		}
		result, err := w.sell(ctx, mint, holding.Amount)
		if err != nil {
			w.logger.Error().Err(err).Str("symbol", holding.Symbol).Uint64("amount", holding.Amount).Msg("rebalance: sell")
			continue
		}
		w.logger.Info().Str("symbol", holding.Symbol).Uint64("amount", holding.Amount).
			Str("digest", result.Signature.String()).Msg("rebalance: sold")
	}
}

// balanceGas sells gas above target x 1.1 and buys it below target x 0.9.
func (w *Worker) balanceGas(ctx context.Context, holdings lending.Holdings) error {
	decimals := int32(backend.NativeDecimals)
	balance := decimal.Zero
	if holding, ok := holdings[w.config.Gas]; ok {
		decimals = int32(holding.Decimals)
		balance = holding.UiAmount()
	}
	target := w.config.TargetGasBalance
	switch {
	case balance.GreaterThan(target.Mul(gasUpperBand)):
		excess := baseUnits(balance.Sub(target), decimals)
		result, err := w.sell(ctx, w.config.Gas, excess)
		if err != nil {
			return errors.Wrap(err, "sell excess gas")
		}
		w.logger.Info().Str("balance", balance.String()).Uint64("sold", excess).
			Str("digest", result.Signature.String()).Msg("rebalance: gas sold")
	case balance.LessThan(target.Mul(gasLowerBand)):
		shortfall := baseUnits(target.Sub(balance), decimals)
		tx := lending.NewTx()
		if _, err := w.swapper.Swap(ctx, &swap.Request{
			From:        w.config.Stable,
			To:          w.config.Gas,
			ToAmount:    shortfall,
			MaxSlippage: dumpSlippage,
			Tx:          tx,
		}); err != nil {
			return errors.Wrap(err, "buy gas")
		}
		result, err := w.client.Submit(ctx, tx)
		if err != nil {
			return errors.Wrap(err, "buy gas")
		}
		w.logger.Info().Str("balance", balance.String()).Uint64("bought", shortfall).
			Str("digest", result.Signature.String()).Msg("rebalance: gas bought")
	}
	return nil
}

func baseUnits(amount decimal.Decimal, decimals int32) uint64 {
	return amount.Shift(decimals).Floor().BigInt().Uint64()
}

func sortedMints(holdings lending.Holdings) []solana.PublicKey {
	mints := make([]solana.PublicKey, 0, len(holdings))
	for mint := range holdings {
		mints = append(mints, mint)
	}
	sort.Slice(mints, func(i, j int) bool {
		return mints[i].String() < mints[j].String()
	})
	return mints
}
