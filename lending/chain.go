package lending

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
)

var (
	ErrNoRedeemEvent = errors.New("no redeem event in transaction")
	ErrNoRepayCoin   = errors.New("no repay coin")
	ErrNoReserve     = errors.New("reserve not found")
	ErrNoDeposits    = errors.New("obligation has no deposits")
	ErrNoBorrows     = errors.New("obligation has no borrows")
)

// ChainStateClient reads and refreshes lending state and submits liquidations.
type ChainStateClient interface {
	FetchAllObligations(ctx context.Context) ([]*Obligation, error)
	FetchObligation(ctx context.Context, key solana.PublicKey) (*Obligation, error)
	// RefreshReserves accrues interest to the current slot and prices every reserve of the market.
	RefreshReserves(ctx context.Context) (Reserves, error)
	// RefreshObligation returns a new obligation valued against reserves; ob is left untouched.
	RefreshObligation(ob *Obligation, reserves Reserves) (*Obligation, error)
	// BuildLiquidateAndRedeemTx appends the refresh and liquidate-and-redeem instructions to tx,
	// repaying repayAmount from the repayCoin token account. It returns the token account that
	// receives the withdrawn liquidity.
	BuildLiquidateAndRedeemTx(ctx context.Context, tx *Tx, ob *Obligation, repayMint, withdrawMint solana.PublicKey,
		repayCoin solana.PublicKey, repayAmount uint64) (solana.PublicKey, error)
	Submit(ctx context.Context, tx *Tx) (*TxResult, error)
	// RedeemedAmount finds the liquidity withdrawn from the withdraw reserve in result.
	RedeemedAmount(result *TxResult, ob *Obligation, withdrawMint solana.PublicKey) (uint64, error)
}
