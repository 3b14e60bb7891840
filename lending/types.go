package lending

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Deposit is one collateral entry of an obligation. Amount is in cTokens.
type Deposit struct {
	Reserve          solana.PublicKey
	Mint             solana.PublicKey
	CollateralAmount uint64
	MarketValue      decimal.Decimal
}

// Borrow is one liquidity entry of an obligation. BorrowedAmount is in base units of the
// liquidity mint with interest accrued up to the reserve's cumulative rate.
type Borrow struct {
	Reserve                  solana.PublicKey
	Mint                     solana.PublicKey
	BorrowedAmountWads       decimal.Decimal
	CumulativeBorrowRateWads decimal.Decimal
	BorrowedAmount           decimal.Decimal
	MarketValue              decimal.Decimal
	WeightedMarketValue      decimal.Decimal
}

type Obligation struct {
	Key                      solana.PublicKey
	LendingMarket            solana.PublicKey
	Owner                    solana.PublicKey
	Slot                     uint64
	Deposits                 []Deposit
	Borrows                  []Borrow
	DepositedValueUsd        decimal.Decimal
	BorrowedValueUsd         decimal.Decimal
	WeightedBorrowedValueUsd decimal.Decimal
	UnhealthyBorrowValueUsd  decimal.Decimal
}

func (ob *Obligation) HasBorrows() bool {
	for _, borrow := range ob.Borrows {
		if borrow.BorrowedAmountWads.IsPositive() {
			return true
		}
	}
	return false
}

// ReserveKeys lists the reserves of all deposits followed by those of all borrows, the order
// the lending program expects when refreshing the obligation.
func (ob *Obligation) ReserveKeys() (deposits []solana.PublicKey, borrows []solana.PublicKey) {
	for _, deposit := range ob.Deposits {
		deposits = append(deposits, deposit.Reserve)
	}
	for _, borrow := range ob.Borrows {
		borrows = append(borrows, borrow.Reserve)
	}
	return deposits, borrows
}

// Reserve is a refreshed snapshot of one lending reserve.
type Reserve struct {
	Key                      solana.PublicKey
	LendingMarket            solana.PublicKey
	Mint                     solana.PublicKey
	Symbol                   string
	Decimals                 uint8
	LiquiditySupply          solana.PublicKey
	LiquidityFeeReceiver     solana.PublicKey
	PythOracle               solana.PublicKey
	SwitchboardOracle        solana.PublicKey
	CollateralMint           solana.PublicKey
	CollateralSupply         solana.PublicKey
	Price                    decimal.Decimal
	BorrowWeightBps          uint64
	LiquidationThreshold     uint8
	LiquidationBonus         uint8
	LoanToValueRatio         uint8
	CumulativeBorrowRateWads decimal.Decimal
	CTokenExchangeRate       decimal.Decimal
	Slot                     uint64
}

// BorrowWeight is the multiplier applied to a borrow's market value.
func (r *Reserve) BorrowWeight() decimal.Decimal {
	return decimal.NewFromInt(int64(r.BorrowWeightBps)).Div(bpsDenominator)
}

type Reserves map[solana.PublicKey]*Reserve

// ByMint returns the first reserve whose liquidity mint is mint.
func (rs Reserves) ByMint(mint solana.PublicKey) *Reserve {
	for _, reserve := range rs {
		if reserve.Mint == mint {
			return reserve
		}
	}
	return nil
}

// IsCollateralMint reports whether mint is the cToken mint of any reserve.
func (rs Reserves) IsCollateralMint(mint solana.PublicKey) bool {
	for _, reserve := range rs {
		if reserve.CollateralMint == mint {
			return true
		}
	}
	return false
}

// CoinObject is one token account of the signer.
type CoinObject struct {
	Key    solana.PublicKey
	Amount uint64
}

// Holding is the signer's balance of one mint, summed across its token accounts.
type Holding struct {
	Mint     solana.PublicKey
	Accounts []CoinObject
	Amount   uint64
	Decimals uint8
	Symbol   string
}

func (h *Holding) UiAmount() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(h.Amount), -int32(h.Decimals))
}

type Holdings map[solana.PublicKey]*Holding

// Amount is zero for mints the signer does not hold.
func (hs Holdings) Amount(mint solana.PublicKey) uint64 {
	if holding, ok := hs[mint]; ok {
		return holding.Amount
	}
	return 0
}
