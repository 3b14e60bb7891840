package solend

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const SlotsPerYear = 63072000

var (
	one          = decimal.NewFromInt(1)
	hundred      = decimal.NewFromInt(100)
	wadPrecision = int32(WadExponent + 6)
)

func decimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func percent(v uint8) decimal.Decimal {
	return decimal.NewFromInt(int64(v)).Div(hundred)
}

// TotalLiquidity is available plus borrowed liquidity less the fees owed to the protocol.
func (r *ReserveLayout) TotalLiquidity() decimal.Decimal {
	return decimalFromUint64(r.ReserveLiquidity.AvailableAmount).
		Add(r.ReserveLiquidity.BorrowedAmountWads.Decimal()).
		Sub(r.AccumulatedProtocolFeesWads.Decimal())
}

func (r *ReserveLayout) UtilizationRate() decimal.Decimal {
	total := r.TotalLiquidity()
	if !total.IsPositive() {
		return decimal.Zero
	}
	return r.ReserveLiquidity.BorrowedAmountWads.Decimal().DivRound(total, wadPrecision)
}

// CollateralExchangeRate is cTokens minted per unit of liquidity. An empty reserve exchanges 1:1.
func (r *ReserveLayout) CollateralExchangeRate() decimal.Decimal {
	supply := decimalFromUint64(r.ReserveCollateral.MintTotalSupply)
	total := r.TotalLiquidity()
	if supply.IsZero() || !total.IsPositive() {
		return one
	}
	return supply.DivRound(total, wadPrecision)
}

// CurrentBorrowRate is the annual borrow rate on the utilization curve.
func (r *ReserveLayout) CurrentBorrowRate() decimal.Decimal {
	config := r.ReserveConfig
	utilization := r.UtilizationRate()
	optimalUtilization := percent(config.OptimalUtilizationRate)
	if utilization.LessThan(optimalUtilization) || config.OptimalUtilizationRate == 100 {
		if optimalUtilization.IsZero() {
			return percent(config.MinBorrowRate)
		}
		normalized := utilization.DivRound(optimalUtilization, wadPrecision)
		span := percent(config.OptimalBorrowRate).Sub(percent(config.MinBorrowRate))
		return normalized.Mul(span).Add(percent(config.MinBorrowRate))
	}
	normalized := utilization.Sub(optimalUtilization).DivRound(one.Sub(optimalUtilization), wadPrecision)
	span := percent(config.MaxBorrowRate).Sub(percent(config.OptimalBorrowRate))
	return normalized.Mul(span).Add(percent(config.OptimalBorrowRate))
}

// compound returns (1 + rate/SlotsPerYear)^slots, truncated to wad precision at every step.
func compound(rate decimal.Decimal, slots uint64) decimal.Decimal {
	base := one.Add(rate.DivRound(decimal.NewFromInt(SlotsPerYear), wadPrecision))
	result := one
	for slots > 0 {
		if slots&1 == 1 {
			result = result.Mul(base).Truncate(wadPrecision)
		}
		base = base.Mul(base).Truncate(wadPrecision)
		slots >>= 1
	}
	return result
}

// AccrueInterest brings the borrowed amount, cumulative rate and protocol fees up to slot.
func (r *ReserveLayout) AccrueInterest(slot uint64) {
	if slot <= r.LastUpdate.Slot {
		return
	}
	factor := compound(r.CurrentBorrowRate(), slot-r.LastUpdate.Slot)
	borrowed := r.ReserveLiquidity.BorrowedAmountWads.Decimal()
	accrued := borrowed.Mul(factor)
	fees := r.AccumulatedProtocolFeesWads.Decimal().
		Add(accrued.Sub(borrowed).Mul(percent(r.ReserveConfig.ProtocolTakeRate)))

	r.ReserveLiquidity.CumulativeBorrowRateWads = WadFromDecimal(r.ReserveLiquidity.CumulativeBorrowRateWads.Decimal().Mul(factor))
	r.ReserveLiquidity.BorrowedAmountWads = WadFromDecimal(accrued)
	r.AccumulatedProtocolFeesWads = WadFromDecimal(fees)
	r.LastUpdate.Slot = slot
}

// BorrowWeightBps is 10000 plus the reserve's added borrow weight.
func (r *ReserveLayout) BorrowWeightBps() uint64 {
	return 10000 + r.AddedBorrowWeightBPS
}

// borrowedWithInterest scales an obligation's borrow by the growth of the reserve's cumulative
// rate since the obligation was last refreshed. A reserve rate below the obligation's is ignored.
func borrowedWithInterest(borrowed, obligationRate, reserveRate decimal.Decimal) decimal.Decimal {
	if obligationRate.IsZero() || reserveRate.LessThanOrEqual(obligationRate) {
		return borrowed
	}
	return borrowed.Mul(reserveRate).DivRound(obligationRate, wadPrecision)
}
