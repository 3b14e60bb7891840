package lending

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	bpsDenominator = decimal.NewFromInt(10000)
	closeFactor    = decimal.New(2, -1)
	dustValueUsd   = decimal.NewFromInt(1)
)

// ShouldAttemptLiquidation reports whether ob is over its unhealthy borrow value. Obligations
// without deposits have nothing to seize and are never candidates.
func ShouldAttemptLiquidation(ob *Obligation) bool {
	if len(ob.Deposits) == 0 {
		return false
	}
	return ob.WeightedBorrowedValueUsd.GreaterThan(ob.UnhealthyBorrowValueUsd)
}

// SelectRepay picks the borrow with the largest weighted market value. Equal values keep their
// original order.
func SelectRepay(ob *Obligation, reserves Reserves) (*Borrow, error) {
	if len(ob.Borrows) == 0 {
		return nil, ErrNoBorrows
	}
	type ranked struct {
		index  int
		weight decimal.Decimal
	}
	ranking := make([]ranked, 0, len(ob.Borrows))
	for i, borrow := range ob.Borrows {
		reserve, ok := reserves[borrow.Reserve]
		if !ok {
			return nil, errors.Wrapf(ErrNoReserve, "borrow reserve %s", borrow.Reserve)
		}
		ranking = append(ranking, ranked{
			index:  i,
			weight: borrow.MarketValue.Mul(decimal.NewFromInt(int64(reserve.BorrowWeightBps))).Div(bpsDenominator),
		})
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].weight.GreaterThan(ranking[j].weight)
	})
	return &ob.Borrows[ranking[0].index], nil
}

// SelectRepayAssetAndAmount picks the borrow to repay and the amount in base units. Dust borrows
// are repaid in full; otherwise the close factor caps the repaid value.
func SelectRepayAssetAndAmount(ob *Obligation, reserves Reserves) (*Borrow, uint64, error) {
	borrow, err := SelectRepay(ob, reserves)
	if err != nil {
		return nil, 0, err
	}
	if borrow.MarketValue.LessThanOrEqual(dustValueUsd) {
		return borrow, ceilUint64(borrow.BorrowedAmount), nil
	}
	maxRepayValue := decimal.Min(ob.WeightedBorrowedValueUsd.Mul(closeFactor), borrow.MarketValue)
	amount := borrow.BorrowedAmount.Mul(maxRepayValue).Div(borrow.MarketValue)
	return borrow, ceilUint64(amount), nil
}

// SelectWithdrawAsset picks the deposit with the largest market value, the first on ties.
func SelectWithdrawAsset(ob *Obligation) (*Deposit, error) {
	if len(ob.Deposits) == 0 {
		return nil, ErrNoDeposits
	}
	selected := 0
	for i := 1; i < len(ob.Deposits); i++ {
		if ob.Deposits[i].MarketValue.GreaterThan(ob.Deposits[selected].MarketValue) {
			selected = i
		}
	}
	return &ob.Deposits[selected], nil
}

func ceilUint64(d decimal.Decimal) uint64 {
	if !d.IsPositive() {
		return 0
	}
	return d.Ceil().BigInt().Uint64()
}
