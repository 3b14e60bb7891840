package swap

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/solend-liquidator/lending"
)

// ErrNoRoute means no pool can fill the request. Adapters never retry it.
var ErrNoRoute = errors.New("no viable swap route")

// Request asks for From to be swapped into To inside Tx. Set exactly one of FromAmount (spend
// exactly) or ToAmount (receive at least).
type Request struct {
	From        solana.PublicKey
	To          solana.PublicKey
	FromAmount  uint64
	ToAmount    uint64
	MaxSlippage decimal.Decimal
	Tx          *lending.Tx
}

// Result names the token accounts involved once the draft executes. Unspent input stays in
// FromRemainder; the output lands in ToCoin.
type Result struct {
	FromRemainder solana.PublicKey
	ToCoin        solana.PublicKey
	AmountIn      uint64
	MinOut        uint64
}

type Adapter interface {
	Swap(ctx context.Context, req *Request) (*Result, error)
}

func (req *Request) validate() error {
	if req.From == req.To {
		return errors.Errorf("swap %s into itself", req.From)
	}
	if (req.FromAmount == 0) == (req.ToAmount == 0) {
		return errors.New("swap needs exactly one of from amount and to amount")
	}
	if req.Tx == nil {
		return errors.New("swap needs a transaction draft")
	}
	if req.MaxSlippage.IsNegative() || req.MaxSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Errorf("slippage %s out of range", req.MaxSlippage)
	}
	return nil
}
