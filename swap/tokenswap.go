package swap

import (
	"context"
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/solend-liquidator/backend"
	"github.com/solend-liquidator/env"
	"github.com/solend-liquidator/lending"
	"github.com/solend-liquidator/program"
)

const instructionSwap = 1

var (
	one            = decimal.NewFromInt(1)
	bpsDenominator = decimal.NewFromInt(10000)
)

type Chain interface {
	Accounts(ctx context.Context, keys []solana.PublicKey) ([]*backend.Account, error)
	Player() solana.PublicKey
}

// TokenSwap swaps through the constant product pools of the SPL token swap program listed in
// the markets registry.
type TokenSwap struct {
	logger    zerolog.Logger
	chain     Chain
	env       *env.Env
	programId solana.PublicKey
}

func NewTokenSwap(programId solana.PublicKey, chain Chain, e *env.Env, logger zerolog.Logger) *TokenSwap {
	return &TokenSwap{
		logger:    logger,
		chain:     chain,
		env:       e,
		programId: programId,
	}
}

func decimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// toUint64 reports false for negative amounts and amounts past the token supply range.
func toUint64(d decimal.Decimal) (uint64, bool) {
	i := d.BigInt()
	if i.Sign() < 0 || !i.IsUint64() {
		return 0, false
	}
	return i.Uint64(), true
}

// QuoteExactIn is the output of selling amountIn into a pool holding reserveIn and reserveOut.
func QuoteExactIn(reserveIn, reserveOut, feeBps, amountIn uint64) uint64 {
	in := decimalFromUint64(amountIn).Mul(one.Sub(decimalFromUint64(feeBps).Div(bpsDenominator)))
	out := decimalFromUint64(reserveOut).Mul(in).Div(decimalFromUint64(reserveIn).Add(in))
	// out never exceeds reserveOut
	amount, _ := toUint64(out.Floor())
	return amount
}

// QuoteExactOut is the input needed to buy amountOut, rounded up.
func QuoteExactOut(reserveIn, reserveOut, feeBps, amountOut uint64) (uint64, error) {
	if amountOut >= reserveOut {
		return 0, errors.Wrapf(ErrNoRoute, "pool holds %d, asked %d", reserveOut, amountOut)
	}
	keep := one.Sub(decimalFromUint64(feeBps).Div(bpsDenominator))
	in := decimalFromUint64(reserveIn).Mul(decimalFromUint64(amountOut)).
		Div(decimalFromUint64(reserveOut - amountOut).Mul(keep))
	amount, ok := toUint64(in.Ceil())
	if !ok {
		return 0, errors.Wrapf(ErrNoRoute, "buying %d needs more than a token amount can hold", amountOut)
	}
	return amount, nil
}

func (s *TokenSwap) Swap(ctx context.Context, req *Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	market := s.env.FindMarket(s.programId, []solana.PublicKey{req.From, req.To})
	if market == nil {
		return nil, errors.Wrapf(ErrNoRoute, "%s -> %s", s.env.Symbol(req.From), s.env.Symbol(req.To))
	}
	pool := market.TokenSwap
	poolSource, poolDestination := pool.SwapA, pool.SwapB
	if pool.TokenA != req.From {
		poolSource, poolDestination = pool.SwapB, pool.SwapA
	}
	reserveIn, reserveOut, err := s.vaults(ctx, poolSource, poolDestination)
	if err != nil {
		return nil, err
	}

	var amountIn, minOut uint64
	if req.FromAmount > 0 {
		amountIn = req.FromAmount
		out := QuoteExactIn(reserveIn, reserveOut, pool.FeeBps, amountIn)
		minOut, _ = toUint64(decimalFromUint64(out).Mul(one.Sub(req.MaxSlippage)).Floor())
		if minOut == 0 {
			return nil, errors.Wrapf(ErrNoRoute, "%d %s buys nothing", amountIn, s.env.Symbol(req.From))
		}
	} else {
		in, err := QuoteExactOut(reserveIn, reserveOut, pool.FeeBps, req.ToAmount)
		if err != nil {
			return nil, err
		}
		bounded, ok := toUint64(decimalFromUint64(in).Mul(one.Add(req.MaxSlippage)).Ceil())
		if !ok {
			return nil, errors.Wrapf(ErrNoRoute, "input bound for %d %s overflows", req.ToAmount, s.env.Symbol(req.To))
		}
		amountIn = bounded
		minOut = req.ToAmount
	}

	player := s.chain.Player()
	source, err := s.sourceAccount(req.Tx, player, req.From, amountIn)
	if err != nil {
		return nil, err
	}
	createDestination, destination, err := program.CreateAssociatedTokenAccountIdempotent(player, player, req.To)
	if err != nil {
		return nil, err
	}
	authority, _, err := solana.FindProgramAddress([][]byte{pool.Key.Bytes()}, market.ProgramId)
	if err != nil {
		return nil, errors.Wrap(err, "swap authority")
	}
	req.Tx.Add(createDestination)
	req.Tx.Add(instructionTokenSwap(market.ProgramId, &pool, authority, player, source, poolSource, poolDestination, destination, amountIn, minOut))
	if req.To == program.SOL {
		req.Tx.AddFinal(destination.String(), token.NewCloseAccountInstruction(destination, player, player, nil).Build())
	}
	s.logger.Info().
		Str("from", s.env.Symbol(req.From)).
		Str("to", s.env.Symbol(req.To)).
		Uint64("amountIn", amountIn).
		Uint64("minOut", minOut).
		Str("pool", pool.Key.String()).
		Msg("swap")
	return &Result{FromRemainder: source, ToCoin: destination, AmountIn: amountIn, MinOut: minOut}, nil
}

// sourceAccount is the signer's associated account for mint. Native SOL is wrapped into it first
// and unwrapped when the draft completes.
func (s *TokenSwap) sourceAccount(tx *lending.Tx, player, mint solana.PublicKey, amount uint64) (solana.PublicKey, error) {
	if mint != program.SOL {
		ata, _, err := solana.FindAssociatedTokenAddress(player, mint)
		return ata, err
	}
	create, ata, err := program.CreateAssociatedTokenAccountIdempotent(player, player, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	tx.Add(
		create,
		system.NewTransferInstruction(amount, player, ata).Build(),
		token.NewSyncNativeInstruction(ata).Build(),
	)
	tx.AddFinal(ata.String(), token.NewCloseAccountInstruction(ata, player, player, nil).Build())
	return ata, nil
}

func (s *TokenSwap) vaults(ctx context.Context, source, destination solana.PublicKey) (uint64, uint64, error) {
	accounts, err := s.chain.Accounts(ctx, []solana.PublicKey{source, destination})
	if err != nil {
		return 0, 0, errors.Wrap(err, "fetch pool vaults")
	}
	amounts := make([]uint64, 0, 2)
	for _, account := range accounts {
		if account.Account == nil {
			return 0, 0, errors.Wrapf(ErrNoRoute, "pool vault %s not found", account.PubKey)
		}
		vault, err := backend.DecodeTokenAccount(account.PubKey, account.Account.Data.GetBinary())
		if err != nil {
			return 0, 0, err
		}
		amounts = append(amounts, vault.Amount)
	}
	if len(amounts) != 2 || amounts[0] == 0 || amounts[1] == 0 {
		return 0, 0, errors.Wrap(ErrNoRoute, "empty pool")
	}
	return amounts[0], amounts[1], nil
}

func instructionTokenSwap(programId solana.PublicKey, pool *env.TokenSwap, authority, player,
	source, poolSource, poolDestination, destination solana.PublicKey, amountIn, minOut uint64) solana.Instruction {
	data := make([]byte, 17)
	data[0] = instructionSwap
	binary.LittleEndian.PutUint64(data[1:9], amountIn)
	binary.LittleEndian.PutUint64(data[9:17], minOut)
	return &program.Instruction{
		IsAccounts: []*solana.AccountMeta{
			{PublicKey: pool.Key, IsSigner: false, IsWritable: false},
			{PublicKey: authority, IsSigner: false, IsWritable: false},
			{PublicKey: player, IsSigner: true, IsWritable: false},
			{PublicKey: source, IsSigner: false, IsWritable: true},
			{PublicKey: poolSource, IsSigner: false, IsWritable: true},
			{PublicKey: poolDestination, IsSigner: false, IsWritable: true},
			{PublicKey: destination, IsSigner: false, IsWritable: true},
			{PublicKey: pool.PoolToken, IsSigner: false, IsWritable: true},
			{PublicKey: pool.PoolFeeAccount, IsSigner: false, IsWritable: true},
			{PublicKey: program.Token, IsSigner: false, IsWritable: false},
		},
		IsData:      data,
		IsProgramID: programId,
	}
}
