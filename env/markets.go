package env

import (
	"encoding/json"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
)

const DefaultFeeBps = 30

type TokenSwap struct {
	Key            solana.PublicKey
	SwapA          solana.PublicKey
	SwapB          solana.PublicKey
	PoolToken      solana.PublicKey
	TokenA         solana.PublicKey
	TokenB         solana.PublicKey
	PoolFeeAccount solana.PublicKey
	FeeBps         uint64
}

type SwapMarket struct {
	ProgramId solana.PublicKey
	TokenSwap TokenSwap
}

func (e *Env) loadMarkets(file string) error {
	infoJson, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "read markets")
	}
	if err := json.Unmarshal(infoJson, &e.markets); err != nil {
		return errors.Wrap(err, "parse markets")
	}
	for _, market := range e.markets {
		if market.TokenSwap.FeeBps == 0 {
			market.TokenSwap.FeeBps = DefaultFeeBps
		}
	}
	return nil
}

func (e *Env) AddMarket(market *SwapMarket) {
	e.markets[market.TokenSwap.Key] = market
}

// FindMarket returns the pool of programId trading tokens[0] against tokens[1], in either
// direction.
func (e *Env) FindMarket(programId solana.PublicKey, tokens []solana.PublicKey) *SwapMarket {
	for _, swap := range e.markets {
		if swap.ProgramId != programId {
			continue
		}
		if swap.TokenSwap.TokenA == tokens[0] && swap.TokenSwap.TokenB == tokens[1] {
			return swap
		}
		if swap.TokenSwap.TokenA == tokens[1] && swap.TokenSwap.TokenB == tokens[0] {
			return swap
		}
	}
	return nil
}
