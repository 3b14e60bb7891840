package env

import (
	"path/filepath"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/solend-liquidator/utils"
)

// Env holds the static registries of a workspace: known tokens and swap pools.
type Env struct {
	logger    zerolog.Logger
	workSpace string
	tokens    map[solana.PublicKey]*Token
	markets   map[solana.PublicKey]*SwapMarket
}

func NewEnv(workSpace string, logger zerolog.Logger) *Env {
	return &Env{
		logger:    logger,
		workSpace: workSpace,
		tokens:    make(map[solana.PublicKey]*Token),
		markets:   make(map[solana.PublicKey]*SwapMarket),
	}
}

func (e *Env) Start() error {
	e.logger.Info().Str("workspace", e.workSpace).Msg("start env......")
	if err := e.loadTokens(filepath.Join(e.workSpace, utils.TokensFile)); err != nil {
		return err
	}
	if err := e.loadMarkets(filepath.Join(e.workSpace, utils.MarketsFile)); err != nil {
		return err
	}
	e.logger.Info().Int("tokens", len(e.tokens)).Int("markets", len(e.markets)).Msg("env loaded")
	return nil
}

func (e *Env) Stop() {
	e.logger.Info().Msg("stop env......")
}
