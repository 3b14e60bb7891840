package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	sol  = "So11111111111111111111111111111111111111112"
)

func writeWorkspace(t *testing.T, tokens, markets string) string {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "tokens.json"), []byte(tokens), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "markets.json"), []byte(markets), 0644))
	return dir
}

func TestEnvLoadsRegistries(t *testing.T) {
	pool := solana.NewWallet().PublicKey()
	tokens := `{"` + usdc + `": {"Symbol": "USDC", "Decimals": 6}, "` + sol + `": {"Symbol": "SOL", "Decimals": 9}}`
	markets := `{"` + pool.String() + `": {"ProgramId": "SwaPpA9LAaLfeLi3a68M4DjnLqgtticKg6CnyNwgAC8", "TokenSwap": {"Key": "` +
		pool.String() + `", "TokenA": "` + sol + `", "TokenB": "` + usdc + `"}}}`
	e := NewEnv(writeWorkspace(t, tokens, markets), zerolog.Nop())
	require.NoError(t, e.Start())

	usdcMint := solana.MustPublicKeyFromBase58(usdc)
	solMint := solana.MustPublicKeyFromBase58(sol)
	require.NotNil(t, e.Token(usdcMint))
	assert.Equal(t, uint8(6), e.Token(usdcMint).Decimals)
	assert.Equal(t, "SOL", e.Symbol(solMint))
	assert.Equal(t, pool.String(), e.Symbol(pool))

	swapProgram := solana.MustPublicKeyFromBase58("SwaPpA9LAaLfeLi3a68M4DjnLqgtticKg6CnyNwgAC8")
	market := e.FindMarket(swapProgram, []solana.PublicKey{usdcMint, solMint})
	require.NotNil(t, market)
	assert.Equal(t, pool, market.TokenSwap.Key)
	assert.Equal(t, uint64(DefaultFeeBps), market.TokenSwap.FeeBps)
	assert.Nil(t, e.FindMarket(swapProgram, []solana.PublicKey{usdcMint, pool}))
	// pools of other programs are not routed through
	assert.Nil(t, e.FindMarket(solana.NewWallet().PublicKey(), []solana.PublicKey{usdcMint, solMint}))
}

func TestEnvRejectsBrokenFiles(t *testing.T) {
	e := NewEnv(writeWorkspace(t, `{`, `{}`), zerolog.Nop())
	assert.Error(t, e.Start())

	e = NewEnv(t.TempDir(), zerolog.Nop())
	assert.Error(t, e.Start())
}
