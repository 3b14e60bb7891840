package solend

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/solend-liquidator/backend"
	"github.com/solend-liquidator/env"
	"github.com/solend-liquidator/lending"
	"github.com/solend-liquidator/program"
	"github.com/solend-liquidator/pyth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	slot     uint64
	player   solana.PublicKey
	accounts map[solana.PublicKey]*rpc.Account
	commits  [][]solana.Instruction
	result   *lending.TxResult
}

func (f *fakeChain) ProgramAccounts(ctx context.Context, id solana.PublicKey, filters ...rpc.RPCFilter) ([]*backend.Account, error) {
	out := make([]*backend.Account, 0)
	for key, account := range f.accounts {
		if account.Owner != id {
			continue
		}
		match := true
		for _, filter := range filters {
			data := account.Data.GetBinary()
			if filter.DataSize != 0 && uint64(len(data)) != filter.DataSize {
				match = false
			}
			if filter.Memcmp != nil {
				offset := int(filter.Memcmp.Offset)
				want := []byte(filter.Memcmp.Bytes)
				if len(data) < offset+len(want) || !bytes.Equal(data[offset:offset+len(want)], want) {
					match = false
				}
			}
		}
		if match {
			out = append(out, &backend.Account{PubKey: key, Account: account, Height: f.slot})
		}
	}
	return out, nil
}

func (f *fakeChain) Accounts(ctx context.Context, keys []solana.PublicKey) ([]*backend.Account, error) {
	out := make([]*backend.Account, 0, len(keys))
	for _, key := range keys {
		out = append(out, &backend.Account{PubKey: key, Account: f.accounts[key], Height: f.slot})
	}
	return out, nil
}

func (f *fakeChain) Slot(ctx context.Context) (uint64, error) {
	return f.slot, nil
}

func (f *fakeChain) Player() solana.PublicKey {
	return f.player
}

func (f *fakeChain) Commit(ctx context.Context, ins []solana.Instruction) (*lending.TxResult, error) {
	f.commits = append(f.commits, ins)
	return f.result, nil
}

type fakeOracle map[solana.PublicKey]*pyth.KeyedPrice

func (f fakeOracle) Prices(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey]*pyth.KeyedPrice, error) {
	out := make(map[solana.PublicKey]*pyth.KeyedPrice)
	for _, key := range keys {
		if price, ok := f[key]; ok {
			out[key] = price
		}
	}
	return out, nil
}

func newPrice(raw int64, exponent int32) *pyth.KeyedPrice {
	return &pyth.KeyedPrice{PriceLayout: pyth.PriceLayout{
		Exponent:  exponent,
		Aggregate: pyth.PriceInfoLayout{Raw: raw, Status: pyth.StatusTrading},
	}}
}

func wad(s string) DecimalLayout {
	return WadFromDecimal(decimal.RequireFromString(s))
}

func encode(t *testing.T, size int, parts ...interface{}) []byte {
	buf := new(bytes.Buffer)
	for _, part := range parts {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, part))
	}
	require.LessOrEqual(t, buf.Len(), size)
	data := make([]byte, size)
	copy(data, buf.Bytes())
	return data
}

type testMarket struct {
	id, market                   solana.PublicKey
	usdcReserve, solReserve      solana.PublicKey
	usdcOracle, solOracle        solana.PublicKey
	usdcCollateral, solLiquidity solana.PublicKey
	obligation                   solana.PublicKey
	chain                        *fakeChain
	oracle                       fakeOracle
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func newReserveLayout(market, mint, oracle solana.PublicKey, decimals uint8) ReserveLayout {
	var reserve ReserveLayout
	reserve.Version = 1
	reserve.LendingMarket = market
	reserve.ReserveLiquidity.Mint = mint
	reserve.ReserveLiquidity.MintDecimals = decimals
	reserve.ReserveLiquidity.Supply = newKey()
	reserve.ReserveLiquidity.Oracle = oracle
	reserve.ReserveLiquidity.SwitchBoardOracle = NullOracle
	reserve.ReserveLiquidity.CumulativeBorrowRateWads = wad("1")
	reserve.ReserveCollateral.Mint = newKey()
	reserve.ReserveCollateral.Supply = newKey()
	reserve.ReserveConfig.OptimalUtilizationRate = 80
	reserve.ReserveConfig.LiquidationThreshold = 80
	reserve.ReserveConfig.LiquidationBonus = 5
	reserve.ReserveConfig.OptimalBorrowRate = 8
	reserve.ReserveConfig.MaxBorrowRate = 50
	reserve.ReserveConfig.FeeReceiver = newKey()
	return reserve
}

func newTestMarket(t *testing.T) (*testMarket, *Client) {
	m := &testMarket{
		id:          newKey(),
		market:      newKey(),
		usdcReserve: newKey(),
		solReserve:  newKey(),
		usdcOracle:  newKey(),
		solOracle:   newKey(),
		obligation:  newKey(),
	}
	m.chain = &fakeChain{slot: 100, player: newKey(), accounts: make(map[solana.PublicKey]*rpc.Account)}
	m.oracle = fakeOracle{m.usdcOracle: newPrice(100_000_000, -8), m.solOracle: newPrice(2000, -2)}

	_, bump, err := solana.FindProgramAddress([][]byte{m.market.Bytes()}, m.id)
	require.NoError(t, err)
	lendingMarket := LendingMarketLayout{Version: 1, BumpSeed: bump, Owner: newKey()}
	m.chain.accounts[m.market] = &rpc.Account{Owner: m.id,
		Data: rpc.DataBytesOrJSONFromBytes(encode(t, LendingMarketLayoutSize, &lendingMarket))}

	usdc := newReserveLayout(m.market, program.USDC, m.usdcOracle, 6)
	usdc.LastUpdate.Slot = 100
	usdc.ReserveLiquidity.AvailableAmount = 100_000_000
	usdc.ReserveCollateral.MintTotalSupply = 200_000_000
	m.usdcCollateral = usdc.ReserveCollateral.Mint
	m.chain.accounts[m.usdcReserve] = &rpc.Account{Owner: m.id,
		Data: rpc.DataBytesOrJSONFromBytes(encode(t, ReserveLayoutSize, &usdc))}

	sol := newReserveLayout(m.market, program.SOL, m.solOracle, 9)
	sol.LastUpdate.Slot = 100
	sol.ReserveLiquidity.AvailableAmount = 10_000_000_000
	sol.ReserveLiquidity.CumulativeBorrowRateWads = wad("1.1")
	sol.AddedBorrowWeightBPS = 2000
	m.solLiquidity = sol.ReserveLiquidity.Supply
	m.chain.accounts[m.solReserve] = &rpc.Account{Owner: m.id,
		Data: rpc.DataBytesOrJSONFromBytes(encode(t, ReserveLayoutSize, &sol))}

	fix := ObligationFixLayout{Version: 1, LendingMarket: m.market, Owner: newKey(), DepositsLen: 1, BorrowsLen: 1,
		DepositedValue: wad("100"), BorrowedValue: wad("80")}
	fix.LastUpdate.Slot = 90
	deposit := ObligationCollateralLayout{DepositReserve: m.usdcReserve, DepositedAmount: 200_000_000, MarketValue: wad("100")}
	borrow := ObligationLiquidityLayout{BorrowReserve: m.solReserve, CumulativeBorrowRateWads: wad("1"),
		BorrowedAmountWads: wad("4000000000"), MarketValue: wad("80")}
	m.chain.accounts[m.obligation] = &rpc.Account{Owner: m.id,
		Data: rpc.DataBytesOrJSONFromBytes(encode(t, ObligationLayoutSize, &fix, &deposit, &borrow))}

	e := env.NewEnv(t.TempDir(), zerolog.Nop())
	e.AddToken(program.USDC, &env.Token{Symbol: "USDC", Decimals: 6})
	e.AddToken(program.SOL, &env.Token{Symbol: "SOL", Decimals: 9})
	return m, NewClient(m.id, m.market, m.chain, m.oracle, e, zerolog.Nop())
}

func TestDecodeLayouts(t *testing.T) {
	m, _ := newTestMarket(t)

	reserve, err := DecodeReserve(m.solReserve, 1, m.chain.accounts[m.solReserve].Data.GetBinary())
	require.NoError(t, err)
	assert.Equal(t, m.market, reserve.LendingMarket)
	assert.Equal(t, program.SOL, reserve.ReserveLiquidity.Mint)
	assert.Equal(t, uint64(2000), reserve.AddedBorrowWeightBPS)
	assert.Equal(t, uint64(12000), reserve.BorrowWeightBps())
	assert.Equal(t, "1.1", reserve.ReserveLiquidity.CumulativeBorrowRateWads.Decimal().String())

	obligation, err := DecodeObligation(m.obligation, 1, m.chain.accounts[m.obligation].Data.GetBinary())
	require.NoError(t, err)
	require.Len(t, obligation.ObligationCollateral, 1)
	require.Len(t, obligation.ObligationLiquidity, 1)
	assert.Equal(t, uint64(200_000_000), obligation.ObligationCollateral[0].DepositedAmount)
	assert.Equal(t, m.solReserve, obligation.ObligationLiquidity[0].BorrowReserve)
	assert.Equal(t, "4000000000", obligation.ObligationLiquidity[0].BorrowedAmountWads.Decimal().String())

	_, err = DecodeObligation(m.obligation, 1, make([]byte, ObligationLayoutSize))
	assert.Error(t, err)
	_, err = DecodeReserve(m.solReserve, 1, make([]byte, 10))
	assert.Error(t, err)
}

func TestCollateralExchangeRateAndAccrual(t *testing.T) {
	reserve := newReserveLayout(newKey(), program.USDC, newKey(), 6)
	assert.Equal(t, "1", reserve.CollateralExchangeRate().String())

	reserve.ReserveLiquidity.AvailableAmount = 500
	reserve.ReserveLiquidity.BorrowedAmountWads = wad("500")
	reserve.ReserveCollateral.MintTotalSupply = 2000
	assert.Equal(t, "2", reserve.CollateralExchangeRate().String())
	assert.Equal(t, "0.5", reserve.UtilizationRate().String())
	// half of the way to the optimal utilization of 80% on a 0..8% curve
	assert.Equal(t, "0.05", reserve.CurrentBorrowRate().String())

	reserve.LastUpdate.Slot = 10
	reserve.AccrueInterest(10 + SlotsPerYear)
	growth, _ := reserve.ReserveLiquidity.CumulativeBorrowRateWads.Decimal().Float64()
	assert.InDelta(t, 1.05127, growth, 1e-5)
	borrowed, _ := reserve.ReserveLiquidity.BorrowedAmountWads.Decimal().Float64()
	assert.InDelta(t, 525.635, borrowed, 1e-2)
	assert.Equal(t, uint64(10+SlotsPerYear), reserve.LastUpdate.Slot)

	// stale slots never decrease the rate
	reserve.AccrueInterest(5)
	assert.Equal(t, uint64(10+SlotsPerYear), reserve.LastUpdate.Slot)
}

func TestBorrowRateAboveOptimal(t *testing.T) {
	reserve := newReserveLayout(newKey(), program.USDC, newKey(), 6)
	reserve.ReserveLiquidity.AvailableAmount = 100
	reserve.ReserveLiquidity.BorrowedAmountWads = wad("900")
	// 90% utilization, halfway from 80% to 100% on the 8..50% segment
	assert.Equal(t, "0.29", reserve.CurrentBorrowRate().String())
}

func TestRefreshReservesAndObligation(t *testing.T) {
	m, client := newTestMarket(t)
	ctx := context.Background()

	reserves, err := client.RefreshReserves(ctx)
	require.NoError(t, err)
	require.Len(t, reserves, 2)
	usdc := reserves[m.usdcReserve]
	assert.Equal(t, "USDC", usdc.Symbol)
	assert.Equal(t, "1", usdc.Price.String())
	assert.Equal(t, "2", usdc.CTokenExchangeRate.String())
	assert.Equal(t, m.usdcCollateral, usdc.CollateralMint)
	sol := reserves[m.solReserve]
	assert.Equal(t, "20", sol.Price.String())
	assert.Equal(t, uint64(12000), sol.BorrowWeightBps)

	obligations, err := client.FetchAllObligations(ctx)
	require.NoError(t, err)
	require.Len(t, obligations, 1)
	ob := obligations[0]
	assert.Equal(t, m.obligation, ob.Key)
	assert.True(t, ob.HasBorrows())

	refreshed, err := client.RefreshObligation(ob, reserves)
	require.NoError(t, err)
	assert.Equal(t, "100", refreshed.DepositedValueUsd.String())
	assert.Equal(t, "80", refreshed.UnhealthyBorrowValueUsd.String())
	assert.Equal(t, "88", refreshed.BorrowedValueUsd.String())
	assert.Equal(t, "105.6", refreshed.WeightedBorrowedValueUsd.String())
	assert.Equal(t, "4400000000", refreshed.Borrows[0].BorrowedAmount.String())
	assert.Equal(t, program.SOL, refreshed.Borrows[0].Mint)
	assert.Equal(t, program.USDC, refreshed.Deposits[0].Mint)
	assert.True(t, lending.ShouldAttemptLiquidation(refreshed))
	// the input snapshot is untouched
	assert.Equal(t, "80", ob.BorrowedValueUsd.String())

	delete(reserves, m.solReserve)
	_, err = client.RefreshObligation(ob, reserves)
	assert.ErrorIs(t, err, lending.ErrNoReserve)
}

func TestRefreshReservesSkipsUnpriced(t *testing.T) {
	m, client := newTestMarket(t)
	delete(m.oracle, m.solOracle)
	reserves, err := client.RefreshReserves(context.Background())
	require.NoError(t, err)
	assert.Len(t, reserves, 1)
	assert.Contains(t, reserves, m.usdcReserve)
}

func TestFetchObligation(t *testing.T) {
	m, client := newTestMarket(t)
	ob, err := client.FetchObligation(context.Background(), m.obligation)
	require.NoError(t, err)
	assert.Equal(t, uint64(200_000_000), ob.Deposits[0].CollateralAmount)

	_, err = client.FetchObligation(context.Background(), newKey())
	assert.Error(t, err)
	_, err = client.FetchObligation(context.Background(), m.usdcReserve)
	assert.Error(t, err)
}

func TestBuildLiquidateAndRedeemTx(t *testing.T) {
	m, client := newTestMarket(t)
	ctx := context.Background()
	ob, err := client.FetchObligation(ctx, m.obligation)
	require.NoError(t, err)

	tx := lending.NewTx()
	_, err = client.BuildLiquidateAndRedeemTx(ctx, tx, ob, program.SOL, program.USDC, newKey(), 1)
	assert.ErrorIs(t, err, ErrNotLoaded)

	reserves, err := client.RefreshReserves(ctx)
	require.NoError(t, err)
	ob, err = client.RefreshObligation(ob, reserves)
	require.NoError(t, err)

	repayCoin := newKey()
	destination, err := client.BuildLiquidateAndRedeemTx(ctx, tx, ob, program.SOL, program.USDC, repayCoin, 170_000_000)
	require.NoError(t, err)
	ata, _, err := solana.FindAssociatedTokenAddress(m.chain.player, program.USDC)
	require.NoError(t, err)
	assert.Equal(t, ata, destination)

	ins := tx.Instructions()
	// two reserve refreshes, obligation refresh, two token accounts, liquidate
	require.Len(t, ins, 6)
	for _, i := range ins[:3] {
		assert.Equal(t, m.id, i.ProgramID())
	}
	assert.Equal(t, m.usdcReserve, ins[0].Accounts()[0].PublicKey)
	// null switchboard feeds are not passed
	assert.Len(t, ins[0].Accounts(), 3)
	assert.Equal(t, program.AssociatedToken, ins[3].ProgramID())

	liquidate := ins[5]
	data, err := liquidate.Data()
	require.NoError(t, err)
	assert.Equal(t, byte(15), data[0])
	assert.Equal(t, uint64(170_000_000), binary.LittleEndian.Uint64(data[1:]))
	accounts := liquidate.Accounts()
	require.Len(t, accounts, 15)
	assert.Equal(t, repayCoin, accounts[0].PublicKey)
	assert.Equal(t, ata, accounts[2].PublicKey)
	assert.Equal(t, m.solReserve, accounts[3].PublicKey)
	assert.Equal(t, m.usdcReserve, accounts[5].PublicKey)
	assert.Equal(t, m.usdcCollateral, accounts[6].PublicKey)
	assert.Equal(t, m.obligation, accounts[10].PublicKey)
	assert.Equal(t, m.market, accounts[11].PublicKey)
	assert.True(t, accounts[13].IsSigner)
	assert.Equal(t, m.chain.player, accounts[13].PublicKey)

	// SOL is borrowed, not deposited
	solTx := lending.NewTx()
	_, err = client.BuildLiquidateAndRedeemTx(ctx, solTx, ob, program.SOL, program.SOL, repayCoin, 1)
	assert.ErrorIs(t, err, lending.ErrNoReserve)
}

func TestSubmit(t *testing.T) {
	m, client := newTestMarket(t)
	m.chain.result = &lending.TxResult{Slot: 5}
	_, err := client.Submit(context.Background(), lending.NewTx())
	assert.Error(t, err)

	tx := lending.NewTx()
	tx.Add(client.InstructionRefreshObligation(m.obligation, nil, nil))
	result, err := client.Submit(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), result.Slot)
	require.Len(t, m.chain.commits, 1)
	assert.Len(t, m.chain.commits[0], 1)
}

func transferData(instruction byte, amount uint64) solana.Base58 {
	data := make([]byte, 9)
	data[0] = instruction
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

func TestRedeemedAmount(t *testing.T) {
	m, client := newTestMarket(t)
	ctx := context.Background()
	reserves, err := client.RefreshReserves(ctx)
	require.NoError(t, err)
	ob, err := client.FetchObligation(ctx, m.obligation)
	require.NoError(t, err)
	ob, err = client.RefreshObligation(ob, reserves)
	require.NoError(t, err)

	usdcSupply := reserves[m.usdcReserve].LiquiditySupply
	destination := newKey()
	result := &lending.TxResult{
		AccountKeys: []solana.PublicKey{m.chain.player, program.Token, usdcSupply, destination, m.solLiquidity},
		Meta: &rpc.TransactionMeta{InnerInstructions: []rpc.InnerInstruction{{
			Index: 5,
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{4, 3, 0}, Data: transferData(3, 1)},
				{ProgramIDIndex: 1, Accounts: []uint16{2, 3, 0}, Data: transferData(3, 95_000_000)},
			},
		}}},
	}
	amount, err := client.RedeemedAmount(result, ob, program.USDC)
	require.NoError(t, err)
	assert.Equal(t, uint64(95_000_000), amount)

	result.Meta.InnerInstructions[0].Instructions = result.Meta.InnerInstructions[0].Instructions[:1]
	_, err = client.RedeemedAmount(result, ob, program.USDC)
	assert.ErrorIs(t, err, lending.ErrNoRedeemEvent)
	_, err = client.RedeemedAmount(nil, ob, program.USDC)
	assert.ErrorIs(t, err, lending.ErrNoRedeemEvent)
}
