package solend

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/solend-liquidator/backend"
	"github.com/solend-liquidator/env"
	"github.com/solend-liquidator/lending"
	"github.com/solend-liquidator/program"
	"github.com/solend-liquidator/pyth"
)

// NullOracle marks a reserve without a price feed of that kind.
var NullOracle = solana.MustPublicKeyFromBase58("nu11111111111111111111111111111111111111111")

var ErrNotLoaded = errors.New("reserves not loaded")

type Chain interface {
	ProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) ([]*backend.Account, error)
	Accounts(ctx context.Context, keys []solana.PublicKey) ([]*backend.Account, error)
	Slot(ctx context.Context) (uint64, error)
	Player() solana.PublicKey
	Commit(ctx context.Context, ins []solana.Instruction) (*lending.TxResult, error)
}

type Oracle interface {
	Prices(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey]*pyth.KeyedPrice, error)
}

// Client is the lending.ChainStateClient of one Solend lending market.
type Client struct {
	logger zerolog.Logger
	chain  Chain
	oracle Oracle
	env    *env.Env
	id     solana.PublicKey
	market solana.PublicKey

	lock          sync.RWMutex
	lendingMarket *KeyedLendingMarket
	reserves      map[solana.PublicKey]*KeyedReserve
}

func NewClient(id, market solana.PublicKey, chain Chain, oracle Oracle, e *env.Env, logger zerolog.Logger) *Client {
	return &Client{
		logger:   logger,
		chain:    chain,
		oracle:   oracle,
		env:      e,
		id:       id,
		market:   market,
		reserves: make(map[solana.PublicKey]*KeyedReserve),
	}
}

func (c *Client) marketFilter() rpc.RPCFilter {
	return rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: LendingMarketOffset, Bytes: solana.Base58(c.market.Bytes())}}
}

func (c *Client) FetchAllObligations(ctx context.Context) ([]*lending.Obligation, error) {
	accounts, err := c.chain.ProgramAccounts(ctx, c.id,
		rpc.RPCFilter{DataSize: uint64(ObligationLayoutSize)}, c.marketFilter())
	if err != nil {
		return nil, errors.Wrap(err, "fetch obligations")
	}
	obligations := make([]*lending.Obligation, 0, len(accounts))
	for _, account := range accounts {
		obligation, err := DecodeObligation(account.PubKey, account.Height, account.Account.Data.GetBinary())
		if err != nil {
			c.logger.Warn().Err(err).Msg("skip obligation")
			continue
		}
		obligations = append(obligations, c.toObligation(obligation))
	}
	return obligations, nil
}

func (c *Client) FetchObligation(ctx context.Context, key solana.PublicKey) (*lending.Obligation, error) {
	accounts, err := c.chain.Accounts(ctx, []solana.PublicKey{key})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch obligation %s", key)
	}
	if len(accounts) != 1 || accounts[0].Account == nil {
		return nil, errors.Errorf("obligation %s not found", key)
	}
	account := accounts[0]
	if account.Account.Owner != c.id {
		return nil, errors.Errorf("account %s is not program account, expected: %s, actual: %s", key, c.id, account.Account.Owner)
	}
	obligation, err := DecodeObligation(key, account.Height, account.Account.Data.GetBinary())
	if err != nil {
		return nil, err
	}
	if obligation.LendingMarket != c.market {
		return nil, errors.Errorf("obligation %s belongs to lending market %s", key, obligation.LendingMarket)
	}
	return c.toObligation(obligation), nil
}

// toObligation carries the values last stored on chain. Mints are known only for reserves
// already loaded; RefreshObligation fills in the rest.
func (c *Client) toObligation(keyed *KeyedObligation) *lending.Obligation {
	c.lock.RLock()
	defer c.lock.RUnlock()
	ob := &lending.Obligation{
		Key:                      keyed.Key,
		LendingMarket:            keyed.LendingMarket,
		Owner:                    keyed.Owner,
		Slot:                     keyed.LastUpdate.Slot,
		DepositedValueUsd:        keyed.DepositedValue.Decimal(),
		BorrowedValueUsd:         keyed.BorrowedValue.Decimal(),
		WeightedBorrowedValueUsd: keyed.BorrowedValue.Decimal(),
		UnhealthyBorrowValueUsd:  keyed.UnhealthyBorrowValue.Decimal(),
	}
	for _, deposit := range keyed.ObligationCollateral {
		entry := lending.Deposit{
			Reserve:          deposit.DepositReserve,
			CollateralAmount: deposit.DepositedAmount,
			MarketValue:      deposit.MarketValue.Decimal(),
		}
		if reserve, ok := c.reserves[deposit.DepositReserve]; ok {
			entry.Mint = reserve.ReserveLiquidity.Mint
		}
		ob.Deposits = append(ob.Deposits, entry)
	}
	for _, borrow := range keyed.ObligationLiquidity {
		entry := lending.Borrow{
			Reserve:                  borrow.BorrowReserve,
			BorrowedAmountWads:       borrow.BorrowedAmountWads.Decimal(),
			CumulativeBorrowRateWads: borrow.CumulativeBorrowRateWads.Decimal(),
			BorrowedAmount:           borrow.BorrowedAmountWads.Decimal(),
			MarketValue:              borrow.MarketValue.Decimal(),
			WeightedMarketValue:      borrow.MarketValue.Decimal(),
		}
		if reserve, ok := c.reserves[borrow.BorrowReserve]; ok {
			entry.Mint = reserve.ReserveLiquidity.Mint
		}
		ob.Borrows = append(ob.Borrows, entry)
	}
	return ob
}

func (c *Client) loadLendingMarket(ctx context.Context) (*KeyedLendingMarket, error) {
	c.lock.RLock()
	market := c.lendingMarket
	c.lock.RUnlock()
	if market != nil {
		return market, nil
	}
	accounts, err := c.chain.Accounts(ctx, []solana.PublicKey{c.market})
	if err != nil {
		return nil, errors.Wrap(err, "fetch lending market")
	}
	if len(accounts) != 1 || accounts[0].Account == nil {
		return nil, errors.Errorf("lending market %s not found", c.market)
	}
	if accounts[0].Account.Owner != c.id {
		return nil, errors.Errorf("lending market %s is not owned by %s", c.market, c.id)
	}
	market, err = DecodeLendingMarket(c.market, accounts[0].Height, accounts[0].Account.Data.GetBinary())
	if err != nil {
		return nil, err
	}
	c.lock.Lock()
	c.lendingMarket = market
	c.lock.Unlock()
	return market, nil
}

// RefreshReserves fetches every reserve of the market, accrues interest to the current slot and
// prices it from its oracle. Reserves without a usable price are left out.
func (c *Client) RefreshReserves(ctx context.Context) (lending.Reserves, error) {
	if _, err := c.loadLendingMarket(ctx); err != nil {
		return nil, err
	}
	accounts, err := c.chain.ProgramAccounts(ctx, c.id,
		rpc.RPCFilter{DataSize: uint64(ReserveLayoutSize)}, c.marketFilter())
	if err != nil {
		return nil, errors.Wrap(err, "fetch reserves")
	}
	slot, err := c.chain.Slot(ctx)
	if err != nil {
		return nil, err
	}
	keyed := make(map[solana.PublicKey]*KeyedReserve, len(accounts))
	oracles := make([]solana.PublicKey, 0, len(accounts))
	for _, account := range accounts {
		reserve, err := DecodeReserve(account.PubKey, account.Height, account.Account.Data.GetBinary())
		if err != nil {
			c.logger.Warn().Err(err).Msg("skip reserve")
			continue
		}
		keyed[reserve.Key] = reserve
		oracle := reserve.ReserveLiquidity.Oracle
		if !oracle.IsZero() && oracle != NullOracle {
			oracles = append(oracles, oracle)
		}
	}
	prices, err := c.oracle.Prices(ctx, oracles)
	if err != nil {
		return nil, err
	}

	reserves := make(lending.Reserves, len(keyed))
	for key, reserve := range keyed {
		price, ok := prices[reserve.ReserveLiquidity.Oracle]
		if !ok {
			c.logger.Warn().Str("reserve", key.String()).Str("oracle", reserve.ReserveLiquidity.Oracle.String()).Msg("no price for reserve")
			continue
		}
		reserve.AccrueInterest(slot)
		reserves[key] = c.toReserve(reserve, price.Value(), slot)
	}
	c.lock.Lock()
	c.reserves = keyed
	c.lock.Unlock()
	return reserves, nil
}

func (c *Client) toReserve(reserve *KeyedReserve, price decimal.Decimal, slot uint64) *lending.Reserve {
	liquidity, collateral, config := reserve.ReserveLiquidity, reserve.ReserveCollateral, reserve.ReserveConfig
	return &lending.Reserve{
		Key:                      reserve.Key,
		LendingMarket:            reserve.LendingMarket,
		Mint:                     liquidity.Mint,
		Symbol:                   c.env.Symbol(liquidity.Mint),
		Decimals:                 liquidity.MintDecimals,
		LiquiditySupply:          liquidity.Supply,
		LiquidityFeeReceiver:     config.FeeReceiver,
		PythOracle:               liquidity.Oracle,
		SwitchboardOracle:        liquidity.SwitchBoardOracle,
		CollateralMint:           collateral.Mint,
		CollateralSupply:         collateral.Supply,
		Price:                    price,
		BorrowWeightBps:          reserve.BorrowWeightBps(),
		LiquidationThreshold:     config.LiquidationThreshold,
		LiquidationBonus:         config.LiquidationBonus,
		LoanToValueRatio:         config.LoanToValueRatio,
		CumulativeBorrowRateWads: liquidity.CumulativeBorrowRateWads.Decimal(),
		CTokenExchangeRate:       reserve.CollateralExchangeRate(),
		Slot:                     slot,
	}
}

// RefreshObligation values ob against reserves. Deposits are worth their cTokens converted at the
// exchange rate; borrows grow with the reserve's cumulative rate and are weighted by its borrow
// weight.
func (c *Client) RefreshObligation(ob *lending.Obligation, reserves lending.Reserves) (*lending.Obligation, error) {
	refreshed := &lending.Obligation{
		Key:                      ob.Key,
		LendingMarket:            ob.LendingMarket,
		Owner:                    ob.Owner,
		Slot:                     ob.Slot,
		DepositedValueUsd:        decimal.Zero,
		BorrowedValueUsd:         decimal.Zero,
		WeightedBorrowedValueUsd: decimal.Zero,
		UnhealthyBorrowValueUsd:  decimal.Zero,
	}
	for _, deposit := range ob.Deposits {
		reserve, ok := reserves[deposit.Reserve]
		if !ok {
			return nil, errors.Wrapf(lending.ErrNoReserve, "deposit reserve %s of %s", deposit.Reserve, ob.Key)
		}
		liquidity := decimalFromUint64(deposit.CollateralAmount).DivRound(reserve.CTokenExchangeRate, wadPrecision)
		marketValue := liquidity.Mul(reserve.Price).Shift(-int32(reserve.Decimals))
		refreshed.DepositedValueUsd = refreshed.DepositedValueUsd.Add(marketValue)
		refreshed.UnhealthyBorrowValueUsd = refreshed.UnhealthyBorrowValueUsd.Add(marketValue.Mul(percent(reserve.LiquidationThreshold)))
		refreshed.Deposits = append(refreshed.Deposits, lending.Deposit{
			Reserve:          deposit.Reserve,
			Mint:             reserve.Mint,
			CollateralAmount: deposit.CollateralAmount,
			MarketValue:      marketValue,
		})
	}
	for _, borrow := range ob.Borrows {
		reserve, ok := reserves[borrow.Reserve]
		if !ok {
			return nil, errors.Wrapf(lending.ErrNoReserve, "borrow reserve %s of %s", borrow.Reserve, ob.Key)
		}
		amount := borrowedWithInterest(borrow.BorrowedAmountWads, borrow.CumulativeBorrowRateWads, reserve.CumulativeBorrowRateWads)
		marketValue := amount.Mul(reserve.Price).Shift(-int32(reserve.Decimals))
		weighted := marketValue.Mul(reserve.BorrowWeight())
		refreshed.BorrowedValueUsd = refreshed.BorrowedValueUsd.Add(marketValue)
		refreshed.WeightedBorrowedValueUsd = refreshed.WeightedBorrowedValueUsd.Add(weighted)
		refreshed.Borrows = append(refreshed.Borrows, lending.Borrow{
			Reserve:                  borrow.Reserve,
			Mint:                     reserve.Mint,
			BorrowedAmountWads:       borrow.BorrowedAmountWads,
			CumulativeBorrowRateWads: borrow.CumulativeBorrowRateWads,
			BorrowedAmount:           amount,
			MarketValue:              marketValue,
			WeightedMarketValue:      weighted,
		})
	}
	return refreshed, nil
}

func (c *Client) snapshot() (*KeyedLendingMarket, map[solana.PublicKey]*KeyedReserve) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.lendingMarket, c.reserves
}

// BuildLiquidateAndRedeemTx appends, in order: a refresh of every reserve the obligation uses, a
// refresh of the obligation, the destination token accounts and the liquidate-and-redeem
// instruction. Withdrawn SOL is unwrapped when the draft completes.
func (c *Client) BuildLiquidateAndRedeemTx(ctx context.Context, tx *lending.Tx, ob *lending.Obligation,
	repayMint, withdrawMint solana.PublicKey, repayCoin solana.PublicKey, repayAmount uint64) (solana.PublicKey, error) {
	market, reserves := c.snapshot()
	if market == nil || len(reserves) == 0 {
		return solana.PublicKey{}, ErrNotLoaded
	}
	repayReserve, err := findReserve(reserves, borrowReserves(ob), repayMint)
	if err != nil {
		return solana.PublicKey{}, errors.Wrapf(err, "repay %s", repayMint)
	}
	withdrawReserve, err := findReserve(reserves, depositReserves(ob), withdrawMint)
	if err != nil {
		return solana.PublicKey{}, errors.Wrapf(err, "withdraw %s", withdrawMint)
	}

	depositKeys, borrowKeys := ob.ReserveKeys()
	refreshed := make(map[solana.PublicKey]bool)
	for _, key := range append(append([]solana.PublicKey{}, depositKeys...), borrowKeys...) {
		reserve, ok := reserves[key]
		if !ok {
			return solana.PublicKey{}, errors.Wrapf(lending.ErrNoReserve, "reserve %s", key)
		}
		if refreshed[key] {
			continue
		}
		tx.Add(c.InstructionRefreshReserve(reserve.Key, reserve.ReserveLiquidity.Oracle, switchboardOracle(reserve)))
		refreshed[key] = true
	}
	tx.Add(c.InstructionRefreshObligation(ob.Key, depositKeys, borrowKeys))

	player := c.chain.Player()
	createCollateral, destinationCollateral, err := program.CreateAssociatedTokenAccountIdempotent(player, player, withdrawReserve.ReserveCollateral.Mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	createLiquidity, destinationLiquidity, err := program.CreateAssociatedTokenAccountIdempotent(player, player, withdrawMint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	authority, err := solana.CreateProgramAddress([][]byte{market.Key.Bytes(), {market.BumpSeed}}, c.id)
	if err != nil {
		return solana.PublicKey{}, errors.Wrap(err, "lending market authority")
	}
	tx.Add(createCollateral, createLiquidity)
	tx.Add(c.InstructionLiquidateObligationAndRedeem(repayAmount, &liquidateAccounts{
		sourceLiquidity:        repayCoin,
		destinationCollateral:  destinationCollateral,
		destinationLiquidity:   destinationLiquidity,
		repayReserve:           repayReserve,
		withdrawReserve:        withdrawReserve,
		obligation:             ob.Key,
		lendingMarket:          market.Key,
		lendingMarketAuthority: authority,
		userTransferAuthority:  player,
	}))
	if withdrawMint == program.SOL {
		tx.AddFinal(destinationLiquidity.String(), token.NewCloseAccountInstruction(destinationLiquidity, player, player, nil).Build())
	}
	return destinationLiquidity, nil
}

func switchboardOracle(reserve *KeyedReserve) solana.PublicKey {
	if reserve.ReserveLiquidity.SwitchBoardOracle == NullOracle {
		return solana.PublicKey{}
	}
	return reserve.ReserveLiquidity.SwitchBoardOracle
}

func depositReserves(ob *lending.Obligation) []solana.PublicKey {
	deposits, _ := ob.ReserveKeys()
	return deposits
}

func borrowReserves(ob *lending.Obligation) []solana.PublicKey {
	_, borrows := ob.ReserveKeys()
	return borrows
}

func findReserve(reserves map[solana.PublicKey]*KeyedReserve, keys []solana.PublicKey, mint solana.PublicKey) (*KeyedReserve, error) {
	for _, key := range keys {
		reserve, ok := reserves[key]
		if ok && reserve.ReserveLiquidity.Mint == mint {
			return reserve, nil
		}
	}
	return nil, lending.ErrNoReserve
}

func (c *Client) Submit(ctx context.Context, tx *lending.Tx) (*lending.TxResult, error) {
	if tx.Empty() {
		return nil, errors.New("submit: empty transaction")
	}
	return c.chain.Commit(ctx, tx.Instructions())
}

const (
	tokenInstructionTransfer        = 3
	tokenInstructionTransferChecked = 12
)

// RedeemedAmount sums the token transfers out of the withdraw reserve's liquidity supply.
func (c *Client) RedeemedAmount(result *lending.TxResult, ob *lending.Obligation, withdrawMint solana.PublicKey) (uint64, error) {
	_, reserves := c.snapshot()
	reserve, err := findReserve(reserves, depositReserves(ob), withdrawMint)
	if err != nil {
		return 0, errors.Wrapf(err, "withdraw %s", withdrawMint)
	}
	supply := reserve.ReserveLiquidity.Supply
	if result == nil || result.Meta == nil {
		return 0, lending.ErrNoRedeemEvent
	}
	keys := result.AccountKeys
	var total uint64
	found := false
	for _, inner := range result.Meta.InnerInstructions {
		for _, ins := range inner.Instructions {
			if int(ins.ProgramIDIndex) >= len(keys) || keys[ins.ProgramIDIndex] != program.Token {
				continue
			}
			data := ins.Data
			if len(data) < 9 || (data[0] != tokenInstructionTransfer && data[0] != tokenInstructionTransferChecked) {
				continue
			}
			if len(ins.Accounts) == 0 || int(ins.Accounts[0]) >= len(keys) || keys[ins.Accounts[0]] != supply {
				continue
			}
			total += binary.LittleEndian.Uint64(data[1:9])
			found = true
		}
	}
	if !found {
		return 0, errors.Wrapf(lending.ErrNoRedeemEvent, "liquidity supply %s in %s", supply, result.Signature)
	}
	return total, nil
}
