package solend

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"github.com/solend-liquidator/program"
)

const (
	instructionRefreshReserve               = 3
	instructionRefreshObligation            = 7
	instructionLiquidateObligationAndRedeem = 15
)

func (c *Client) InstructionRefreshReserve(reserve solana.PublicKey, oracle solana.PublicKey, switchboardFeedAddress solana.PublicKey) solana.Instruction {
	instruction := &program.Instruction{
		IsAccounts: []*solana.AccountMeta{
			{PublicKey: reserve, IsSigner: false, IsWritable: true},
			{PublicKey: oracle, IsSigner: false, IsWritable: false},
		},
		IsData:      []byte{instructionRefreshReserve},
		IsProgramID: c.id,
	}
	if !switchboardFeedAddress.IsZero() {
		instruction.IsAccounts = append(instruction.IsAccounts,
			&solana.AccountMeta{PublicKey: switchboardFeedAddress, IsSigner: false, IsWritable: false})
	}
	instruction.IsAccounts = append(instruction.IsAccounts,
		&solana.AccountMeta{PublicKey: program.SysClock, IsSigner: false, IsWritable: false})
	return instruction
}

func (c *Client) InstructionRefreshObligation(obligation solana.PublicKey, deposits []solana.PublicKey, borrows []solana.PublicKey) solana.Instruction {
	instruction := &program.Instruction{
		IsAccounts: []*solana.AccountMeta{
			{PublicKey: obligation, IsSigner: false, IsWritable: true},
			{PublicKey: program.SysClock, IsSigner: false, IsWritable: false},
		},
		IsData:      []byte{instructionRefreshObligation},
		IsProgramID: c.id,
	}
	for _, deposit := range deposits {
		instruction.IsAccounts = append(instruction.IsAccounts,
			&solana.AccountMeta{PublicKey: deposit, IsSigner: false, IsWritable: false})
	}
	for _, borrow := range borrows {
		instruction.IsAccounts = append(instruction.IsAccounts,
			&solana.AccountMeta{PublicKey: borrow, IsSigner: false, IsWritable: false})
	}
	return instruction
}

type liquidateAccounts struct {
	sourceLiquidity        solana.PublicKey
	destinationCollateral  solana.PublicKey
	destinationLiquidity   solana.PublicKey
	repayReserve           *KeyedReserve
	withdrawReserve        *KeyedReserve
	obligation             solana.PublicKey
	lendingMarket          solana.PublicKey
	lendingMarketAuthority solana.PublicKey
	userTransferAuthority  solana.PublicKey
}

// InstructionLiquidateObligationAndRedeem repays amount of the obligation's debt and redeems the
// seized cTokens into the withdraw reserve's liquidity in the same instruction.
func (c *Client) InstructionLiquidateObligationAndRedeem(amount uint64, accounts *liquidateAccounts) solana.Instruction {
	data := make([]byte, 9)
	data[0] = instructionLiquidateObligationAndRedeem
	binary.LittleEndian.PutUint64(data[1:], amount)
	repay, withdraw := accounts.repayReserve, accounts.withdrawReserve
	return &program.Instruction{
		IsAccounts: []*solana.AccountMeta{
			{PublicKey: accounts.sourceLiquidity, IsSigner: false, IsWritable: true},
			{PublicKey: accounts.destinationCollateral, IsSigner: false, IsWritable: true},
			{PublicKey: accounts.destinationLiquidity, IsSigner: false, IsWritable: true},
			{PublicKey: repay.Key, IsSigner: false, IsWritable: true},
			{PublicKey: repay.ReserveLiquidity.Supply, IsSigner: false, IsWritable: true},
			{PublicKey: withdraw.Key, IsSigner: false, IsWritable: true},
			{PublicKey: withdraw.ReserveCollateral.Mint, IsSigner: false, IsWritable: true},
			{PublicKey: withdraw.ReserveCollateral.Supply, IsSigner: false, IsWritable: true},
			{PublicKey: withdraw.ReserveLiquidity.Supply, IsSigner: false, IsWritable: true},
			{PublicKey: withdraw.ReserveConfig.FeeReceiver, IsSigner: false, IsWritable: true},
			{PublicKey: accounts.obligation, IsSigner: false, IsWritable: true},
			{PublicKey: accounts.lendingMarket, IsSigner: false, IsWritable: false},
			{PublicKey: accounts.lendingMarketAuthority, IsSigner: false, IsWritable: false},
			{PublicKey: accounts.userTransferAuthority, IsSigner: true, IsWritable: false},
			{PublicKey: program.Token, IsSigner: false, IsWritable: false},
		},
		IsData:      data,
		IsProgramID: c.id,
	}
}
