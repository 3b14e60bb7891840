package program

import "github.com/gagliardetto/solana-go"

// Instruction is a hand assembled instruction for programs without generated bindings.
type Instruction struct {
	IsAccounts  []*solana.AccountMeta
	IsData      []byte
	IsProgramID solana.PublicKey
}

func (i *Instruction) ProgramID() solana.PublicKey {
	return i.IsProgramID
}

func (i *Instruction) Accounts() []*solana.AccountMeta {
	return i.IsAccounts
}

func (i *Instruction) Data() ([]byte, error) {
	return i.IsData, nil
}

// CreateAssociatedTokenAccountIdempotent creates the owner's associated token account for mint
// unless it already exists.
func CreateAssociatedTokenAccountIdempotent(payer, owner, mint solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	instruction := &Instruction{
		IsAccounts: []*solana.AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: ata, IsSigner: false, IsWritable: true},
			{PublicKey: owner, IsSigner: false, IsWritable: false},
			{PublicKey: mint, IsSigner: false, IsWritable: false},
			{PublicKey: System, IsSigner: false, IsWritable: false},
			{PublicKey: Token, IsSigner: false, IsWritable: false},
		},
		IsData:      []byte{1},
		IsProgramID: AssociatedToken,
	}
	return instruction, ata, nil
}
