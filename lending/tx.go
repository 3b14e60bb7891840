package lending

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Tx is a transaction draft. Swaps and the liquidation append to the same draft so they land
// atomically; final instructions (closing temporary wrapped SOL accounts) always run last.
type Tx struct {
	body    []solana.Instruction
	final   []solana.Instruction
	finalBy map[string]bool
}

func NewTx() *Tx {
	return &Tx{finalBy: make(map[string]bool)}
}

func (tx *Tx) Add(ins ...solana.Instruction) {
	tx.body = append(tx.body, ins...)
}

// AddFinal queues an instruction for the end of the draft, once per key.
func (tx *Tx) AddFinal(key string, ins solana.Instruction) {
	if tx.finalBy[key] {
		return
	}
	tx.finalBy[key] = true
	tx.final = append(tx.final, ins)
}

func (tx *Tx) Instructions() []solana.Instruction {
	out := make([]solana.Instruction, 0, len(tx.body)+len(tx.final))
	out = append(out, tx.body...)
	return append(out, tx.final...)
}

func (tx *Tx) Empty() bool {
	return len(tx.body) == 0
}

// TxResult is a confirmed transaction as seen by the node.
type TxResult struct {
	Signature   solana.Signature
	Slot        uint64
	AccountKeys []solana.PublicKey
	Meta        *rpc.TransactionMeta
}
