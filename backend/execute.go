package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/solend-liquidator/lending"
)

var (
	ErrTxFailed       = errors.New("transaction failed")
	ErrConfirmTimeout = errors.New("transaction not confirmed in time")
)

var maxSendRetries uint = 3

// Commit signs ins with the imported wallet, sends it and waits until the node reports it
// confirmed. The confirmed transaction with its meta is returned.
func (backend *Backend) Commit(ctx context.Context, ins []solana.Instruction) (*lending.TxResult, error) {
	if len(ins) == 0 {
		return nil, errors.New("commit: no instructions")
	}
	if backend.wallet == nil {
		return nil, errors.New("commit: no wallet imported")
	}
	blockHash, err := backend.RecentBlockHash(ctx)
	if err != nil {
		return nil, err
	}
	builder := solana.NewTransactionBuilder()
	for _, in := range backend.budget() {
		builder.AddInstruction(in)
	}
	for _, in := range ins {
		builder.AddInstruction(in)
	}
	builder.SetRecentBlockHash(blockHash)
	builder.SetFeePayer(backend.player)
	trx, err := builder.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build transaction")
	}
	if _, err := trx.Sign(backend.getWallet); err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	signature, err := backend.rpcClient.SendTransactionWithOpts(ctx, trx, rpc.TransactionOpts{
		PreflightCommitment: backend.commitment,
		MaxRetries:          &maxSendRetries,
	})
	if err != nil {
		backend.invalidateBlockHash()
		return nil, errors.Wrap(err, "send transaction")
	}
	logger := backend.logger.With().Str("signature", signature.String()).Logger()
	logger.Info().Int("instructions", len(ins)).Msg("transaction sent")
	deadline := backend.now().Add(backend.confirmTimeout)
	if err := backend.confirm(ctx, signature, deadline); err != nil {
		logger.Error().Err(err).Msg("transaction not confirmed")
		return nil, err
	}
	result, err := backend.transaction(ctx, signature, deadline)
	if err != nil {
		return nil, err
	}
	logger.Info().Uint64("slot", result.Slot).Msg("transaction success")
	return result, nil
}

func (backend *Backend) budget() []solana.Instruction {
	ins := make([]solana.Instruction, 0, 2)
	if backend.computeUnitLimit > 0 {
		ins = append(ins, computebudget.NewSetComputeUnitLimitInstruction(backend.computeUnitLimit).Build())
	}
	if backend.priorityFee > 0 {
		ins = append(ins, computebudget.NewSetComputeUnitPriceInstruction(backend.priorityFee).Build())
	}
	return ins
}

func (backend *Backend) confirm(ctx context.Context, signature solana.Signature, deadline time.Time) error {
	for {
		out, err := backend.rpcClient.GetSignatureStatuses(ctx, false, signature)
		if err != nil {
			backend.logger.Warn().Err(err).Str("signature", signature.String()).Msg("get signature status")
		} else if len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return errors.Wrapf(ErrTxFailed, "%s: %v", signature, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		if err := backend.wait(ctx, deadline); err != nil {
			return errors.Wrap(err, signature.String())
		}
	}
}

func (backend *Backend) transaction(ctx context.Context, signature solana.Signature, deadline time.Time) (*lending.TxResult, error) {
	maxVersion := uint64(0)
	for {
		out, err := backend.rpcClient.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err == nil && out != nil && out.Transaction != nil {
			return toTxResult(signature, out)
		}
		if err != nil && !errors.Is(err, rpc.ErrNotFound) {
			return nil, errors.Wrap(err, "get transaction")
		}
		if err := backend.wait(ctx, deadline); err != nil {
			return nil, errors.Wrap(err, signature.String())
		}
	}
}

func (backend *Backend) wait(ctx context.Context, deadline time.Time) error {
	if !backend.now().Before(deadline) {
		return ErrConfirmTimeout
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backend.pollInterval):
		return nil
	}
}

func toTxResult(signature solana.Signature, out *rpc.GetTransactionResult) (*lending.TxResult, error) {
	trx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, errors.Wrap(err, "decode transaction")
	}
	keys := make([]solana.PublicKey, 0, len(trx.Message.AccountKeys))
	keys = append(keys, trx.Message.AccountKeys...)
	if out.Meta != nil {
		if out.Meta.Err != nil {
			return nil, errors.Wrap(ErrTxFailed, fmt.Sprintf("%s: %v", signature, out.Meta.Err))
		}
		keys = append(keys, out.Meta.LoadedAddresses.Writable...)
		keys = append(keys, out.Meta.LoadedAddresses.ReadOnly...)
	}
	return &lending.TxResult{
		Signature:   signature,
		Slot:        out.Slot,
		AccountKeys: keys,
		Meta:        out.Meta,
	}, nil
}
