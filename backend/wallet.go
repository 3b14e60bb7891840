package backend

import (
	"context"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/solend-liquidator/env"
	"github.com/solend-liquidator/lending"
	"github.com/solend-liquidator/program"
)

const (
	TokenAccountLayoutSize = 165
	MintDecimalsOffset     = 44
	NativeDecimals         = 9
	// MergeBatch caps how many token accounts are folded into one transaction.
	MergeBatch = 8
)

type TokenAccount struct {
	Key    solana.PublicKey
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

func DecodeTokenAccount(key solana.PublicKey, data []byte) (*TokenAccount, error) {
	if len(data) < TokenAccountLayoutSize {
		return nil, errors.Errorf("token account %s: data length %d", key, len(data))
	}
	return &TokenAccount{
		Key:    key,
		Mint:   solana.PublicKeyFromBytes(data[0:32]),
		Owner:  solana.PublicKeyFromBytes(data[32:64]),
		Amount: binary.LittleEndian.Uint64(data[64:72]),
	}, nil
}

// TokenAccounts lists the SPL token accounts owned by the signer.
func (backend *Backend) TokenAccounts(ctx context.Context) ([]*TokenAccount, error) {
	out, err := backend.rpcClient.GetTokenAccountsByOwner(ctx, backend.player,
		&rpc.GetTokenAccountsConfig{ProgramId: &program.Token},
		&rpc.GetTokenAccountsOpts{Commitment: backend.commitment, Encoding: solana.EncodingBase64})
	if err != nil {
		return nil, errors.Wrap(err, "get token accounts")
	}
	accounts := make([]*TokenAccount, 0, len(out.Value))
	for _, keyed := range out.Value {
		if keyed == nil || keyed.Account.Data == nil {
			continue
		}
		account, err := DecodeTokenAccount(keyed.Pubkey, keyed.Account.Data.GetBinary())
		if err != nil {
			backend.logger.Warn().Err(err).Msg("skip token account")
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Holdings reads the signer's native SOL balance and every token balance. Wrapped SOL accounts
// are left out: the gas asset is held natively and wrapped only inside a transaction.
func (backend *Backend) Holdings(ctx context.Context) (lending.Holdings, error) {
	balance, err := backend.rpcClient.GetBalance(ctx, backend.player, backend.commitment)
	if err != nil {
		return nil, errors.Wrap(err, "get balance")
	}
	holdings := lending.Holdings{
		program.SOL: {
			Mint:     program.SOL,
			Accounts: []lending.CoinObject{{Key: backend.player, Amount: balance.Value}},
			Amount:   balance.Value,
			Decimals: NativeDecimals,
			Symbol:   backend.env.Symbol(program.SOL),
		},
	}
	accounts, err := backend.TokenAccounts(ctx)
	if err != nil {
		return nil, err
	}
	unknown := make([]solana.PublicKey, 0)
	for _, account := range accounts {
		if account.Mint == program.SOL {
			continue
		}
		holding, ok := holdings[account.Mint]
		if !ok {
			holding = &lending.Holding{Mint: account.Mint}
			holdings[account.Mint] = holding
			if backend.env.Token(account.Mint) == nil {
				unknown = append(unknown, account.Mint)
			}
		}
		holding.Accounts = append(holding.Accounts, lending.CoinObject{Key: account.Key, Amount: account.Amount})
		holding.Amount += account.Amount
	}
	if err := backend.resolveMints(ctx, unknown); err != nil {
		return nil, err
	}
	for mint, holding := range holdings {
		if mint == program.SOL {
			continue
		}
		if tokenInfo := backend.env.Token(mint); tokenInfo != nil {
			holding.Decimals = tokenInfo.Decimals
		}
		holding.Symbol = backend.env.Symbol(mint)
	}
	return holdings, nil
}

// resolveMints registers decimals for mints missing from the token registry.
func (backend *Backend) resolveMints(ctx context.Context, mints []solana.PublicKey) error {
	if len(mints) == 0 {
		return nil
	}
	accounts, err := backend.Accounts(ctx, mints)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if account.Account == nil || account.Account.Data == nil {
			continue
		}
		data := account.Account.Data.GetBinary()
		if len(data) <= MintDecimalsOffset {
			continue
		}
		backend.env.AddToken(account.PubKey, &env.Token{
			Symbol:   account.PubKey.String(),
			Decimals: data[MintDecimalsOffset],
		})
	}
	return nil
}

// MergeTokenAccounts moves every balance of holding into the signer's associated token account
// and closes the emptied accounts. Nothing is sent when the holding already sits in one account.
func (backend *Backend) MergeTokenAccounts(ctx context.Context, holding *lending.Holding) (*lending.TxResult, error) {
	create, ata, err := program.CreateAssociatedTokenAccountIdempotent(backend.player, backend.player, holding.Mint)
	if err != nil {
		return nil, err
	}
	ins := []solana.Instruction{create}
	merged := 0
	for _, coin := range holding.Accounts {
		if coin.Key == ata {
			continue
		}
		if merged == MergeBatch {
			break
		}
		if coin.Amount > 0 {
			ins = append(ins, token.NewTransferInstruction(coin.Amount, coin.Key, ata, backend.player, nil).Build())
		}
		ins = append(ins, token.NewCloseAccountInstruction(coin.Key, backend.player, backend.player, nil).Build())
		merged++
	}
	if merged == 0 {
		return nil, nil
	}
	backend.logger.Info().Str("mint", holding.Mint.String()).Int("accounts", merged).Msg("merge token accounts")
	return backend.Commit(ctx, ins)
}
