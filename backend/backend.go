package backend

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/solend-liquidator/env"
)

// MultipleAccountsLimit is the most keys a node answers in one getMultipleAccounts call.
const MultipleAccountsLimit = 100

// RPC is the subset of *rpc.Client the backend talks to.
type RPC interface {
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)
	GetBalance(ctx context.Context, publicKey solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

type Account struct {
	PubKey  solana.PublicKey
	Account *rpc.Account
	Height  uint64
}

type Backend struct {
	logger           zerolog.Logger
	rpcClient        RPC
	env              *env.Env
	commitment       rpc.CommitmentType
	wallet           *solana.PrivateKey
	player           solana.PublicKey
	confirmTimeout   time.Duration
	pollInterval     time.Duration
	priorityFee      uint64
	computeUnitLimit uint32
	lock             sync.Mutex
	cachedBH         solana.Hash
	cachedAt         time.Time
	now              func() time.Time
}

func NewBackend(rpcClient RPC, e *env.Env, logger zerolog.Logger) *Backend {
	return &Backend{
		logger:         logger,
		rpcClient:      rpcClient,
		env:            e,
		commitment:     rpc.CommitmentConfirmed,
		confirmTimeout: 30 * time.Second,
		pollInterval:   500 * time.Millisecond,
		now:            time.Now,
	}
}

// ImportWallet loads the signer from a base58 encoded private key.
func (backend *Backend) ImportWallet(key string) error {
	wallet, err := solana.PrivateKeyFromBase58(key)
	if err != nil {
		return errors.Wrap(err, "decode private key")
	}
	backend.wallet = &wallet
	backend.player = wallet.PublicKey()
	backend.logger.Info().Str("player", backend.player.String()).Msg("wallet imported")
	return nil
}

func (backend *Backend) Player() solana.PublicKey {
	return backend.player
}

func (backend *Backend) SetConfirmTimeout(timeout time.Duration) {
	backend.confirmTimeout = timeout
}

// SetPriorityFee prepends compute budget instructions to every committed transaction.
// Zero values leave the node defaults.
func (backend *Backend) SetPriorityFee(microLamports uint64, computeUnitLimit uint32) {
	backend.priorityFee = microLamports
	backend.computeUnitLimit = computeUnitLimit
}

func (backend *Backend) getWallet(key solana.PublicKey) *solana.PrivateKey {
	if backend.wallet != nil && key.Equals(backend.player) {
		return backend.wallet
	}
	return nil
}

// ProgramAccounts lists the accounts owned by program matching every filter.
func (backend *Backend) ProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) ([]*Account, error) {
	slot, err := backend.Slot(ctx)
	if err != nil {
		return nil, err
	}
	out, err := backend.rpcClient.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Commitment: backend.commitment,
		Encoding:   solana.EncodingBase64,
		Filters:    filters,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get program accounts %s", program)
	}
	accounts := make([]*Account, 0, len(out))
	for _, keyed := range out {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		accounts = append(accounts, &Account{
			PubKey:  keyed.Pubkey,
			Account: keyed.Account,
			Height:  slot,
		})
	}
	return accounts, nil
}

// Accounts fetches keys in batches. Missing accounts are returned with a nil Account.
func (backend *Backend) Accounts(ctx context.Context, keys []solana.PublicKey) ([]*Account, error) {
	slot, err := backend.Slot(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(keys))
	for start := 0; start < len(keys); start += MultipleAccountsLimit {
		end := start + MultipleAccountsLimit
		if end > len(keys) {
			end = len(keys)
		}
		out, err := backend.rpcClient.GetMultipleAccounts(ctx, keys[start:end]...)
		if err != nil {
			return nil, errors.Wrap(err, "get multiple accounts")
		}
		if len(out.Value) != end-start {
			return nil, errors.Errorf("get multiple accounts: asked %d, got %d", end-start, len(out.Value))
		}
		for i, account := range out.Value {
			accounts = append(accounts, &Account{
				PubKey:  keys[start+i],
				Account: account,
				Height:  slot,
			})
		}
	}
	return accounts, nil
}

func (backend *Backend) Slot(ctx context.Context) (uint64, error) {
	slot, err := backend.rpcClient.GetSlot(ctx, backend.commitment)
	if err != nil {
		return 0, errors.Wrap(err, "get slot")
	}
	return slot, nil
}
