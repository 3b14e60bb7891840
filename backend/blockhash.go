package backend

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
)

// BHCachedTTL bounds how long a fetched blockhash is reused. Blockhashes expire after roughly
// 150 slots, so this stays far below a minute.
var BHCachedTTL = 20 * time.Second

func (backend *Backend) RecentBlockHash(ctx context.Context) (solana.Hash, error) {
	backend.lock.Lock()
	defer backend.lock.Unlock()
	if !backend.cachedBH.IsZero() && backend.now().Sub(backend.cachedAt) < BHCachedTTL {
		return backend.cachedBH, nil
	}
	out, err := backend.rpcClient.GetLatestBlockhash(ctx, backend.commitment)
	if err != nil {
		return solana.Hash{}, errors.Wrap(err, "get latest blockhash")
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("get latest blockhash: empty response")
	}
	backend.cachedBH = out.Value.Blockhash
	backend.cachedAt = backend.now()
	backend.logger.Debug().Str("blockhash", backend.cachedBH.String()).Msg("receive block hash")
	return backend.cachedBH, nil
}

// invalidateBlockHash forces the next transaction to fetch a fresh blockhash.
func (backend *Backend) invalidateBlockHash() {
	backend.lock.Lock()
	defer backend.lock.Unlock()
	backend.cachedBH = solana.Hash{}
}
