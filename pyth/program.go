package pyth

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/solend-liquidator/backend"
)

type AccountReader interface {
	Accounts(ctx context.Context, keys []solana.PublicKey) ([]*backend.Account, error)
}

// Program reads price accounts of the oracle program on demand.
type Program struct {
	logger  zerolog.Logger
	backend AccountReader
	id      solana.PublicKey
}

func NewProgram(id solana.PublicKey, be AccountReader, logger zerolog.Logger) *Program {
	return &Program{
		logger:  logger,
		backend: be,
		id:      id,
	}
}

// Prices fetches and decodes keys. Accounts that are missing, foreign or not trading are logged
// and left out of the result.
func (p *Program) Prices(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey]*KeyedPrice, error) {
	accounts, err := p.backend.Accounts(ctx, keys)
	if err != nil {
		return nil, errors.Wrap(err, "fetch price accounts")
	}
	prices := make(map[solana.PublicKey]*KeyedPrice, len(accounts))
	for _, account := range accounts {
		price, err := p.buildAccount(account)
		if err != nil {
			p.logger.Warn().Err(err).Str("oracle", account.PubKey.String()).Msg("skip price")
			continue
		}
		prices[account.PubKey] = price
	}
	return prices, nil
}

func (p *Program) buildAccount(account *backend.Account) (*KeyedPrice, error) {
	if account.Account == nil {
		return nil, errors.Errorf("cannot get account info, %s", account.PubKey)
	}
	if account.Account.Owner != p.id {
		return nil, errors.Errorf("account %s is not program account, expected: %s, actual: %s", account.PubKey, p.id, account.Account.Owner)
	}
	price, err := DecodePrice(account.PubKey, account.Height, account.Account.Data.GetBinary())
	if err != nil {
		return nil, err
	}
	if !price.Trading() {
		return nil, errors.Errorf("price %s is not trading, status %d", account.PubKey, price.Aggregate.Status)
	}
	return price, nil
}
