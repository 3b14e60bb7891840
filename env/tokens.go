package env

import (
	"encoding/json"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
)

type Token struct {
	Symbol   string
	Decimals uint8
}

func (e *Env) loadTokens(file string) error {
	infoJson, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "read tokens")
	}
	if err := json.Unmarshal(infoJson, &e.tokens); err != nil {
		return errors.Wrap(err, "parse tokens")
	}
	return nil
}

func (e *Env) AddToken(mint solana.PublicKey, token *Token) {
	e.tokens[mint] = token
}

func (e *Env) Token(mint solana.PublicKey) *Token {
	token, ok := e.tokens[mint]
	if !ok {
		return nil
	}
	return token
}

// Symbol falls back to the mint address for unknown tokens.
func (e *Env) Symbol(mint solana.PublicKey) string {
	if token := e.Token(mint); token != nil {
		return token.Symbol
	}
	return mint.String()
}
