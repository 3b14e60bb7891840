package utils

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

var (
	BackendLog  = "backend"
	ConfigPath  = "./config/"
	TokensFile  = ConfigPath + "tokens.json"
	MarketsFile = ConfigPath + "markets.json"
	ConfigFile  = ConfigPath + "config.json"
)

// NewLog opens (or appends to) <dir>/<name>.log and returns a logger that writes JSON lines there
// and a human readable copy to stdout.
func NewLog(dir, name string) (zerolog.Logger, error) {
	fileName := filepath.Join(dir, name+".log")
	file, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return zerolog.Nop(), err
	}
	writer := zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{Out: os.Stdout})
	return zerolog.New(writer).With().Timestamp().Str("component", name).Logger(), nil
}

func ReverseBytes(dst []byte, src []byte) {
	for i := 0; i < len(src); i++ {
		dst[len(src)-1-i] = src[i]
	}
}

// Sleep waits for d and reports false when ctx ends first.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
