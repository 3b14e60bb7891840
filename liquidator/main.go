package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/solend-liquidator/cmd/liquidate"
	"github.com/solend-liquidator/config"
)

const usage = "usage: liquidator run-dispatcher|run-worker <workspace>"

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if len(os.Args) != 3 {
		logger.Fatal().Msg(usage)
	}
	var mode liquidate.Mode
	switch os.Args[1] {
	case "run-dispatcher":
		mode = liquidate.ModeDispatcher
	case "run-worker":
		mode = liquidate.ModeWorker
	default:
		logger.Fatal().Str("command", os.Args[1]).Msg(usage)
	}

	workSpace := os.Args[2]
	if err := os.Chdir(workSpace); err != nil {
		logger.Fatal().Err(err).Str("workspace", workSpace).Msg("enter workspace")
	}
	cfg, err := config.Load(".", mode == liquidate.ModeWorker)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	workspace, err := os.Getwd()
	if err != nil {
		logger.Fatal().Err(err).Msg("resolve workspace")
	}
	logger.Info().Str("workspace", workspace).Msg("work space")

	dir := fmt.Sprintf("./%s_log/", time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		logger.Fatal().Err(err).Msg("create log dir")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	liq, err := liquidate.NewLiquidate(ctx, cfg, mode, dir)
	if err != nil {
		logger.Fatal().Err(err).Msg("init liquidator")
	}
	if err := liq.Service(); err != nil {
		logger.Fatal().Err(err).Msg("liquidator")
	}
}
