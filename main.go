package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"camsync/internal/config"
	"camsync/internal/daemon"
	"camsync/internal/log"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		// ログレベルが決まる前なので標準エラーに出す
		bootstrap := log.New(log.Config{Output: os.Stderr})
		bootstrap.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}
	log.Configure(log.Config{Level: cfg.Log.Level})
	logger := log.WithComponent("main")

	app, err := daemon.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初期化に失敗しました")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("camsyncの実行に失敗しました")
		os.Exit(1)
	}
}
