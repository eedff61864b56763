// Package main точка входа бота для скачивания видео Terabox.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	teraboxbot "github.com/magabrotheeeer/terabox-bot/internal/app/terabox-bot"
	"github.com/magabrotheeeer/terabox-bot/internal/config"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env, os.Stdout)

	logger.Info("starting terabox-bot",
		slog.String("env", cfg.Env),
		slog.String("storage", cfg.Storage.Driver),
		slog.Int("max_concurrent_downloads", cfg.Limits.MaxConcurrentDownloads),
	)
	if cfg.Bot.Token == "" {
		logger.Error("bot token is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := teraboxbot.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("terabox-bot stopped gracefully")
}
