package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hedgie-bot-go/internal/bot"
	"hedgie-bot-go/internal/config"
	"hedgie-bot-go/internal/feed"
	"hedgie-bot-go/internal/logger"
	"hedgie-bot-go/internal/models"
	"hedgie-bot-go/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	backfill := flag.Bool("backfill", false, "seed the price history from hourly klines before starting")
	flag.Parse()

	// A default console logger covers startup until the config file is
	// loaded.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading from system environment")
	} else {
		logger.S().Info("loaded configuration from .env file")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("cannot load config file: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	kv, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("cannot open database: %v", err)
	}
	defer kv.Close()

	trades, err := store.OpenTradeLog(cfg.TradesDBPath)
	if err != nil {
		logger.S().Fatalf("cannot open trade log: %v", err)
	}
	defer trades.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *backfill {
		backfillCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		stored, err := feed.Backfill(backfillCtx, cfg.BinanceSymbol, kv, logger.S())
		cancel()
		if err != nil {
			logger.S().Fatalf("backfill failed after %d samples: %v", stored, err)
		}
	}

	b, err := bot.New(cfg, kv, trades, os.Getenv("SLACK_WEBHOOK_URL"), logger.S())
	if err != nil {
		logger.S().Fatalf("cannot assemble bot: %v", err)
	}

	logger.S().Info("--- starting hedgie bot ---")
	if err := b.Run(ctx); err != nil {
		logger.S().Fatalf("bot exited with error: %v", err)
	}
	logger.S().Info("bot stopped cleanly")
}
