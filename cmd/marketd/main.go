package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tradepost/tradepost/params"
	"github.com/tradepost/tradepost/pkg/account"
	"github.com/tradepost/tradepost/pkg/api"
	"github.com/tradepost/tradepost/pkg/candle"
	"github.com/tradepost/tradepost/pkg/feed"
	"github.com/tradepost/tradepost/pkg/market"
	"github.com/tradepost/tradepost/pkg/storage"
	"github.com/tradepost/tradepost/pkg/util"
	"github.com/tradepost/tradepost/pkg/vault"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = filepath.Join(cfg.Storage.DataDir, "marketd.log")
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Storage ----
	store, err := storage.Open(filepath.Join(cfg.Storage.DataDir, "market"))
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	// ---- Domain services ----
	clock := util.RealClock{}
	accounts := account.NewManager(store, clock, sugar)
	playerVault := vault.New(store, sugar)

	disp := market.NewDispatcher()
	engine := market.NewEngine(store, disp, clock, sugar, market.EngineConfig{
		PageSize:     cfg.Market.PageSize,
		StoreTimeout: cfg.Market.StoreTimeout,
	})

	// ---- Game bridge ----
	bridge := vault.NewBridge(playerVault, accounts, sugar)
	bridge.Start(cfg.Server.BridgeAddr)
	defer bridge.Stop()

	// ---- Event consumers ----
	// Subscription order fixes delivery order: settle trades and fold
	// candles before the update reaches websocket clients.
	disp.Subscribe(vault.NewSettlement(store, sugar))
	disp.Subscribe(candle.NewAggregator(store, cfg.Candles.Periods, sugar))

	apiServer := api.NewServer(api.Deps{
		Engine:   engine,
		Orders:   store,
		Accounts: accounts,
		Vault:    playerVault,
		Bridge:   bridge,
		Candles:  store,
	}, cfg.Server, cfg.Candles.Periods, sugar)
	disp.Subscribe(apiServer)

	if len(cfg.Feed.Brokers) > 0 {
		publisher, err := feed.NewPublisher(cfg.Feed.Brokers, cfg.Feed.Topic, sugar)
		if err != nil {
			sugar.Fatalw("feed_init_failed", "brokers", cfg.Feed.Brokers, "err", err)
		}
		defer publisher.Close()
		disp.Subscribe(publisher)
		sugar.Infow("feed_enabled", "brokers", cfg.Feed.Brokers, "topic", cfg.Feed.Topic)
	}

	// ---- API Server ----
	apiServer.Start(cfg.Server.APIAddr)
	defer apiServer.Stop()

	sugar.Infow("marketd_started",
		"api_addr", cfg.Server.APIAddr,
		"bridge_addr", cfg.Server.BridgeAddr,
		"page_size", cfg.Market.PageSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	sugar.Info("shutting down")
}
