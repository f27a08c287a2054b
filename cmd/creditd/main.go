package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"creditra/config"
	"creditra/core/events"
	"creditra/crypto"
	"creditra/native/credit"
	"creditra/native/token"
	"creditra/observability/logging"
	"creditra/rpc"
	"creditra/state"
	"creditra/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("creditd", "info", "json").Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	var logger *slog.Logger
	if cfg.LogFile != "" {
		logger = logging.SetupToFile("creditd", cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	} else {
		logger = logging.Setup("creditd", cfg.LogLevel, cfg.LogFormat)
	}

	admin, err := crypto.DecodeAddress(cfg.AdminAddress)
	if err != nil {
		logger.Error("invalid admin address", "address", cfg.AdminAddress, "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	journal, err := events.OpenJournal(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		logger.Error("failed to open event journal", "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	manager := state.NewManager(db)

	engine := credit.NewEngine(admin, credit.ModuleAddress())
	engine.SetState(manager)
	engine.SetEmitter(journal)

	if cfg.TokenSymbol != "" {
		ledger := token.NewLedger(cfg.TokenSymbol)
		ledger.SetState(manager)
		if err := engine.SetLiquidityToken(admin, ledger); err != nil {
			logger.Error("failed to wire settlement token", "error", err)
			os.Exit(1)
		}
		logger.Info("settlement token enabled", "symbol", ledger.Symbol())
	} else {
		logger.Info("running in bookkeeping-only mode")
	}

	if cfg.ReserveAddress != "" {
		reserve, err := crypto.DecodeAddress(cfg.ReserveAddress)
		if err != nil {
			logger.Error("invalid reserve address", "address", cfg.ReserveAddress, "error", err)
			os.Exit(1)
		}
		if err := engine.SetLiquiditySource(admin, reserve); err != nil {
			logger.Error("failed to set liquidity reserve", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("credit engine initialised",
		"admin", admin.String(),
		"reserve", engine.LiquiditySource().String(),
	)

	server := rpc.NewServer(engine, logger)
	if err := server.Start(cfg.ListenAddress); err != nil {
		logger.Error("JSON-RPC server stopped", "error", err)
		os.Exit(1)
	}
}
