package main

import (
	"flag"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"growvault/config"
	"growvault/core/state"
	"growvault/crypto"
	"growvault/native/vault"
	"growvault/observability/logging"
	"growvault/rpc"
	"growvault/storage"
)

const rpcTokenEnv = "GROWVAULT_RPC_TOKEN"

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration file")
	flag.Parse()

	logger := logging.Setup("vaultd", os.Getenv("GROWVAULT_ENV"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("open ledger database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	engine := vault.NewEngine(state.NewManager(db))
	if err := seedTreasury(engine, cfg.TreasuryAllocation); err != nil {
		logger.Error("seed treasury", "error", err)
		os.Exit(1)
	}

	token := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if token == "" {
		logger.Warn("no RPC bearer token configured; mutating methods are open", "env", rpcTokenEnv)
	}

	server := rpc.NewServer(engine, token, cfg.ReadQuotaPerMinute, logger)
	logger.Info("vaultd starting", "network", cfg.NetworkName, "rpc", cfg.RPCAddress, "datadir", cfg.DataDir)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server exited", "error", err)
		os.Exit(1)
	}
}

// seedTreasury tops the treasury up to the configured allocation on first
// boot. Subsequent boots with a non-empty treasury leave it untouched.
func seedTreasury(engine *vault.Engine, allocation string) error {
	allocation = strings.TrimSpace(allocation)
	if allocation == "" {
		return nil
	}
	target, ok := new(big.Int).SetString(allocation, 10)
	if !ok || target.Sign() <= 0 {
		return nil
	}
	current, err := engine.TreasuryBalance()
	if err != nil {
		return err
	}
	if current.Sign() > 0 {
		return nil
	}
	return engine.Credit(crypto.TreasuryAddress(), target)
}
