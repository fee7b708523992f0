package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labgrid/config"
	"labgrid/native/ledger"
	"labgrid/native/registry"
	"labgrid/native/reservation"
	"labgrid/observability/logging"
	"labgrid/observability/metrics"
	"labgrid/rpc"
	"labgrid/state"
	"labgrid/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the daemon configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Setup("labgridd", cfg.Environment, logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	params, err := cfg.EngineParams()
	if err != nil {
		logger.Error("invalid reservation params", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "err", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "reservations"))
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db, params.RingCapacity)
	book := ledger.NewLedger()
	labs := registry.NewRegistry(params.PerLabStake)

	engine := reservation.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(book)
	engine.SetOwnerRegistry(labs)
	engine.SetInstitutionRegistry(labs)
	engine.SetParams(params)
	engine.SetEmitter(metrics.NewEmitter(metrics.Reservations(), nil))

	auth := rpc.NewAuthenticator(cfg.BackendJWTSecret)
	limiter := rpc.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	server := rpc.NewServer(engine, auth, limiter, logger)

	go func() {
		logger.Info("starting metrics endpoint", "addr", cfg.MetricsAddress)
		if err := http.ListenAndServe(cfg.MetricsAddress, promhttp.Handler()); err != nil {
			logger.Error("metrics endpoint failed", "err", err)
		}
	}()

	if err := server.ListenAndServe(cfg.ListenAddress); err != nil {
		logger.Error("API server failed", "err", err)
		os.Exit(1)
	}
}
