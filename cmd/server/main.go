// Escrowsync - state reconciliation for on-chain escrow transactions
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"

	"github.com/meridianlabs/escrowsync/internal/archive"
	"github.com/meridianlabs/escrowsync/internal/chain"
	"github.com/meridianlabs/escrowsync/internal/config"
	"github.com/meridianlabs/escrowsync/internal/escrow"
	"github.com/meridianlabs/escrowsync/internal/evidence"
	"github.com/meridianlabs/escrowsync/internal/health"
	"github.com/meridianlabs/escrowsync/internal/logging"
	"github.com/meridianlabs/escrowsync/internal/metrics"
	"github.com/meridianlabs/escrowsync/internal/mirror"
	"github.com/meridianlabs/escrowsync/internal/server"
	"github.com/meridianlabs/escrowsync/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting escrowsync",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.IsProduction() {
		format = "json"
	}
	logger = logging.New(cfg.LogLevel, format)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"escrow_contract", cfg.EscrowContract,
		"arbitrator_contract", cfg.ArbitratorContract,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTraces(shutdownCtx)
	}()

	ledger, err := chain.Dial(cfg.RPCURL, cfg.EscrowContract, logger)
	if err != nil {
		logger.Error("failed to connect to RPC endpoint", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	var arb escrow.Arbitrator
	if cfg.ArbitratorContract != "" {
		arb = ledger.Arbitrator(common.HexToAddress(cfg.ArbitratorContract))
	} else {
		addr, _, infoErr := ledger.ArbitratorInfo(ctx)
		if infoErr != nil {
			logger.Warn("arbitrator address unavailable, dispute enrichment degraded", "error", infoErr)
		} else {
			arb = ledger.Arbitrator(common.HexToAddress(addr))
		}
	}

	feeTimeout := cfg.FeeTimeout
	if seconds, ftErr := ledger.FeeTimeout(ctx); ftErr != nil {
		logger.Warn("fee timeout read failed, using configured fallback",
			"error", ftErr, "fallback", cfg.FeeTimeout)
	} else if seconds > 0 {
		feeTimeout = time.Duration(seconds) * time.Second
	}

	index := escrow.NewDisputeIndex()
	resolver := escrow.NewDisputeResolver(ledger, arb, index, logger)
	aggregator := escrow.NewAggregator(ledger, index, logger)
	svc := escrow.NewService(ledger, aggregator, resolver, feeTimeout)
	broker := escrow.NewBroker(logger)

	checks := health.NewRegistry(5 * time.Second)
	checks.Register("ledger", func(ctx context.Context) health.Status {
		if _, err := ledger.HeadBlock(ctx); err != nil {
			return health.Status{Name: "ledger", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "ledger", Healthy: true}
	})

	var store archive.Store
	if cfg.DatabaseURL != "" {
		db, dbErr := sql.Open("postgres", cfg.DatabaseURL)
		if dbErr != nil {
			logger.Error("failed to open database", "error", dbErr)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if pingErr := db.PingContext(ctx); pingErr != nil {
			logger.Error("failed to connect to database", "error", pingErr)
			os.Exit(1)
		}
		store = archive.NewPostgresStore(db)
		go metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
		checks.Register("archive", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "archive", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "archive", Healthy: true}
		})
		logger.Info("event archive backed by postgres")
	} else {
		store = archive.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, event archive is in-memory only")
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithArchive(store),
		server.WithEvidence(evidence.New(cfg.IPFSGateway, logger)),
		server.WithHealthRegistry(checks),
	}
	if cfg.MirrorURL != "" {
		mirrorClient := mirror.New(cfg.MirrorURL, logger)
		checks.Register("mirror", func(ctx context.Context) health.Status {
			return health.Status{Name: "mirror", Healthy: mirrorClient.Healthy()}
		})
		opts = append(opts, server.WithMirror(mirrorClient))
	}

	srv := server.New(cfg, svc, resolver, broker, opts...)

	watcher := escrow.NewWatcher(ledger, ledger, resolver, broker, store, escrow.WatcherConfig{
		PollInterval: cfg.WatcherPoll,
		StartBlock:   cfg.WatcherStartBlock,
	}, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Error("failed to start chain watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Stop()

	srv.SetReady(true)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
