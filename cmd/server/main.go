// Package main is the entry point for signald, the signal-to-decision
// pipeline. It wires the boundary (HTTP ingest), the decision engine and its
// gates, the append-only decision ledger, and the background maintenance
// jobs, then runs until signalled to stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/signald/internal/config"
	"github.com/aristath/signald/internal/database"
	"github.com/aristath/signald/internal/events"
	"github.com/aristath/signald/internal/market_regime"
	"github.com/aristath/signald/internal/modules/engine"
	"github.com/aristath/signald/internal/modules/gates"
	"github.com/aristath/signald/internal/modules/ledger"
	"github.com/aristath/signald/internal/modules/marketdata"
	"github.com/aristath/signald/internal/modules/signals"
	"github.com/aristath/signald/internal/reliability"
	"github.com/aristath/signald/internal/scheduler"
	"github.com/aristath/signald/internal/server"
	"github.com/aristath/signald/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting signald")

	if !cfg.Ingest.AuthConfigured() && !cfg.DevMode {
		log.Warn().Msg("No ingest auth configured; the signal boundary accepts unauthenticated senders")
	}

	// Databases. The ledger gets the full-durability profile because a
	// decision append must survive power loss; the market cache is
	// reproducible and gets the fast profile.
	decisionsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "decisions.db"),
		Profile: database.ProfileLedger,
		Name:    "decisions",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open decisions database")
	}
	defer decisionsDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "marketcache.db"),
		Profile: database.ProfileCache,
		Name:    "marketcache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{decisionsDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to migrate database")
		}
	}

	bus := events.NewBus()

	// Market data: optional websocket quote stream, always a cache, and the
	// snapshot provider that falls back live -> cached -> degraded.
	marketCache := marketdata.NewCacheRepository(cacheDB, log)

	var stream *marketdata.QuoteStream
	var quoteSource marketdata.QuoteSource
	if cfg.Market.StreamURL != "" {
		stream = marketdata.NewQuoteStream(cfg.Market.StreamURL, cfg.Market.Tickers, marketCache, bus, log)
		if err := stream.Start(); err != nil {
			log.Warn().Err(err).Msg("Quote stream failed to start; deciding on cached or degraded data")
		}
		quoteSource = stream
	}

	provider := marketdata.NewProvider(quoteSource, marketCache, cfg.Market.SnapshotTimeout, cfg.Market.CacheTTL, log)
	classifier := market_regime.NewClassifier(market_regime.DefaultConfig(), log)

	// Decision engine. The gate config binds at construction; changing it
	// means registering a new engine version with the router.
	gateCfg := gates.DefaultGateConfig()
	if cfg.GateConfigPath != "" {
		gateCfg, err = gates.LoadGateConfig(cfg.GateConfigPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.GateConfigPath).Msg("Failed to load gate config")
		}
	}

	engineRouter := engine.NewRouter(log)
	engineRouter.Register(engine.NewEngine(gateCfg, provider, classifier, log))

	normalizer := signals.NewNormalizer(nil, log)

	// Ledger write path: repository, retry queue, recorder.
	ledgerRepo := ledger.NewRepository(decisionsDB.Conn(), log)
	pending := ledger.NewPendingRepository(decisionsDB.Conn(), log)
	recorder := ledger.NewRecorder(ledgerRepo, pending, bus, log)

	srv := server.New(server.Config{
		Log:         log,
		Config:      cfg,
		DecisionsDB: decisionsDB,
		CacheDB:     cacheDB,
		Bus:         bus,
		Normalizer:  normalizer,
		Engines:     engineRouter,
		Recorder:    recorder,
		LedgerRepo:  ledgerRepo,
		Pending:     pending,
		Stream:      stream,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
	})

	// Background jobs.
	sched := scheduler.New(bus, log)
	registerJob := func(schedule string, job scheduler.Job) {
		if err := sched.AddJob(schedule, job); err != nil {
			log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to register job")
		}
	}
	registerJob("0 */5 * * * *", scheduler.NewRetryDrainJob(ledgerRepo, pending, log))
	registerJob("0 0 * * * *", scheduler.NewWALCheckpointJob(decisionsDB, cacheDB, log))
	registerJob("0 30 * * * *", scheduler.NewCacheCleanupJob(marketCache, 24*time.Hour, log))

	if cfg.Backup.Enabled {
		store, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup storage client")
		}
		backupSvc := reliability.NewBackupService(
			store,
			[]*database.DB{decisionsDB, cacheDB},
			cfg.DataDir,
			cfg.Backup.RetainDays,
			log,
		)
		registerJob("0 0 2 * * *", scheduler.NewBackupJob(backupSvc, log))
	}

	sched.Start()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	sched.Stop()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping quote stream")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
