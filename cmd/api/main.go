package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/api/rest"
	"github.com/davidleathers/evidence-vault/internal/domain/clock"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/cache"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/database"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/database/migrations"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/kms"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/objectstore"
	"github.com/davidleathers/evidence-vault/internal/infrastructure/telemetry"
	"github.com/davidleathers/evidence-vault/internal/metrics"
	custodysvc "github.com/davidleathers/evidence-vault/internal/service/custody"
	evidencesvc "github.com/davidleathers/evidence-vault/internal/service/evidence"
	inspectorsvc "github.com/davidleathers/evidence-vault/internal/service/inspector"
	manifestsvc "github.com/davidleathers/evidence-vault/internal/service/manifest"
	packsvc "github.com/davidleathers/evidence-vault/internal/service/pack"
	signingsvc "github.com/davidleathers/evidence-vault/internal/service/signing"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		migrate    = flag.Bool("migrate", false, "Apply database migrations before serving")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrate); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func run(ctx context.Context, cfg *config.Config, migrate bool) error {
	logger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	httpLogger := telemetry.SetupLogger(cfg.LogLevel)

	provider, err := telemetry.Initialize(ctx, cfg.Telemetry, cfg.Version, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	registry, err := metrics.NewRegistry(telemetry.InstrumentationName)
	if err != nil {
		return fmt.Errorf("failed to create metrics registry: %w", err)
	}

	if migrate {
		if err := applyMigrations(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	pool, err := database.NewConnectionPool(ctx, cfg.Database, logger, registry)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	store, err := objectstore.NewFromConfig(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}
	keyManager, err := kms.NewKeyManagerFromConfig(ctx, cfg.Signing, cfg.Environment, logger)
	if err != nil {
		return fmt.Errorf("failed to create key manager: %w", err)
	}

	db := pool.Pool()
	clk := clock.RealClock{}
	artifacts := database.NewArtifactRepository(db)
	packs := database.NewPackRepository(db)
	accesses := database.NewInspectorRepository(db)
	progress := cache.NewProgressStore(redisClient, cfg.Redis.ProgressTTL, logger)
	revoked := cache.NewRevokedPacks(redisClient, logger)

	signer := signingsvc.NewService(keyManager, cfg.Signing, logger, registry)
	custody := custodysvc.NewService(database.NewCustodyRepository(db), clk, logger, registry)
	builder := manifestsvc.NewBuilder(
		artifacts,
		database.NewCatalogReader(db),
		packs,
		database.NewSnapshotReader(db),
		signer,
		cfg.Packs.MaxArtifacts,
		clk,
		logger,
	)
	packService := packsvc.NewService(packsvc.Dependencies{
		Packs:       packs,
		Artifacts:   artifacts,
		Builder:     builder,
		Custody:     custody,
		Store:       store,
		Accesses:    accesses,
		Progress:    progress,
		Revocations: revoked,
		Keys:        signer,
		Metrics:     registry,
		Clock:       clk,
		Logger:      logger,
	}, cfg.Packs, cfg.Environment)
	packService.Start()
	defer packService.Stop()

	var limiter inspectorsvc.RateLimiter
	if cfg.Inspector.Limiter == "redis" {
		limiter = cache.NewInspectorLimiter(redisClient, cfg.Inspector.RequestsPerSecond, cfg.Inspector.Burst, logger)
	}
	inspectorService := inspectorsvc.NewService(inspectorsvc.Dependencies{
		Accesses:    accesses,
		Packs:       packs,
		Documents:   packService,
		Custody:     custody,
		Store:       store,
		Revocations: revoked,
		Limiter:     limiter,
		Metrics:     registry,
		Clock:       clk,
		Logger:      logger,
	}, cfg.Inspector, cfg.Storage, cfg.Environment)
	evidenceService := evidencesvc.NewService(artifacts, custody, store, cfg.Storage, cfg.Environment, clk, logger)

	health := rest.NewHealthService(rest.HealthConfig{
		CacheDuration:  5 * time.Second,
		Timeout:        3 * time.Second,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
	})
	health.RegisterChecker(rest.NewDatabaseHealthChecker(db))
	health.RegisterChecker(rest.NewRedisHealthChecker(redisClient))
	health.RegisterChecker(rest.NewGenerationPoolChecker(packService.PoolStatus, cfg.Packs.QueueSize))

	router := rest.NewRouter(rest.RouterDeps{
		Packs:     packService,
		Inspector: inspectorService,
		Evidence:  evidenceService,
		Custody:   custody,
		Keys:      signer,
		Progress:  progress,
		Auth: rest.AuthConfig{
			JWTSecret:   []byte(cfg.Security.JWTSecret),
			Issuer:      cfg.Security.JWTIssuer,
			TokenExpiry: cfg.Security.TokenExpiry,
		},
		PortalURL: cfg.Inspector.PortalURL,
		Health:    health,
		Metrics:   registry,
		Logger:    httpLogger,
	})

	logger.Info("evidence vault starting",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("signing", cfg.Signing.Provider),
		zap.Int("generation_workers", cfg.Packs.Workers))

	return rest.NewServer(cfg.Server, router, httpLogger).Run(ctx)
}

func applyMigrations(url string) error {
	db, err := migrations.Open(url)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.Up(db)
}
