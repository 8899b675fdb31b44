package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"photoquota/internal/cache"
	"photoquota/internal/config"
	"photoquota/internal/logging"
	"photoquota/internal/monitoring"
	"photoquota/internal/repository"
	"photoquota/internal/service"
	"photoquota/internal/service/s3"
	"photoquota/migrations"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg *config.Config
	db  *sqlx.DB

	quotaRepo   *repository.StorageQuotaRepository
	sessionRepo *repository.SessionRepository
	subRepo     *repository.SubscriptionRepository
	historyRepo *repository.BillingHistoryRepository
	usageLog    *repository.UsageLogRepository

	store      *s3.Client
	usageCache *cache.UsageCache

	registry   *prometheus.Registry
	monitor    *monitoring.Monitor
	calculator *service.UsageCalculator
	admission  *service.AdmissionService
	quotas     *service.StorageQuotaService
	reconciler *service.BillingReconciler
}

func loadConfig() (*config.Config, error) {
	logging.Init(logging.Config{Level: "info", Format: "json", Component: "photoquota"})

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Component: "photoquota"})
	return cfg, nil
}

func connectWithRetry(cfg config.DatabaseConfig, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	if err := ensureDatabase(cfg); err != nil {
		return nil, err
	}

	var db *sqlx.DB
	var err error
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", cfg.GetDSN())
		if err == nil {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxIdleConns)
			db.SetConnMaxLifetime(5 * time.Minute)
			return db, nil
		}

		log.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", maxAttempts).Msg("Failed to connect to database")
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

// ensureDatabase creates the configured database through the postgres system database.
func ensureDatabase(cfg config.DatabaseConfig) error {
	sys := cfg
	sys.Name = "postgres"

	pgDB, err := sqlx.Connect("postgres", sys.GetDSN())
	if err != nil {
		log.Warn().Err(err).Msg("System database unreachable, skipping database creation")
		return nil
	}
	defer pgDB.Close()

	var exists bool
	if err := pgDB.Get(&exists, "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1)", cfg.Name); err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		log.Info().Str("database", cfg.Name).Msg("Database does not exist, creating")
		if _, err := pgDB.Exec("CREATE DATABASE " + pq.QuoteIdentifier(cfg.Name)); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}
	return nil
}

func runMigrations(cfg *config.Config) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	var m *migrate.Migrate
	for i := 0; i < 5; i++ {
		m, err = migrate.NewWithSourceInstance("iofs", src, cfg.Database.GetURL())
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to create migrate instance")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Warn().Uint("version", version).Msg("Found dirty database state, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// buildApp connects every dependency and wires the services. Redis is
// optional; without it quota views are always recomputed.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := connectWithRetry(cfg.Database, 5, 5*time.Second)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(cfg); err != nil {
		db.Close()
		return nil, err
	}

	s3Config, err := s3.NewConfig(s3ConfigPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	store, err := s3.NewClient(ctx, s3Config)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	a := &app{
		cfg:         cfg,
		db:          db,
		quotaRepo:   repository.NewStorageQuotaRepository(db, cfg.Quota.BaseAllowanceGB, cfg.Quota.UnitSizeGB),
		sessionRepo: repository.NewSessionRepository(db),
		subRepo:     repository.NewSubscriptionRepository(db),
		historyRepo: repository.NewBillingHistoryRepository(db),
		usageLog:    repository.NewUsageLogRepository(db),
		store:       store,
		registry:    prometheus.NewRegistry(),
	}

	var usageCache service.UsageCache
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, quota views will not be cached")
	} else {
		a.usageCache = cache.NewUsageCache(redisClient, cfg.Redis.UsageTTL)
		usageCache = a.usageCache
	}

	a.monitor = monitoring.NewMonitor(cfg.Monitoring, monitoring.NewCollector(a.registry))
	a.calculator = service.NewUsageCalculator(a.sessionRepo, store, a.quotaRepo, cfg.Quota)
	a.admission = service.NewAdmissionService(a.quotaRepo, a.calculator, a.monitor, cfg.Quota)
	a.quotas = service.NewStorageQuotaService(a.quotaRepo, a.calculator, usageCache, cfg.Quota.WarningThreshold)
	a.reconciler = service.NewBillingReconciler(db, a.quotaRepo, a.subRepo, a.historyRepo, a.monitor, cfg.Billing)

	return a, nil
}

func (a *app) Close() {
	if a.usageCache != nil {
		if err := a.usageCache.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing redis connection")
		}
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing database connection")
	}
}
