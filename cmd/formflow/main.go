package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bitfantasy/formflow/internal/config"
	"github.com/bitfantasy/formflow/internal/form/guard"
	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/form/service"
	"github.com/bitfantasy/formflow/internal/form/storage"
	"github.com/bitfantasy/formflow/internal/metrics"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

type rootOptions struct {
	configFile string
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "formflow",
		Short:         "Task progress and submission service",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default ./configs/config.yaml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedFieldsCommand(opts))
	cmd.AddCommand(newImportFieldsCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newRepairCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	return cmd
}

// app what every database-backed command runs on
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	repos   *repository.Repositories
	metrics *metrics.Metrics
	guard   guard.OperationGuard
	redis   *redis.Client
}

func loadApp(opts *rootOptions) (*app, error) {
	cfg, err := config.LoadFile(opts.configFile)
	if err != nil {
		return nil, err
	}
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := initDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  zapLogger,
		db:      db,
		repos:   repository.NewRepositories(db),
		metrics: metrics.New(),
	}
	if cfg.Redis.Enabled() {
		a.redis = initRedis(cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			zapLogger.Warn("Redis unreachable, operation guards stay in memory", zap.Error(err))
			a.redis.Close()
			a.redis = nil
		}
	}
	if a.redis != nil {
		a.guard = guard.NewRedisGuard(a.redis, "")
	} else {
		a.guard = guard.NewMemoryGuard()
	}
	return a, nil
}

// services wires the task services over a coordinator. Commands without
// realtime clients still get one: it simply has no subscribers.
func (a *app) services(ctx context.Context, registry *realtime.Registry) (*service.Services, *realtime.Coordinator, error) {
	store, err := storage.New(ctx, a.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	if registry == nil {
		registry = realtime.NewRegistry(a.cfg.Broadcast.ClientBuffer, a.logger, a.metrics)
	}
	coordOpts := realtime.CoordinatorOptions{
		DedupWindow:    a.cfg.Broadcast.DedupWindow,
		EmitLegacyData: a.cfg.Broadcast.EmitLegacyData,
		Logger:         a.logger,
		Metrics:        a.metrics,
	}
	if a.cfg.Broadcast.Audit {
		coordOpts.Audit = a.repos.Message
	}
	coord := realtime.NewCoordinator(registry, a.guard, coordOpts)

	sub := a.cfg.Submission
	svc := service.NewServices(a.db, a.repos, store, coord, service.Options{
		ClearCooldown:   a.cfg.Progress.ClearCooldown,
		CatalogCacheTTL: a.cfg.Progress.CatalogCacheTTL,
		ArtifactRetry: service.RetryPolicy{
			Attempts: sub.MaxAttempts, Initial: sub.InitialBackoff, Max: sub.MaxBackoff, Timeout: sub.ArtifactTimeout,
		},
		UnlockRetry: service.RetryPolicy{
			Attempts: sub.MaxAttempts, Initial: sub.InitialBackoff, Max: sub.MaxBackoff, Timeout: sub.UnlockTimeout,
		},
		Guard:   a.guard,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	return svc, coord, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	_ = a.logger.Sync()
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
