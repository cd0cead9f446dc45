package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitfantasy/formflow/internal/form/handler"
	"github.com/bitfantasy/formflow/internal/form/realtime"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/middleware"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and SSE server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", true, "migrate tables before serving")
	return cmd
}

func runServe(opts *rootOptions, autoMigrate bool) error {
	a, err := loadApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, zapLogger := a.cfg, a.logger

	zapLogger.Info("Starting formflow service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.Bool("redis_guard", a.redis != nil),
		zap.String("storage", cfg.Storage.Driver),
	)

	if autoMigrate {
		if err := repository.Migrate(a.db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	registry := realtime.NewRegistry(cfg.Broadcast.ClientBuffer, zapLogger, a.metrics)
	services, coord, err := a.services(context.Background(), registry)
	if err != nil {
		return err
	}
	server := realtime.NewServer(coord, realtime.ServerOptions{
		PingInterval: cfg.Broadcast.PingInterval,
		Authorizer:   services.Access,
		Logger:       zapLogger,
	})

	handlers := handler.NewHandlers(handler.Deps{
		Services: services,
		Realtime: server,
		Metrics:  a.metrics,
		DB:       a.db,
		Version:  Version,
		Logger:   zapLogger,
	})

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	// SSE frames must reach the client unbuffered.
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/sse", "/api/ws"})))

	handler.RegisterRoutes(router, handlers, cfg.JWT.Secret)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // long-lived websocket and SSE connections
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited", zap.Int("open_connections", registry.Count()))
	return nil
}
