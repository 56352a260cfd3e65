package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netbase/engine/internal/bus"
	"github.com/netbase/engine/internal/config"
	"github.com/netbase/engine/internal/logging"
	"github.com/netbase/engine/internal/seed"
	"github.com/netbase/engine/internal/state"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/pkg/api/handlers"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	logger := logging.New("server", cfg.LogLevel)

	logger.Info().Str("version", version).Msg("starting API server")

	if err := storage.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	logger.Info().Msg("migrations applied")

	db, err := storage.NewDB(storage.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	busClient, err := bus.NewClient(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer busClient.Close()

	agentRepo := storage.NewAgentRepository(db.DB)
	templateRepo := storage.NewTemplateRepository(db.DB)
	workflowRepo := storage.NewWorkflowRepository(db.DB, state.NewWorkflowMachine())
	taskRepo := storage.NewTaskRepository(db.DB)

	if cfg.SeedPath != "" {
		loader := seed.NewLoader(agentRepo, templateRepo, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := loader.Apply(ctx, cfg.SeedPath)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SeedPath).Msg("failed to apply seed file")
		}
	}

	router := handlers.NewRouter(handlers.Repositories{
		Agents:    agentRepo,
		Templates: templateRepo,
		Workflows: workflowRepo,
		Tasks:     taskRepo,
	}, busClient, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	logger.Info().Msg("server stopped")
}
