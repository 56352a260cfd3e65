package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/netbase/engine/internal/bus"
	"github.com/netbase/engine/internal/config"
	"github.com/netbase/engine/internal/dlq"
	"github.com/netbase/engine/internal/logging"
	"github.com/netbase/engine/internal/scheduler"
	"github.com/netbase/engine/internal/state"
	"github.com/netbase/engine/internal/storage"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	logger := logging.New("scheduler", cfg.LogLevel)

	logger.Info().Str("version", version).Msg("starting scheduler")

	db, err := storage.NewDB(storage.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	cancelPing()
	defer redisClient.Close()

	deadLetters := dlq.New(dlq.NewRedisStore(redisClient), logger)

	busClient, err := bus.NewClient(cfg.NATSURL, logger, bus.WithDeadLetter(deadLetters))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer busClient.Close()

	agentRepo := storage.NewAgentRepository(db.DB)
	templateRepo := storage.NewTemplateRepository(db.DB)
	workflowRepo := storage.NewWorkflowRepository(db.DB, state.NewWorkflowMachine())
	taskRepo := storage.NewTaskRepository(db.DB)

	handler := scheduler.NewHandler(
		workflowRepo,
		taskRepo,
		agentRepo,
		busClient,
		scheduler.NewRedisLocker(redisClient),
		logger,
	)

	// MaxAckPending 1 drains the queue near-serially; the per-workflow lock
	// and the unique task constraint cover what little concurrency remains.
	err = busClient.Subscribe(bus.SchedulerQueue, handler.HandleMessage, bus.SubscribeOptions{
		Durable:       "scheduler",
		QueueGroup:    "scheduler",
		MaxAckPending: 1,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to scheduler queue")
	}

	trigger := scheduler.NewCronTrigger(templateRepo, workflowRepo, busClient, time.UTC, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = trigger.Refresh(ctx)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load scheduled templates")
	}
	trigger.Start()

	logger.Info().Msg("scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	trigger.Stop()
	logger.Info().Msg("scheduler stopped")
}
