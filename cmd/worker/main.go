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
	"github.com/netbase/engine/internal/executor"
	"github.com/netbase/engine/internal/logging"
	"github.com/netbase/engine/internal/storage"
	"github.com/netbase/engine/internal/wasm"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	logger := logging.New("worker", cfg.LogLevel)

	logger.Info().Str("version", version).Msg("starting compute worker")

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

	taskRepo := storage.NewTaskRepository(db.DB)

	sandbox := wasm.NewSandbox(wasm.Config{
		Fuel:      cfg.WASMFuel,
		WallClock: cfg.WASMWallClock,
	}, logger)
	defer sandbox.Close()

	groupExecutor := executor.NewGroupExecutor(taskRepo, busClient, logger,
		executor.WithSoftTimeout(cfg.GroupSoftTimeout))
	groupExecutor.RegisterBackend(executor.NewWASMBackend(sandbox, cfg.SharedFSRoot, logger))
	groupExecutor.RegisterBackend(executor.NewDockerBackend(logger))
	groupExecutor.RegisterBackend(executor.NewPythonFunctionBackend(logger))

	// AckWait must outlast the soft timeout or in-flight groups get
	// redelivered while still executing.
	err = busClient.Subscribe(bus.ComputeQueue, groupExecutor.HandleMessage, bus.SubscribeOptions{
		Durable:       "compute-workers",
		QueueGroup:    "compute-workers",
		MaxAckPending: cfg.WorkerConcurrency,
		AckWait:       cfg.GroupAckWait,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to compute queue")
	}

	logger.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Str("shared_fs_root", cfg.SharedFSRoot).
		Msg("worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	logger.Info().Msg("worker stopped")
}
