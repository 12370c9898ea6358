// Package main runs the reconciliation worker that repairs partially applied membership changes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orgkeep/backend/config"
	"github.com/orgkeep/backend/internal/obs"
	"github.com/orgkeep/backend/internal/stores"
	"github.com/orgkeep/backend/internal/worker"
	"github.com/orgkeep/backend/pkg/queue"
	"github.com/orgkeep/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	st, err := stores.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("stores", zap.Error(err), zap.String("driver", cfg.Store.Driver))
	}
	defer st.Close(context.Background())

	rdb, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	obs.Init()
	jobQueue := queue.NewQueue(rdb.Client, queue.QueueReconcile, logger)
	reconciler := worker.NewReconciler(st.Users, st.Organizations, jobQueue, cfg.Worker.PollTimeout, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reconciler.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started", zap.String("queue", queue.QueueReconcile))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
