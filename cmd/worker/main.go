// Package main runs the mirror archive worker: it tails the Redis log mirror
// and uploads batches of records to S3.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relaybot/dashboard/config"
	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/internal/realtime"
	"github.com/relaybot/dashboard/internal/worker"
	"github.com/relaybot/dashboard/pkg/redis"
	"github.com/relaybot/dashboard/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Redis.Addr == "" || cfg.AWS.ArchiveBucket == "" {
		logger.Fatal("worker requires REDIS_ADDR and AWS_S3_ARCHIVE_BUCKET")
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		ArchiveBucket:   cfg.AWS.ArchiveBucket,
		ArchivePrefix:   cfg.AWS.ArchivePrefix,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	archiver := worker.NewMirrorArchiver(s3Client, cfg.AWS.BatchSize, time.Duration(cfg.AWS.FlushSec)*time.Second, logger)

	stop, err := realtime.SubscribeMirror(rdb.Client, cfg.Redis.Channel, func(instance string, rec models.LogRecord) {
		archiver.Add(instance, rec)
	})
	if err != nil {
		logger.Fatal("subscribe mirror", zap.Error(err))
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		archiver.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started", zap.String("channel", cfg.Redis.Channel), zap.String("bucket", cfg.AWS.ArchiveBucket))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stop()
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
