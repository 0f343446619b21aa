// Package main runs the relay HTTP server: webhooks, dashboard API and live log streams.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relaybot/dashboard/config"
	"github.com/relaybot/dashboard/internal/ai"
	"github.com/relaybot/dashboard/internal/auth"
	"github.com/relaybot/dashboard/internal/chat"
	"github.com/relaybot/dashboard/internal/eventlog"
	"github.com/relaybot/dashboard/internal/middleware"
	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/internal/realtime"
	"github.com/relaybot/dashboard/internal/stats"
	"github.com/relaybot/dashboard/internal/telegram"
	"github.com/relaybot/dashboard/pkg/metrics"
	"github.com/relaybot/dashboard/pkg/redis"
	"github.com/relaybot/dashboard/pkg/storage"
)

func main() {
	startedAt := time.Now()
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hub, event log, stats
	hub := realtime.NewHub(logger, cfg.Dashboard.ViewerBuffer)
	hub.SetViewerCountHandler(func(count int) { metrics.ViewersActive.Set(float64(count)) })
	hub.SetDropHandler(func(v *realtime.Viewer, reason realtime.DropReason) {
		metrics.ViewersDropped.WithLabelValues(string(reason)).Inc()
	})
	events := eventlog.New(cfg.Dashboard.LogCapacity, logger,
		hub,
		eventlog.SinkFunc(func(rec models.LogRecord) { metrics.LogRecords.WithLabelValues(string(rec.Level)).Inc() }),
	)
	aggregator := stats.NewAggregator(events, startedAt)

	// Optional Redis mirror of the event log
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis mirror disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			hostname, _ := os.Hostname()
			mirror := realtime.NewRedisMirror(rdb.Client, cfg.Redis.Channel, hostname+"/"+uuid.NewString()[:8], logger)
			events.AddSink(mirror)
			go mirror.Run(ctx)
			logger.Info("redis log mirror started", zap.String("channel", cfg.Redis.Channel))
		}
	}

	// Optional S3 archive
	var archiver eventlog.Archiver
	if cfg.AWS.ArchiveBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ArchiveBucket:   cfg.AWS.ArchiveBucket,
			ArchivePrefix:   cfg.AWS.ArchivePrefix,
		}, logger)
		if err != nil {
			logger.Warn("s3 archive disabled", zap.Error(err))
		} else {
			archiver = s3Client
		}
	}

	// External collaborators: AI backend and messaging platform
	deps := stats.Deps{Viewers: hub}
	var completer ai.Completer
	if cfg.AI.APIKey != "" {
		client := ai.NewClient(ai.Config{
			APIKey:           cfg.AI.APIKey,
			BaseURL:          cfg.AI.BaseURL,
			Model:            cfg.AI.Model,
			SystemPrompt:     cfg.AI.SystemPrompt,
			Timeout:          time.Duration(cfg.AI.TimeoutSec) * time.Second,
			MaxTokens:        cfg.AI.MaxTokens,
			Temperature:      cfg.AI.Temperature,
			FailureThreshold: uint32(cfg.AI.FailureThreshold),
			BreakerCooldown:  time.Duration(cfg.AI.CooldownSec) * time.Second,
		}, logger)
		completer = client
		deps.AI = client
	} else {
		logger.Warn("OPENAI_API_KEY not set; chat replies will use the fallback message")
	}
	var sender telegram.Sender
	if cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewBot(cfg.Telegram.BotToken, logger)
		if err != nil {
			logger.Warn("telegram disabled", zap.Error(err))
			events.Append(models.LevelError, "Telegram connection failed: "+err.Error())
		} else {
			sender = bot
			deps.Messaging = bot
		}
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set; replies cannot be delivered")
	}

	// Session store and handlers
	sessions := auth.NewStore(auth.Credentials{
		Username:     cfg.Dashboard.Username,
		Password:     cfg.Dashboard.Password,
		PasswordHash: cfg.Dashboard.PasswordHash,
	})
	deps.Sessions = sessions
	loginLimiter := middleware.NewRateLimiter(cfg.Dashboard.LoginRatePerMin, 5)
	go pruneEvery(ctx, time.Minute, loginLimiter.Prune)

	relay := chat.NewRelay(completer, sender, events, aggregator, cfg.Telegram.RatePerSec, logger)
	authHandler := auth.NewHandler(sessions, events, logger)
	chatHandler := chat.NewHandler(relay, events)
	webhookHandler := chat.NewWebhookHandler(relay, events, cfg.Telegram.WebhookSecret, cfg.Telegram.NotifySecret, logger)
	statsHandler := stats.NewHandler(aggregator, deps)
	logHandler := eventlog.NewHandler(events, archiver, logger)
	streamHandler := realtime.NewStreamHandler(hub, events, logger)

	router := gin.New()
	// ClientIP keys the login limiter; only listed proxies may override it.
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and status
	router.GET("/health", statsHandler.Health)
	router.GET("/status", statsHandler.Status)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks (secret header checked in handler when configured)
	router.POST("/telegram/webhook", webhookHandler.Telegram)
	router.POST("/webhooks/notify", webhookHandler.Notify)

	// Dashboard login (public, rate limited)
	router.POST("/api/login", loginLimiter.Middleware(), authHandler.Login)

	// Dashboard API (session required)
	api := router.Group("/api")
	api.Use(middleware.Session(sessions))
	{
		api.POST("/chat", chatHandler.Chat)
		api.GET("/stats", statsHandler.Stats)
		api.GET("/logs", logHandler.List)
		api.GET("/logs/export", logHandler.Export)
		api.POST("/logs/archive", logHandler.Archive)
		api.GET("/logs/stream", streamHandler.SSE)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws/logs", streamHandler.WebSocket(sessions))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	events.Append(models.LevelInfo, "Relay server started on port "+cfg.Server.Port)
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	events.Append(models.LevelWarn, "Received "+sig.String()+", shutting down")

	// Close viewers first so streaming handlers return and Shutdown can drain.
	hub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	cancel()
	logger.Info("server stopped")
}

func pruneEvery(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
