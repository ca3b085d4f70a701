package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"

	"relay-bot-backend/internal/common/cache"
	"relay-bot-backend/internal/common/config"
	"relay-bot-backend/internal/common/logger"
	"relay-bot-backend/internal/features/broadcast"
	"relay-bot-backend/internal/features/mediagroup"
	relayhttp "relay-bot-backend/internal/features/relay/delivery/http"
	relayservice "relay-bot-backend/internal/features/relay/service"
	settingsservice "relay-bot-backend/internal/features/settings/service"
	topicrepo "relay-bot-backend/internal/features/topic/repository/redis"
	topicservice "relay-bot-backend/internal/features/topic/service"
	verificationservice "relay-bot-backend/internal/features/verification/service"
	"relay-bot-backend/internal/platform/redis"
	"relay-bot-backend/internal/platform/telegram"
	"relay-bot-backend/internal/platform/union"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Options{
		Service: "relay-bot",
		Version: cfg.Version,
		Debug:   cfg.Debug,
		JSON:    cfg.LogJSON,
	})

	if cfg.Telegram.BotToken == "" {
		logger.Warn().Msg("BOT_TOKEN is not set, Telegram calls will fail and error reporting is disabled")
	}
	if !cfg.AdminEnabled() {
		logger.Warn().Msg("OWNER_ID is not set, owner commands are disabled")
	}

	ctx := context.Background()

	// Redis
	redisClient, err := redis.CreateRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()
	logger.Info().Interface("redis", redis.ShardStats(redisClient)).Msg("Redis connection established")

	clk := clock.New()
	store := redis.NewStore(redisClient)
	kv := cache.New(cache.NewMemoryLocal(cfg.Relay.LocalCacheSize, cfg.Relay.LocalCacheTTL, clk), store)

	bot := telegram.NewClient(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken)
	authority := union.NewClient(cfg.Union.APIURL)

	// Services
	settingsSvc := settingsservice.NewService(kv)
	users := topicrepo.NewUserRepository(kv)
	topicSvc := topicservice.NewService(users, store, bot, clk)
	verificationSvc := verificationservice.NewService(kv, authority, topicSvc, clk, cfg.Union.BanCacheTTL)
	albums := mediagroup.NewCoalescer(bot, clk, mediagroup.Options{
		Poll:    cfg.Relay.MediaGroupPoll,
		Quiet:   cfg.Relay.MediaGroupQuiet,
		Ceiling: cfg.Relay.MediaGroupCeiling,
	})
	broadcasts := broadcast.NewProcessor(users, store, bot, clk, broadcast.Options{
		BatchSize:  cfg.Broadcast.BatchSize,
		Budget:     cfg.Broadcast.Budget,
		PauseEvery: cfg.Broadcast.PauseEvery,
		Pause:      cfg.Broadcast.Pause,
		JobTTL:     cfg.Broadcast.JobTTL,
	})

	var reportTo int64
	if cfg.ErrorReportingEnabled() {
		reportTo = cfg.Telegram.OwnerID
	}
	router := relayservice.NewRouter(relayservice.Deps{
		Bot:          bot,
		Settings:     settingsSvc,
		Topics:       topicSvc,
		Verification: verificationSvc,
		Albums:       albums,
		Broadcasts:   broadcasts,
		Markers:      store,
		Reporter:     relayservice.NewReporter(bot, reportTo),
	}, relayservice.Options{
		OwnerID:          cfg.Telegram.OwnerID,
		UnionBotUsername: cfg.Union.BotUsername,
		UnionWebAppName:  cfg.Union.WebAppName,
		Version:          cfg.Version,
		AutoReplyWindow:  cfg.Relay.AutoReplyWindow,
	})
	dispatcher := relayservice.NewDispatcher(router, cfg.Server.DispatchConcurrency, cfg.Server.UpdateTimeout)

	logger.Info().Msg("Services initialized")

	if cfg.Telegram.WebhookURL != "" {
		hookCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if err := bot.SetWebhook(hookCtx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logger.Error().Err(err).Msg("Failed to register webhook")
		} else {
			logger.Info().Msg("Webhook registered")
		}
		cancel()
	}

	// HTTP
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := relayhttp.NewEngine(relayhttp.NewWebhookHandler(dispatcher, store, cfg.Version), cfg.Telegram.WebhookSecret)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Serve in the background
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for a shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Updates still in flight at shutdown")
	}

	logger.Info().Msg("Server exited")
}
