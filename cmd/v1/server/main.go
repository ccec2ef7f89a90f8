package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/larrymotalavigne/job-wars/internal/v1/config"
	"github.com/larrymotalavigne/job-wars/internal/v1/game"
	"github.com/larrymotalavigne/job-wars/internal/v1/history"
	"github.com/larrymotalavigne/job-wars/internal/v1/logging"
	"github.com/larrymotalavigne/job-wars/internal/v1/ratelimit"
	"github.com/larrymotalavigne/job-wars/internal/v1/stats"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err == nil {
		logging.Info(context.Background(), "loaded environment from .env")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Fatal(context.Background(), "invalid environment", zap.Error(err))
	}

	if err := logging.Initialize(cfg.Development()); err != nil {
		logging.Fatal(context.Background(), "failed to initialise logger", zap.Error(err))
	}
	ctx := context.Background()
	logging.Info(ctx, "configuration",
		zap.String("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.Duration("ping_interval", cfg.PingInterval),
		zap.Duration("room_expiry", cfg.RoomExpiry),
		zap.Duration("reconnect_timeout", cfg.ReconnectTimeout),
		zap.Duration("turn_duration", cfg.TurnDuration),
		zap.Int("max_actions_per_second", cfg.MaxActionsPerSecond))

	store, err := history.Open(cfg.DBPath)
	if err != nil {
		logging.Fatal(ctx, "failed to open match history store", zap.Error(err))
	}
	defer store.Close()
	logging.Info(ctx, "match history store initialised", zap.String("db_path", cfg.DBPath))

	registry := game.NewRegistry(cfg, store)

	limiter, err := ratelimit.New(cfg)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	// --- Set up Server ---
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"*"}
	router.Use(cors.New(corsConfig))

	router.GET("/ws", registry.ServeWs(limiter))

	statsHandler := stats.NewHandler(registry, store)
	statsHandler.Register(router.Group("", limiter.APIMiddleware()))

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Background loops
	loopCtx, cancelLoops := context.WithCancel(ctx)
	go registry.RunKeepalive(loopCtx)
	go registry.RunReaper(loopCtx)

	go func() {
		logging.Info(ctx, "server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "failed to run server", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down server")
	cancelLoops()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
	if err := registry.Drain(shutdownCtx); err != nil {
		logging.Warn(ctx, "pending match writes not drained", zap.Error(err))
	}

	logging.Info(ctx, "server exiting")
}
