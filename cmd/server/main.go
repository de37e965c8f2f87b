package main

// @title           LoveRose Signaling Service API
// @version         1.0
// @description     WebSocket signaling relay for peer-to-peer video sessions
// @host            localhost:8080
// @BasePath        /
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"signaling-service/internal/adapters/kafka"
	"signaling-service/internal/api/middleware"
	"signaling-service/internal/api/routes"
	"signaling-service/internal/auth"
	"signaling-service/internal/config"
	"signaling-service/internal/database"
	"signaling-service/internal/services"
	"signaling-service/internal/websocket"
	"signaling-service/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

// run owns every resource opened after configuration, so deferred cleanup
// happens on all exit paths.
func run(cfg *config.Config, log *slog.Logger) error {
	slog.Info("Starting signaling server",
		"duplicateLoginPolicy", cfg.WebSocket.DuplicateLoginPolicy,
		"signalRouting", cfg.WebSocket.SignalRouting,
	)
	if cfg.JWT.Secret == "secret" {
		slog.Warn("JWT_SECRET is the development default")
	}

	hubOpts := websocket.Options{
		Settings: websocket.SettingsFromConfig(cfg.WebSocket),
		Logger:   log,
	}

	// Redis presence mirror and handshake rate limit (optional)
	var limiter middleware.RateLimiter
	if cfg.Redis.URL != "" {
		redisClient, err := database.NewRedisConnection(cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				slog.Error("Failed to close Redis client", "error", err)
			}
		}()

		presence := services.NewPresenceService(redisClient, log)
		hubOpts.Presence = presence
		limiter = presence
	} else {
		slog.Info("REDIS_URL not set, presence mirror and handshake rate limit disabled")
	}

	// Kafka call events (optional)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("create kafka producer for %v: %w", cfg.Kafka.Brokers, err)
		}
		publisher := kafka.NewCallEventPublisher(producer, cfg.Kafka.CallTopic, log)
		defer func() {
			if err := publisher.Close(); err != nil {
				slog.Error("Failed to close Kafka producer", "error", err)
			}
		}()
		hubOpts.CallEvents = publisher
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(hubOpts)
	go hub.Run()
	defer hub.Stop()

	router := routes.NewRouter(cfg, hub, auth.NewTokenAuthenticator(cfg.JWT), limiter, log)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		slog.Info("Server shutting down...")
	case runErr = <-serverErr:
		runErr = fmt.Errorf("http server: %w", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting handshakes before the deferred hub.Stop tears down live connections
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("HTTP server stopped")
	return runErr
}
