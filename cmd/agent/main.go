package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/internal/api"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/bridge"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/broadcast"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/engine"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/gateway"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/ratelimit"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/session"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/store"
	"github.com/SohamRatnaparkhi/navigator-ai/internal/tabs"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	serverURL := envOr("NAVIGATOR_SERVER_URL", "http://localhost:8000")
	listenAddr := envOr("NAVIGATOR_LISTEN_ADDR", ":8080")
	dataDir := envOr("NAVIGATOR_DATA_DIR", "./storage/state")

	logger.Info("Starting Navigator AI agent",
		zap.String("server_url", serverURL),
		zap.String("listen_addr", listenAddr),
		zap.String("data_dir", dataDir))

	// Initialize durable state store
	st, err := store.New(dataDir, logger)
	if err != nil {
		logger.Fatal("Failed to create state store", zap.Error(err))
	}

	// Initialize planning server client
	tasks := gateway.NewClient(serverURL, 30*time.Second, logger)

	// Initialize UI event broadcaster
	bus := broadcast.New(logger)

	// Initialize page agent hub and content bridge
	hub := bridge.NewHub(logger)
	br := bridge.New(hub, logger)

	// Initialize tab locator over connected agents
	locator := tabs.NewLocator(hub, logger)

	// Initialize session manager
	sessions := session.NewManager(tasks, st, bus, hub, logger)

	// Initialize iteration engine
	eng := engine.New(sessions, locator, br, st, bus, logger)

	// Initialize rate limiter (60 commands/minute, burst of 10 per client)
	rateLimiter := ratelimit.NewLimiter(60, 10)

	// Engine loops must outlive the requests that start them
	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	handler := api.NewHandler(runCtx, sessions, eng, br, hub, locator, st, bus, tasks, logger)
	router := handler.SetupRoutes(rateLimiter)

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Control API listening", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	// Stop the iteration loop before the HTTP surface so no new
	// round trips start mid-shutdown
	stopRuns()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Stopped cleanly")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
