package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quillpad/collab-relay/internal/billing"
	"github.com/quillpad/collab-relay/internal/bus"
	"github.com/quillpad/collab-relay/internal/database"
	"github.com/quillpad/collab-relay/internal/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	cfg := relay.ConfigFromEnv()

	var relayBus relay.Bus
	if cfg.NATSURL != "" {
		natsBus, err := bus.Connect(cfg.NATSURL, "collab-relay")
		if err != nil {
			slog.Error("bus connection failed", "error", err)
			os.Exit(1)
		}
		defer func() { _ = natsBus.Close() }()
		relayBus = natsBus
	}

	hub := relay.NewHub(relayBus)
	go hub.Run()

	gateway := relay.NewGateway(hub, cfg)
	mux := relay.SetupRoutes(gateway, webhookHandler(cfg))

	server := relay.CreateServer(cfg.Port, mux)
	go func() {
		slog.Info("relay listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	if err := relay.ShutdownServer(server, shutdownTimeout); err != nil {
		slog.Warn("server shutdown incomplete", "error", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		slog.Warn("hub shutdown incomplete", "error", err)
	}
}

// webhookHandler wires the billing boundary when both the database and the
// shared secret are configured; otherwise the route is not mounted.
func webhookHandler(cfg relay.Config) http.Handler {
	if cfg.DatabaseURL == "" || cfg.WebhookSecret == "" {
		return nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db, "migrations"); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}
	return billing.NewHandler(cfg.WebhookSecret, billing.NewPostgresStore(db))
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
