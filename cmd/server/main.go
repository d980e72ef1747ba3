// chatrelay - chat transport to decision service relay
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/chatrelay/internal/api"
	"github.com/ashureev/chatrelay/internal/backend"
	"github.com/ashureev/chatrelay/internal/choice"
	"github.com/ashureev/chatrelay/internal/config"
	"github.com/ashureev/chatrelay/internal/janitor"
	"github.com/ashureev/chatrelay/internal/middleware"
	"github.com/ashureev/chatrelay/internal/pending"
	"github.com/ashureev/chatrelay/internal/probe"
	"github.com/ashureev/chatrelay/internal/relay"
	"github.com/ashureev/chatrelay/internal/reply"
	"github.com/ashureev/chatrelay/internal/router"
	"github.com/ashureev/chatrelay/internal/session"
	"github.com/ashureev/chatrelay/internal/store"
	"github.com/ashureev/chatrelay/internal/transport/wsbridge"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "backend", cfg.Backend.URL, "bridge", cfg.Session.BridgeURL)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	vocab, err := choice.LoadVocabulary(cfg.Relay.VocabularyFile)
	if err != nil {
		return err
	}

	gateway := backend.NewHTTPGateway(backend.Config{
		BaseURL:       cfg.Backend.URL,
		ItemTimeout:   cfg.Backend.ItemTimeout,
		ChoiceTimeout: cfg.Backend.ChoiceTimeout,
	}, logger)

	pendingStore := pending.NewStore()
	engine := relay.New(relay.Options{
		Router: router.New(router.Options{
			MaxAge:      cfg.Relay.StaleAfter,
			AllowDirect: cfg.Relay.AllowDirectChats,
			Vocabulary:  vocab,
		}),
		Pending:  pendingStore,
		Gateway:  gateway,
		Composer: reply.NewComposer(vocab),
		Log:      repo,
		Logger:   logger,
	})

	registry := session.NewRegistry(session.Options{
		Factory: wsbridge.NewFactory(cfg.Session.BridgeURL, logger),
		Relay:   engine,
		Store:   repo,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Session.RestoreSessions {
		restored, err := registry.RestoreOnBoot(ctx)
		if err != nil {
			slog.Warn("Failed to restore sessions", "error", err)
		} else {
			slog.Info("Sessions restored", "count", restored)
		}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHealthHandler(repo, gateway).RegisterHealth(r)
	api.NewSessionHandler(api.NewHandler(registry, repo)).RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return janitor.New(pendingStore, repo, janitor.Config{
			Interval:            cfg.Janitor.Interval,
			ConversationIdleTTL: cfg.Janitor.ConversationIdleTTL,
			MessageLogRetention: cfg.Janitor.MessageLogRetention,
		}, logger).Run(gctx)
	})

	if cfg.GRPCHealthPort != "" {
		g.Go(func() error {
			return probe.New(repo, 10*time.Second, logger).ListenAndServe(gctx, ":"+cfg.GRPCHealthPort)
		})
	}

	// Wait for shutdown signal or a component failure.
	g.Go(func() error {
		<-gctx.Done()
		stop()

		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		if err := registry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Sessions did not drain in time", "error", err)
		}
		return nil
	})

	return g.Wait()
}
