// Chimera - Space Biology Research Synthesis Server
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkravets/chimera/internal/api"
	"github.com/mkravets/chimera/internal/auth"
	"github.com/mkravets/chimera/internal/catalog"
	"github.com/mkravets/chimera/internal/config"
	"github.com/mkravets/chimera/internal/conversation"
	"github.com/mkravets/chimera/internal/metrics"
	"github.com/mkravets/chimera/internal/middleware"
	"github.com/mkravets/chimera/internal/prefs"
	"github.com/mkravets/chimera/internal/research"
	"github.com/mkravets/chimera/internal/store"
	"github.com/mkravets/chimera/internal/synth"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// The publication catalog loads lazily on first use, but warming it here
	// means the first query does not pay the indexing cost.
	corpus := catalog.New(cfg.PublicationsCSV)
	if _, err := corpus.Load(context.Background()); err != nil {
		slog.Warn("Publication corpus unavailable at startup, retrying on first use", "error", err)
	} else {
		slog.Info("Publication corpus loaded", "publications", corpus.Stats().TotalPublications)
	}

	engine := synth.New(corpus, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)

	// Initialize services.
	aggregator := prefs.New(repo)
	conversations := conversation.New(repo, cfg.Conversation.MaxRetained)

	audit := research.NewAuditLog(repo)
	defer audit.Close()

	stats := metrics.New(nil)

	orch := research.NewOrchestrator(engine, aggregator, conversations, audit, stats, research.Options{
		Timeout:    cfg.QueryTimeout,
		BufferSize: cfg.Stream.BufferSize,
		Window:     cfg.Conversation.Window,
	})

	authService, err := auth.NewService(repo, cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		slog.Error("Failed to initialize auth service", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo,
		api.ComponentCheck{Name: "corpus", Check: func(ctx context.Context) (string, bool) {
			if corpus.Loaded() {
				return "loaded", true
			}
			return "not_loaded", false
		}},
		api.ComponentCheck{Name: "synthesizer", Check: func(ctx context.Context) (string, bool) {
			if engine.Generative() {
				return "llm", true
			}
			return "template", true
		}},
	)
	catalogHandler := catalog.NewHandler(corpus, repo)
	authHandler := auth.NewHandler(authService, aggregator)
	researchHandler := research.NewHandler(orch, research.HandlerOptions{
		Heartbeat:  cfg.Stream.HeartbeatInterval,
		RateLimit:  cfg.RateLimit.Requests,
		RateWindow: cfg.RateLimit.Window,
	})
	metricsHandler := metrics.NewHandler(stats, 2*time.Second)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterHealth(r)
	authHandler.RegisterRoutes(r)
	catalogHandler.RegisterRoutes(r)
	metricsHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	// Research routes resolve bearer tokens when present so queries
	// personalize, but anonymous requests pass through untouched.
	r.Group(func(r chi.Router) {
		r.Use(authService.Optional())
		researchHandler.RegisterRoutes(r)
	})

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	// Keepalive runs every 10s to maintain connection
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// allowedOrigins narrows CORS to the configured frontend when one is set.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL != "" {
		return []string{cfg.FrontendURL}
	}
	return []string{"*"}
}
