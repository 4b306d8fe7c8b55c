package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craftdesk/be-workflow-core/internal/client"
	"github.com/craftdesk/be-workflow-core/internal/config"
	"github.com/craftdesk/be-workflow-core/internal/database"
	"github.com/craftdesk/be-workflow-core/internal/handler"
	"github.com/craftdesk/be-workflow-core/internal/logger"
	"github.com/craftdesk/be-workflow-core/internal/middleware"
	"github.com/craftdesk/be-workflow-core/internal/policy"
	"github.com/craftdesk/be-workflow-core/internal/repository"
	"github.com/craftdesk/be-workflow-core/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Workflow Core Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Rule catalog: file-backed when POLICY_RULES_FILE is set, otherwise the
	// policy_rules table.
	var ruleSource policy.Source
	if cfg.Policy.RulesFile != "" {
		ruleSource = &policy.FileSource{Path: cfg.Policy.RulesFile}
		log.Info().Str("path", cfg.Policy.RulesFile).Msg("Using file-backed rule source")
	} else {
		ruleSource = repository.NewRuleRepository(db)
	}
	catalog := policy.NewCatalog(ruleSource, log.Logger)
	if err := catalog.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load rule catalog")
	}

	// Optional event publisher
	var events workflow.EventPublisher
	if cfg.NATS.URL != "" {
		publisher, err := client.NewEventPublisher(cfg.NATS.URL, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer publisher.Close()
		events = publisher
		log.Info().Str("url", cfg.NATS.URL).Msg("Event publisher initialized")
	}

	// Workflow engine and manager
	engine := workflow.NewEngine(repository.NewDefinitionRepository(db))
	manager := workflow.NewManager(
		engine,
		repository.NewEntityRepository(db),
		repository.NewRequestRepository(db),
		repository.NewLogRepository(db),
		events,
		log.Logger,
	)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(catalog, manager, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/api/v1/policy/evaluate", httpHandler.Evaluate)
	mux.HandleFunc("/api/v1/policy/reload", httpHandler.ReloadRules)
	mux.HandleFunc("/api/v1/workflow/transitions", httpHandler.RequestTransition)
	mux.HandleFunc("/api/v1/workflow/approvals", httpHandler.Approve)
	mux.HandleFunc("/api/v1/workflow/pending", httpHandler.ListPending)
	mux.HandleFunc("/api/v1/workflow/history", httpHandler.GetHistory)
	mux.HandleFunc("/api/v1/workflow/next-states", httpHandler.NextStates)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
