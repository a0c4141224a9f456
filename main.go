package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teamdigest/internal/config"
	"teamdigest/internal/digest"
	"teamdigest/internal/embed"
	"teamdigest/internal/feedback"
	"teamdigest/internal/handlers"
	"teamdigest/internal/ingest"
	"teamdigest/internal/logging"
	"teamdigest/internal/middleware"
	"teamdigest/internal/pipeline"
	"teamdigest/internal/profiles"
	"teamdigest/internal/queue"
	"teamdigest/internal/retrieval"
	"teamdigest/internal/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServiceBundle struct {
	Store          storage.Store
	Manager        *queue.Manager
	Pool           *queue.Pool
	SlackHandler   *handlers.SlackHandler
	ProfileHandler *handlers.ProfileHandler
	DigestHandler  *handlers.DigestHandler
	InspectHandler *handlers.InspectHandler
	DebugHandler   *handlers.DebugHandler
	Config         *config.Config
}

func initializeServices() *ServiceBundle {
	slog.Info("Loading configuration...")
	var cfg *config.Config
	for {
		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			slog.Error("Invalid configuration, retrying in 30s", "error", err)
			time.Sleep(30 * time.Second)
			continue
		}
		break
	}

	slog.Info("Initializing services...")

	var store storage.Store
	if cfg.UseMemoryStore() {
		slog.Info("Using in-memory store")
		store = storage.NewMemoryStore()
	} else {
		for {
			pgStore, err := storage.NewPostgresStore(cfg.DatabaseURL, cfg.EmbeddingDim)
			if err != nil {
				slog.Error("Failed to initialize Postgres store, retrying in 30s", "error", err)
				time.Sleep(30 * time.Second)
				continue
			}
			store = pgStore
			break
		}
	}

	encoder := embed.NewEncoder(cfg.EmbeddingDim)
	manager := queue.NewManager()
	router := queue.NewRouter(cfg.HotWindow)
	processor := pipeline.NewProcessor(store, encoder)
	pool := queue.NewPool(manager, processor, cfg.WorkerCount)

	ingestSvc := ingest.NewService(store, router, manager)
	profileSvc := profiles.NewService(store, encoder)
	retrievalSvc := retrieval.NewService(store, cfg.Oversample)
	builder := digest.NewBuilder(store, profileSvc, retrievalSvc, cfg.RetrievalWindow, cfg.DigestSize)
	learner := feedback.NewLearner(store, encoder)

	slog.Info("All services initialized successfully")

	return &ServiceBundle{
		Store:          store,
		Manager:        manager,
		Pool:           pool,
		SlackHandler:   handlers.NewSlackHandler(ingestSvc, cfg.SlackSigningSecret),
		ProfileHandler: handlers.NewProfileHandler(profileSvc),
		DigestHandler:  handlers.NewDigestHandler(builder, learner, store),
		InspectHandler: handlers.NewInspectHandler(store, manager, processor),
		DebugHandler:   handlers.NewDebugHandler(profileSvc, builder),
		Config:         cfg,
	}
}

func main() {
	logging.SetupLogger()

	slog.Info("Starting teamdigest", slog.String("version", "1.0.0"))

	services := initializeServices()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services.Pool.Start(ctx)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.MetricsMiddleware)

	// Event ingestion
	slackRouter := router.PathPrefix("/slack").Subrouter()
	slackRouter.Use(middleware.WebhookRateLimitMiddleware())
	slackRouter.HandleFunc("/events", services.SlackHandler.HandleEvents).Methods("POST")
	slackRouter.HandleFunc("/backfill", services.SlackHandler.HandleBackfill).Methods("POST")

	// API routes
	apiRouter := router.PathPrefix("").Subrouter()
	apiRouter.Use(middleware.APIRateLimitMiddleware())

	apiRouter.HandleFunc("/roles", services.ProfileHandler.CreateRole).Methods("POST")
	apiRouter.HandleFunc("/phases", services.ProfileHandler.CreatePhase).Methods("POST")
	apiRouter.HandleFunc("/projects", services.ProfileHandler.CreateProject).Methods("POST")
	apiRouter.HandleFunc("/projects/{project_id}", services.ProfileHandler.GetProject).Methods("GET")
	apiRouter.HandleFunc("/projects/{project_id}/phase", services.ProfileHandler.SetProjectPhase).Methods("POST", "PATCH")
	apiRouter.HandleFunc("/projects/{project_id}/channels", services.ProfileHandler.AddProjectChannel).Methods("POST")
	apiRouter.HandleFunc("/users", services.ProfileHandler.CreateUser).Methods("POST")
	apiRouter.HandleFunc("/users/{user_id}", services.ProfileHandler.GetUser).Methods("GET")
	apiRouter.HandleFunc("/users/{user_id}/role", services.ProfileHandler.SetUserRole).Methods("POST", "PATCH")
	apiRouter.HandleFunc("/users/{user_id}/projects", services.ProfileHandler.AddUserProject).Methods("POST")

	apiRouter.HandleFunc("/digest", services.DigestHandler.GetDigest).Methods("GET")
	apiRouter.HandleFunc("/digests", services.DigestHandler.ListDigests).Methods("GET")
	apiRouter.HandleFunc("/feedback", services.DigestHandler.PostFeedback).Methods("POST")
	apiRouter.HandleFunc("/schedules", services.DigestHandler.CreateSchedule).Methods("POST")
	apiRouter.HandleFunc("/schedules", services.DigestHandler.ListSchedules).Methods("GET")
	apiRouter.HandleFunc("/schedules/run_now", services.DigestHandler.RunScheduledDigests).Methods("POST")

	apiRouter.HandleFunc("/queues/status", services.InspectHandler.QueueStatus).Methods("GET")
	apiRouter.HandleFunc("/threads", services.InspectHandler.ListThreads).Methods("GET")
	apiRouter.HandleFunc("/threads/{thread_ts}", services.InspectHandler.GetThread).Methods("GET")
	apiRouter.HandleFunc("/items", services.InspectHandler.ListItems).Methods("GET")
	apiRouter.HandleFunc("/items/{thread_ts}", services.InspectHandler.GetItem).Methods("GET")
	apiRouter.HandleFunc("/embeddings/{thread_ts}", services.InspectHandler.GetEmbedding).Methods("GET")
	apiRouter.HandleFunc("/events", services.InspectHandler.ListEvents).Methods("GET")
	apiRouter.HandleFunc("/threads/rebuild", services.InspectHandler.RebuildThreads).Methods("POST")

	apiRouter.HandleFunc("/debug/query_vector", services.DebugHandler.QueryVector).Methods("GET")
	apiRouter.HandleFunc("/debug/candidates", services.DebugHandler.Candidates).Methods("GET")
	apiRouter.HandleFunc("/debug/rerank", services.DebugHandler.Rerank).Methods("GET")

	// System routes
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         ":" + services.Config.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", slog.String("port", services.Config.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	cancel()
	services.Pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := services.Store.Close(); err != nil {
		slog.Error("Failed to close store", "error", err)
	}

	slog.Info("Server exited gracefully")
}
