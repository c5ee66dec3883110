// Command api serves the HTTP surface: statement uploads, job inspection
// and rule management. With the memory backend it also runs an in-process
// worker, since no other process can see the in-memory backlog.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bankfeed/internal/ai"
	"bankfeed/internal/api/handlers"
	"bankfeed/internal/api/middleware"
	"bankfeed/internal/config"
	"bankfeed/internal/domain"
	"bankfeed/internal/filestore"
	infraBQ "bankfeed/internal/infra/bigquery"
	"bankfeed/internal/infra/memory"
	"bankfeed/internal/ingest"
	"bankfeed/internal/jobs"
	"bankfeed/internal/logger"
	"bankfeed/internal/schema"
	"bankfeed/internal/store"
)

const detectorMinConfidence = 0.8

type repos struct {
	txs            store.TransactionRepository
	rules          store.RuleRepository
	jobs           store.JobRepository
	files          store.FileRepository
	categories     store.CategoryRepository
	counterparties store.CounterpartyRepository
	close          func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info")
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.LogLevel)

	ctx := context.Background()
	r, err := buildRepos(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build repositories")
	}
	defer r.close()

	oracle := ai.NewGemini(cfg.GeminiModel)
	detector := schema.NewDetector(oracle, detectorMinConfidence)

	var blobs filestore.Store = filestore.Null{}
	if cfg.Bucket != "" {
		blobs = filestore.NewGCS(cfg.Bucket)
	} else {
		log.Warn().Msg("No GCS bucket configured, raw statement bytes will not be retained")
	}

	service := ingest.NewService(r.files, r.txs, r.rules, r.jobs, detector, blobs, cfg.Currency, log)

	uploadsHandler := handlers.NewUploadsHandler(service, r.files, log)
	jobsHandler := handlers.NewJobsHandler(r.jobs, cfg.StaleTimeout, log)
	rulesHandler := handlers.NewRulesHandler(r.rules, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/uploads", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			uploadsHandler.Upload(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/uploads/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		fileID := strings.TrimPrefix(r.URL.Path, "/api/uploads/")
		if fileID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "File ID is required")
			return
		}
		uploadsHandler.GetFile(w, r, fileID)
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/sweep-stale", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			jobsHandler.SweepStale(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/api/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			rulesHandler.ListRules(w, r)
		case http.MethodPost:
			rulesHandler.CreateRule(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/rules/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		ruleID := strings.TrimPrefix(r.URL.Path, "/api/rules/")
		if ruleID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Rule ID is required")
			return
		}
		rulesHandler.DeleteRule(w, r, ruleID)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// The memory backend has no external worker, so jobs are processed here.
	var worker *jobs.Worker
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if cfg.Backend == "memory" {
		processor := jobs.NewProcessor(r.txs, r.rules, r.jobs, r.categories, r.counterparties, oracle, log)
		worker = jobs.NewWorker(r.jobs, processor, cfg.PollInterval, log)
		go worker.Start(workerCtx)
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if worker != nil {
		if err := worker.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping worker")
		}
	}

	log.Info().Msg("Server exited")
}

func buildRepos(ctx context.Context, cfg *config.Config) (*repos, error) {
	if cfg.Backend == "memory" {
		return memoryRepos(), nil
	}

	bq, err := infraBQ.NewStore(ctx, cfg.ProjectID, cfg.Dataset)
	if err != nil {
		return nil, err
	}
	return &repos{
		txs:            bq.Transactions(),
		rules:          bq.Rules(),
		jobs:           bq.Jobs(),
		files:          bq.Files(),
		categories:     bq.Categories(),
		counterparties: bq.Counterparties(),
		close:          bq.Close,
	}, nil
}

// memoryRepos wires the in-memory backend with a starter taxonomy, enough
// for local runs without a warehouse.
func memoryRepos() *repos {
	categories := []domain.Category{
		{ID: "groceries", Name: "Groceries", IsActive: true},
		{ID: "restaurants", Name: "Restaurants & Cafes", IsActive: true},
		{ID: "transport", Name: "Transport", IsActive: true},
		{ID: "utilities", Name: "Utilities", IsActive: true},
		{ID: "housing", Name: "Housing & Rent", IsActive: true},
		{ID: "salary", Name: "Salary", IsActive: true},
		{ID: "shopping", Name: "Shopping", IsActive: true},
		{ID: "health", Name: "Health", IsActive: true},
		{ID: "other", Name: "Other", IsActive: true},
	}
	return &repos{
		txs:            memory.NewTransactionRepository(),
		rules:          memory.NewRuleRepository(),
		jobs:           memory.NewJobRepository(),
		files:          memory.NewFileRepository(),
		categories:     memory.NewCategoryRepository(categories),
		counterparties: memory.NewCounterpartyRepository(nil),
		close:          func() error { return nil },
	}
}
