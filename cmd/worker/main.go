// Command worker drains the background job backlog: it claims PENDING jobs
// from BigQuery and runs AI enrichment. Any number of worker processes can
// share one backlog. With -sweep-stale it resets abandoned claims and exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankfeed/internal/ai"
	"bankfeed/internal/config"
	infraBQ "bankfeed/internal/infra/bigquery"
	"bankfeed/internal/jobs"
	"bankfeed/internal/logger"
)

func main() {
	sweepStale := flag.Bool("sweep-stale", false, "reset stale IN_PROGRESS jobs to PENDING and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info")
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.LogLevel)

	if cfg.Backend != "bigquery" {
		log.Fatal().Str("backend", cfg.Backend).Msg("The worker requires the bigquery backend; the memory backend is processed in-process by the api")
	}

	ctx := context.Background()
	bq, err := infraBQ.NewStore(ctx, cfg.ProjectID, cfg.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to BigQuery")
	}
	defer bq.Close()

	jobRepo := bq.Jobs()

	if *sweepStale {
		n, err := jobs.SweepStale(ctx, jobRepo, cfg.StaleTimeout, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Stale sweep failed")
		}
		log.Info().Int("reset", n).Msg("Stale sweep finished")
		return
	}

	oracle := ai.NewGemini(cfg.GeminiModel)
	processor := jobs.NewProcessor(bq.Transactions(), bq.Rules(), jobRepo, bq.Categories(), bq.Counterparties(), oracle, log)
	worker := jobs.NewWorker(jobRepo, processor, cfg.PollInterval, log)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go worker.Start(workerCtx)

	log.Info().Str("worker_id", worker.ID()).Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := worker.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
