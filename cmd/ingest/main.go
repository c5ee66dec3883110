// Command ingest processes one statement file from the command line,
// running the same synchronous phase the upload endpoint runs. With
// -dry-run nothing is persisted; the summary still reports what would
// happen, which is useful for checking a new bank's format.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"bankfeed/internal/ai"
	"bankfeed/internal/config"
	"bankfeed/internal/filestore"
	infraBQ "bankfeed/internal/infra/bigquery"
	"bankfeed/internal/infra/memory"
	"bankfeed/internal/ingest"
	"bankfeed/internal/logger"
	"bankfeed/internal/schema"
	"bankfeed/internal/store"
)

const detectorMinConfidence = 0.8

func main() {
	var (
		file   = flag.String("file", "", "statement file to ingest (required)")
		dryRun = flag.Bool("dry-run", false, "parse and match against an empty in-memory store, persist nothing")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info")
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.LogLevel)

	if *file == "" {
		log.Fatal().Msg("-file is required")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read statement file")
	}

	ctx := context.Background()

	var (
		files    store.FileRepository
		txs      store.TransactionRepository
		ruleRepo store.RuleRepository
		jobRepo  store.JobRepository
		blobs    filestore.Store = filestore.Null{}
	)
	if *dryRun {
		files = memory.NewFileRepository()
		txs = memory.NewTransactionRepository()
		ruleRepo = memory.NewRuleRepository()
		jobRepo = memory.NewJobRepository()
	} else {
		bq, err := infraBQ.NewStore(ctx, cfg.ProjectID, cfg.Dataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to BigQuery")
		}
		defer bq.Close()
		files = bq.Files()
		txs = bq.Transactions()
		ruleRepo = bq.Rules()
		jobRepo = bq.Jobs()
		if cfg.Bucket != "" {
			blobs = filestore.NewGCS(cfg.Bucket)
		}
	}

	oracle := ai.NewGemini(cfg.GeminiModel)
	detector := schema.NewDetector(oracle, detectorMinConfidence)
	service := ingest.NewService(files, txs, ruleRepo, jobRepo, detector, blobs, cfg.Currency, log)

	summary, err := service.ProcessUpload(ctx, filepath.Base(*file), data)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Ingestion failed")
	}

	event := log.Info().
		Str("file", *file).
		Str("file_id", summary.FileID).
		Int("processed", summary.Processed).
		Int("rule_matched", summary.RuleMatched).
		Int("unmatched", summary.Unmatched).
		Int("duplicates", summary.Duplicates).
		Int("dropped_rows", summary.DroppedRows).
		Bool("dry_run", *dryRun)
	if summary.CategorizationJobID != "" {
		event = event.Str("categorization_job_id", summary.CategorizationJobID)
	}
	if summary.CounterpartyJobID != "" {
		event = event.Str("counterparty_job_id", summary.CounterpartyJobID)
	}
	event.Msg("Statement ingested")
}
