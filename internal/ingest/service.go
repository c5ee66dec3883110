// Package ingest drives the synchronous phase of statement processing:
// schema detection (cached by content hash), parsing, normalization,
// deduplication, rule matching and the single batch persist, followed by
// background job creation for whatever rules could not resolve.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bankfeed/internal/dedup"
	"bankfeed/internal/domain"
	"bankfeed/internal/filestore"
	"bankfeed/internal/normalize"
	"bankfeed/internal/rules"
	"bankfeed/internal/schema"
	"bankfeed/internal/statement"
	"bankfeed/internal/store"
)

// Service is the processing orchestrator.
type Service struct {
	files    store.FileRepository
	txs      store.TransactionRepository
	rules    store.RuleRepository
	jobs     store.JobRepository
	detector *schema.Detector
	blobs    filestore.Store
	currency string
	log      zerolog.Logger
}

// NewService wires the orchestrator. blobs may be filestore.Null{} when raw
// byte retention is not needed.
func NewService(
	files store.FileRepository,
	txs store.TransactionRepository,
	ruleRepo store.RuleRepository,
	jobs store.JobRepository,
	detector *schema.Detector,
	blobs filestore.Store,
	currency string,
	log zerolog.Logger,
) *Service {
	if currency == "" {
		currency = "EUR"
	}
	return &Service{
		files:    files,
		txs:      txs,
		rules:    ruleRepo,
		jobs:     jobs,
		detector: detector,
		blobs:    blobs,
		currency: currency,
		log:      log,
	}
}

// ProcessUpload runs the whole synchronous phase for one uploaded statement
// and returns the upload summary. A batch persist failure aborts the upload
// with no partial commit; job creation failures are logged but never undo the
// already-persisted transactions.
func (s *Service) ProcessUpload(ctx context.Context, filename string, data []byte) (*domain.UploadSummary, error) {
	start := time.Now()
	summary := &domain.UploadSummary{}

	file, err := s.resolveFile(ctx, filename, data, summary)
	if err != nil {
		return nil, err
	}
	summary.FileID = file.ID

	rows, err := statement.ReadRows(data, file.Analysis.FileType)
	if err != nil {
		return nil, fmt.Errorf("ProcessUpload: %w", err)
	}
	parsed, err := statement.Parse(rows, file.Analysis)
	if err != nil {
		return nil, fmt.Errorf("ProcessUpload: %w", err)
	}
	summary.DroppedRows = parsed.Dropped

	drafts := s.buildDrafts(file.ID, parsed.Rows)

	fresh, duplicates, err := s.dropDuplicates(ctx, drafts)
	if err != nil {
		return nil, fmt.Errorf("ProcessUpload: duplicate check: %w", err)
	}
	summary.Duplicates = duplicates

	matchedRuleIDs, err := s.applyRules(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("ProcessUpload: %w", err)
	}

	// Single batch write; drafts were fully enriched in memory above.
	if len(fresh) > 0 {
		if err := s.txs.InsertBatch(ctx, fresh); err != nil {
			return nil, fmt.Errorf("ProcessUpload: persisting batch: %w", err)
		}
	}

	if len(matchedRuleIDs) > 0 {
		if err := s.rules.RecordMatches(ctx, matchedRuleIDs, time.Now()); err != nil {
			s.log.Warn().Err(err).Msg("Failed to record rule match counters")
		}
	}

	var unmatchedIDs, allIDs []string
	for _, tx := range fresh {
		allIDs = append(allIDs, tx.ID)
		if tx.Status == domain.StatusUncategorized {
			unmatchedIDs = append(unmatchedIDs, tx.ID)
		}
	}
	summary.Processed = len(fresh)
	summary.Unmatched = len(unmatchedIDs)
	summary.RuleMatched = len(fresh) - len(unmatchedIDs)

	s.createJobs(ctx, unmatchedIDs, allIDs, summary)

	summary.Elapsed = time.Since(start)
	s.log.Info().
		Str("file_id", summary.FileID).
		Int("processed", summary.Processed).
		Int("rule_matched", summary.RuleMatched).
		Int("unmatched", summary.Unmatched).
		Int("duplicates", summary.Duplicates).
		Int("dropped_rows", summary.DroppedRows).
		Bool("reused_analysis", summary.ReusedAnalysis).
		Dur("elapsed", summary.Elapsed).
		Msg("Upload processed")
	return summary, nil
}

// resolveFile looks the content hash up in the file registry. A hit reuses
// the cached analysis with no detector (and no oracle) call; a miss runs
// detection, stores the raw bytes and registers the file.
func (s *Service) resolveFile(ctx context.Context, filename string, data []byte, summary *domain.UploadSummary) (*domain.UploadedFile, error) {
	hash := dedup.ContentHash(filename, data)

	existing, err := s.files.FindByContentHash(ctx, hash)
	switch {
	case err == nil && existing.Analysis != nil:
		summary.ReusedAnalysis = true
		return existing, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("resolveFile: hash lookup: %w", err)
	}

	analysis, err := s.detector.Detect(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("resolveFile: %w", err)
	}

	fileID := uuid.NewString()
	objectName := fmt.Sprintf("statements/%s/%s-%s", time.Now().Format("2006/01/02"), fileID, filename)
	uri, err := s.blobs.Save(ctx, objectName, data)
	if err != nil {
		return nil, fmt.Errorf("resolveFile: storing bytes: %w", err)
	}

	file := &domain.UploadedFile{
		ID:          fileID,
		Filename:    filename,
		ContentHash: hash,
		SizeBytes:   int64(len(data)),
		StorageURI:  uri,
		Analysis:    analysis,
		UploadedAt:  time.Now(),
	}
	if err := s.files.Create(ctx, file); err != nil {
		return nil, fmt.Errorf("resolveFile: registering file: %w", err)
	}
	return file, nil
}

func (s *Service) buildDrafts(fileID string, rows []statement.Row) []*domain.Transaction {
	now := time.Now()
	drafts := make([]*domain.Transaction, 0, len(rows))
	for _, row := range rows {
		drafts = append(drafts, &domain.Transaction{
			ID:                    uuid.NewString(),
			FileID:                fileID,
			Date:                  row.Date,
			Description:           row.Description,
			NormalizedDescription: normalize.Description(row.Description),
			Amount:                row.Amount,
			Currency:              s.currency,
			Status:                domain.StatusUncategorized,
			LineNo:                row.LineNo,
			ExternalRef:           dedup.RowFingerprint(row.Source),
			CreatedAt:             now,
		})
	}
	return drafts
}

// dropDuplicates excludes drafts whose (date, amount, normalized
// description) key already has a persisted transaction. Duplicates are
// counted, never merged.
func (s *Service) dropDuplicates(ctx context.Context, drafts []*domain.Transaction) ([]*domain.Transaction, int, error) {
	if len(drafts) == 0 {
		return drafts, 0, nil
	}
	keys := make([]string, 0, len(drafts))
	for _, d := range drafts {
		keys = append(keys, dedup.TransactionKey(d.Date, d.Amount, d.NormalizedDescription))
	}
	existing, err := s.txs.ExistingKeys(ctx, keys)
	if err != nil {
		return nil, 0, err
	}

	fresh := drafts[:0:0]
	duplicates := 0
	for i, d := range drafts {
		if existing[keys[i]] {
			duplicates++
			continue
		}
		fresh = append(fresh, d)
	}
	// Re-number so the within-day index stays dense after exclusions.
	for i, d := range fresh {
		d.LineNo = i
	}
	return fresh, duplicates, nil
}

// applyRules batch-loads candidate rules for the distinct normalized
// descriptions and applies at most one rule per draft.
func (s *Service) applyRules(ctx context.Context, drafts []*domain.Transaction) ([]string, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var patterns []string
	for _, d := range drafts {
		if !seen[d.NormalizedDescription] {
			seen[d.NormalizedDescription] = true
			patterns = append(patterns, d.NormalizedDescription)
		}
	}

	candidates, err := s.rules.ListCandidates(ctx, patterns)
	if err != nil {
		return nil, fmt.Errorf("applyRules: loading rules: %w", err)
	}
	matcher := rules.NewMatcher(candidates)

	var matchedRuleIDs []string
	for _, d := range drafts {
		if rule := matcher.MatchTransaction(d); rule != nil {
			d.ApplyRule(rule)
			matchedRuleIDs = append(matchedRuleIDs, rule.ID)
		}
	}
	return matchedRuleIDs, nil
}

// createJobs enqueues the background work: one categorization job when
// unmatched transactions remain, and one counterparty job for the whole
// batch. Failures here are logged only; the transactions are already safe.
func (s *Service) createJobs(ctx context.Context, unmatchedIDs, allIDs []string, summary *domain.UploadSummary) {
	now := time.Now()

	if len(unmatchedIDs) > 0 {
		job := &domain.BackgroundJob{
			ID:             uuid.NewString(),
			Type:           domain.JobTypeAICategorization,
			Status:         domain.JobPending,
			TransactionIDs: unmatchedIDs,
			CreatedAt:      now,
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			s.log.Error().Err(err).Str("job_type", string(job.Type)).Msg("Failed to create background job")
		} else {
			summary.CategorizationJobID = job.ID
		}
	}

	if len(allIDs) > 0 {
		job := &domain.BackgroundJob{
			ID:             uuid.NewString(),
			Type:           domain.JobTypeAICounterparty,
			Status:         domain.JobPending,
			TransactionIDs: allIDs,
			CreatedAt:      now,
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			s.log.Error().Err(err).Str("job_type", string(job.Type)).Msg("Failed to create background job")
		} else {
			summary.CounterpartyJobID = job.ID
		}
	}
}
