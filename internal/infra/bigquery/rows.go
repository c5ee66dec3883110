package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"bankfeed/internal/domain"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	FileID        string `bigquery:"file_id"`        // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	RawDescription        string `bigquery:"raw_description"`        // REQUIRED
	NormalizedDescription string `bigquery:"normalized_description"` // REQUIRED

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED

	CategoryID            bigquery.NullString `bigquery:"category_id"`             // NULLABLE
	CounterpartyAccountID bigquery.NullString `bigquery:"counterparty_account_id"` // NULLABLE

	Status     string               `bigquery:"status"`     // REQUIRED
	Confidence bigquery.NullFloat64 `bigquery:"confidence"` // NULLABLE

	LineNo            int64  `bigquery:"line_no"`            // REQUIRED
	ExternalReference string `bigquery:"external_reference"` // NULLABLE

	// DedupKey is date|amount|normalized_description, precomputed so the
	// duplicate check is a single IN query.
	DedupKey string `bigquery:"dedup_key"` // REQUIRED

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

type RuleRow struct {
	RuleID    string `bigquery:"rule_id"` // REQUIRED
	Pattern   string `bigquery:"pattern"` // REQUIRED, unique
	MatchType string `bigquery:"match_type"`

	CategoryID            bigquery.NullString `bigquery:"category_id"`
	CounterpartyAccountID bigquery.NullString `bigquery:"counterparty_account_id"`

	MinAmount *big.Rat `bigquery:"min_amount"` // NULLABLE NUMERIC
	MaxAmount *big.Rat `bigquery:"max_amount"` // NULLABLE NUMERIC

	ValidFrom bigquery.NullDate `bigquery:"valid_from"`
	ValidTo   bigquery.NullDate `bigquery:"valid_to"`

	Provenance string               `bigquery:"provenance"`
	Confidence bigquery.NullFloat64 `bigquery:"confidence"`

	MatchCount    int64                  `bigquery:"match_count"`
	LastMatchedTS bigquery.NullTimestamp `bigquery:"last_matched_ts"`

	CreatedTS time.Time              `bigquery:"created_ts"`
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"`
}

type JobRow struct {
	JobID  string `bigquery:"job_id"` // REQUIRED
	Type   string `bigquery:"job_type"`
	Status string `bigquery:"status"`

	TransactionIDs []string `bigquery:"transaction_ids"` // REPEATED

	WorkerID bigquery.NullString `bigquery:"worker_id"`

	Processed int64 `bigquery:"processed"`
	Succeeded int64 `bigquery:"succeeded"`
	Failed    int64 `bigquery:"failed"`

	ErrorMessage bigquery.NullString `bigquery:"error_message"`

	CreatedTS   time.Time              `bigquery:"created_ts"`
	StartedTS   bigquery.NullTimestamp `bigquery:"started_ts"`
	CompletedTS bigquery.NullTimestamp `bigquery:"completed_ts"`
	ProgressTS  bigquery.NullTimestamp `bigquery:"progress_ts"`
}

type FileRow struct {
	FileID      string `bigquery:"file_id"` // REQUIRED
	Filename    string `bigquery:"filename"`
	ContentHash string `bigquery:"content_hash"` // unique
	SizeBytes   int64  `bigquery:"size_bytes"`
	StorageURI  string `bigquery:"storage_uri"`

	// AnalysisJSON carries the serialized schema analysis; the mapping shape
	// is owned by the application, not the warehouse.
	AnalysisJSON bigquery.NullString `bigquery:"analysis_json"`

	UploadedTS time.Time `bigquery:"uploaded_ts"`
}

type CategoryRow struct {
	CategoryID string              `bigquery:"category_id"`
	Name       string              `bigquery:"name"`
	ParentID   bigquery.NullString `bigquery:"parent_id"`
	IsActive   bool                `bigquery:"is_active"`
}

type CounterpartyRow struct {
	AccountID string              `bigquery:"account_id"`
	Name      string              `bigquery:"name"`
	Number    bigquery.NullString `bigquery:"account_number"`
	IBAN      bigquery.NullString `bigquery:"iban"`
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullFloat(f *float64) bigquery.NullFloat64 {
	if f == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f bigquery.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}

func timePtr(t bigquery.NullTimestamp) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Timestamp
	return &v
}

func nullDate(t *time.Time) bigquery.NullDate {
	if t == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(*t), Valid: true}
}

func datePtr(d bigquery.NullDate) *time.Time {
	if !d.Valid {
		return nil
	}
	v := d.Date.In(time.UTC)
	return &v
}

func numeric(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

func numericPtr(d *decimal.Decimal) *big.Rat {
	if d == nil {
		return nil
	}
	return d.Rat()
}

func fromNumeric(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigRat(r, numericScale)
}

func fromNumericPtr(r *big.Rat) *decimal.Decimal {
	if r == nil {
		return nil
	}
	d := decimal.NewFromBigRat(r, numericScale)
	return &d
}

func toTransactionRow(tx *domain.Transaction, dedupKey string) *TransactionRow {
	row := &TransactionRow{
		TransactionID:         tx.ID,
		FileID:                tx.FileID,
		TransactionDate:       civil.DateOf(tx.Date),
		RawDescription:        tx.Description,
		NormalizedDescription: tx.NormalizedDescription,
		Amount:                numeric(tx.Amount),
		Currency:              tx.Currency,
		CategoryID:            nullString(tx.CategoryID),
		CounterpartyAccountID: nullString(tx.CounterpartyAccountID),
		Status:                string(tx.Status),
		Confidence:            nullFloat(tx.Confidence),
		LineNo:                int64(tx.LineNo),
		ExternalReference:     tx.ExternalRef,
		DedupKey:              dedupKey,
		CreatedTS:             tx.CreatedAt,
	}
	if !tx.UpdatedAt.IsZero() {
		row.UpdatedTS = bigquery.NullTimestamp{Timestamp: tx.UpdatedAt, Valid: true}
	}
	return row
}

func (r *TransactionRow) toDomain() *domain.Transaction {
	tx := &domain.Transaction{
		ID:                    r.TransactionID,
		FileID:                r.FileID,
		Date:                  r.TransactionDate.In(time.UTC),
		Description:           r.RawDescription,
		NormalizedDescription: r.NormalizedDescription,
		Amount:                fromNumeric(r.Amount),
		Currency:              r.Currency,
		CategoryID:            r.CategoryID.StringVal,
		CounterpartyAccountID: r.CounterpartyAccountID.StringVal,
		Status:                domain.CategorizationStatus(r.Status),
		Confidence:            floatPtr(r.Confidence),
		LineNo:                int(r.LineNo),
		ExternalRef:           r.ExternalReference,
		CreatedAt:             r.CreatedTS,
	}
	if r.UpdatedTS.Valid {
		tx.UpdatedAt = r.UpdatedTS.Timestamp
	}
	return tx
}

func toRuleRow(rule *domain.EnhancementRule) *RuleRow {
	row := &RuleRow{
		RuleID:                rule.ID,
		Pattern:               rule.Pattern,
		MatchType:             string(rule.MatchType),
		CategoryID:            nullString(rule.CategoryID),
		CounterpartyAccountID: nullString(rule.CounterpartyAccountID),
		MinAmount:             numericPtr(rule.MinAmount),
		MaxAmount:             numericPtr(rule.MaxAmount),
		ValidFrom:             nullDate(rule.ValidFrom),
		ValidTo:               nullDate(rule.ValidTo),
		Provenance:            string(rule.Provenance),
		Confidence:            nullFloat(rule.Confidence),
		MatchCount:            rule.MatchCount,
		LastMatchedTS:         nullTimestamp(rule.LastMatchedAt),
		CreatedTS:             rule.CreatedAt,
	}
	if !rule.UpdatedAt.IsZero() {
		row.UpdatedTS = bigquery.NullTimestamp{Timestamp: rule.UpdatedAt, Valid: true}
	}
	return row
}

func (r *RuleRow) toDomain() *domain.EnhancementRule {
	rule := &domain.EnhancementRule{
		ID:                    r.RuleID,
		Pattern:               r.Pattern,
		MatchType:             domain.MatchType(r.MatchType),
		CategoryID:            r.CategoryID.StringVal,
		CounterpartyAccountID: r.CounterpartyAccountID.StringVal,
		MinAmount:             fromNumericPtr(r.MinAmount),
		MaxAmount:             fromNumericPtr(r.MaxAmount),
		ValidFrom:             datePtr(r.ValidFrom),
		ValidTo:               datePtr(r.ValidTo),
		Provenance:            domain.RuleProvenance(r.Provenance),
		Confidence:            floatPtr(r.Confidence),
		MatchCount:            r.MatchCount,
		LastMatchedAt:         timePtr(r.LastMatchedTS),
		CreatedAt:             r.CreatedTS,
	}
	if r.UpdatedTS.Valid {
		rule.UpdatedAt = r.UpdatedTS.Timestamp
	}
	return rule
}

func toJobRow(job *domain.BackgroundJob) *JobRow {
	return &JobRow{
		JobID:          job.ID,
		Type:           string(job.Type),
		Status:         string(job.Status),
		TransactionIDs: job.TransactionIDs,
		WorkerID:       nullString(job.WorkerID),
		Processed:      int64(job.Result.Processed),
		Succeeded:      int64(job.Result.Succeeded),
		Failed:         int64(job.Result.Failed),
		ErrorMessage:   nullString(job.Error),
		CreatedTS:      job.CreatedAt,
		StartedTS:      nullTimestamp(job.StartedAt),
		CompletedTS:    nullTimestamp(job.CompletedAt),
		ProgressTS:     nullTimestamp(job.ProgressAt),
	}
}

func (r *JobRow) toDomain() *domain.BackgroundJob {
	return &domain.BackgroundJob{
		ID:             r.JobID,
		Type:           domain.JobType(r.Type),
		Status:         domain.JobStatus(r.Status),
		TransactionIDs: r.TransactionIDs,
		WorkerID:       r.WorkerID.StringVal,
		Result: domain.JobResult{
			Processed: int(r.Processed),
			Succeeded: int(r.Succeeded),
			Failed:    int(r.Failed),
		},
		Error:       r.ErrorMessage.StringVal,
		CreatedAt:   r.CreatedTS,
		StartedAt:   timePtr(r.StartedTS),
		CompletedAt: timePtr(r.CompletedTS),
		ProgressAt:  timePtr(r.ProgressTS),
	}
}

func toFileRow(f *domain.UploadedFile) (*FileRow, error) {
	row := &FileRow{
		FileID:      f.ID,
		Filename:    f.Filename,
		ContentHash: f.ContentHash,
		SizeBytes:   f.SizeBytes,
		StorageURI:  f.StorageURI,
		UploadedTS:  f.UploadedAt,
	}
	if f.Analysis != nil {
		data, err := json.Marshal(f.Analysis)
		if err != nil {
			return nil, fmt.Errorf("marshaling analysis: %w", err)
		}
		row.AnalysisJSON = bigquery.NullString{StringVal: string(data), Valid: true}
	}
	return row, nil
}

func (r *FileRow) toDomain() (*domain.UploadedFile, error) {
	f := &domain.UploadedFile{
		ID:          r.FileID,
		Filename:    r.Filename,
		ContentHash: r.ContentHash,
		SizeBytes:   r.SizeBytes,
		StorageURI:  r.StorageURI,
		UploadedAt:  r.UploadedTS,
	}
	if r.AnalysisJSON.Valid && r.AnalysisJSON.StringVal != "" {
		var analysis domain.FileAnalysis
		if err := json.Unmarshal([]byte(r.AnalysisJSON.StringVal), &analysis); err != nil {
			return nil, fmt.Errorf("unmarshaling analysis for file %s: %w", r.FileID, err)
		}
		f.Analysis = &analysis
	}
	return f, nil
}
