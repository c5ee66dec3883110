// Package store declares the persistence contracts the pipeline consumes.
// Implementations live under internal/infra; the BigQuery one backs
// deployments, the in-memory one backs tests and single-instance runs.
package store

import (
	"context"
	"errors"
	"time"

	"bankfeed/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrRuleExists is returned when a rule for the same normalized pattern
	// already exists. Callers treat it as "someone else created it first".
	ErrRuleExists = errors.New("rule pattern already exists")
	// ErrJobAlreadyClaimed is returned when a conditional claim loses the
	// race; the losing worker must not process the job.
	ErrJobAlreadyClaimed = errors.New("job already claimed")
)

// TransactionRepository persists transactions. InsertBatch must be a single
// write: the orchestrator enriches drafts fully in memory first.
type TransactionRepository interface {
	InsertBatch(ctx context.Context, txs []*domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListByIDs(ctx context.Context, ids []string) ([]*domain.Transaction, error)
	// Update writes one transaction's enrichment fields as an isolated write.
	Update(ctx context.Context, tx *domain.Transaction) error
	// ExistingKeys returns which of the given duplicate-detection keys
	// (see dedup.TransactionKey) already have a persisted transaction.
	ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// RuleRepository persists enhancement rules and enforces pattern uniqueness.
type RuleRepository interface {
	// ListCandidates returns all EXACT rules whose pattern is in patterns,
	// plus every active PREFIX and INFIX rule. Batched: one call per upload.
	ListCandidates(ctx context.Context, patterns []string) ([]*domain.EnhancementRule, error)
	ListAll(ctx context.Context) ([]*domain.EnhancementRule, error)
	GetByPattern(ctx context.Context, pattern string) (*domain.EnhancementRule, error)
	// Create persists a rule; a concurrent or prior rule with the same
	// pattern yields ErrRuleExists and leaves the existing rule untouched.
	Create(ctx context.Context, rule *domain.EnhancementRule) error
	Update(ctx context.Context, rule *domain.EnhancementRule) error
	Delete(ctx context.Context, id string) error
	// RecordMatches bumps usage counters for the rules that just matched.
	RecordMatches(ctx context.Context, ruleIDs []string, matchedAt time.Time) error
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status domain.JobStatus
	Type   domain.JobType
	Limit  int
}

// JobRepository persists background jobs. Claim semantics are the heart of
// the at-most-once guarantee and must be atomic conditional updates.
type JobRepository interface {
	Create(ctx context.Context, job *domain.BackgroundJob) error
	Get(ctx context.Context, id string) (*domain.BackgroundJob, error)
	List(ctx context.Context, filter JobFilter) ([]*domain.BackgroundJob, error)
	// Claim transitions the job from PENDING to IN_PROGRESS and records the
	// worker id and start time in one indivisible operation. A lost race
	// returns ErrJobAlreadyClaimed.
	Claim(ctx context.Context, jobID, workerID string, now time.Time) error
	// ClaimNextPending claims the oldest PENDING job, or returns nil when
	// there is none.
	ClaimNextPending(ctx context.Context, workerID string, now time.Time) (*domain.BackgroundJob, error)
	UpdateProgress(ctx context.Context, jobID string, result domain.JobResult, now time.Time) error
	Complete(ctx context.Context, jobID string, result domain.JobResult, now time.Time) error
	Fail(ctx context.Context, jobID string, errMsg string, now time.Time) error
	// ResetStale moves IN_PROGRESS jobs whose last progress update is older
	// than the cutoff back to PENDING. Operator-triggered only.
	ResetStale(ctx context.Context, cutoff time.Time) (int, error)
}

// FileRepository registers uploaded files and their cached analysis.
type FileRepository interface {
	Create(ctx context.Context, f *domain.UploadedFile) error
	FindByContentHash(ctx context.Context, hash string) (*domain.UploadedFile, error)
	Get(ctx context.Context, id string) (*domain.UploadedFile, error)
}

// CategoryRepository serves the taxonomy offered to the AI oracle.
type CategoryRepository interface {
	ListActive(ctx context.Context) ([]domain.Category, error)
}

// CounterpartyRepository serves known counterparty accounts.
type CounterpartyRepository interface {
	ListAll(ctx context.Context) ([]domain.CounterpartyAccount, error)
}
