package domain

import "time"

// JobType distinguishes the two kinds of deferred enrichment work.
type JobType string

const (
	// JobTypeAICategorization assigns categories to unmatched transactions.
	JobTypeAICategorization JobType = "AI_CATEGORIZATION"
	// JobTypeAICounterparty extracts counterparty accounts for all transactions.
	JobTypeAICounterparty JobType = "AI_COUNTERPARTY"
)

// JobStatus is the background job state machine. Status only moves forward
// through PENDING -> IN_PROGRESS -> {COMPLETED, FAILED}; the only backward
// transition is an explicit operator reset to PENDING.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// JobResult summarizes a finished (or in-flight) job.
type JobResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BackgroundJob is a durable unit of asynchronous enrichment work. Exactly one
// worker may hold it IN_PROGRESS; the claim is an atomic conditional update in
// the job repository.
type BackgroundJob struct {
	ID     string
	Type   JobType
	Status JobStatus

	// TransactionIDs is the ordered payload; the processor re-fetches each
	// transaction fresh by ID rather than carrying parsed rows across phases.
	TransactionIDs []string

	WorkerID string

	Result JobResult
	Error  string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	// ProgressAt is bumped on every per-transaction progress flush; the stale
	// sweep uses it to find abandoned claims.
	ProgressAt *time.Time
}
