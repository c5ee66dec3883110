package domain

import "time"

// UploadSummary is the synchronous upload response. Counts are reported even
// under partial failure; background enrichment is only visible through job
// status queries.
type UploadSummary struct {
	FileID string `json:"file_id"`

	Processed   int `json:"processed"`
	RuleMatched int `json:"rule_matched"`
	Unmatched   int `json:"unmatched"`
	Duplicates  int `json:"duplicates"`
	// DroppedRows counts source rows that failed date/amount coercion.
	DroppedRows int `json:"dropped_rows"`

	// ReusedAnalysis is true when the content hash matched a previous upload
	// and the cached schema analysis was used instead of re-detection.
	ReusedAnalysis bool `json:"reused_analysis"`

	CategorizationJobID string `json:"categorization_job_id,omitempty"`
	CounterpartyJobID   string `json:"counterparty_job_id,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}
