package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategorizationStatus tracks how far enrichment has progressed for a transaction.
type CategorizationStatus string

const (
	// StatusUncategorized means no rule matched and no AI result has arrived yet.
	StatusUncategorized CategorizationStatus = "UNCATEGORIZED"
	// StatusCategorized means a category or counterparty was assigned by a rule or by AI.
	StatusCategorized CategorizationStatus = "CATEGORIZED"
	// StatusFailure means AI enrichment was attempted and failed for this transaction.
	StatusFailure CategorizationStatus = "FAILURE"
)

// Transaction is one imported financial movement. It is created UNCATEGORIZED
// during parsing, enriched in memory by the rule matcher before the single
// batch write, and mutated at most once more by the background processor.
type Transaction struct {
	ID     string
	FileID string

	Date        time.Time
	Description string
	// NormalizedDescription is the deterministic matching key derived from
	// Description; see the normalize package.
	NormalizedDescription string

	Amount   decimal.Decimal
	Currency string

	CategoryID            string
	CounterpartyAccountID string

	Status     CategorizationStatus
	Confidence *float64

	// LineNo preserves the source row order within the statement and acts as
	// the within-day sort index.
	LineNo int

	// ExternalRef is a fast per-row fingerprint of the source record, kept for
	// traceability alongside the (date, amount, normalized description) key.
	ExternalRef string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Categorized reports whether an enrichment outcome has been applied.
func (t *Transaction) Categorized() bool {
	return t.CategoryID != "" || t.CounterpartyAccountID != ""
}

// ApplyRule copies the rule's outcome onto the transaction. Only fields the
// rule actually sets are touched, and the whole outcome comes from one rule.
func (t *Transaction) ApplyRule(r *EnhancementRule) {
	if r.CategoryID != "" {
		t.CategoryID = r.CategoryID
	}
	if r.CounterpartyAccountID != "" {
		t.CounterpartyAccountID = r.CounterpartyAccountID
	}
	if r.Confidence != nil {
		c := *r.Confidence
		t.Confidence = &c
	}
	t.Status = StatusCategorized
}

// Category is one entry of the taxonomy offered to the AI oracle.
type Category struct {
	ID       string
	Name     string
	ParentID string
	IsActive bool
}

// CounterpartyAccount is a known account the AI may link a transaction to.
type CounterpartyAccount struct {
	ID     string
	Name   string
	Number string
	IBAN   string
}
