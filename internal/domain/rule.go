package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MatchType is the string-matching strategy a rule pattern uses against a
// normalized description.
type MatchType string

const (
	MatchExact  MatchType = "EXACT"
	MatchPrefix MatchType = "PREFIX"
	MatchInfix  MatchType = "INFIX"
)

// RuleProvenance records who created a rule.
type RuleProvenance string

const (
	ProvenanceManual RuleProvenance = "MANUAL"
	ProvenanceAI     RuleProvenance = "AI"
)

// EnhancementRule maps a normalized-description pattern to an enrichment
// outcome. Patterns are unique across the rule set; a rule must carry a
// category, a counterparty, or both.
type EnhancementRule struct {
	ID        string
	Pattern   string
	MatchType MatchType

	CategoryID            string
	CounterpartyAccountID string

	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	ValidFrom *time.Time
	ValidTo   *time.Time

	Provenance RuleProvenance
	Confidence *float64

	CreatedAt time.Time
	UpdatedAt time.Time

	MatchCount    int64
	LastMatchedAt *time.Time
}

// Validate rejects rules that could never apply or would apply nothing.
func (r *EnhancementRule) Validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("rule %s: empty pattern", r.ID)
	}
	switch r.MatchType {
	case MatchExact, MatchPrefix, MatchInfix:
	default:
		return fmt.Errorf("rule %s: unknown match type %q", r.ID, r.MatchType)
	}
	if r.CategoryID == "" && r.CounterpartyAccountID == "" {
		return fmt.Errorf("rule %s: neither category nor counterparty set", r.ID)
	}
	if r.MinAmount != nil && r.MaxAmount != nil && r.MinAmount.GreaterThan(*r.MaxAmount) {
		return fmt.Errorf("rule %s: min amount above max amount", r.ID)
	}
	if r.ValidFrom != nil && r.ValidTo != nil && r.ValidFrom.After(*r.ValidTo) {
		return fmt.Errorf("rule %s: validity range inverted", r.ID)
	}
	return nil
}

// ConstraintCount returns how many optional constraints the rule defines.
// Amount bounds count as one constraint, the date range as another. Used by
// the matcher's tie-break.
func (r *EnhancementRule) ConstraintCount() int {
	n := 0
	if r.MinAmount != nil || r.MaxAmount != nil {
		n++
	}
	if r.ValidFrom != nil || r.ValidTo != nil {
		n++
	}
	return n
}

// Satisfies reports whether the given amount and date pass the rule's
// optional constraints. The pattern itself is checked by the matcher.
func (r *EnhancementRule) Satisfies(amount decimal.Decimal, date time.Time) bool {
	if r.MinAmount != nil && amount.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && amount.GreaterThan(*r.MaxAmount) {
		return false
	}
	if r.ValidFrom != nil && date.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && date.After(*r.ValidTo) {
		return false
	}
	return true
}
