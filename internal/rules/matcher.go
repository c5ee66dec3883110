// Package rules implements the deterministic rule-matching engine that
// assigns enrichment outcomes to transactions before any AI is consulted.
package rules

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/domain"
)

// Matcher evaluates an active rule set against normalized descriptions.
// Precedence is fixed: EXACT beats PREFIX beats INFIX. Within one match type,
// the tie-break is deterministic: more constraints defined first, then longer
// pattern, then earliest creation time, then rule ID.
//
// Exact-pattern rules are indexed by pattern for O(1) lookup; prefix and
// infix rules are scanned in tie-break order.
type Matcher struct {
	exact   map[string][]*domain.EnhancementRule
	prefix  []*domain.EnhancementRule
	infix   []*domain.EnhancementRule
}

// NewMatcher builds a matcher over the given rule set. Invalid rules are
// skipped; the store enforces validity on write, so this is a safety net.
func NewMatcher(ruleSet []*domain.EnhancementRule) *Matcher {
	m := &Matcher{exact: make(map[string][]*domain.EnhancementRule)}
	for _, r := range ruleSet {
		if r.Validate() != nil {
			continue
		}
		switch r.MatchType {
		case domain.MatchExact:
			m.exact[r.Pattern] = append(m.exact[r.Pattern], r)
		case domain.MatchPrefix:
			m.prefix = append(m.prefix, r)
		case domain.MatchInfix:
			m.infix = append(m.infix, r)
		}
	}
	for _, rs := range m.exact {
		sortCandidates(rs)
	}
	sortCandidates(m.prefix)
	sortCandidates(m.infix)
	return m
}

// Match returns the single applicable rule for the transaction, or nil when
// no rule applies. At most one rule ever applies.
func (m *Matcher) Match(normalizedDescription string, amount decimal.Decimal, date time.Time) *domain.EnhancementRule {
	for _, r := range m.exact[normalizedDescription] {
		if r.Satisfies(amount, date) {
			return r
		}
	}
	for _, r := range m.prefix {
		if strings.HasPrefix(normalizedDescription, r.Pattern) && r.Satisfies(amount, date) {
			return r
		}
	}
	for _, r := range m.infix {
		if strings.Contains(normalizedDescription, r.Pattern) && r.Satisfies(amount, date) {
			return r
		}
	}
	return nil
}

// MatchTransaction is a convenience wrapper over Match.
func (m *Matcher) MatchTransaction(tx *domain.Transaction) *domain.EnhancementRule {
	return m.Match(tx.NormalizedDescription, tx.Amount, tx.Date)
}

func sortCandidates(rs []*domain.EnhancementRule) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if ca, cb := a.ConstraintCount(), b.ConstraintCount(); ca != cb {
			return ca > cb
		}
		if len(a.Pattern) != len(b.Pattern) {
			return len(a.Pattern) > len(b.Pattern)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
