package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankfeed/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func rule(id, pattern string, mt domain.MatchType, category string) *domain.EnhancementRule {
	return &domain.EnhancementRule{
		ID:         id,
		Pattern:    pattern,
		MatchType:  mt,
		CategoryID: category,
		Provenance: domain.ProvenanceManual,
		CreatedAt:  day(1),
	}
}

func TestMatcher_Precedence(t *testing.T) {
	// One description, three applicable rules of different match types.
	exact := rule("r-exact", "starbucks coffee amsterdam", domain.MatchExact, "restaurants")
	prefix := rule("r-prefix", "starbucks", domain.MatchPrefix, "coffee")
	infix := rule("r-infix", "coffee", domain.MatchInfix, "drinks")

	m := NewMatcher([]*domain.EnhancementRule{infix, prefix, exact})

	got := m.Match("starbucks coffee amsterdam", decimal.NewFromInt(-4), day(10))
	require.NotNil(t, got)
	assert.Equal(t, "r-exact", got.ID, "EXACT must beat PREFIX and INFIX")

	// Without the exact rule the prefix rule wins over infix.
	m = NewMatcher([]*domain.EnhancementRule{infix, prefix})
	got = m.Match("starbucks coffee amsterdam", decimal.NewFromInt(-4), day(10))
	require.NotNil(t, got)
	assert.Equal(t, "r-prefix", got.ID, "PREFIX must beat INFIX")
}

func TestMatcher_NoMatch(t *testing.T) {
	m := NewMatcher([]*domain.EnhancementRule{
		rule("r1", "tesco", domain.MatchPrefix, "groceries"),
	})
	assert.Nil(t, m.Match("aldi store", decimal.NewFromInt(-10), day(5)))
}

func TestMatcher_ConstraintsFiltering(t *testing.T) {
	min := decimal.NewFromInt(-50)
	max := decimal.NewFromInt(-10)
	constrained := rule("r-amount", "tesco stores", domain.MatchExact, "groceries")
	constrained.MinAmount = &min
	constrained.MaxAmount = &max

	m := NewMatcher([]*domain.EnhancementRule{constrained})

	assert.NotNil(t, m.Match("tesco stores", decimal.NewFromInt(-20), day(5)), "amount inside range must match")
	assert.Nil(t, m.Match("tesco stores", decimal.NewFromInt(-80), day(5)), "amount below range must not match")
	assert.Nil(t, m.Match("tesco stores", decimal.NewFromInt(-5), day(5)), "amount above range must not match")
}

func TestMatcher_DateValidity(t *testing.T) {
	from := day(10)
	to := day(20)
	r := rule("r-window", "gym membership", domain.MatchExact, "health")
	r.ValidFrom = &from
	r.ValidTo = &to

	m := NewMatcher([]*domain.EnhancementRule{r})

	assert.Nil(t, m.Match("gym membership", decimal.NewFromInt(-30), day(9)))
	assert.NotNil(t, m.Match("gym membership", decimal.NewFromInt(-30), day(15)))
	assert.Nil(t, m.Match("gym membership", decimal.NewFromInt(-30), day(21)))
}

func TestMatcher_TieBreak(t *testing.T) {
	// Same type, same pattern length: more constraints wins.
	min := decimal.NewFromInt(-100)
	constrained := rule("r-b", "netflix", domain.MatchExact, "subscriptions")
	constrained.MinAmount = &min
	plain := rule("r-a", "netflix", domain.MatchExact, "shopping")

	m := NewMatcher([]*domain.EnhancementRule{plain, constrained})
	got := m.Match("netflix", decimal.NewFromInt(-15), day(5))
	require.NotNil(t, got)
	assert.Equal(t, "r-b", got.ID, "rule with more constraints wins the tie")

	// Constrained rule not satisfied: falls through to the plain one.
	got = m.Match("netflix", decimal.NewFromInt(-200), day(5))
	require.NotNil(t, got)
	assert.Equal(t, "r-a", got.ID)

	// Prefix rules of equal constraint count: longer pattern wins.
	long := rule("r-long", "amazon prime", domain.MatchPrefix, "subscriptions")
	short := rule("r-short", "amazon", domain.MatchPrefix, "shopping")
	m = NewMatcher([]*domain.EnhancementRule{short, long})
	got = m.Match("amazon prime video", decimal.NewFromInt(-9), day(5))
	require.NotNil(t, got)
	assert.Equal(t, "r-long", got.ID, "longer pattern wins the tie")

	// Identical on all else: earlier CreatedAt wins.
	older := rule("r-z", "uber", domain.MatchPrefix, "transport")
	newer := rule("r-y", "uber", domain.MatchPrefix, "other")
	newer.CreatedAt = day(2)
	m = NewMatcher([]*domain.EnhancementRule{newer, older})
	got = m.Match("uber trip", decimal.NewFromInt(-12), day(5))
	require.NotNil(t, got)
	assert.Equal(t, "r-z", got.ID, "earlier creation time wins the tie")
}

func TestMatcher_Deterministic(t *testing.T) {
	// Shuffled input order must never change the winner.
	ruleSet := []*domain.EnhancementRule{
		rule("r1", "spotify", domain.MatchExact, "subscriptions"),
		rule("r2", "spotify", domain.MatchPrefix, "other"),
		rule("r3", "spot", domain.MatchPrefix, "shopping"),
		rule("r4", "ify", domain.MatchInfix, "misc"),
	}

	first := NewMatcher(ruleSet).Match("spotify", decimal.NewFromInt(-10), day(5))
	require.NotNil(t, first)
	for i := 0; i < 5; i++ {
		reordered := []*domain.EnhancementRule{ruleSet[(i+1)%4], ruleSet[(i+2)%4], ruleSet[(i+3)%4], ruleSet[i%4]}
		got := NewMatcher(reordered).Match("spotify", decimal.NewFromInt(-10), day(5))
		require.NotNil(t, got)
		assert.Equal(t, first.ID, got.ID, "winner must not depend on rule load order")
	}
}

func TestMatcher_SkipsInvalidRules(t *testing.T) {
	invalid := &domain.EnhancementRule{ID: "r-bad", Pattern: "", MatchType: domain.MatchExact, CategoryID: "x"}
	valid := rule("r-ok", "tesco", domain.MatchExact, "groceries")

	m := NewMatcher([]*domain.EnhancementRule{invalid, valid})
	got := m.Match("tesco", decimal.NewFromInt(-5), day(5))
	require.NotNil(t, got)
	assert.Equal(t, "r-ok", got.ID)
}

func TestMatcher_MatchTransaction(t *testing.T) {
	m := NewMatcher([]*domain.EnhancementRule{rule("r1", "tesco stores", domain.MatchExact, "groceries")})
	tx := &domain.Transaction{
		NormalizedDescription: "tesco stores",
		Amount:                decimal.NewFromInt(-12),
		Date:                  day(5),
	}
	got := m.MatchTransaction(tx)
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.ID)
}
