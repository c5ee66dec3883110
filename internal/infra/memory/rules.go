package memory

import (
	"context"
	"sync"
	"time"

	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

// RuleRepository is the in-memory store.RuleRepository. Pattern uniqueness is
// enforced under the write lock, so concurrent Create calls for the same
// pattern behave first-writer-wins like the production store.
type RuleRepository struct {
	mu        sync.RWMutex
	rules     map[string]*domain.EnhancementRule // by id
	byPattern map[string]string                  // pattern -> id
}

func NewRuleRepository() *RuleRepository {
	return &RuleRepository{
		rules:     make(map[string]*domain.EnhancementRule),
		byPattern: make(map[string]string),
	}
}

func (r *RuleRepository) ListCandidates(ctx context.Context, patterns []string) ([]*domain.EnhancementRule, error) {
	want := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		want[p] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.EnhancementRule
	for _, rule := range r.rules {
		if rule.MatchType == domain.MatchExact && !want[rule.Pattern] {
			continue
		}
		cp := *rule
		out = append(out, &cp)
	}
	return out, nil
}

func (r *RuleRepository) ListAll(ctx context.Context) ([]*domain.EnhancementRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.EnhancementRule, 0, len(r.rules))
	for _, rule := range r.rules {
		cp := *rule
		out = append(out, &cp)
	}
	return out, nil
}

func (r *RuleRepository) GetByPattern(ctx context.Context, pattern string) (*domain.EnhancementRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPattern[pattern]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r.rules[id]
	return &cp, nil
}

func (r *RuleRepository) Create(ctx context.Context, rule *domain.EnhancementRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPattern[rule.Pattern]; exists {
		return store.ErrRuleExists
	}
	cp := *rule
	r.rules[rule.ID] = &cp
	r.byPattern[rule.Pattern] = rule.ID
	return nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *domain.EnhancementRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rules[rule.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Pattern != rule.Pattern {
		if _, taken := r.byPattern[rule.Pattern]; taken {
			return store.ErrRuleExists
		}
		delete(r.byPattern, existing.Pattern)
		r.byPattern[rule.Pattern] = rule.ID
	}
	cp := *rule
	cp.UpdatedAt = time.Now()
	r.rules[rule.ID] = &cp
	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(r.byPattern, rule.Pattern)
	delete(r.rules, id)
	return nil
}

func (r *RuleRepository) RecordMatches(ctx context.Context, ruleIDs []string, matchedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ruleIDs {
		if rule, ok := r.rules[id]; ok {
			rule.MatchCount++
			t := matchedAt
			rule.LastMatchedAt = &t
		}
	}
	return nil
}

var _ store.RuleRepository = (*RuleRepository)(nil)
