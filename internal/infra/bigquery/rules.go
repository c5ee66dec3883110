package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

// RuleRepository is the BigQuery-backed store.RuleRepository. Pattern
// uniqueness is enforced with MERGE, so two workers learning the same
// pattern concurrently leave exactly one rule behind.
type RuleRepository struct {
	store *Store
}

// ListCandidates returns EXACT rules whose pattern appears in patterns plus
// every PREFIX and INFIX rule. One query per upload.
func (r *RuleRepository) ListCandidates(ctx context.Context, patterns []string) ([]*domain.EnhancementRule, error) {
	q := r.store.client.Query(fmt.Sprintf(`
		SELECT *
		FROM %s
		WHERE (match_type = 'EXACT' AND pattern IN UNNEST(@patterns))
		   OR match_type IN ('PREFIX', 'INFIX')
	`, r.store.table(rulesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "patterns", Value: patterns},
	}
	rules, err := r.readRules(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListCandidates: %w", err)
	}
	return rules, nil
}

func (r *RuleRepository) ListAll(ctx context.Context) ([]*domain.EnhancementRule, error) {
	q := r.store.client.Query(fmt.Sprintf(`
		SELECT * FROM %s ORDER BY created_ts
	`, r.store.table(rulesTable)))
	rules, err := r.readRules(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListAll: %w", err)
	}
	return rules, nil
}

func (r *RuleRepository) GetByPattern(ctx context.Context, pattern string) (*domain.EnhancementRule, error) {
	q := r.store.client.Query(fmt.Sprintf(`
		SELECT * FROM %s WHERE pattern = @pattern
	`, r.store.table(rulesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "pattern", Value: pattern},
	}
	rules, err := r.readRules(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetByPattern: %w", err)
	}
	if len(rules) == 0 {
		return nil, store.ErrNotFound
	}
	return rules[0], nil
}

// Create inserts the rule unless a rule with the same pattern already
// exists. Zero affected rows means the pattern was taken: first writer wins.
func (r *RuleRepository) Create(ctx context.Context, rule *domain.EnhancementRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	row := toRuleRow(rule)

	q := r.store.client.Query(fmt.Sprintf(`
		MERGE %s t
		USING (SELECT @pattern AS pattern) s
		ON t.pattern = s.pattern
		WHEN NOT MATCHED THEN
		  INSERT (
			rule_id, pattern, match_type,
			category_id, counterparty_account_id,
			min_amount, max_amount, valid_from, valid_to,
			provenance, confidence, match_count, created_ts
		  )
		  VALUES (
			@rule_id, @pattern, @match_type,
			@category_id, @counterparty_account_id,
			@min_amount, @max_amount, @valid_from, @valid_to,
			@provenance, @confidence, 0, @created_ts
		  )
	`, r.store.table(rulesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "rule_id", Value: row.RuleID},
		{Name: "pattern", Value: row.Pattern},
		{Name: "match_type", Value: row.MatchType},
		{Name: "category_id", Value: row.CategoryID},
		{Name: "counterparty_account_id", Value: row.CounterpartyAccountID},
		{Name: "min_amount", Value: row.MinAmount},
		{Name: "max_amount", Value: row.MaxAmount},
		{Name: "valid_from", Value: row.ValidFrom},
		{Name: "valid_to", Value: row.ValidTo},
		{Name: "provenance", Value: row.Provenance},
		{Name: "confidence", Value: row.Confidence},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	affected, err := r.store.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	if affected == 0 {
		return store.ErrRuleExists
	}
	return nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *domain.EnhancementRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	row := toRuleRow(rule)

	q := r.store.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET pattern = @pattern,
		    match_type = @match_type,
		    category_id = @category_id,
		    counterparty_account_id = @counterparty_account_id,
		    min_amount = @min_amount,
		    max_amount = @max_amount,
		    valid_from = @valid_from,
		    valid_to = @valid_to,
		    confidence = @confidence,
		    updated_ts = @updated_ts
		WHERE rule_id = @rule_id
	`, r.store.table(rulesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "pattern", Value: row.Pattern},
		{Name: "match_type", Value: row.MatchType},
		{Name: "category_id", Value: row.CategoryID},
		{Name: "counterparty_account_id", Value: row.CounterpartyAccountID},
		{Name: "min_amount", Value: row.MinAmount},
		{Name: "max_amount", Value: row.MaxAmount},
		{Name: "valid_from", Value: row.ValidFrom},
		{Name: "valid_to", Value: row.ValidTo},
		{Name: "confidence", Value: row.Confidence},
		{Name: "updated_ts", Value: time.Now()},
		{Name: "rule_id", Value: row.RuleID},
	}

	affected, err := r.store.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	q := r.store.client.Query(fmt.Sprintf(`
		DELETE FROM %s WHERE rule_id = @rule_id
	`, r.store.table(rulesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "rule_id", Value: id},
	}

	affected, err := r.store.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *RuleRepository) RecordMatches(ctx context.Context, ruleIDs []string, matchedAt time.Time) error {
	if len(ruleIDs) == 0 {
		return nil
	}

	// A rule matching several transactions in one upload appears several
	// times in ruleIDs; count occurrences so the bump is accurate.
	counts := make(map[string]int64)
	for _, id := range ruleIDs {
		counts[id]++
	}
	ids := make([]string, 0, len(counts))
	increments := make([]int64, 0, len(counts))
	for id, n := range counts {
		ids = append(ids, id)
		increments = append(increments, n)
	}

	q := r.store.client.Query(fmt.Sprintf(`
		UPDATE %s t
		SET match_count = t.match_count + (
		      SELECT i FROM UNNEST(@ids) id WITH OFFSET pos
		      JOIN UNNEST(@increments) i WITH OFFSET pos2 ON pos = pos2
		      WHERE id = t.rule_id
		    ),
		    last_matched_ts = @matched_at
		WHERE t.rule_id IN UNNEST(@ids)
	`, r.store.table(rulesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
		{Name: "increments", Value: increments},
		{Name: "matched_at", Value: matchedAt},
	}

	if _, err := r.store.runDML(ctx, q); err != nil {
		return fmt.Errorf("RecordMatches: %w", err)
	}
	return nil
}

func (r *RuleRepository) readRules(ctx context.Context, q *bigquery.Query) ([]*domain.EnhancementRule, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}
	var rules []*domain.EnhancementRule
	for {
		var row RuleRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		rules = append(rules, row.toDomain())
	}
	return rules, nil
}

var _ store.RuleRepository = (*RuleRepository)(nil)
