// Package jobs owns the asynchronous phase: claiming background jobs,
// running AI enrichment per transaction, learning rules from successful
// results and tracking progress through the job state machine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bankfeed/internal/ai"
	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

// Processor executes one claimed job at a time. It never touches in-memory
// transaction state from the synchronous phase; every transaction is
// re-fetched fresh by ID.
type Processor struct {
	txs            store.TransactionRepository
	rules          store.RuleRepository
	jobs           store.JobRepository
	categories     store.CategoryRepository
	counterparties store.CounterpartyRepository
	oracle         ai.Oracle
	log            zerolog.Logger
}

func NewProcessor(
	txs store.TransactionRepository,
	rules store.RuleRepository,
	jobRepo store.JobRepository,
	categories store.CategoryRepository,
	counterparties store.CounterpartyRepository,
	oracle ai.Oracle,
	log zerolog.Logger,
) *Processor {
	return &Processor{
		txs:            txs,
		rules:          rules,
		jobs:           jobRepo,
		categories:     categories,
		counterparties: counterparties,
		oracle:         oracle,
		log:            log,
	}
}

// outcome is one successful AI result, grouped by normalized description for
// rule learning.
type outcome struct {
	targetID   string
	confidence float64
}

// Process runs an already-claimed IN_PROGRESS job to completion. The job
// ends COMPLETED once every transaction has been attempted; FAILED is
// reserved for job-level faults (taxonomy unavailable, or the oracle
// unreachable for the entire payload).
func (p *Processor) Process(ctx context.Context, job *domain.BackgroundJob) error {
	switch job.Type {
	case domain.JobTypeAICategorization:
		return p.run(ctx, job, p.categorizeOne, p.categoryRule)
	case domain.JobTypeAICounterparty:
		return p.run(ctx, job, p.counterpartyOne, p.counterpartyRule)
	default:
		errMsg := fmt.Sprintf("unknown job type %q", job.Type)
		if err := p.jobs.Fail(ctx, job.ID, errMsg, time.Now()); err != nil {
			p.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
		}
		return errors.New(errMsg)
	}
}

// enrichFunc applies the oracle to one freshly-fetched transaction and
// updates it. It returns the learned outcome (nil when there is nothing to
// learn) and whether the failure, if any, was a transport-level outage.
type enrichFunc func(ctx context.Context, tx *domain.Transaction) (learned *outcome, transport bool, err error)

// ruleFunc builds the AI-provenance rule for a learned outcome.
type ruleFunc func(pattern string, o outcome) *domain.EnhancementRule

func (p *Processor) run(ctx context.Context, job *domain.BackgroundJob, enrich enrichFunc, buildRule ruleFunc) error {
	log := p.log.With().Str("job_id", job.ID).Str("job_type", string(job.Type)).Logger()

	var result domain.JobResult
	transportFailures := 0
	learnedByPattern := make(map[string][]outcome)

	for _, txID := range job.TransactionIDs {
		result.Processed++

		// Always a fresh read; the record may have been edited since the
		// synchronous phase persisted it.
		tx, err := p.txs.GetByID(ctx, txID)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", txID).Msg("Transaction missing, counting as failed")
			result.Failed++
			p.flushProgress(ctx, job.ID, result)
			continue
		}

		learned, transport, err := enrich(ctx, tx)
		switch {
		case err != nil:
			if transport {
				transportFailures++
			}
			log.Warn().Err(err).Str("transaction_id", txID).Msg("Enrichment failed for transaction")
			tx.Status = domain.StatusFailure
			if updErr := p.txs.Update(ctx, tx); updErr != nil {
				log.Error().Err(updErr).Str("transaction_id", txID).Msg("Failed to record enrichment failure")
			}
			result.Failed++
		case learned != nil:
			result.Succeeded++
			learnedByPattern[tx.NormalizedDescription] = append(learnedByPattern[tx.NormalizedDescription], *learned)
		}

		p.flushProgress(ctx, job.ID, result)
	}

	// Total outage: nothing in the payload could reach the oracle.
	if len(job.TransactionIDs) > 0 && transportFailures == len(job.TransactionIDs) {
		errMsg := "ai oracle unreachable for entire job"
		if err := p.jobs.Fail(ctx, job.ID, errMsg, time.Now()); err != nil {
			log.Error().Err(err).Msg("Failed to mark job failed")
		}
		log.Error().Int("transactions", len(job.TransactionIDs)).Msg("Job failed: oracle unreachable")
		return fmt.Errorf("job %s: %s", job.ID, errMsg)
	}

	p.learnRules(ctx, log, learnedByPattern, buildRule)

	if err := p.jobs.Complete(ctx, job.ID, result, time.Now()); err != nil {
		log.Error().Err(err).Msg("Failed to mark job completed")
		return fmt.Errorf("job %s: completing: %w", job.ID, err)
	}
	log.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("Job completed")
	return nil
}

func (p *Processor) flushProgress(ctx context.Context, jobID string, result domain.JobResult) {
	if err := p.jobs.UpdateProgress(ctx, jobID, result, time.Now()); err != nil {
		p.log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to flush job progress")
	}
}

// learnRules persists one AI rule per unambiguous normalized description.
// A description whose batch produced more than one distinct outcome is a
// conflict: no rule is written, ambiguity is never resolved last-write-wins.
// An existing rule for the pattern always wins over the new result.
func (p *Processor) learnRules(ctx context.Context, log zerolog.Logger, learned map[string][]outcome, buildRule ruleFunc) {
	for pattern, outcomes := range learned {
		if pattern == "" {
			continue
		}
		first := outcomes[0]
		conflict := false
		for _, o := range outcomes[1:] {
			if o.targetID != first.targetID {
				conflict = true
				break
			}
		}
		if conflict {
			log.Warn().Str("pattern", pattern).Msg("Conflicting AI outcomes for pattern, no rule created")
			continue
		}

		rule := buildRule(pattern, first)
		err := p.rules.Create(ctx, rule)
		switch {
		case err == nil:
			log.Info().Str("pattern", pattern).Str("rule_id", rule.ID).Msg("Learned rule from AI result")
		case errors.Is(err, store.ErrRuleExists):
			// First writer wins; a concurrent or earlier rule stands.
		default:
			log.Error().Err(err).Str("pattern", pattern).Msg("Failed to create learned rule")
		}
	}
}

func (p *Processor) categorizeOne(ctx context.Context, tx *domain.Transaction) (*outcome, bool, error) {
	taxonomy, err := p.categories.ListActive(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("loading taxonomy: %w", err)
	}

	suggestion, err := p.oracle.Categorize(ctx, tx.Description, taxonomy)
	if err != nil {
		return nil, errors.Is(err, ai.ErrUnavailable), err
	}

	tx.CategoryID = suggestion.CategoryID
	conf := suggestion.Confidence
	tx.Confidence = &conf
	tx.Status = domain.StatusCategorized
	if err := p.txs.Update(ctx, tx); err != nil {
		return nil, false, fmt.Errorf("updating transaction: %w", err)
	}
	return &outcome{targetID: suggestion.CategoryID, confidence: suggestion.Confidence}, false, nil
}

func (p *Processor) counterpartyOne(ctx context.Context, tx *domain.Transaction) (*outcome, bool, error) {
	accounts, err := p.counterparties.ListAll(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("loading counterparty accounts: %w", err)
	}

	suggestion, err := p.oracle.ExtractCounterparty(ctx, tx.Description, accounts)
	if err != nil {
		return nil, errors.Is(err, ai.ErrUnavailable), err
	}
	if suggestion == nil {
		// No counterparty identified is a clean non-result.
		return nil, false, nil
	}

	tx.CounterpartyAccountID = suggestion.AccountID
	tx.Status = domain.StatusCategorized
	if err := p.txs.Update(ctx, tx); err != nil {
		return nil, false, fmt.Errorf("updating transaction: %w", err)
	}
	return &outcome{targetID: suggestion.AccountID, confidence: suggestion.Confidence}, false, nil
}

func (p *Processor) categoryRule(pattern string, o outcome) *domain.EnhancementRule {
	conf := o.confidence
	now := time.Now()
	return &domain.EnhancementRule{
		ID:         uuid.NewString(),
		Pattern:    pattern,
		MatchType:  domain.MatchExact,
		CategoryID: o.targetID,
		Provenance: domain.ProvenanceAI,
		Confidence: &conf,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (p *Processor) counterpartyRule(pattern string, o outcome) *domain.EnhancementRule {
	conf := o.confidence
	now := time.Now()
	return &domain.EnhancementRule{
		ID:                    uuid.NewString(),
		Pattern:               pattern,
		MatchType:             domain.MatchExact,
		CounterpartyAccountID: o.targetID,
		Provenance:            domain.ProvenanceAI,
		Confidence:            &conf,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}
