package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankfeed/internal/ai"
	"bankfeed/internal/domain"
	"bankfeed/internal/infra/memory"
	"bankfeed/internal/store"
)

// scriptedOracle answers per description; unknown descriptions fail.
type scriptedOracle struct {
	categories     map[string]ai.CategorySuggestion
	counterparties map[string]ai.CounterpartySuggestion
	err            error
}

func (o *scriptedOracle) Categorize(ctx context.Context, description string, taxonomy []domain.Category) (*ai.CategorySuggestion, error) {
	if o.err != nil {
		return nil, o.err
	}
	s, ok := o.categories[description]
	if !ok {
		return nil, errors.New("model returned garbage")
	}
	return &s, nil
}

func (o *scriptedOracle) ExtractCounterparty(ctx context.Context, description string, accounts []domain.CounterpartyAccount) (*ai.CounterpartySuggestion, error) {
	if o.err != nil {
		return nil, o.err
	}
	s, ok := o.counterparties[description]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

type processorFixture struct {
	txs       *memory.TransactionRepository
	rules     *memory.RuleRepository
	jobs      *memory.JobRepository
	processor *Processor
}

func newProcessorFixture(t *testing.T, oracle ai.Oracle) *processorFixture {
	t.Helper()
	f := &processorFixture{
		txs:   memory.NewTransactionRepository(),
		rules: memory.NewRuleRepository(),
		jobs:  memory.NewJobRepository(),
	}
	categories := memory.NewCategoryRepository([]domain.Category{
		{ID: "groceries", Name: "Groceries", IsActive: true},
		{ID: "salary", Name: "Salary", IsActive: true},
	})
	counterparties := memory.NewCounterpartyRepository([]domain.CounterpartyAccount{
		{ID: "acc-1", Name: "Acme Ltd"},
	})
	f.processor = NewProcessor(f.txs, f.rules, f.jobs, categories, counterparties, oracle, zerolog.Nop())
	return f
}

func (f *processorFixture) seedTx(t *testing.T, id, description, normalized string) {
	t.Helper()
	err := f.txs.InsertBatch(context.Background(), []*domain.Transaction{{
		ID:                    id,
		Date:                  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Description:           description,
		NormalizedDescription: normalized,
		Amount:                decimal.RequireFromString("-10.00"),
		Status:                domain.StatusUncategorized,
	}})
	require.NoError(t, err)
}

func (f *processorFixture) seedJob(t *testing.T, jobType domain.JobType, txIDs ...string) *domain.BackgroundJob {
	t.Helper()
	job := &domain.BackgroundJob{
		ID:             uuid.NewString(),
		Type:           jobType,
		Status:         domain.JobPending,
		TransactionIDs: txIDs,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, f.jobs.Create(context.Background(), job))
	require.NoError(t, f.jobs.Claim(context.Background(), job.ID, "w-test", time.Now()))
	job.Status = domain.JobInProgress
	return job
}

func TestProcess_CategorizationMixedResults(t *testing.T) {
	ctx := context.Background()
	oracle := &scriptedOracle{categories: map[string]ai.CategorySuggestion{
		"TESCO STORES 3301": {CategoryID: "groceries", Confidence: 0.92},
		"TESCO STORES 4410": {CategoryID: "groceries", Confidence: 0.88},
		"SALARY ACME LTD":   {CategoryID: "salary", Confidence: 0.99},
	}}
	f := newProcessorFixture(t, oracle)

	f.seedTx(t, "t1", "TESCO STORES 3301", "tesco stores")
	f.seedTx(t, "t2", "TESCO STORES 4410", "tesco stores")
	f.seedTx(t, "t3", "SALARY ACME LTD", "salary acme ltd")
	f.seedTx(t, "t4", "MYSTERY MERCHANT", "mystery merchant")

	job := f.seedJob(t, domain.JobTypeAICategorization, "t1", "t2", "t3", "t4")
	require.NoError(t, f.processor.Process(ctx, job))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, domain.JobResult{Processed: 4, Succeeded: 3, Failed: 1}, got.Result)
	assert.NotNil(t, got.ProgressAt, "progress is flushed per transaction")

	tx, err := f.txs.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "groceries", tx.CategoryID)
	assert.Equal(t, domain.StatusCategorized, tx.Status)
	require.NotNil(t, tx.Confidence)
	assert.InDelta(t, 0.92, *tx.Confidence, 1e-9)

	tx, err = f.txs.GetByID(ctx, "t4")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailure, tx.Status)

	// Two learned rules: "tesco stores" was unanimous across two results,
	// "salary acme ltd" had one. The failed description learns nothing.
	learned, err := f.rules.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, learned, 2)
	for _, r := range learned {
		assert.Equal(t, domain.MatchExact, r.MatchType)
		assert.Equal(t, domain.ProvenanceAI, r.Provenance)
	}

	rule, err := f.rules.GetByPattern(ctx, "tesco stores")
	require.NoError(t, err)
	assert.Equal(t, "groceries", rule.CategoryID)
}

func TestProcess_ConflictingOutcomesLearnNothing(t *testing.T) {
	ctx := context.Background()
	oracle := &scriptedOracle{categories: map[string]ai.CategorySuggestion{
		"AMZN MKTP BOOKS":  {CategoryID: "groceries", Confidence: 0.6},
		"AMZN MKTP PANTRY": {CategoryID: "salary", Confidence: 0.7},
	}}
	f := newProcessorFixture(t, oracle)

	f.seedTx(t, "t1", "AMZN MKTP BOOKS", "amzn mktp")
	f.seedTx(t, "t2", "AMZN MKTP PANTRY", "amzn mktp")

	job := f.seedJob(t, domain.JobTypeAICategorization, "t1", "t2")
	require.NoError(t, f.processor.Process(ctx, job))

	// Both transactions were still updated individually.
	tx, err := f.txs.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "groceries", tx.CategoryID)
	tx, err = f.txs.GetByID(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "salary", tx.CategoryID)

	// But the ambiguous pattern produced no rule.
	_, err = f.rules.GetByPattern(ctx, "amzn mktp")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcess_ExistingRuleWins(t *testing.T) {
	ctx := context.Background()
	oracle := &scriptedOracle{categories: map[string]ai.CategorySuggestion{
		"TESCO STORES 3301": {CategoryID: "salary", Confidence: 0.5},
	}}
	f := newProcessorFixture(t, oracle)

	require.NoError(t, f.rules.Create(ctx, &domain.EnhancementRule{
		ID:         "r-manual",
		Pattern:    "tesco stores",
		MatchType:  domain.MatchExact,
		CategoryID: "groceries",
		Provenance: domain.ProvenanceManual,
		CreatedAt:  time.Now(),
	}))

	f.seedTx(t, "t1", "TESCO STORES 3301", "tesco stores")
	job := f.seedJob(t, domain.JobTypeAICategorization, "t1")
	require.NoError(t, f.processor.Process(ctx, job))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)

	// The prior rule is untouched; the AI result did not replace it.
	rule, err := f.rules.GetByPattern(ctx, "tesco stores")
	require.NoError(t, err)
	assert.Equal(t, "r-manual", rule.ID)
	assert.Equal(t, "groceries", rule.CategoryID)
}

func TestProcess_TotalOutageFailsJob(t *testing.T) {
	ctx := context.Background()
	oracle := &scriptedOracle{err: ai.ErrUnavailable}
	f := newProcessorFixture(t, oracle)

	f.seedTx(t, "t1", "TESCO STORES", "tesco stores")
	f.seedTx(t, "t2", "SPOTIFY AB", "spotify ab")

	job := f.seedJob(t, domain.JobTypeAICategorization, "t1", "t2")
	err := f.processor.Process(ctx, job)
	require.Error(t, err)

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestProcess_PartialOutageCompletes(t *testing.T) {
	ctx := context.Background()
	oracle := &scriptedOracle{categories: map[string]ai.CategorySuggestion{
		"TESCO STORES": {CategoryID: "groceries", Confidence: 0.9},
	}}
	f := newProcessorFixture(t, oracle)

	f.seedTx(t, "t1", "TESCO STORES", "tesco stores")

	// t2 never existed; a missing transaction is a per-item failure, not a
	// job-level one.
	job := f.seedJob(t, domain.JobTypeAICategorization, "t1", "t-missing")
	require.NoError(t, f.processor.Process(ctx, job))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)
	assert.Equal(t, domain.JobResult{Processed: 2, Succeeded: 1, Failed: 1}, got.Result)
}

func TestProcess_CounterpartyJob(t *testing.T) {
	ctx := context.Background()
	oracle := &scriptedOracle{counterparties: map[string]ai.CounterpartySuggestion{
		"SALARY ACME LTD": {AccountID: "acc-1", Confidence: 0.95},
	}}
	f := newProcessorFixture(t, oracle)

	f.seedTx(t, "t1", "SALARY ACME LTD", "salary acme ltd")
	f.seedTx(t, "t2", "TESCO STORES", "tesco stores")

	job := f.seedJob(t, domain.JobTypeAICounterparty, "t1", "t2")
	require.NoError(t, f.processor.Process(ctx, job))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.Status)
	// t2's "no counterparty identified" is neither a success nor a failure.
	assert.Equal(t, domain.JobResult{Processed: 2, Succeeded: 1, Failed: 0}, got.Result)

	tx, err := f.txs.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", tx.CounterpartyAccountID)
	assert.Equal(t, domain.StatusCategorized, tx.Status)

	tx, err = f.txs.GetByID(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, tx.CounterpartyAccountID)
	assert.Equal(t, domain.StatusUncategorized, tx.Status)

	// The identified counterparty becomes an AI rule.
	rule, err := f.rules.GetByPattern(ctx, "salary acme ltd")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", rule.CounterpartyAccountID)
	assert.Empty(t, rule.CategoryID)
}

func TestProcess_UnknownJobType(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, &scriptedOracle{})

	job := f.seedJob(t, domain.JobType("BOGUS"), "t1")
	err := f.processor.Process(ctx, job)
	require.Error(t, err)

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.Status)
}

func TestWorker_DrainsBacklog(t *testing.T) {
	ctx := context.Background()
	oracle := &scriptedOracle{categories: map[string]ai.CategorySuggestion{
		"TESCO STORES": {CategoryID: "groceries", Confidence: 0.9},
	}}
	f := newProcessorFixture(t, oracle)

	f.seedTx(t, "t1", "TESCO STORES", "tesco stores")
	f.seedTx(t, "t2", "TESCO STORES", "tesco stores")

	for _, txID := range []string{"t1", "t2"} {
		job := &domain.BackgroundJob{
			ID:             uuid.NewString(),
			Type:           domain.JobTypeAICategorization,
			Status:         domain.JobPending,
			TransactionIDs: []string{txID},
			CreatedAt:      time.Now(),
		}
		require.NoError(t, f.jobs.Create(ctx, job))
	}

	w := NewWorker(f.jobs, f.processor, time.Hour, zerolog.Nop())
	w.drain(ctx)

	jobs, err := f.jobs.List(ctx, store.JobFilter{Status: domain.JobCompleted})
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "drain claims jobs back to back until the backlog is empty")
	for _, j := range jobs {
		assert.Equal(t, w.ID(), j.WorkerID)
	}
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, &scriptedOracle{})

	job := &domain.BackgroundJob{
		ID:             uuid.NewString(),
		Type:           domain.JobTypeAICategorization,
		Status:         domain.JobPending,
		TransactionIDs: []string{"t1"},
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.jobs.Create(ctx, job))
	require.NoError(t, f.jobs.Claim(ctx, job.ID, "w-dead", time.Now().Add(-time.Hour)))

	n, err := SweepStale(ctx, f.jobs, 15*time.Minute, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, got.Status)
}
