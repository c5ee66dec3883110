package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankfeed/internal/dedup"
	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

func newRule(id, pattern string) *domain.EnhancementRule {
	return &domain.EnhancementRule{
		ID:         id,
		Pattern:    pattern,
		MatchType:  domain.MatchExact,
		CategoryID: "groceries",
		Provenance: domain.ProvenanceAI,
		CreatedAt:  time.Now(),
	}
}

func TestRuleRepository_PatternUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleRepository()

	require.NoError(t, repo.Create(ctx, newRule("r1", "tesco stores")))

	err := repo.Create(ctx, newRule("r2", "tesco stores"))
	assert.ErrorIs(t, err, store.ErrRuleExists)

	// The first rule is untouched.
	got, err := repo.GetByPattern(ctx, "tesco stores")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
}

func TestRuleRepository_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleRepository()

	const workers = 16
	var wg sync.WaitGroup
	created := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.Create(ctx, newRule(fmt.Sprintf("r%d", i), "amzn mktp"))
			if err == nil {
				created <- fmt.Sprintf("r%d", i)
			} else if !errors.Is(err, store.ErrRuleExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(created)

	var winners []string
	for id := range created {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1, "exactly one concurrent Create must win")

	got, err := repo.GetByPattern(ctx, "amzn mktp")
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.ID)
}

func TestRuleRepository_ListCandidates(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleRepository()

	exactWanted := newRule("r1", "tesco stores")
	exactOther := newRule("r2", "aldi")
	prefix := newRule("r3", "starbucks")
	prefix.MatchType = domain.MatchPrefix
	infix := newRule("r4", "coffee")
	infix.MatchType = domain.MatchInfix

	for _, r := range []*domain.EnhancementRule{exactWanted, exactOther, prefix, infix} {
		require.NoError(t, repo.Create(ctx, r))
	}

	got, err := repo.ListCandidates(ctx, []string{"tesco stores"})
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, r := range got {
		ids[r.ID] = true
	}
	assert.True(t, ids["r1"], "matching exact rule included")
	assert.False(t, ids["r2"], "non-matching exact rule excluded")
	assert.True(t, ids["r3"], "prefix rules always included")
	assert.True(t, ids["r4"], "infix rules always included")
}

func TestTransactionRepository_ExistingKeys(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository()

	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("-12.50")
	tx := &domain.Transaction{
		ID:                    "t1",
		Date:                  date,
		Amount:                amount,
		NormalizedDescription: "tesco stores",
		Status:                domain.StatusUncategorized,
	}
	require.NoError(t, repo.InsertBatch(ctx, []*domain.Transaction{tx}))

	known := dedup.TransactionKey(date, amount, "tesco stores")
	unknown := dedup.TransactionKey(date, amount, "aldi")

	found, err := repo.ExistingKeys(ctx, []string{known, unknown})
	require.NoError(t, err)
	assert.True(t, found[known])
	assert.False(t, found[unknown])
}

func newJob(id string, created time.Time) *domain.BackgroundJob {
	return &domain.BackgroundJob{
		ID:             id,
		Type:           domain.JobTypeAICategorization,
		Status:         domain.JobPending,
		TransactionIDs: []string{"t1", "t2"},
		CreatedAt:      created,
	}
}

func TestJobRepository_ClaimExactlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("j1", time.Now())))

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.Claim(ctx, "j1", fmt.Sprintf("w%d", i), time.Now())
			if err == nil {
				wins <- fmt.Sprintf("w%d", i)
			} else if !errors.Is(err, store.ErrJobAlreadyClaimed) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one worker may claim a job")

	job, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobInProgress, job.Status)
	assert.Equal(t, winners[0], job.WorkerID)
	assert.NotNil(t, job.StartedAt)
}

func TestJobRepository_ClaimNextPendingOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	base := time.Now()
	require.NoError(t, repo.Create(ctx, newJob("j-newer", base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newJob("j-older", base)))

	job, err := repo.ClaimNextPending(ctx, "w1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j-older", job.ID, "oldest pending job is claimed first")

	job, err = repo.ClaimNextPending(ctx, "w1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j-newer", job.ID)

	job, err = repo.ClaimNextPending(ctx, "w1", time.Now())
	require.NoError(t, err)
	assert.Nil(t, job, "empty backlog yields nil")
}

func TestJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("j1", time.Now())))
	require.NoError(t, repo.Claim(ctx, "j1", "w1", time.Now()))

	result := domain.JobResult{Processed: 1, Succeeded: 1}
	require.NoError(t, repo.UpdateProgress(ctx, "j1", result, time.Now()))

	job, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, result, job.Result)
	assert.NotNil(t, job.ProgressAt)

	final := domain.JobResult{Processed: 2, Succeeded: 1, Failed: 1}
	require.NoError(t, repo.Complete(ctx, "j1", final, time.Now()))

	job, err = repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, final, job.Result)
	assert.NotNil(t, job.CompletedAt)
}

func TestJobRepository_Fail(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("j1", time.Now())))
	require.NoError(t, repo.Claim(ctx, "j1", "w1", time.Now()))
	require.NoError(t, repo.Fail(ctx, "j1", "oracle unreachable", time.Now()))

	job, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, "oracle unreachable", job.Error)
}

func TestJobRepository_ResetStale(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()

	stale := newJob("j-stale", time.Now().Add(-time.Hour))
	fresh := newJob("j-fresh", time.Now())
	pending := newJob("j-pending", time.Now())
	require.NoError(t, repo.Create(ctx, stale))
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Create(ctx, pending))

	require.NoError(t, repo.Claim(ctx, "j-stale", "w1", time.Now().Add(-30*time.Minute)))
	require.NoError(t, repo.Claim(ctx, "j-fresh", "w2", time.Now()))

	n, err := repo.ResetStale(ctx, time.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := repo.Get(ctx, "j-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.Empty(t, job.WorkerID)

	job, err = repo.Get(ctx, "j-fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.JobInProgress, job.Status, "active claims survive the sweep")
}
