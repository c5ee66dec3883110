package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

// claimRetries bounds how many pending jobs ClaimNextPending will race for
// before giving up for this poll cycle.
const claimRetries = 3

// JobRepository is the BigQuery-backed store.JobRepository. The claim is a
// conditional UPDATE: the affected-row count decides who won, so any number
// of workers can share a backlog without double-processing.
type JobRepository struct {
	store *Store
}

// Create uses DML INSERT to avoid streaming buffer issues: the worker claims
// the job with an UPDATE seconds after creation, and BigQuery rejects DML
// against rows still in the streaming buffer.
func (r *JobRepository) Create(ctx context.Context, job *domain.BackgroundJob) error {
	query, params := insertJobQuery(r.store.table(jobsTable), toJobRow(job))
	q := r.store.client.Query(query)
	q.Parameters = params
	if _, err := r.store.runDML(ctx, q); err != nil {
		return fmt.Errorf("Create: inserting job: %w", err)
	}
	return nil
}

func insertJobQuery(table string, row *JobRow) (string, []bigquery.QueryParameter) {
	query := fmt.Sprintf(`
		INSERT %s (
			job_id, job_type, status, transaction_ids,
			processed, succeeded, failed, created_ts
		)
		VALUES (
			@job_id, @job_type, @status, @transaction_ids,
			@processed, @succeeded, @failed, @created_ts
		)
	`, table)
	params := []bigquery.QueryParameter{
		{Name: "job_id", Value: row.JobID},
		{Name: "job_type", Value: row.Type},
		{Name: "status", Value: row.Status},
		{Name: "transaction_ids", Value: row.TransactionIDs},
		{Name: "processed", Value: row.Processed},
		{Name: "succeeded", Value: row.Succeeded},
		{Name: "failed", Value: row.Failed},
		{Name: "created_ts", Value: row.CreatedTS},
	}
	return query, params
}

func (r *JobRepository) Get(ctx context.Context, id string) (*domain.BackgroundJob, error) {
	q := r.store.client.Query(fmt.Sprintf(`
		SELECT * FROM %s WHERE job_id = @job_id
	`, r.store.table(jobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "job_id", Value: id},
	}
	jobs, err := r.readJobs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if len(jobs) == 0 {
		return nil, store.ErrNotFound
	}
	return jobs[0], nil
}

func (r *JobRepository) List(ctx context.Context, filter store.JobFilter) ([]*domain.BackgroundJob, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE TRUE`, r.store.table(jobsTable))
	var params []bigquery.QueryParameter
	if filter.Status != "" {
		query += ` AND status = @status`
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(filter.Status)})
	}
	if filter.Type != "" {
		query += ` AND job_type = @job_type`
		params = append(params, bigquery.QueryParameter{Name: "job_type", Value: string(filter.Type)})
	}
	query += ` ORDER BY created_ts`
	if filter.Limit > 0 {
		query += ` LIMIT @lim`
		params = append(params, bigquery.QueryParameter{Name: "lim", Value: int64(filter.Limit)})
	}

	q := r.store.client.Query(query)
	q.Parameters = params
	jobs, err := r.readJobs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return jobs, nil
}

// Claim flips PENDING to IN_PROGRESS for exactly one caller. Losing the race
// affects zero rows and returns ErrJobAlreadyClaimed.
func (r *JobRepository) Claim(ctx context.Context, jobID, workerID string, now time.Time) error {
	q := r.store.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = 'IN_PROGRESS',
		    worker_id = @worker_id,
		    started_ts = @now,
		    progress_ts = @now
		WHERE job_id = @job_id
		  AND status = 'PENDING'
	`, r.store.table(jobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "worker_id", Value: workerID},
		{Name: "now", Value: now},
		{Name: "job_id", Value: jobID},
	}

	affected, err := r.store.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("Claim: %w", err)
	}
	if affected == 0 {
		return store.ErrJobAlreadyClaimed
	}
	return nil
}

// ClaimNextPending finds the oldest PENDING job and tries to claim it,
// moving on to the next candidate when another worker gets there first.
func (r *JobRepository) ClaimNextPending(ctx context.Context, workerID string, now time.Time) (*domain.BackgroundJob, error) {
	for attempt := 0; attempt < claimRetries; attempt++ {
		q := r.store.client.Query(fmt.Sprintf(`
			SELECT * FROM %s
			WHERE status = 'PENDING'
			ORDER BY created_ts
			LIMIT 1
		`, r.store.table(jobsTable)))
		jobs, err := r.readJobs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("ClaimNextPending: %w", err)
		}
		if len(jobs) == 0 {
			return nil, nil
		}

		candidate := jobs[0]
		err = r.Claim(ctx, candidate.ID, workerID, now)
		if errors.Is(err, store.ErrJobAlreadyClaimed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ClaimNextPending: %w", err)
		}

		candidate.Status = domain.JobInProgress
		candidate.WorkerID = workerID
		t := now
		candidate.StartedAt = &t
		candidate.ProgressAt = &t
		return candidate, nil
	}
	return nil, nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, result domain.JobResult, now time.Time) error {
	q := r.store.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET processed = @processed,
		    succeeded = @succeeded,
		    failed = @failed,
		    progress_ts = @now
		WHERE job_id = @job_id
	`, r.store.table(jobsTable)))
	q.Parameters = progressParams(jobID, result, now)

	affected, err := r.store.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateProgress: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *JobRepository) Complete(ctx context.Context, jobID string, result domain.JobResult, now time.Time) error {
	q := r.store.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = 'COMPLETED',
		    processed = @processed,
		    succeeded = @succeeded,
		    failed = @failed,
		    completed_ts = @now
		WHERE job_id = @job_id
	`, r.store.table(jobsTable)))
	q.Parameters = progressParams(jobID, result, now)

	affected, err := r.store.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *JobRepository) Fail(ctx context.Context, jobID string, errMsg string, now time.Time) error {
	q := r.store.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = 'FAILED',
		    error_message = @error_message,
		    completed_ts = @now
		WHERE job_id = @job_id
	`, r.store.table(jobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "error_message", Value: errMsg},
		{Name: "now", Value: now},
		{Name: "job_id", Value: jobID},
	}

	affected, err := r.store.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("Fail: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ResetStale returns abandoned IN_PROGRESS jobs to PENDING. Last activity is
// progress_ts, falling back to started_ts for jobs that never flushed.
func (r *JobRepository) ResetStale(ctx context.Context, cutoff time.Time) (int, error) {
	q := r.store.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = 'PENDING',
		    worker_id = NULL,
		    started_ts = NULL,
		    progress_ts = NULL
		WHERE status = 'IN_PROGRESS'
		  AND COALESCE(progress_ts, started_ts) < @cutoff
	`, r.store.table(jobsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "cutoff", Value: cutoff},
	}

	affected, err := r.store.runDML(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("ResetStale: %w", err)
	}
	return int(affected), nil
}

func progressParams(jobID string, result domain.JobResult, now time.Time) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "processed", Value: int64(result.Processed)},
		{Name: "succeeded", Value: int64(result.Succeeded)},
		{Name: "failed", Value: int64(result.Failed)},
		{Name: "now", Value: now},
		{Name: "job_id", Value: jobID},
	}
}

func (r *JobRepository) readJobs(ctx context.Context, q *bigquery.Query) ([]*domain.BackgroundJob, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}
	var jobs []*domain.BackgroundJob
	for {
		var row JobRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		jobs = append(jobs, row.toDomain())
	}
	return jobs, nil
}

var _ store.JobRepository = (*JobRepository)(nil)
