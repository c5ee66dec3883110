package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bankfeed/internal/domain"
	"bankfeed/internal/store"
)

// JobRepository is the in-memory store.JobRepository. Claims are serialized
// under the write lock, which gives the same exactly-one-winner semantics the
// production store gets from conditional DML.
type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.BackgroundJob
}

func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: make(map[string]*domain.BackgroundJob)}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.BackgroundJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := copyJob(job)
	r.jobs[job.ID] = cp
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*domain.BackgroundJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(job), nil
}

func (r *JobRepository) List(ctx context.Context, filter store.JobFilter) ([]*domain.BackgroundJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.BackgroundJob
	for _, job := range r.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		out = append(out, copyJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *JobRepository) Claim(ctx context.Context, jobID, workerID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status != domain.JobPending {
		return store.ErrJobAlreadyClaimed
	}
	claim(job, workerID, now)
	return nil
}

func (r *JobRepository) ClaimNextPending(ctx context.Context, workerID string, now time.Time) (*domain.BackgroundJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *domain.BackgroundJob
	for _, job := range r.jobs {
		if job.Status != domain.JobPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	claim(oldest, workerID, now)
	return copyJob(oldest), nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, result domain.JobResult, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.Result = result
	t := now
	job.ProgressAt = &t
	return nil
}

func (r *JobRepository) Complete(ctx context.Context, jobID string, result domain.JobResult, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = domain.JobCompleted
	job.Result = result
	t := now
	job.CompletedAt = &t
	return nil
}

func (r *JobRepository) Fail(ctx context.Context, jobID string, errMsg string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = domain.JobFailed
	job.Error = errMsg
	t := now
	job.CompletedAt = &t
	return nil
}

func (r *JobRepository) ResetStale(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset := 0
	for _, job := range r.jobs {
		if job.Status != domain.JobInProgress {
			continue
		}
		last := job.StartedAt
		if job.ProgressAt != nil {
			last = job.ProgressAt
		}
		if last != nil && last.Before(cutoff) {
			job.Status = domain.JobPending
			job.WorkerID = ""
			job.StartedAt = nil
			job.ProgressAt = nil
			reset++
		}
	}
	return reset, nil
}

func claim(job *domain.BackgroundJob, workerID string, now time.Time) {
	job.Status = domain.JobInProgress
	job.WorkerID = workerID
	t := now
	job.StartedAt = &t
	job.ProgressAt = &t
}

func copyJob(job *domain.BackgroundJob) *domain.BackgroundJob {
	cp := *job
	cp.TransactionIDs = append([]string(nil), job.TransactionIDs...)
	return &cp
}

var _ store.JobRepository = (*JobRepository)(nil)
