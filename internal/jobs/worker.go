package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bankfeed/internal/store"
)

const defaultPollInterval = 5 * time.Second

// Worker polls the job store, claims the oldest PENDING job and hands it to
// the processor. Claiming is atomic in the store, so any number of workers
// can poll the same backlog without double-processing.
type Worker struct {
	id           string
	jobs         store.JobRepository
	processor    *Processor
	pollInterval time.Duration
	log          zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewWorker(jobRepo store.JobRepository, processor *Processor, pollInterval time.Duration, log zerolog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	id := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	return &Worker{
		id:           id,
		jobs:         jobRepo,
		processor:    processor,
		pollInterval: pollInterval,
		log:          log.With().Str("worker_id", id).Logger(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ID returns the worker identity recorded on claimed jobs.
func (w *Worker) ID() string { return w.id }

// Start runs the poll loop in the current goroutine until Stop is called or
// the context is cancelled. A job in flight is finished before returning.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)
	w.log.Info().Dur("poll_interval", w.pollInterval).Msg("Worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping: context cancelled")
			return
		case <-w.stop:
			w.log.Info().Msg("Worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// Stop signals the poll loop and waits for the in-flight job to finish.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("Worker.Stop: %w", ctx.Err())
	}
}

// drain processes claimed jobs back to back until the backlog is empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		job, err := w.jobs.ClaimNextPending(ctx, w.id, time.Now())
		if err != nil {
			w.log.Error().Err(err).Msg("Failed to claim next job")
			return
		}
		if job == nil {
			return
		}

		w.log.Info().Str("job_id", job.ID).Str("job_type", string(job.Type)).
			Int("transactions", len(job.TransactionIDs)).Msg("Claimed job")
		if err := w.processor.Process(ctx, job); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("Job processing failed")
		}
	}
}

// SweepStale returns IN_PROGRESS jobs with no activity since the timeout back
// to PENDING. Run by an operator or a periodic task, never by the claim path.
func SweepStale(ctx context.Context, jobRepo store.JobRepository, timeout time.Duration, log zerolog.Logger) (int, error) {
	cutoff := time.Now().Add(-timeout)
	n, err := jobRepo.ResetStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("SweepStale: %w", err)
	}
	if n > 0 {
		log.Warn().Int("jobs", n).Time("cutoff", cutoff).Msg("Reset stale in-progress jobs to pending")
	}
	return n, nil
}
