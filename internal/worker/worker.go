package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bobarin/reels/internal/logging"
	"github.com/bobarin/reels/internal/metrics"
	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/queue"
	"github.com/bobarin/reels/internal/services"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultMaxAttempts    = 3
	defaultLockRetryDelay = 15 * time.Second
	dequeueTimeout        = 5 * time.Second
	dequeueErrorBackoff   = time.Second

	creditRestoreReason = "render_failed"
)

// Options tunes the worker. Zero values fall back to defaults.
type Options struct {
	TranscriptionConcurrency int
	LoudnessWindowSec        float64
	RenderCreditCost         int
	MaxAttempts              int
	LockRetryDelay           time.Duration
	RetryBaseDelay           time.Duration
	CleanupStaleAfter        time.Duration
}

type Worker struct {
	Deps
	opts     Options
	workerID string
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func New(deps Deps, opts Options) *Worker {
	if opts.TranscriptionConcurrency < 1 {
		opts.TranscriptionConcurrency = 4
	}
	if opts.LoudnessWindowSec <= 0 {
		opts.LoudnessWindowSec = 0.5
	}
	if opts.RenderCreditCost <= 0 {
		opts.RenderCreditCost = 5
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.LockRetryDelay <= 0 {
		opts.LockRetryDelay = defaultLockRetryDelay
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 10 * time.Second
	}
	if opts.CleanupStaleAfter <= 0 {
		opts.CleanupStaleAfter = 6 * time.Hour
	}

	host, _ := os.Hostname()
	return &Worker{
		Deps:     deps,
		opts:     opts,
		workerID: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		log:      logging.WithComponent("worker"),
	}
}

// Start runs concurrency render loops and blocks until ctx is cancelled and
// every in-flight job has returned.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info().Int("concurrency", concurrency).Str("worker_id", w.workerID).Msg("worker started")

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.processQueue(ctx, queue.QueueRender, w.handleRender)
		}()
	}

	<-ctx.Done()
	w.log.Info().Msg("worker shutting down, waiting for in-flight jobs")
	w.wg.Wait()
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.Queue.Dequeue(ctx, queueName, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Str("queue", queueName).Msg("error dequeuing")
			time.Sleep(dequeueErrorBackoff)
			continue
		}
		if job == nil {
			w.sampleQueueDepth(ctx, queueName)
			continue
		}

		if err := handler(ctx, job); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("job finished with error")
		}
	}
}

func (w *Worker) sampleQueueDepth(ctx context.Context, queueName string) {
	n, err := w.Queue.GetQueueLength(ctx, queueName)
	if err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}

// handleRender runs one attempt under the content item lock and applies
// the failure policy to its outcome.
func (w *Worker) handleRender(ctx context.Context, job *queue.Job) error {
	in := job.Input
	log := w.log.With().
		Str("job_id", job.ID.String()).
		Str("user_id", in.UserID.String()).
		Str("content_item_id", in.ContentItemID.String()).
		Int("attempt", job.Attempt).
		Logger()

	if err := in.Validate(); err != nil {
		log.Error().Err(err).Msg("dropping invalid render job")
		metrics.RenderJobsTotal.WithLabelValues("invalid").Inc()
		return nil
	}

	locked, err := w.Queue.AcquireRenderLock(ctx, in.ContentItemID, w.workerID)
	if err != nil {
		return err
	}
	if !locked {
		log.Info().Dur("delay", w.opts.LockRetryDelay).Msg("content item is rendering elsewhere, requeueing")
		attempt := job.Attempt
		job.Attempt-- // waiting for the lock is not an attempt
		if err := w.Queue.Requeue(ctx, job, w.opts.LockRetryDelay); err != nil {
			if ctx.Err() == nil {
				return err
			}
			log.Warn().Msg("shutdown while waiting for render lock, requeueing")
			job.Attempt = attempt
			return w.Queue.Enqueue(context.WithoutCancel(ctx), queue.QueueRender, job)
		}
		return nil
	}
	defer func() {
		if err := w.Queue.ReleaseRenderLock(context.WithoutCancel(ctx), in.ContentItemID, w.workerID); err != nil {
			log.Warn().Err(err).Msg("failed to release render lock")
		}
	}()

	log.Info().Msg("render started")
	started := time.Now()

	err = w.runRender(ctx, job, log)
	if err == nil {
		metrics.RenderJobsTotal.WithLabelValues("done").Inc()
		log.Info().Dur("elapsed", time.Since(started)).Msg("render pipeline complete")
		return nil
	}

	var se *stageError
	if errors.As(err, &se) && !se.stage.CanFail() {
		// The reel is uploaded; regressing to failed would lose it.
		metrics.RenderJobsTotal.WithLabelValues("persist_error").Inc()
		log.Error().Err(err).Str("stage", string(se.stage)).Msg("render finished but result was not persisted")
		return err
	}

	if ctx.Err() != nil {
		// Shutdown mid-job: put it back untouched for the next worker.
		log.Warn().Msg("render interrupted by shutdown, requeueing")
		metrics.RenderJobsTotal.WithLabelValues("interrupted").Inc()
		return w.Queue.Enqueue(context.WithoutCancel(ctx), queue.QueueRender, job)
	}

	// Only permanent errors skip the remaining attempts.
	category := services.Classify(err)
	if category != services.CategoryPermanent && job.Attempt+1 < w.opts.MaxAttempts {
		delay := w.opts.RetryBaseDelay * time.Duration(1<<job.Attempt)
		log.Warn().Err(err).Str("category", string(category)).Dur("delay", delay).Msg("render attempt failed, retrying")
		metrics.RenderJobsTotal.WithLabelValues("retried").Inc()
		if serr := w.Content.UpdateContentStatus(context.WithoutCancel(ctx), in.ContentItemID, models.ContentStatusRetrying); serr != nil {
			log.Warn().Err(serr).Msg("failed to mark content item retrying")
		}
		next := job.Attempt + 1
		rerr := w.Queue.Requeue(ctx, job, delay)
		if rerr != nil && ctx.Err() != nil {
			job.Attempt = next
			rerr = w.Queue.Enqueue(context.WithoutCancel(ctx), queue.QueueRender, job)
		}
		if rerr != nil {
			log.Error().Err(rerr).Msg("failed to requeue render job")
			w.failJob(context.WithoutCancel(ctx), job, log)
		}
		return err
	}

	log.Error().Err(err).Str("category", string(category)).Msg("render job failed")
	w.failJob(context.WithoutCancel(ctx), job, log)
	return err
}

// failJob marks the content item failed and gives the user their credits back.
func (w *Worker) failJob(ctx context.Context, job *queue.Job, log zerolog.Logger) {
	metrics.RenderJobsTotal.WithLabelValues("failed").Inc()

	if err := w.Content.UpdateContentStatus(ctx, job.Input.ContentItemID, models.ContentStatusFailed); err != nil {
		log.Error().Err(err).Msg("failed to mark content item failed")
	}
	if err := w.Billing.RestoreCredits(ctx, job.Input.UserID, w.opts.RenderCreditCost, creditRestoreReason); err != nil {
		log.Error().Err(err).Int("credits", w.opts.RenderCreditCost).Msg("failed to restore credits")
		return
	}
	log.Info().Int("credits", w.opts.RenderCreditCost).Msg("credits restored, status set to failed")
}
