// Package worker is the execution engine for the studio job queue: poll
// JobRepo for a runnable row, claim it under SKIP LOCKED, dispatch to the
// registered Handler, and convert panics/returned errors into a
// classified requeue-or-fail decision via apierr.Code.Disposition.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelmedia/studioforge/internal/platform/apierr"
	"github.com/kestrelmedia/studioforge/internal/platform/logger"
	studioruntime "github.com/kestrelmedia/studioforge/internal/studio/runtime"

	studiorepo "github.com/kestrelmedia/studioforge/internal/studio/repo"

	"github.com/kestrelmedia/studioforge/internal/pkg/dbctx"
	"gorm.io/gorm"
)

// RetryPolicy controls how a recoverable handler error gets requeued.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		MinBackoff:  2 * time.Second,
		MaxBackoff:  2 * time.Minute,
	}
}

// computeBackoff mirrors the orchestrator's exponential-backoff shape:
// minB * 2^(attempts-1), capped at maxB.
func computeBackoff(policy RetryPolicy, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := policy.MinBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= policy.MaxBackoff {
			return policy.MaxBackoff
		}
	}
	if d > policy.MaxBackoff {
		d = policy.MaxBackoff
	}
	return d
}

// Worker polls one studio_type's queue and dispatches claimed jobs to the
// registered Handler. One Worker per studio, each with its own bounded
// goroutine pool, matches the teacher's one-loop-per-concurrency-slot
// shape but swaps the plain goroutine fan-out for an errgroup so the
// in-flight count is enforced rather than advisory.
type Worker struct {
	studioType string
	db         *gorm.DB
	log        *logger.Logger
	repo       studiorepo.JobRepo
	registry   *studioruntime.Registry
	notify     studioruntime.Notifier

	pollInterval time.Duration
	staleAfter   time.Duration
	concurrency  int
	retry        RetryPolicy
}

type Option func(*Worker)

func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.pollInterval = d } }
func WithStaleAfter(d time.Duration) Option    { return func(w *Worker) { w.staleAfter = d } }
func WithConcurrency(n int) Option             { return func(w *Worker) { w.concurrency = n } }
func WithRetryPolicy(p RetryPolicy) Option     { return func(w *Worker) { w.retry = p } }

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo studiorepo.JobRepo, registry *studioruntime.Registry, notify studioruntime.Notifier, studioType string, opts ...Option) *Worker {
	w := &Worker{
		studioType:   studioType,
		db:           db,
		log:          baseLog.With("component", "StudioWorker", "studio_type", studioType),
		repo:         repo,
		registry:     registry,
		notify:       notify,
		pollInterval: 1 * time.Second,
		staleAfter:   10 * time.Minute,
		concurrency:  4,
		retry:        DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.concurrency < 1 {
		w.concurrency = 1
	}
	return w
}

// Start launches the bounded worker pool and blocks until ctx is
// canceled or an unrecoverable goroutine error occurs. Each slot polls
// independently; ClaimNextRunnable's SKIP LOCKED guarantees a job is
// never claimed twice across slots or processes.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("starting studio worker pool", "concurrency", w.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency + 1)
	for i := 0; i < w.concurrency; i++ {
		slot := i + 1
		g.Go(func() error {
			w.runLoop(gctx, slot)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) runLoop(ctx context.Context, slot int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker slot stopped", "slot", slot)
			return
		case <-ticker.C:
			w.tick(ctx, slot)
		}
	}
}

func (w *Worker) tick(ctx context.Context, slot int) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx, Tx: w.db}, w.studioType, w.staleAfter)
	if err != nil {
		w.log.Warn("claim failed", "slot", slot, "error", err)
		return
	}
	if job == nil {
		return
	}

	jc := studioruntime.NewContext(ctx, w.db, job, w.repo, w.notify)

	h, ok := w.registry.Get(job.StudioType)
	if !ok {
		w.log.Error("no handler registered for studio_type", "slot", slot, "studio_type", job.StudioType, "job_id", job.ID)
		jc.Fail("dispatch", string(apierr.CodeWorkerCrash), errNoHandler{StudioType: job.StudioType})
		return
	}

	stopHB := w.startHeartbeat(ctx, job.ID)
	defer stopHB()

	w.runHandler(slot, h, jc)
}

func (w *Worker) runHandler(slot int, h studioruntime.Handler, jc *studioruntime.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("handler panic", "slot", slot, "panic", r)
			w.classifyAndResolve(jc, apierr.CodeWorkerCrash, errFromRecover(r))
		}
	}()

	if runErr := h.Run(jc); runErr != nil {
		w.classifyAndResolve(jc, classifyError(runErr), runErr)
	}
}

// classifyAndResolve applies apierr.Code.Disposition(): Reject/Fail both
// terminate the job via jc.Fail; Requeue puts it back on the queue with
// exponential backoff driven by the job's current attempt_count.
func (w *Worker) classifyAndResolve(jc *studioruntime.Context, code apierr.Code, err error) {
	switch code.Disposition() {
	case apierr.DispositionRequeue:
		attempts := 1
		if jc.Job != nil {
			attempts = jc.Job.AttemptCount
		}
		if attempts >= w.retry.MaxAttempts {
			jc.Fail("retry_exhausted", string(code), err)
			return
		}
		delay := computeBackoff(w.retry, attempts)
		if jc.Job != nil {
			_ = w.repo.Requeue(dbctx.Context{Ctx: jc.Ctx, Tx: w.db}, jc.Job.ID, delay, string(code), errMsg(err))
		}
	default:
		jc.Fail("run", string(code), err)
	}
}

// classifyError maps an arbitrary handler error to an apierr.Code when
// the handler didn't already classify it. Errors with an ErrCode() method
// (the processors' run errors) get that code; anything else, including an
// *apierr.Error, defaults to a fail-fast
// worker crash classification rather than silently retrying forever.
func classifyError(err error) apierr.Code {
	type coder interface{ ErrCode() apierr.Code }
	if c, ok := err.(coder); ok {
		return c.ErrCode()
	}
	return apierr.CodeWorkerCrash
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (w *Worker) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if jobID == uuid.Nil {
					continue
				}
				_ = w.repo.Heartbeat(dbctx.Context{Ctx: ctx, Tx: w.db}, jobID)
			}
		}
	}()
	return func() { close(done) }
}

type errNoHandler struct{ StudioType string }

func (e errNoHandler) Error() string { return "no handler registered for studio_type=" + e.StudioType }

func errFromRecover(v any) error { return panicError{Val: v} }

type panicError struct{ Val any }

func (e panicError) Error() string { return "panic: unexpected error" }
