package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/narralabs/narra-core/internal/bus"
	"github.com/narralabs/narra-core/internal/manifest"
	"github.com/narralabs/narra-core/internal/protocol"
)

const (
	phaseStarted  = "started"
	phaseFinished = "finished"
)

// jobUpdate flows from worker goroutines to the single collector, so
// run bookkeeping stays single-writer.
type jobUpdate struct {
	Phase    string
	Job      ChapterJob
	WorkerID string
	Success  bool
	Err      error
	Elapsed  time.Duration
}

// worker is one long-lived execution slot holding a pinned engine.
// done and busy feed the heartbeat publisher.
type worker struct {
	id     string
	device string
	runner *runner
	done   atomic.Int64
	busy   atomic.Bool
}

// pool fans chapter jobs out across workers. Cancellation stops
// dispatch; jobs already on a worker drain to completion.
type pool struct {
	runID             string
	workers           []*worker
	bus               *bus.Client
	log               *slog.Logger
	metrics           *convMetrics
	tracer            trace.Tracer
	heartbeatInterval time.Duration
	jobTimeout        time.Duration
}

func newPool(runID string, workers []*worker, busClient *bus.Client, log *slog.Logger, metrics *convMetrics, heartbeatInterval, jobTimeout time.Duration) *pool {
	return &pool{
		runID:             runID,
		workers:           workers,
		bus:               busClient,
		log:               log.With(slog.String("component", "worker-pool")),
		metrics:           metrics,
		tracer:            otel.Tracer(instrumentationScope),
		heartbeatInterval: heartbeatInterval,
		jobTimeout:        jobTimeout,
	}
}

// convert dispatches jobs until the list is exhausted or ctx is
// cancelled. onUpdate observes every start and finish, always from
// this goroutine. Returns the finished results, in completion order,
// and the jobs that were never dispatched.
func (p *pool) convert(ctx context.Context, jobs []ChapterJob, onUpdate func(jobUpdate)) ([]ChapterResult, []ChapterJob) {
	jobCh := make(chan ChapterJob)
	updates := make(chan jobUpdate)

	hbCtx, hbCancel := context.WithCancel(context.Background())
	defer hbCancel()

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			p.runWorker(ctx, w, jobCh, updates)
		}(w)
		if p.bus != nil && p.heartbeatInterval > 0 {
			go p.runHeartbeat(hbCtx, w)
		}
	}

	var skipped []ChapterJob
	go func() {
		defer close(jobCh)
		for i, job := range jobs {
			select {
			case <-ctx.Done():
				skipped = append(skipped, jobs[i:]...)
				return
			case jobCh <- job:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(updates)
	}()

	var results []ChapterResult
	for upd := range updates {
		if onUpdate != nil {
			onUpdate(upd)
		}
		if upd.Phase == phaseFinished {
			results = append(results, ChapterResult{Index: upd.Job.Index, Success: upd.Success})
		}
	}
	return results, skipped
}

func (p *pool) runWorker(ctx context.Context, w *worker, jobCh <-chan ChapterJob, updates chan<- jobUpdate) {
	for job := range jobCh {
		w.busy.Store(true)
		updates <- jobUpdate{Phase: phaseStarted, Job: job, WorkerID: w.id}
		p.publishChapterEvent(protocol.SubjectChapterStarted, job, w.id, "", nil, 0)

		// A job on a worker runs to completion even after the run is
		// cancelled; only dispatch stops.
		jobCtx := context.WithoutCancel(ctx)
		cancel := context.CancelFunc(func() {})
		if p.jobTimeout > 0 {
			jobCtx, cancel = context.WithTimeout(jobCtx, p.jobTimeout)
		}
		jobCtx, span := p.tracer.Start(jobCtx, "pipeline.convert_chapter",
			trace.WithAttributes(
				attribute.String("run_id", p.runID),
				attribute.Int("chapter", job.Index),
				attribute.String("worker", w.id)))
		start := time.Now()
		err := w.runner.convert(jobCtx, job)
		elapsed := time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.metrics.recordChapter(jobCtx, w.id, err == nil, elapsed)
		cancel()

		status := manifest.StatusReady
		if err != nil {
			status = manifest.StatusFailed
			p.log.Error("chapter conversion failed",
				slog.Int("chapter", job.Index),
				slog.String("title", job.Title),
				slog.String("worker", w.id),
				slog.String("error", err.Error()))
		} else {
			p.log.Info("chapter converted",
				slog.Int("chapter", job.Index),
				slog.String("title", job.Title),
				slog.String("worker", w.id),
				slog.Duration("took", elapsed))
		}
		p.publishChapterEvent(protocol.SubjectChapterFinished, job, w.id, status, err, elapsed)

		updates <- jobUpdate{
			Phase:    phaseFinished,
			Job:      job,
			WorkerID: w.id,
			Success:  err == nil,
			Err:      err,
			Elapsed:  elapsed,
		}
		w.done.Add(1)
		w.busy.Store(false)
	}
}

func (p *pool) publishChapterEvent(subject string, job ChapterJob, workerID, status string, convErr error, elapsed time.Duration) {
	if p.bus == nil {
		return
	}
	ev := protocol.ChapterEvent{
		RunID:     p.runID,
		Index:     job.Index,
		Title:     job.Title,
		WorkerID:  workerID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if convErr != nil {
		ev.Error = convErr.Error()
	}
	if elapsed > 0 {
		ev.DurationMS = elapsed.Milliseconds()
	}
	if err := p.bus.PublishJSON(subject, ev); err != nil {
		p.log.Warn("failed to publish chapter event", slog.String("error", err.Error()))
	}
}

func (p *pool) runHeartbeat(ctx context.Context, w *worker) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := protocol.WorkerHeartbeat{
				RunID:        p.runID,
				WorkerID:     w.id,
				Device:       w.device,
				ChaptersDone: int(w.done.Load()),
				Busy:         w.busy.Load(),
				Timestamp:    time.Now().UTC(),
			}
			subject := fmt.Sprintf("%s.%s", protocol.SubjectWorkerHeartbeat, w.id)
			if err := p.bus.PublishJSON(subject, hb); err != nil {
				p.log.Warn("failed to publish worker heartbeat",
					slog.String("worker", w.id),
					slog.String("error", err.Error()))
			}
		}
	}
}
