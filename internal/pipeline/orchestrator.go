package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/narralabs/narra-core/internal/book"
	"github.com/narralabs/narra-core/internal/bus"
	"github.com/narralabs/narra-core/internal/config"
	"github.com/narralabs/narra-core/internal/manifest"
	"github.com/narralabs/narra-core/internal/protocol"
	"github.com/narralabs/narra-core/internal/recog"
	"github.com/narralabs/narra-core/internal/runstore"
	"github.com/narralabs/narra-core/internal/synth"
	"github.com/narralabs/narra-core/internal/textfilter"
)

// Deps are the orchestrator's collaborators. Engines and Recognizer
// are optional; left nil they are built from the configuration.
type Deps struct {
	Source  book.Source
	Store   *runstore.Store
	Bus     *bus.Client
	Log     *slog.Logger
	Confirm ConfirmFunc

	Engines    EngineFactory
	Recognizer Transcriber
}

// Orchestrator drives one conversion run: validate the chapter range,
// estimate cost, optionally confirm, convert chapters on the worker
// pool, and write the book manifest. Job state lives in the run store
// and is written only from the orchestrator's goroutine.
type Orchestrator struct {
	cfg        config.Config
	source     book.Source
	store      *runstore.Store
	bus        *bus.Client
	log        *slog.Logger
	confirm    ConfirmFunc
	filters    *textfilter.Chain
	recognizer Transcriber
	newEngine  EngineFactory
	metrics    *convMetrics
	clock      func() time.Time
}

func NewOrchestrator(cfg config.Config, deps Deps) (*Orchestrator, error) {
	log := deps.Log.With(slog.String("component", "orchestrator"))

	filters, err := textfilter.NewChain(cfg.Filters, deps.Log)
	if err != nil {
		return nil, fmt.Errorf("build filter chain: %w", err)
	}

	recognizer := deps.Recognizer
	if recognizer == nil {
		chain, err := recog.NewChain(cfg.Recognition, deps.Log)
		if err != nil {
			return nil, fmt.Errorf("build recognition chain: %w", err)
		}
		recognizer = chain
	}

	newEngine := deps.Engines
	if newEngine == nil {
		newEngine = func(device string) (synth.Engine, error) {
			return synth.New(cfg.Synthesis, device)
		}
	}

	metrics, err := newConvMetrics(otel.Meter(instrumentationScope))
	if err != nil {
		log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		metrics = nil
	}

	return &Orchestrator{
		cfg:        cfg,
		source:     deps.Source,
		store:      deps.Store,
		bus:        deps.Bus,
		log:        log,
		confirm:    deps.Confirm,
		filters:    filters,
		recognizer: recognizer,
		newEngine:  newEngine,
		metrics:    metrics,
		clock:      time.Now,
	}, nil
}

// Run executes one conversion run. Validation failures return an
// error before any work is dispatched; chapter failures do not.
// Cancellation stops dispatch, drains in-flight jobs and still writes
// the manifest for everything attempted.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	log := o.log.With(slog.String("run_id", runID))
	// Store and bus bookkeeping must survive cancellation so the last
	// job states of a cancelled run are still recorded.
	bookCtx := context.WithoutCancel(ctx)

	mainEngine, err := o.newEngine(o.defaultDevice())
	if err != nil {
		return Summary{RunID: runID}, fmt.Errorf("build synthesis engine: %w", err)
	}

	if err := os.MkdirAll(o.cfg.Output.Folder, 0o755); err != nil {
		return Summary{RunID: runID}, fmt.Errorf("create output folder: %w", err)
	}

	chapters, err := o.source.Chapters(mainEngine.BreakString())
	if err != nil {
		return Summary{RunID: runID}, fmt.Errorf("load chapters: %w", err)
	}

	// Empty chapters are dropped before the range is interpreted.
	kept := chapters[:0]
	for _, ch := range chapters {
		if strings.TrimSpace(ch.Text) != "" {
			kept = append(kept, ch)
		}
	}
	chapters = kept
	log.Info("chapters loaded", slog.Int("count", len(chapters)))

	start, end := o.cfg.Pipeline.ChapterStart, o.cfg.Pipeline.ChapterEnd
	if start < 1 || start > len(chapters) {
		return Summary{RunID: runID}, fmt.Errorf("Chapter start index %d is out of range. Check your input.", start)
	}
	if end < -1 || end > len(chapters) {
		return Summary{RunID: runID}, fmt.Errorf("Chapter end index %d is out of range. Check your input.", end)
	}
	if end == -1 {
		end = len(chapters)
	}
	if start > end {
		return Summary{RunID: runID}, fmt.Errorf("Chapter start index %d is larger than chapter end index %d. Check your input.", start, end)
	}
	log.Info("converting chapter range", slog.Int("start", start), slog.Int("end", end))

	selected := chapters[start-1 : end]
	bookID := o.cfg.Book.ID
	if bookID == "" {
		bookID = manifest.BookID(o.cfg.Output.Folder)
	}
	bookTitle := o.source.Title()
	bookAuthor := o.source.Author()

	o.storeRun(bookCtx, runstore.RunRecord{
		RunID:         runID,
		BookID:        bookID,
		BookTitle:     bookTitle,
		State:         runstore.RunStatePending,
		TotalChapters: len(selected),
	})

	totalChars := 0
	for _, ch := range selected {
		totalChars += utf8.RuneCountInString(ch.Text)
	}
	estimate := mainEngine.EstimateCost(totalChars)
	log.Info("estimated voiceover cost",
		slog.Int("total_chars", totalChars),
		slog.Float64("usd", estimate))
	o.storeRunState(bookCtx, runID, runstore.RunStateEstimated)
	o.publish(protocol.SubjectRunCost, protocol.RunCost{
		RunID:        runID,
		TotalChars:   totalChars,
		EstimatedUSD: estimate,
		Timestamp:    o.clock().UTC(),
	})

	summary := Summary{RunID: runID, TotalChars: totalChars, EstimatedUSD: estimate}

	switch {
	case o.cfg.Pipeline.NoPrompt:
		log.Info("skipping confirmation prompt")
	case o.cfg.Pipeline.Preview:
		log.Info("skipping confirmation prompt in preview mode")
	case o.confirm != nil:
		ok, err := o.confirm(ctx, estimate, totalChars)
		if err != nil {
			o.storeRunState(bookCtx, runID, runstore.RunStateAborted)
			return summary, fmt.Errorf("confirmation: %w", err)
		}
		if !ok {
			log.Info("aborted")
			o.storeRunState(bookCtx, runID, runstore.RunStateAborted)
			summary.State = runstore.RunStateAborted
			return summary, nil
		}
	}

	jobs := make([]ChapterJob, 0, len(selected))
	for i, ch := range selected {
		job := ChapterJob{Index: start + i, Title: ch.Title, Text: ch.Text}
		jobs = append(jobs, job)
		o.storeJob(bookCtx, runstore.JobRecord{
			RunID:        runID,
			ChapterIndex: job.Index,
			Title:        job.Title,
			State:        runstore.JobStateQueued,
		})
	}

	workers, err := o.buildWorkers(bookTitle, bookAuthor)
	if err != nil {
		o.storeRunState(bookCtx, runID, runstore.RunStateAborted)
		return summary, err
	}

	o.publish(protocol.SubjectRunStarted, protocol.RunStarted{
		RunID:     runID,
		BookID:    bookID,
		BookTitle: bookTitle,
		Chapters:  len(jobs),
		Workers:   len(workers),
		Preview:   o.cfg.Pipeline.Preview,
		Timestamp: o.clock().UTC(),
	})
	o.storeRunState(bookCtx, runID, runstore.RunStateConverting)

	workerPool := newPool(runID, workers, o.bus, o.log, o.metrics,
		time.Duration(o.cfg.Pipeline.HeartbeatIntervalMS)*time.Millisecond,
		time.Duration(o.cfg.Pipeline.JobTimeoutMS)*time.Millisecond)

	results, skipped := workerPool.convert(ctx, jobs, func(upd jobUpdate) {
		switch upd.Phase {
		case phaseStarted:
			o.storeJobState(bookCtx, runID, upd.Job.Index, runstore.JobStateRunning, "")
		case phaseFinished:
			state, errMsg := runstore.JobStateReady, ""
			if !upd.Success {
				state = runstore.JobStateFailed
				if upd.Err != nil {
					errMsg = upd.Err.Error()
				}
			}
			o.storeJobState(bookCtx, runID, upd.Job.Index, state, errMsg)
		}
	})

	for _, job := range skipped {
		log.Info("chapter skipped, run cancelled before dispatch",
			slog.Int("chapter", job.Index), slog.String("title", job.Title))
		o.storeJobState(bookCtx, runID, job.Index, runstore.JobStateSkipped, "")
	}

	success := make(map[int]bool, len(results))
	for _, res := range results {
		success[res.Index] = res.Success
	}

	var failed []ChapterJob
	skippedSet := make(map[int]bool, len(skipped))
	for _, job := range skipped {
		skippedSet[job.Index] = true
	}

	rows := make([]manifest.ChapterEntry, 0, len(jobs))
	for _, job := range jobs {
		if skippedSet[job.Index] {
			continue
		}
		status := manifest.StatusFailed
		if success[job.Index] {
			status = manifest.StatusReady
			summary.Ready++
		} else {
			failed = append(failed, job)
		}
		stem := manifest.FileStem(job.Index, job.Title)
		rows = append(rows, manifest.ChapterEntry{
			Index:    job.Index,
			Title:    job.Title,
			Audio:    stem + ".wav",
			Metadata: stem + ".json",
			Status:   status,
		})
	}
	summary.Failed = len(failed)
	summary.Skipped = len(skipped)

	if len(failed) > 0 {
		log.Warn("some chapters failed to convert", slog.Int("failed", len(failed)))
		for _, job := range failed {
			log.Warn("chapter failed", slog.Int("chapter", job.Index), slog.String("title", job.Title))
		}
	} else if len(skipped) == 0 {
		log.Info("all chapters converted successfully", slog.String("output", o.cfg.Output.Folder))
	}

	m := manifest.Manifest{
		BookID:      bookID,
		BookTitle:   bookTitle,
		BookAuthor:  bookAuthor,
		GeneratedMS: o.clock().UnixMilli(),
		Chapters:    rows,
	}
	manifestPath := filepath.Join(o.cfg.Output.Folder, manifest.FileName)
	if err := manifest.WriteManifest(o.cfg.Output.Folder, m); err != nil {
		// The run is otherwise complete; a missing manifest is not
		// worth failing it over.
		log.Error("failed to write book manifest", slog.String("error", err.Error()))
	} else {
		log.Info("book manifest written", slog.String("path", manifestPath))
		summary.ManifestPath = manifestPath
		o.publish(protocol.SubjectManifestWritten, protocol.ManifestWritten{
			RunID:     runID,
			Path:      manifestPath,
			Ready:     summary.Ready,
			Failed:    summary.Failed,
			Timestamp: o.clock().UTC(),
		})
	}

	finalState := runstore.RunStateManifestWritten
	if len(skipped) > 0 && ctx.Err() != nil {
		finalState = runstore.RunStateCancelled
	}
	o.storeRunState(bookCtx, runID, finalState)
	summary.State = finalState

	o.publish(protocol.SubjectRunFinished, protocol.RunFinished{
		RunID:     runID,
		State:     finalState,
		Ready:     summary.Ready,
		Failed:    summary.Failed,
		Timestamp: o.clock().UTC(),
	})
	return summary, nil
}

func (o *Orchestrator) defaultDevice() string {
	if len(o.cfg.Synthesis.Devices) > 0 {
		return o.cfg.Synthesis.Devices[0]
	}
	return ""
}

// buildWorkers constructs one engine per worker, pinned round-robin
// across the configured devices for the worker's lifetime.
func (o *Orchestrator) buildWorkers(bookTitle, bookAuthor string) ([]*worker, error) {
	devices := o.cfg.Synthesis.Devices
	workers := make([]*worker, 0, o.cfg.Pipeline.Workers)
	for i := 0; i < o.cfg.Pipeline.Workers; i++ {
		device := ""
		if len(devices) > 0 {
			device = devices[i%len(devices)]
		}
		engine, err := o.newEngine(device)
		if err != nil {
			return nil, fmt.Errorf("build engine for worker %d: %w", i+1, err)
		}
		id := fmt.Sprintf("worker-%d", i+1)
		workers = append(workers, &worker{
			id:     id,
			device: device,
			runner: &runner{
				engine:     engine,
				recognizer: o.recognizer,
				filters:    o.filters,
				synthCfg:   o.cfg.Synthesis,
				output:     o.cfg.Output,
				preview:    o.cfg.Pipeline.Preview,
				bookTitle:  bookTitle,
				bookAuthor: bookAuthor,
				metrics:    o.metrics,
				log:        o.log.With(slog.String("worker", id)),
			},
		})
	}
	return workers, nil
}

func (o *Orchestrator) publish(subject string, payload any) {
	if o.bus == nil {
		return
	}
	if err := o.bus.PublishJSON(subject, payload); err != nil {
		o.log.Warn("failed to publish run event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) storeRun(ctx context.Context, run runstore.RunRecord) {
	if o.store == nil {
		return
	}
	if err := o.store.BeginRun(ctx, run); err != nil {
		o.log.Warn("failed to record run", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) storeRunState(ctx context.Context, runID, state string) {
	if o.store == nil {
		return
	}
	if err := o.store.SetRunState(ctx, runID, state); err != nil {
		o.log.Warn("failed to record run state",
			slog.String("state", state),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) storeJob(ctx context.Context, job runstore.JobRecord) {
	if o.store == nil {
		return
	}
	if err := o.store.UpsertJob(ctx, job); err != nil {
		o.log.Warn("failed to record chapter job",
			slog.Int("chapter", job.ChapterIndex),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) storeJobState(ctx context.Context, runID string, index int, state, errMsg string) {
	if o.store == nil {
		return
	}
	if err := o.store.SetJobState(ctx, runID, index, state, errMsg); err != nil {
		o.log.Warn("failed to record chapter state",
			slog.Int("chapter", index),
			slog.String("state", state),
			slog.String("error", err.Error()))
	}
}
