// Package pipeline schedules chapter conversion: an orchestrator
// validates the requested range, estimates cost, fans jobs out across
// a pool of workers that each own one synthesis engine, and writes the
// book manifest when the results are in.
package pipeline

import (
	"context"

	"github.com/narralabs/narra-core/internal/recog"
	"github.com/narralabs/narra-core/internal/synth"
)

// ChapterJob is one unit of conversion work. Index is the chapter's
// 1-based position in the filtered chapter list; jobs are created once
// at run start and consumed exactly once by a worker.
type ChapterJob struct {
	Index int
	Title string
	Text  string
}

// ChapterResult reports one finished job. A failed chapter stays in
// the manifest; Success only decides its status there.
type ChapterResult struct {
	Index   int
	Success bool
}

// Summary describes a completed run.
type Summary struct {
	RunID        string
	State        string
	Ready        int
	Failed       int
	Skipped      int
	TotalChars   int
	EstimatedUSD float64
	ManifestPath string
}

// EngineFactory builds one synthesis engine pinned to a device. Each
// worker calls it exactly once at pool start.
type EngineFactory func(device string) (synth.Engine, error)

// Transcriber recovers word timings from a chapter's merged audio.
// recog.Chain satisfies it; tests substitute stubs.
type Transcriber interface {
	Recognize(ctx context.Context, audioPath, language string) ([]recog.Word, error)
}

// ConfirmFunc asks whether the run should proceed after the cost
// estimate. Returning false aborts the run without error.
type ConfirmFunc func(ctx context.Context, estimatedUSD float64, totalChars int) (bool, error)
