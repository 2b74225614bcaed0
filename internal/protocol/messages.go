// Package protocol defines the bus subjects and payloads narrad
// components exchange. Everything crossing the bus is JSON encoded.
package protocol

import "time"

const (
	// SubjectRunStarted announces a conversion run after validation.
	SubjectRunStarted = "narra.run.started"
	// SubjectRunCost carries the pre-run cost estimate.
	SubjectRunCost = "narra.run.cost"
	// SubjectRunFinished closes a run, successful or not.
	SubjectRunFinished = "narra.run.finished"
	// SubjectManifestWritten reports the manifest location.
	SubjectManifestWritten = "narra.run.manifest"
	// SubjectChapterStarted and SubjectChapterFinished bracket one
	// chapter job on a worker.
	SubjectChapterStarted  = "narra.chapter.started"
	SubjectChapterFinished = "narra.chapter.finished"
	// SubjectWorkerHeartbeat is the prefix for per-worker liveness;
	// workers publish on SubjectWorkerHeartbeat + "." + workerID.
	SubjectWorkerHeartbeat = "narra.worker.heartbeat"
)

// RunStarted announces that chapter jobs are about to be dispatched.
type RunStarted struct {
	RunID     string    `json:"run_id"`
	BookID    string    `json:"book_id"`
	BookTitle string    `json:"book_title"`
	Chapters  int       `json:"chapters"`
	Workers   int       `json:"workers"`
	Preview   bool      `json:"preview"`
	Timestamp time.Time `json:"timestamp"`
}

// RunCost is the estimated price of the selected chapter range.
type RunCost struct {
	RunID        string    `json:"run_id"`
	TotalChars   int       `json:"total_chars"`
	EstimatedUSD float64   `json:"estimated_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// RunFinished summarizes a completed, aborted, or cancelled run.
type RunFinished struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Ready     int       `json:"ready"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

// ChapterEvent reports one chapter job changing state on a worker.
type ChapterEvent struct {
	RunID      string    `json:"run_id"`
	Index      int       `json:"index"`
	Title      string    `json:"title"`
	WorkerID   string    `json:"worker_id"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ManifestWritten reports where the run manifest landed.
type ManifestWritten struct {
	RunID     string    `json:"run_id"`
	Path      string    `json:"path"`
	Ready     int       `json:"ready"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkerHeartbeat is periodic worker liveness with progress counts.
type WorkerHeartbeat struct {
	RunID        string    `json:"run_id"`
	WorkerID     string    `json:"worker_id"`
	Device       string    `json:"device,omitempty"`
	ChaptersDone int       `json:"chapters_done"`
	Busy         bool      `json:"busy"`
	Timestamp    time.Time `json:"timestamp"`
}
