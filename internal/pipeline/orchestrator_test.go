package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/narralabs/narra-core/internal/book"
	"github.com/narralabs/narra-core/internal/config"
	"github.com/narralabs/narra-core/internal/manifest"
	"github.com/narralabs/narra-core/internal/runstore"
	"github.com/narralabs/narra-core/internal/synth"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Folder = t.TempDir()
	cfg.Pipeline.NoPrompt = true
	return cfg
}

func threeChapterSource() stubSource {
	return stubSource{
		title:  "Test Book",
		author: "A. Author",
		chapters: []book.Chapter{
			{Title: "One", Text: "Alpha alpha alpha."},
			{Title: "Two", Text: "Boom boom boom."},
			{Title: "Three", Text: "Gamma gamma gamma."},
		},
	}
}

func TestRunIsolatesChapterFailures(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.Workers = 2

	store, err := runstore.Open(ctx, config.RunStoreConfig{
		Mode: "persistent",
		Path: filepath.Join(t.TempDir(), "runs.db"),
	}, discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	orch, err := NewOrchestrator(cfg, Deps{
		Source: threeChapterSource(),
		Store:  store,
		Log:    discardLogger(),
		Engines: func(device string) (synth.Engine, error) {
			return &stubEngine{failOn: "Boom"}, nil
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	summary, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Ready != 2 || summary.Failed != 1 || summary.Skipped != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.State != runstore.RunStateManifestWritten {
		t.Fatalf("expected manifest_written state, got %q", summary.State)
	}

	m, err := manifest.ReadManifest(cfg.Output.Folder)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if len(m.Chapters) != 3 {
		t.Fatalf("expected 3 manifest rows, got %d", len(m.Chapters))
	}
	wantStatus := []string{manifest.StatusReady, manifest.StatusFailed, manifest.StatusReady}
	for i, row := range m.Chapters {
		if row.Index != i+1 {
			t.Fatalf("row %d: expected index %d, got %d", i, i+1, row.Index)
		}
		if row.Status != wantStatus[i] {
			t.Fatalf("chapter %d: expected status %q, got %q", row.Index, wantStatus[i], row.Status)
		}
	}
	if m.BookTitle != "Test Book" || m.BookAuthor != "A. Author" {
		t.Fatalf("unexpected book fields: %+v", m)
	}

	// Successful chapters leave audio and metadata on disk; the failed
	// one leaves neither.
	for _, name := range []string{"0001_one.wav", "0001_one.json", "0003_three.wav", "0003_three.json"} {
		if _, err := os.Stat(filepath.Join(cfg.Output.Folder, name)); err != nil {
			t.Fatalf("expected artifact %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.Folder, "0002_two.wav")); !os.IsNotExist(err) {
		t.Fatalf("expected no audio for failed chapter, got %v", err)
	}

	jobs, err := store.ListJobs(ctx, summary.RunID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 job rows, got %d", len(jobs))
	}
	states := map[int]string{}
	for _, job := range jobs {
		states[job.ChapterIndex] = job.State
	}
	if states[1] != runstore.JobStateReady || states[3] != runstore.JobStateReady {
		t.Fatalf("expected chapters 1 and 3 ready, got %v", states)
	}
	if states[2] != runstore.JobStateFailed {
		t.Fatalf("expected chapter 2 failed, got %v", states)
	}

	run, ok, err := store.GetRun(ctx, summary.RunID)
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if run.State != runstore.RunStateManifestWritten {
		t.Fatalf("expected recorded run state manifest_written, got %q", run.State)
	}
}

func TestRunRejectsBadChapterRange(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantMsg string
	}{
		{
			name:    "start beyond chapter count",
			mutate:  func(c *config.Config) { c.Pipeline.ChapterStart = 5 },
			wantMsg: "Chapter start index 5 is out of range",
		},
		{
			name:    "end beyond chapter count",
			mutate:  func(c *config.Config) { c.Pipeline.ChapterEnd = 9 },
			wantMsg: "Chapter end index 9 is out of range",
		},
		{
			name: "start after end",
			mutate: func(c *config.Config) {
				c.Pipeline.ChapterStart = 3
				c.Pipeline.ChapterEnd = 2
			},
			wantMsg: "is larger than chapter end index",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)

			orch, err := NewOrchestrator(cfg, Deps{
				Source: threeChapterSource(),
				Log:    discardLogger(),
				Engines: func(string) (synth.Engine, error) {
					return &stubEngine{}, nil
				},
			})
			if err != nil {
				t.Fatalf("new orchestrator: %v", err)
			}

			_, err = orch.Run(ctx)
			if err == nil || !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("expected validation error containing %q, got %v", tc.wantMsg, err)
			}
			if _, err := manifest.ReadManifest(cfg.Output.Folder); err == nil {
				t.Fatal("expected no manifest after validation failure")
			}
		})
	}
}

func TestRunDropsEmptyChaptersBeforeValidation(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.ChapterEnd = 2

	src := stubSource{
		title: "Book",
		chapters: []book.Chapter{
			{Title: "Blank", Text: "   \n\t "},
			{Title: "One", Text: "Real text."},
			{Title: "Two", Text: "More text."},
		},
	}

	orch, err := NewOrchestrator(cfg, Deps{
		Source: src,
		Log:    discardLogger(),
		Engines: func(string) (synth.Engine, error) {
			return &stubEngine{}, nil
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	summary, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Ready != 2 {
		t.Fatalf("expected both non-empty chapters converted, got %+v", summary)
	}

	m, err := manifest.ReadManifest(cfg.Output.Folder)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if len(m.Chapters) != 2 || m.Chapters[0].Title != "One" {
		t.Fatalf("expected blank chapter dropped, got %+v", m.Chapters)
	}
}

func TestRunPreviewSkipsSynthesis(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.Preview = true
	cfg.Output.EmitText = true

	orch, err := NewOrchestrator(cfg, Deps{
		Source: threeChapterSource(),
		Log:    discardLogger(),
		Engines: func(string) (synth.Engine, error) {
			// Every chapter contains a period, so any synthesis call
			// fails; a preview regression shows up as failed chapters.
			return &stubEngine{failOn: "."}, nil
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	summary, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Ready != 3 || summary.Failed != 0 {
		t.Fatalf("expected all chapters ready in preview, got %+v", summary)
	}

	entries, err := filepath.Glob(filepath.Join(cfg.Output.Folder, "*.wav"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no audio artifacts in preview, got %v", entries)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.Folder, "0001_one.txt")); err != nil {
		t.Fatalf("expected chapter text emitted: %v", err)
	}
}

func TestRunConfirmationDeclined(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Pipeline.NoPrompt = false

	orch, err := NewOrchestrator(cfg, Deps{
		Source: threeChapterSource(),
		Log:    discardLogger(),
		Engines: func(string) (synth.Engine, error) {
			return &stubEngine{}, nil
		},
		Confirm: func(context.Context, float64, int) (bool, error) {
			return false, nil
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	summary, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.State != runstore.RunStateAborted {
		t.Fatalf("expected aborted run, got %q", summary.State)
	}
	if _, err := manifest.ReadManifest(cfg.Output.Folder); err == nil {
		t.Fatal("expected no manifest after declined confirmation")
	}
	entries, _ := filepath.Glob(filepath.Join(cfg.Output.Folder, "*.wav"))
	if len(entries) != 0 {
		t.Fatalf("expected no synthesis after declined confirmation, got %v", entries)
	}
}

func TestBuildWorkersPinsDevicesRoundRobin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Workers = 3
	cfg.Synthesis.Devices = []string{"cuda:0", "cuda:1"}

	var devices []string
	orch, err := NewOrchestrator(cfg, Deps{
		Source: threeChapterSource(),
		Log:    discardLogger(),
		Engines: func(device string) (synth.Engine, error) {
			devices = append(devices, device)
			return &stubEngine{}, nil
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	workers, err := orch.buildWorkers("Book", "Author")
	if err != nil {
		t.Fatalf("build workers: %v", err)
	}
	if len(workers) != 3 {
		t.Fatalf("expected 3 workers, got %d", len(workers))
	}
	want := []string{"cuda:0", "cuda:1", "cuda:0"}
	for i, w := range workers {
		if w.device != want[i] {
			t.Fatalf("worker %d: expected device %q, got %q", i, want[i], w.device)
		}
	}
	if devices[0] != "cuda:0" || devices[1] != "cuda:1" || devices[2] != "cuda:0" {
		t.Fatalf("factory saw unexpected devices: %v", devices)
	}
}
