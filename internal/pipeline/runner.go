package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/narralabs/narra-core/internal/align"
	"github.com/narralabs/narra-core/internal/audio"
	"github.com/narralabs/narra-core/internal/config"
	"github.com/narralabs/narra-core/internal/manifest"
	"github.com/narralabs/narra-core/internal/recog"
	"github.com/narralabs/narra-core/internal/synth"
	"github.com/narralabs/narra-core/internal/textfilter"
	"github.com/narralabs/narra-core/internal/timing"
	"github.com/narralabs/narra-core/internal/token"
)

// runner converts one chapter end to end: filter, chunk, synthesize,
// analyze silence, merge, build timings, persist metadata. One runner
// exists per worker and reuses that worker's engine for every job it
// handles.
type runner struct {
	engine     synth.Engine
	recognizer Transcriber
	filters    *textfilter.Chain
	synthCfg   config.SynthConfig
	output     config.OutputConfig
	preview    bool
	bookTitle  string
	bookAuthor string
	metrics    *convMetrics
	log        *slog.Logger
}

// convert runs one chapter job. Every error it returns is
// chapter-scoped: the pool marks the chapter failed and keeps going.
func (r *runner) convert(ctx context.Context, job ChapterJob) error {
	text := job.Text
	if r.filters != nil && r.filters.Len() > 0 {
		filtered, err := r.filters.Apply(ctx, text)
		if err != nil {
			return fmt.Errorf("filter chapter text: %w", err)
		}
		text = filtered
	}

	stem := manifest.FileStem(job.Index, job.Title)

	if r.output.EmitText {
		textPath := filepath.Join(r.output.Folder, stem+".txt")
		if err := os.WriteFile(textPath, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write chapter text: %w", err)
		}
	}

	// Preview runs stop before any audio work.
	if r.preview {
		return nil
	}

	chunks := token.Split(text, r.synthCfg.MaxChunkChars)
	if len(chunks) == 0 {
		return errors.New("chapter text empty after filtering")
	}

	tmpDir, err := os.MkdirTemp("", "narra-chunks-")
	if err != nil {
		return fmt.Errorf("create chunk workspace: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// Chunks are synthesized strictly in order: merge and alignment
	// need complete, ordered records.
	records := make([]timing.ChunkRecord, 0, len(chunks))
	chunkPaths := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		res, err := r.engine.Synthesize(ctx, synth.Request{
			Text:     chunk.Text,
			Voice:    r.synthCfg.Voice,
			Language: r.synthCfg.Language,
		})
		if err != nil {
			return fmt.Errorf("synthesize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		r.metrics.recordChunk(ctx)
		stats := audio.AnalyzeSilence(res.Samples, res.SampleRate)
		chunkPath := filepath.Join(tmpDir, fmt.Sprintf("chunk_%04d.wav", i))
		if err := audio.WriteWAV(chunkPath, res.Samples, res.SampleRate); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
		chunkPaths = append(chunkPaths, chunkPath)
		records = append(records, timing.ChunkRecord{
			Text:            chunk.Text,
			AudioPath:       chunkPath,
			Duration:        stats.Duration,
			LeadingSilence:  stats.LeadingSilence,
			TrailingSilence: stats.TrailingSilence,
			CharOffset:      chunk.Offset,
		})
	}

	audioPath := filepath.Join(r.output.Folder, stem+".wav")
	totalDuration, err := audio.MergeWAVFiles(audioPath, chunkPaths)
	if err != nil {
		return fmt.Errorf("merge chapter audio: %w", err)
	}

	tokens := token.Tokenize(text, 0)
	timings := r.finalTimings(ctx, audioPath, records, tokens)

	meta := manifest.ChapterMetadata{
		BookTitle:    r.bookTitle,
		BookAuthor:   r.bookAuthor,
		ChapterIndex: job.Index,
		ChapterTitle: job.Title,
		AudioFile:    filepath.Base(audioPath),
		DurationMS:   int(math.Round(totalDuration * 1000)),
		Text:         text,
		Words:        timings,
	}
	if err := manifest.WriteChapterMetadata(filepath.Join(r.output.Folder, stem+".json"), meta); err != nil {
		return err
	}
	return nil
}

// finalTimings builds the heuristic baseline, then overlays recognized
// word spans wherever the transcriber and aligner produce them. Any
// recognition trouble keeps the baseline untouched.
func (r *runner) finalTimings(ctx context.Context, audioPath string, records []timing.ChunkRecord, tokens []token.Token) []timing.TokenTiming {
	base := timing.Estimate(records, tokens)
	if r.recognizer == nil {
		return base
	}
	words, err := r.recognizer.Recognize(ctx, audioPath, r.synthCfg.Language)
	if err != nil {
		if errors.Is(err, recog.ErrUnavailable) {
			r.log.Debug("recognition unavailable, keeping heuristic timings",
				slog.String("audio", filepath.Base(audioPath)))
		} else {
			r.log.Warn("recognition failed, keeping heuristic timings",
				slog.String("audio", filepath.Base(audioPath)),
				slog.String("error", err.Error()))
		}
		return base
	}
	spans, usable := align.Align(tokens, words)
	if !usable {
		return base
	}
	return timing.Overlay(base, spans)
}
