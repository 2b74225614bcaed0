package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/narralabs/narra-core/internal/book"
	"github.com/narralabs/narra-core/internal/recog"
	"github.com/narralabs/narra-core/internal/synth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSource struct {
	title    string
	author   string
	chapters []book.Chapter
}

func (s stubSource) Title() string  { return s.title }
func (s stubSource) Author() string { return s.author }
func (s stubSource) Chapters(string) ([]book.Chapter, error) {
	return s.chapters, nil
}

// stubEngine produces flat non-silent audio sized by text length. A
// non-empty failOn makes any chunk containing it fail.
type stubEngine struct {
	rate   int
	failOn string

	// synthesis rendezvous for cancellation tests; nil channels are
	// ignored.
	started chan string
	release chan struct{}
}

func (e *stubEngine) Synthesize(ctx context.Context, req synth.Request) (synth.Result, error) {
	if e.started != nil {
		e.started <- req.Text
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return synth.Result{}, ctx.Err()
		}
	}
	if e.failOn != "" && strings.Contains(req.Text, e.failOn) {
		return synth.Result{}, errSynthBoom
	}
	rate := e.rate
	if rate == 0 {
		rate = 8000
	}
	samples := make([]int, 400+20*len(req.Text))
	for i := range samples {
		samples[i] = 6000
	}
	return synth.Result{Samples: samples, SampleRate: rate}, nil
}

func (e *stubEngine) EstimateCost(totalChars int) float64 { return 0 }
func (e *stubEngine) BreakString() string                 { return "" }

var errSynthBoom = errors.New("synthesis backend exploded")

type stubRecognizer struct {
	words []recog.Word
	err   error
}

func (s stubRecognizer) Recognize(context.Context, string, string) ([]recog.Word, error) {
	return s.words, s.err
}
