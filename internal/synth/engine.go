// Package synth turns chunk text into PCM audio. Engines are
// constructed per worker so device pinning and process state never
// cross goroutines.
package synth

import (
	"context"
	"fmt"

	"github.com/narralabs/narra-core/internal/config"
)

const (
	ModeMock = "mock"
	ModeExec = "exec"
	ModeHTTP = "http"
)

// Request carries one chunk of text to synthesize.
type Request struct {
	Text     string
	Voice    string
	Language string
}

// Result is the produced audio: mono 16-bit samples at SampleRate.
type Result struct {
	Samples    []int
	SampleRate int
}

// Engine renders text to audio. Synthesize blocks for the duration of
// one chunk; implementations serialize internally where the backing
// process cannot handle concurrent calls.
type Engine interface {
	// Synthesize renders req.Text and returns the audio.
	Synthesize(ctx context.Context, req Request) (Result, error)
	// EstimateCost returns the projected cost in dollars of
	// synthesizing totalChars characters. Local engines cost nothing.
	EstimateCost(totalChars int) float64
	// BreakString is the marker the engine renders as an audible
	// pause, inserted between paragraphs at ingest. Empty when the
	// engine needs no marker.
	BreakString() string
}

// New builds the engine selected by cfg.Mode, pinned to device when
// the mode supports it.
func New(cfg config.SynthConfig, device string) (Engine, error) {
	switch cfg.Mode {
	case "", ModeMock:
		return newMockEngine(cfg), nil
	case ModeExec:
		return newExecEngine(cfg, device)
	case ModeHTTP:
		return newHTTPEngine(cfg, device)
	default:
		return nil, fmt.Errorf("unknown synthesis mode %q", cfg.Mode)
	}
}
