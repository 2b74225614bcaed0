// Package recog recovers word timings from synthesized audio. A
// recognizer is optional equipment: when none is installed or the
// audio defeats them all, callers fall back to heuristic timings, so
// every failure here is reported as ErrUnavailable rather than
// escalated.
package recog

import (
	"context"
	"errors"
	"fmt"

	"github.com/narralabs/narra-core/internal/config"
)

const (
	ModeMock = "mock"
	ModeExec = "exec"
	ModeOff  = "off"
)

// ErrUnavailable means no word timings could be produced. It covers a
// missing binary, an unusable model, and empty recognition output
// alike; callers treat them the same.
var ErrUnavailable = errors.New("recognition unavailable")

// Word is one recognized word with its position in the audio, in
// seconds. Start and End are clamped so Start >= 0 and End >= Start.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// Recognizer extracts word timings from a WAV file on disk.
type Recognizer interface {
	// Recognize returns the recognized words in audio order, or
	// ErrUnavailable when this provider cannot serve the request.
	Recognize(ctx context.Context, audioPath, language string) ([]Word, error)
	// Name identifies the provider in logs.
	Name() string
}

// New builds the recognizer described by p.
func New(p config.RecogProvider) (Recognizer, error) {
	switch p.Mode {
	case ModeMock:
		return &mockRecognizer{}, nil
	case ModeExec:
		return newExecRecognizer(p)
	case ModeOff:
		return disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown recognition mode %q", p.Mode)
	}
}

// disabled always reports unavailable. It lets a provider slot stay
// configured while its backend is turned off.
type disabled struct{}

func (disabled) Recognize(context.Context, string, string) ([]Word, error) {
	return nil, ErrUnavailable
}

func (disabled) Name() string { return "off" }
