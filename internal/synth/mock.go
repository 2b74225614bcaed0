package synth

import (
	"context"
	"unicode/utf8"

	"github.com/narralabs/narra-core/internal/config"
)

const (
	mockPadMS    = 30
	mockCharMS   = 40
	mockMinMS    = 120
	mockHalfWave = 16
)

// mockEngine produces a square wave sized to the text, padded with
// real silence on both ends. Output depends only on the input, which
// keeps timing math reproducible in tests and demos.
type mockEngine struct {
	sampleRate  int
	breakString string
}

func newMockEngine(cfg config.SynthConfig) *mockEngine {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 22050
	}
	return &mockEngine{sampleRate: rate, breakString: cfg.BreakString}
}

func (m *mockEngine) Synthesize(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	voicedMS := mockCharMS * utf8.RuneCountInString(req.Text)
	if voicedMS < mockMinMS {
		voicedMS = mockMinMS
	}
	pad := m.sampleRate * mockPadMS / 1000
	voiced := m.sampleRate * voicedMS / 1000

	samples := make([]int, pad+voiced+pad)
	for i := 0; i < voiced; i++ {
		if (i/mockHalfWave)%2 == 0 {
			samples[pad+i] = 8000
		} else {
			samples[pad+i] = -8000
		}
	}
	return Result{Samples: samples, SampleRate: m.sampleRate}, nil
}

func (m *mockEngine) EstimateCost(totalChars int) float64 { return 0 }

func (m *mockEngine) BreakString() string { return m.breakString }
