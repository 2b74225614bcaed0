package recog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// mockRecognizer reads word timings from a sidecar file next to the
// audio: <audio>.words.json with the same shape an exec provider
// prints. No sidecar means unavailable, which makes the mock a
// faithful stand-in for an uninstalled recognizer.
type mockRecognizer struct{}

func (mockRecognizer) Name() string { return "mock" }

func (mockRecognizer) Recognize(ctx context.Context, audioPath, language string) ([]Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(audioPath + ".words.json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("read sidecar timings: %w", err)
	}
	var out execOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode sidecar timings: %w", err)
	}
	words := flattenWords(out.Words)
	if len(words) == 0 {
		return nil, ErrUnavailable
	}
	return words, nil
}
