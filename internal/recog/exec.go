package recog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/narralabs/narra-core/internal/config"
)

// execRecognizer shells out to a word-level recognition command such
// as a whisper.cpp wrapper. The command receives the audio path and
// prints a JSON document with a words array on stdout. Calls are
// serialized; recognition models are rarely reentrant.
type execRecognizer struct {
	cmd       []string
	modelPath string
	mu        sync.Mutex
}

type execWord struct {
	Text  string  `json:"text"`
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type execOutput struct {
	Words []execWord `json:"words"`
}

func newExecRecognizer(p config.RecogProvider) (*execRecognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(p.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognition command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognition command is empty")
	}
	return &execRecognizer{cmd: args, modelPath: p.ModelPath}, nil
}

func (r *execRecognizer) Name() string { return r.cmd[0] }

func (r *execRecognizer) Recognize(ctx context.Context, audioPath, language string) ([]Word, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", audioPath)
	if r.modelPath != "" {
		args = append(args, "--model", r.modelPath)
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not installed", ErrUnavailable, r.cmd[0])
		}
		return nil, fmt.Errorf("recognition command failed: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode recognition output: %w", err)
	}
	words := flattenWords(out.Words)
	if len(words) == 0 {
		return nil, ErrUnavailable
	}
	return words, nil
}

// flattenWords normalizes raw recognizer output: either text key is
// accepted, blanks are dropped, and times are clamped into order.
func flattenWords(raw []execWord) []Word {
	words := make([]Word, 0, len(raw))
	for _, w := range raw {
		text := w.Text
		if text == "" {
			text = w.Word
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		start := w.Start
		if start < 0 {
			start = 0
		}
		end := w.End
		if end < start {
			end = start
		}
		words = append(words, Word{Text: text, Start: start, End: end})
	}
	return words
}
