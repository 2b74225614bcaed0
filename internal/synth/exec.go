package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/narralabs/narra-core/internal/audio"
	"github.com/narralabs/narra-core/internal/config"
)

// execEngine shells out to a synthesis command for every chunk. The
// request goes to stdin as JSON and the reply comes back on stdout as
// a single JSON object carrying base64 PCM. Calls are serialized; the
// backing model holds one device context.
type execEngine struct {
	cmd         []string
	device      string
	sampleRate  int
	breakString string
	mu          sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Device     string `json:"device,omitempty"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
}

func newExecEngine(cfg config.SynthConfig, device string) (*execEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command is empty")
	}
	return &execEngine{
		cmd:         args,
		device:      device,
		sampleRate:  cfg.SampleRate,
		breakString: cfg.BreakString,
	}, nil
}

func (e *execEngine) Synthesize(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Language:   req.Language,
		SampleRate: e.sampleRate,
		Device:     e.device,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode synthesis request: %w", err)
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("synthesis command failed: %w: %s", err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode synthesis response: %w", err)
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return Result{}, fmt.Errorf("decode synthesis audio: %w", err)
	}
	samples, err := audio.SamplesFromPCM16(pcm)
	if err != nil {
		return Result{}, err
	}
	rate := resp.SampleRate
	if rate <= 0 {
		rate = e.sampleRate
	}
	return Result{Samples: samples, SampleRate: rate}, nil
}

func (e *execEngine) EstimateCost(totalChars int) float64 { return 0 }

func (e *execEngine) BreakString() string { return e.breakString }
