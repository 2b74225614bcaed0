package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/narralabs/narra-core/internal/audio"
	"github.com/narralabs/narra-core/internal/config"
)

const defaultMaxAttempts = 12

// httpEngine calls a hosted synthesis service. Hosted endpoints shed
// load freely, so every chunk is retried with exponential backoff
// before the chapter is declared failed.
type httpEngine struct {
	endpoint    string
	device      string
	sampleRate  int
	breakString string
	pricePer1K  float64
	maxAttempts int
	client      *http.Client
}

type httpRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Language   string `json:"language,omitempty"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Device     string `json:"device,omitempty"`
}

type httpResponse struct {
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"sample_rate"`
}

func newHTTPEngine(cfg config.SynthConfig, device string) (*httpEngine, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("synthesis endpoint is empty")
	}
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &httpEngine{
		endpoint:    cfg.Endpoint,
		device:      device,
		sampleRate:  cfg.SampleRate,
		breakString: cfg.BreakString,
		pricePer1K:  cfg.PricePer1KChars,
		maxAttempts: attempts,
		client:      &http.Client{},
	}, nil
}

func (e *httpEngine) Synthesize(ctx context.Context, req Request) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
		res, err := e.synthesizeOnce(ctx, req)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		lastErr = err
	}
	return Result{}, fmt.Errorf("synthesis failed after %d attempts: %w", e.maxAttempts, lastErr)
}

func (e *httpEngine) synthesizeOnce(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(httpRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Language:   req.Language,
		Format:     "pcm16",
		SampleRate: e.sampleRate,
		Device:     e.device,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("synthesis endpoint returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	var payload httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode synthesis response: %w", err)
	}
	pcm, err := base64.StdEncoding.DecodeString(payload.AudioBase64)
	if err != nil {
		return Result{}, fmt.Errorf("decode synthesis audio: %w", err)
	}
	samples, err := audio.SamplesFromPCM16(pcm)
	if err != nil {
		return Result{}, err
	}
	rate := payload.SampleRate
	if rate <= 0 {
		rate = e.sampleRate
	}
	return Result{Samples: samples, SampleRate: rate}, nil
}

// EstimateCost bills whole thousand-character blocks, the way hosted
// synthesis services meter usage.
func (e *httpEngine) EstimateCost(totalChars int) float64 {
	if totalChars <= 0 {
		return 0
	}
	return math.Ceil(float64(totalChars)/1000.0) * e.pricePer1K
}

func (e *httpEngine) BreakString() string { return e.breakString }
