package recog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/narralabs/narra-core/internal/config"
)

// Chain tries a fixed list of recognizers in order and returns the
// first usable result. Provider failures are logged and absorbed; the
// chain as a whole only ever reports ErrUnavailable.
type Chain struct {
	providers []Recognizer
	logger    *slog.Logger
}

// NewChain builds the providers listed in cfg. With recognition
// disabled or no providers configured the chain is still usable and
// reports unavailable on every call.
func NewChain(cfg config.RecognitionConfig, logger *slog.Logger) (*Chain, error) {
	c := &Chain{logger: logger.With(slog.String("component", "recog"))}
	if !cfg.Enabled {
		return c, nil
	}
	for _, p := range cfg.Providers {
		provider, err := New(p)
		if err != nil {
			return nil, err
		}
		c.providers = append(c.providers, provider)
	}
	return c, nil
}

func (c *Chain) Recognize(ctx context.Context, audioPath, language string) ([]Word, error) {
	for _, provider := range c.providers {
		words, err := provider.Recognize(ctx, audioPath, language)
		if err == nil && len(words) > 0 {
			return words, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrUnavailable) {
			c.logger.Debug("recognizer unavailable", slog.String("provider", provider.Name()))
			continue
		}
		if err != nil {
			c.logger.Warn("recognizer failed",
				slog.String("provider", provider.Name()),
				slog.String("error", err.Error()))
		}
	}
	return nil, ErrUnavailable
}
