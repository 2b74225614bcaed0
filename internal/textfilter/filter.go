// Package textfilter rewrites chapter text before synthesis. Filters
// run in configuration order; simple cleanups are inline regex rules
// and anything heavier ships as a sandboxed WASM module described by a
// manifest.
package textfilter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/narralabs/narra-core/internal/config"
)

const (
	TypeRegex = "regex"
	TypeWASM  = "wasm"
)

// Filter transforms chapter text. Implementations must be safe for
// concurrent use; one chain is shared by every worker.
type Filter interface {
	Apply(ctx context.Context, text string) (string, error)
	Name() string
}

// Chain applies filters in order, feeding each one the previous
// output. A failing filter fails the chapter that was being filtered,
// not the run.
type Chain struct {
	filters []Filter
	logger  *slog.Logger
}

func NewChain(specs []config.FilterSpec, logger *slog.Logger) (*Chain, error) {
	c := &Chain{logger: logger.With(slog.String("component", "textfilter"))}
	for i, spec := range specs {
		f, err := newFilter(spec, c.logger)
		if err != nil {
			return nil, fmt.Errorf("filter %d (%s): %w", i, spec.Type, err)
		}
		c.filters = append(c.filters, f)
	}
	return c, nil
}

func newFilter(spec config.FilterSpec, logger *slog.Logger) (Filter, error) {
	switch spec.Type {
	case TypeRegex:
		return newRegexFilter(spec)
	case TypeWASM:
		return newWASMFilter(spec, logger)
	default:
		return nil, fmt.Errorf("unknown filter type %q", spec.Type)
	}
}

func (c *Chain) Apply(ctx context.Context, text string) (string, error) {
	for _, f := range c.filters {
		out, err := f.Apply(ctx, text)
		if err != nil {
			return "", fmt.Errorf("filter %s: %w", f.Name(), err)
		}
		text = out
	}
	return text, nil
}

// Len reports how many filters are configured.
func (c *Chain) Len() int { return len(c.filters) }

// regexFilter is a compiled search and replace rule.
type regexFilter struct {
	name    string
	re      *regexp.Regexp
	replace string
}

func newRegexFilter(spec config.FilterSpec) (*regexFilter, error) {
	if spec.Pattern == "" {
		return nil, fmt.Errorf("regex filter needs a pattern")
	}
	re, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	name := spec.Name
	if name == "" {
		name = spec.Pattern
	}
	return &regexFilter{name: name, re: re, replace: spec.Replace}, nil
}

func (f *regexFilter) Apply(_ context.Context, text string) (string, error) {
	return f.re.ReplaceAllString(text, f.replace), nil
}

func (f *regexFilter) Name() string { return f.name }
