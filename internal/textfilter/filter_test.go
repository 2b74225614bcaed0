package textfilter

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/narralabs/narra-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegexChainAppliesInOrder(t *testing.T) {
	chain, err := NewChain([]config.FilterSpec{
		{Type: "regex", Name: "footnotes", Pattern: `\[\d+\]`, Replace: ""},
		{Type: "regex", Name: "tighten", Pattern: `\s{2,}`, Replace: " "},
	}, newLogger())
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	out, err := chain.Apply(context.Background(), "The sea[1]  was calm[23] that night.")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out != "The sea was calm that night." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestChainEmptyPassthrough(t *testing.T) {
	chain, err := NewChain(nil, newLogger())
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	out, err := chain.Apply(context.Background(), "untouched")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out != "untouched" {
		t.Fatalf("expected passthrough, got %q", out)
	}
}

func TestNewChainRejectsBadSpecs(t *testing.T) {
	if _, err := NewChain([]config.FilterSpec{{Type: "regex", Pattern: "([unclosed"}}, newLogger()); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if _, err := NewChain([]config.FilterSpec{{Type: "regex"}}, newLogger()); err == nil {
		t.Fatal("expected error for missing pattern")
	}
	if _, err := NewChain([]config.FilterSpec{{Type: "morse"}}, newLogger()); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := NewChain([]config.FilterSpec{{Type: "wasm"}}, newLogger()); err == nil {
		t.Fatal("expected error for wasm filter without manifest")
	}
}

func TestValidateManifest(t *testing.T) {
	valid := Manifest{
		Metadata: Metadata{Name: "strip-notes", Version: "0.1.0"},
		Runtime:  RuntimeSpec{Mode: "wasm", Module: "strip.wasm", Entrypoint: "transform"},
	}
	if err := ValidateManifest(valid); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}

	cases := []struct {
		name string
		m    Manifest
	}{
		{"missing name", Manifest{
			Metadata: Metadata{Version: "0.1.0"},
			Runtime:  RuntimeSpec{Mode: "wasm", Module: "m.wasm", Entrypoint: "t"},
		}},
		{"missing version", Manifest{
			Metadata: Metadata{Name: "x"},
			Runtime:  RuntimeSpec{Mode: "wasm", Module: "m.wasm", Entrypoint: "t"},
		}},
		{"missing mode", Manifest{
			Metadata: Metadata{Name: "x", Version: "1"},
		}},
		{"unsupported mode", Manifest{
			Metadata: Metadata{Name: "x", Version: "1"},
			Runtime:  RuntimeSpec{Mode: "native", Module: "m.so", Entrypoint: "t"},
		}},
		{"missing module", Manifest{
			Metadata: Metadata{Name: "x", Version: "1"},
			Runtime:  RuntimeSpec{Mode: "wasm", Entrypoint: "t"},
		}},
		{"missing entrypoint", Manifest{
			Metadata: Metadata{Name: "x", Version: "1"},
			Runtime:  RuntimeSpec{Mode: "wasm", Module: "m.wasm"},
		}},
	}
	for _, tc := range cases {
		if err := ValidateManifest(tc.m); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	doc := `metadata:
  name: strip-notes
  version: 0.2.1
  description: removes endnote markers
runtime:
  mode: wasm
  module: strip.wasm
  entrypoint: transform
limits:
  max_output_bytes: 1048576
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Metadata.Name != "strip-notes" || m.Metadata.Version != "0.2.1" {
		t.Fatalf("unexpected metadata: %+v", m.Metadata)
	}
	if m.Runtime.Entrypoint != "transform" {
		t.Fatalf("unexpected runtime: %+v", m.Runtime)
	}
	if m.Limits.MaxOutputBytes != 1048576 {
		t.Fatalf("unexpected limits: %+v", m.Limits)
	}
	if err := ValidateManifest(m); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
