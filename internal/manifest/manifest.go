// Package manifest defines the persisted book-level and chapter-level
// artifacts plus the file naming shared by both.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/narralabs/narra-core/internal/timing"
)

const (
	StatusReady  = "ready"
	StatusFailed = "failed"

	// FileName is the manifest's fixed name inside the output folder.
	FileName = "manifest.json"
)

// ChapterEntry is one row of the book manifest.
type ChapterEntry struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Audio    string `json:"audio"`
	Metadata string `json:"metadata"`
	Status   string `json:"status"`
}

// Manifest summarizes a full conversion run. It is rebuilt wholesale on
// every run, never patched incrementally.
type Manifest struct {
	BookID      string         `json:"book_id"`
	BookTitle   string         `json:"book_title"`
	BookAuthor  string         `json:"book_author"`
	GeneratedMS int64          `json:"generated_ms"`
	Chapters    []ChapterEntry `json:"chapters"`
}

// ChapterMetadata is the per-chapter sidecar persisted next to the audio
// file, carrying the source text and the word-level timing array.
type ChapterMetadata struct {
	BookTitle    string               `json:"book_title"`
	BookAuthor   string               `json:"book_author"`
	ChapterIndex int                  `json:"chapter_index"`
	ChapterTitle string               `json:"chapter_title"`
	AudioFile    string               `json:"audio_file"`
	DurationMS   int                  `json:"duration_ms"`
	Text         string               `json:"text"`
	Words        []timing.TokenTiming `json:"words"`
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Sanitize reduces a title to a filesystem-safe slug: runs of
// non-alphanumerics become single dashes, the result is trimmed and
// lowercased. An empty result falls back to "book".
func Sanitize(s string) string {
	s = nonAlnum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	s = strings.ToLower(s)
	if s == "" {
		return "book"
	}
	return s
}

// FileStem names chapter artifacts: zero-padded index plus sanitized title.
// The audio file is stem+".wav", the metadata sidecar stem+".json".
func FileStem(index int, title string) string {
	return fmt.Sprintf("%04d_%s", index, Sanitize(title))
}

// BookID derives the manifest's book identifier from the output folder.
func BookID(outputFolder string) string {
	return Sanitize(filepath.Base(filepath.Clean(outputFolder)))
}

// WriteManifest persists the manifest under dir, creating dir if needed.
func WriteManifest(dir string, m Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// WriteChapterMetadata persists a chapter sidecar at path.
func WriteChapterMetadata(path string, meta ChapterMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode chapter metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write chapter metadata: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}
