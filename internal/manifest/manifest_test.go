package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/narralabs/narra-core/internal/timing"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"The Harbour":        "the-harbour",
		"Chapter 12: Dawn!":  "chapter-12-dawn",
		"  --weird--  ":      "weird",
		"!!!":                "book",
		"":                   "book",
		"Déjà Vu":            "d-j-vu",
		"already-clean":      "already-clean",
		"Mixed_Case Title 7": "mixed-case-title-7",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestFileStem(t *testing.T) {
	if got := FileStem(3, "The Harbour"); got != "0003_the-harbour" {
		t.Fatalf("unexpected stem %q", got)
	}
	if got := FileStem(1234, "X"); got != "1234_x" {
		t.Fatalf("unexpected stem %q", got)
	}
}

func TestBookID(t *testing.T) {
	if got := BookID("./out/My Audiobook/"); got != "my-audiobook" {
		t.Fatalf("unexpected book id %q", got)
	}
	if got := BookID("audiobook_output"); got != "audiobook-output" {
		t.Fatalf("unexpected book id %q", got)
	}
}

func TestWriteAndReadManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	m := Manifest{
		BookID:      "my-book",
		BookTitle:   "My Book",
		BookAuthor:  "A. Author",
		GeneratedMS: 1756000000000,
		Chapters: []ChapterEntry{
			{Index: 1, Title: "One", Audio: "0001_one.wav", Metadata: "0001_one.json", Status: StatusReady},
			{Index: 2, Title: "Two", Audio: "0002_two.wav", Metadata: "0002_two.json", Status: StatusFailed},
		},
	}
	if err := WriteManifest(dir, m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read manifest file: %v", err)
	}
	if !strings.Contains(string(raw), "\n  \"book_id\": \"my-book\"") {
		t.Fatalf("expected indented book_id field, got:\n%s", raw)
	}

	got, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if got.BookTitle != "My Book" || len(got.Chapters) != 2 {
		t.Fatalf("unexpected manifest round trip: %+v", got)
	}
	if got.Chapters[1].Status != StatusFailed {
		t.Fatalf("expected failed status, got %q", got.Chapters[1].Status)
	}
}

func TestWriteChapterMetadataKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0001_one.json")
	meta := ChapterMetadata{
		BookTitle:    "My Book",
		BookAuthor:   "A. Author",
		ChapterIndex: 1,
		ChapterTitle: "One",
		AudioFile:    "0001_one.wav",
		DurationMS:   4200,
		Text:         "Hello there.",
		Words: []timing.TokenTiming{
			{Token: "Hello", StartMS: 0, EndMS: 1800, CharStart: 0, CharEnd: 5},
			{Token: "there", StartMS: 1800, EndMS: 3100, CharStart: 6, CharEnd: 11},
			{Token: ".", StartMS: 3100, EndMS: 4200, CharStart: 11, CharEnd: 12},
		},
	}
	if err := WriteChapterMetadata(path, meta); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	for _, key := range []string{"book_title", "book_author", "chapter_index", "chapter_title", "audio_file", "duration_ms", "text", "words"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing metadata key %q", key)
		}
	}
	words, ok := decoded["words"].([]any)
	if !ok || len(words) != 3 {
		t.Fatalf("unexpected words payload: %v", decoded["words"])
	}
	first, ok := words[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected word entry: %v", words[0])
	}
	for _, key := range []string{"token", "start_ms", "end_ms", "char_start", "char_end"} {
		if _, present := first[key]; !present {
			t.Fatalf("missing word key %q", key)
		}
	}
}
