// Package book loads chapter text for a conversion run. The pipeline only
// depends on the Source contract; DirSource is the built-in plain-text
// implementation.
package book

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Chapter is one ordered unit of book text.
type Chapter struct {
	Title string
	Text  string
}

// Source supplies book metadata and ordered chapters. Chapters receives the
// synthesis engine's break string so paragraph boundaries survive into the
// text handed to the engine.
type Source interface {
	Title() string
	Author() string
	Chapters(breakString string) ([]Chapter, error)
}

var (
	chapterPrefix  = regexp.MustCompile(`^\d+[-_ ]+`)
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n\s*`)
)

// DirSource reads chapters from a directory of .txt files, one file per
// chapter, ordered by file name.
type DirSource struct {
	path   string
	title  string
	author string
}

func NewDirSource(path, title, author string) *DirSource {
	return &DirSource{path: path, title: title, author: author}
}

func (s *DirSource) Title() string {
	if s.title != "" {
		return s.title
	}
	return titleFromName(filepath.Base(s.path))
}

func (s *DirSource) Author() string {
	return s.author
}

func (s *DirSource) Chapters(breakString string) ([]Chapter, error) {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read book directory: %w", err)
	}

	sep := breakString
	if sep == "" {
		sep = " "
	}

	var chapters []Chapter
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.path, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read chapter %s: %w", entry.Name(), err)
		}
		chapters = append(chapters, Chapter{
			Title: titleFromName(entry.Name()),
			Text:  joinParagraphs(string(data), sep),
		})
	}
	return chapters, nil
}

// titleFromName derives a display title from a chapter file name:
// "03_The_Harbour.txt" becomes "The Harbour".
func titleFromName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	title := chapterPrefix.ReplaceAllString(stem, "")
	title = strings.ReplaceAll(title, "_", " ")
	title = strings.TrimSpace(title)
	if title == "" {
		return stem
	}
	return title
}

// joinParagraphs normalizes line endings, splits the text on blank lines and
// rejoins the paragraphs with the engine's break separator. Line breaks
// inside a paragraph become single spaces.
func joinParagraphs(text, sep string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := paragraphBreak.Split(text, -1)
	var paragraphs []string
	for _, part := range parts {
		part = strings.TrimSpace(strings.ReplaceAll(part, "\n", " "))
		if part != "" {
			paragraphs = append(paragraphs, part)
		}
	}
	return strings.Join(paragraphs, sep)
}
