// Package token turns chapter text into the weighted token stream the
// timing and alignment layers operate on, and splits long text into
// synthesis-sized chunks along token boundaries.
package token

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenPattern matches a word (letters, digits, underscores, with
// optional apostrophe- or hyphen-joined tails) or any single
// non-whitespace character. Whitespace never becomes a token.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+(?:['\-][\p{L}\p{N}_]+)*|[^\s\p{Z}]`)

// minWeight is the floor applied to every token so that very short
// words still receive an audible slice of audio.
const minWeight = 3

// pauseTokens are sentence and clause enders that narration engines
// render with a noticeable pause. They carry extra weight so the
// heuristic timer reserves room for the silence that follows them.
var pauseTokens = map[string]struct{}{
	".": {},
	"!": {},
	"?": {},
	";": {},
	":": {},
}

// Token is a positioned fragment of book text. CharStart and CharEnd
// are byte offsets into the full chapter text (CharEnd exclusive).
// Weight is a unitless duration proxy used to apportion chunk audio.
type Token struct {
	Value     string
	CharStart int
	CharEnd   int
	Weight    int
}

// Tokenize scans text and returns its tokens in order of appearance.
// baseOffset shifts every recorded position, so chunk-relative scans
// can report absolute chapter offsets.
func Tokenize(text string, baseOffset int) []Token {
	if text == "" {
		return nil
	}
	spans := tokenPattern.FindAllStringIndex(text, -1)
	tokens := make([]Token, 0, len(spans))
	for _, span := range spans {
		value := text[span[0]:span[1]]
		tokens = append(tokens, Token{
			Value:     value,
			CharStart: baseOffset + span[0],
			CharEnd:   baseOffset + span[1],
			Weight:    weigh(value),
		})
	}
	return tokens
}

// weigh assigns the duration weight for a token value. Pause
// punctuation gets the largest boost, other punctuation a smaller one,
// and plain words weigh their spoken length. Never below minWeight.
func weigh(value string) int {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return minWeight
	}
	length := utf8.RuneCountInString(stripped)
	if _, ok := pauseTokens[stripped]; ok {
		return max(minWeight, length+8)
	}
	if isPunctuation(stripped) {
		return max(minWeight, length+4)
	}
	return max(minWeight, length)
}

// isPunctuation reports whether s contains no word characters at all.
func isPunctuation(s string) bool {
	for _, r := range s {
		if r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r) {
			return false
		}
	}
	return true
}
