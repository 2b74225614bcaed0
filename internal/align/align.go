// Package align snaps book tokens onto the word timings recovered from
// synthesized audio. Matching runs adopt recognized word times
// directly; unmatched stretches share their audio span evenly; a final
// ordering pass makes the result monotonic.
package align

import (
	"strings"

	"github.com/narralabs/narra-core/internal/recog"
	"github.com/narralabs/narra-core/internal/token"
)

// Span is an aligned time range for one token, in seconds from the
// start of the chapter audio.
type Span struct {
	Start float64
	End   float64
}

// Align maps each token to a recognized time span. The returned slice
// always has one entry per token; entries stay nil for tokens the
// recognizer gave no evidence for (punctuation, deletions, or a wholly
// failed match). The boolean reports whether at least one span was
// produced, i.e. whether the result is worth applying at all.
//
// Tokens and words that normalize to the empty string are excluded
// from matching but keep their positions in the output.
func Align(tokens []token.Token, words []recog.Word) ([]*Span, bool) {
	spans := make([]*Span, len(tokens))

	tokenIdx := make([]int, 0, len(tokens))
	tokenKeys := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		key := normalizeKey(tok.Value)
		if key == "" {
			continue
		}
		tokenIdx = append(tokenIdx, i)
		tokenKeys = append(tokenKeys, key)
	}

	wordIdx := make([]int, 0, len(words))
	wordKeys := make([]string, 0, len(words))
	for i, w := range words {
		key := normalizeKey(w.Text)
		if key == "" {
			continue
		}
		wordIdx = append(wordIdx, i)
		wordKeys = append(wordKeys, key)
	}

	if len(tokenKeys) == 0 || len(wordKeys) == 0 {
		return spans, false
	}

	m := newMatcher(tokenKeys, wordKeys)
	for _, op := range m.opcodes() {
		if op.tag == opEqual {
			for k := 0; k < op.i2-op.i1; k++ {
				w := words[wordIdx[op.j1+k]]
				spans[tokenIdx[op.i1+k]] = &Span{Start: w.Start, End: w.End}
			}
			continue
		}
		assignSpan(spans, tokenIdx[op.i1:op.i2], words, wordIdx[op.j1:op.j2])
	}

	lastEnd := 0.0
	usable := false
	for _, s := range spans {
		if s == nil {
			continue
		}
		usable = true
		if s.Start < lastEnd {
			s.Start = lastEnd
		}
		if s.End < s.Start {
			s.End = s.Start
		}
		lastEnd = s.End
	}
	return spans, usable
}

// assignSpan spreads the audio covered by a run of words evenly across
// a run of tokens that could not be matched one to one. A run with no
// words assigns nothing; a zero-length span collapses every token onto
// the same instant.
func assignSpan(spans []*Span, tokenIdx []int, words []recog.Word, wordIdx []int) {
	if len(tokenIdx) == 0 || len(wordIdx) == 0 {
		return
	}
	spanStart := words[wordIdx[0]].Start
	spanEnd := words[wordIdx[len(wordIdx)-1]].End
	if spanEnd < spanStart {
		spanEnd = spanStart
	}
	duration := spanEnd - spanStart
	count := len(tokenIdx)
	if duration <= 0 {
		for _, idx := range tokenIdx {
			spans[idx] = &Span{Start: spanStart, End: spanEnd}
		}
		return
	}
	for pos, idx := range tokenIdx {
		start := spanStart + duration*(float64(pos)/float64(count))
		end := spanStart + duration*(float64(pos+1)/float64(count))
		if end < start {
			end = start
		}
		spans[idx] = &Span{Start: start, End: end}
	}
}

// normalizeKey lowercases s and strips everything outside [0-9a-z].
// Recognizers disagree with book text on case and punctuation; the
// stripped key is what both sides are matched on.
func normalizeKey(s string) string {
	lowered := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
