// Package timing produces per-token playback times for a chapter. The
// estimator apportions each audio chunk's duration across its tokens
// by weight; Overlay swaps in recognized spans where alignment found
// them and repairs ordering afterwards.
package timing

import (
	"math"

	"github.com/narralabs/narra-core/internal/align"
	"github.com/narralabs/narra-core/internal/token"
)

// TokenTiming is one token's position in the chapter audio. Times are
// integral milliseconds; offsets address the chapter text in bytes.
type TokenTiming struct {
	Token     string `json:"token"`
	StartMS   int    `json:"start_ms"`
	EndMS     int    `json:"end_ms"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}

// ChunkRecord describes one synthesized chunk of a chapter: the text
// it covered, where that text began, and what the produced audio looks
// like. Durations are seconds.
type ChunkRecord struct {
	Text            string
	AudioPath       string
	Duration        float64
	LeadingSilence  float64
	TrailingSilence float64
	CharOffset      int
}

// Estimate distributes chunk audio across tokens by weight. Tokens are
// claimed by a chunk while their start offset falls before the chunk's
// end; the chunk's leading silence is skipped and its last token
// absorbs whatever remains, trailing silence included. Chunks that
// claim no tokens, or only zero weight, still advance the audio
// cursor; tokens claimed by a zero-weight chunk are consumed without
// an entry. Tokens left over after the final chunk become zero-width
// markers at the end of the audio.
//
// Entries come out in token order.
func Estimate(records []ChunkRecord, tokens []token.Token) []TokenTiming {
	timings := make([]TokenTiming, 0, len(tokens))
	audioOffset := 0.0

	index := 0
	for _, record := range records {
		chunkEnd := record.CharOffset + len(record.Text)
		first := index
		for index < len(tokens) && tokens[index].CharStart < chunkEnd {
			index++
		}
		chunkTokens := tokens[first:index]

		if len(chunkTokens) == 0 {
			audioOffset += record.Duration
			continue
		}
		totalWeight := 0
		for _, tok := range chunkTokens {
			totalWeight += tok.Weight
		}
		if totalWeight == 0 {
			audioOffset += record.Duration
			continue
		}

		leading := math.Max(0, record.LeadingSilence)
		effective := math.Max(0, record.Duration-leading)
		remaining := effective
		tokenStart := audioOffset + leading

		for i, tok := range chunkTokens {
			var tokenDuration float64
			if i == len(chunkTokens)-1 {
				tokenDuration = remaining
			} else {
				tokenDuration = effective * float64(tok.Weight) / float64(totalWeight)
				remaining = math.Max(0, remaining-tokenDuration)
			}
			tokenEnd := tokenStart + tokenDuration
			timings = append(timings, TokenTiming{
				Token:     tok.Value,
				StartMS:   int(math.Round(tokenStart * 1000)),
				EndMS:     int(math.Round(tokenEnd * 1000)),
				CharStart: tok.CharStart,
				CharEnd:   tok.CharEnd,
			})
			tokenStart = tokenEnd
		}

		audioOffset += record.Duration
	}

	for ; index < len(tokens); index++ {
		tok := tokens[index]
		currentMS := int(math.Round(audioOffset * 1000))
		timings = append(timings, TokenTiming{
			Token:     tok.Value,
			StartMS:   currentMS,
			EndMS:     currentMS,
			CharStart: tok.CharStart,
			CharEnd:   tok.CharEnd,
		})
	}

	return timings
}

// Overlay replaces estimated times with aligned spans where one
// exists, then repairs ordering across the whole sequence. Span
// seconds are truncated to milliseconds. The input slice is modified
// and returned.
func Overlay(timings []TokenTiming, spans []*align.Span) []TokenTiming {
	for idx, span := range spans {
		if span == nil || idx >= len(timings) {
			continue
		}
		startMS := int(span.Start * 1000)
		endMS := int(span.End * 1000)
		if endMS < startMS {
			endMS = startMS
		}
		timings[idx].StartMS = startMS
		timings[idx].EndMS = endMS
	}
	return Repair(timings)
}

// Repair forces start times to be non-decreasing and every end to
// follow its start, walking damage forward instead of rejecting it.
func Repair(timings []TokenTiming) []TokenTiming {
	previousEnd := 0
	for i := range timings {
		if timings[i].StartMS < previousEnd {
			timings[i].StartMS = previousEnd
		}
		if timings[i].EndMS < timings[i].StartMS {
			timings[i].EndMS = timings[i].StartMS
		}
		previousEnd = timings[i].EndMS
	}
	return timings
}
