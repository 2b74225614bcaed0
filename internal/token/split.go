package token

// DefaultMaxChunkChars bounds how much text is handed to a synthesis
// engine in one call when the configuration does not say otherwise.
const DefaultMaxChunkChars = 3000

// Chunk is a contiguous slice of chapter text. Offset is the byte
// position of the chunk's first character in the original text.
type Chunk struct {
	Text   string
	Offset int
}

// Split partitions text into chunks of at most maxChars bytes, never
// cutting inside a token: cuts land at a token start or inside the
// whitespace before one. The chunks tile the input exactly:
// concatenating them in order reproduces text byte for byte, including
// all whitespace. A single token longer than maxChars is emitted as an
// oversized chunk of its own rather than being split.
func Split(text string, maxChars int) []Chunk {
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	tokens := Tokenize(text, 0)
	if len(tokens) == 0 {
		return []Chunk{{Text: text, Offset: 0}}
	}

	var chunks []Chunk
	start := 0
	prevEnd := 0
	inChunk := 0
	for _, tok := range tokens {
		if inChunk > 0 && tok.CharEnd-start > maxChars {
			// Stop at the size bound when trailing whitespace would
			// push past it, but never before the last token's end.
			cut := min(tok.CharStart, start+maxChars)
			if cut < prevEnd {
				cut = prevEnd
			}
			chunks = append(chunks, Chunk{Text: text[start:cut], Offset: start})
			start = cut
			inChunk = 0
		}
		prevEnd = tok.CharEnd
		inChunk++
	}
	chunks = append(chunks, Chunk{Text: text[start:], Offset: start})
	return chunks
}
