// Package chunk splits normalized text into backend-safe fragments.
//
// Splitting is content-preserving segmentation, not truncation: rejoining all
// produced chunks with single spaces reproduces every non-whitespace
// character of the input in order.
package chunk

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/piper-hub/synth-service/internal/core"
)

// ErrMaxLengthInvalid indicates a non-positive maximum chunk length.
var ErrMaxLengthInvalid = errors.New("maximum chunk length must be at least 1")

// Chunker packs sentences into fragments bounded by a maximum length.
type Chunker struct {
	maxLen int
}

// New creates a chunker for the given maximum chunk length.
func New(maxLen int) (*Chunker, error) {
	if maxLen < 1 {
		return nil, ErrMaxLengthInvalid
	}

	return &Chunker{maxLen: maxLen}, nil
}

// Split produces the ordered, 1-indexed chunk sequence for normalized text.
// No chunk is empty and no chunk exceeds the maximum length except a single
// token that is itself longer than the maximum, which passes through whole.
func (c *Chunker) Split(text string) []core.TextChunk {
	pieces := c.pack(splitSentences(text))

	chunks := make([]core.TextChunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, core.TextChunk{Index: i + 1, Text: piece})
	}

	return chunks
}

// pack greedily accumulates consecutive pieces while the running length stays
// within the bound, subdividing any single piece that exceeds it. The bound is
// measured in runes, matching how the configured limit counts characters.
func (c *Chunker) pack(pieces []string) []string {
	var (
		packed     []string
		current    string
		currentLen int
	)

	flush := func() {
		if current != "" {
			packed = append(packed, current)
			current = ""
			currentLen = 0
		}
	}

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		if pieceLen > c.maxLen {
			flush()

			packed = append(packed, c.subdivide(piece)...)

			continue
		}

		switch {
		case current == "":
			current = piece
			currentLen = pieceLen
		case currentLen+1+pieceLen <= c.maxLen:
			current += " " + piece
			currentLen += 1 + pieceLen
		default:
			flush()

			current = piece
			currentLen = pieceLen
		}
	}

	flush()

	return packed
}

// subdivide breaks one oversize sentence on clause boundaries, then on word
// boundaries. An unavoidable single token longer than the bound is returned
// unmodified.
func (c *Chunker) subdivide(sentence string) []string {
	clauses := splitClauses(sentence)
	if len(clauses) > 1 {
		return c.pack(clauses)
	}

	words := strings.Fields(sentence)
	if len(words) > 1 {
		return c.pack(words)
	}

	return []string{sentence}
}

// splitSentences breaks text on explicit newlines and on sentence-ending
// punctuation followed by whitespace, keeping the punctuation attached.
func splitSentences(text string) []string {
	return splitOnBoundary(text, func(char rune) bool {
		return char == '.' || char == '!' || char == '?'
	})
}

// splitClauses breaks a sentence on clause punctuation followed by
// whitespace.
func splitClauses(sentence string) []string {
	return splitOnBoundary(sentence, func(char rune) bool {
		return char == ',' || char == ';' || char == ':'
	})
}

func splitOnBoundary(text string, isBoundary func(rune) bool) []string {
	var (
		pieces  []string
		builder strings.Builder
	)

	flush := func() {
		piece := strings.TrimSpace(builder.String())
		if piece != "" {
			pieces = append(pieces, piece)
		}

		builder.Reset()
	}

	runes := []rune(text)
	for i, char := range runes {
		if char == '\n' {
			flush()

			continue
		}

		builder.WriteRune(char)

		if !isBoundary(char) {
			continue
		}

		// A boundary only counts when followed by whitespace; trailing
		// punctuation at end of text closes the final piece anyway.
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			flush()
		}
	}

	flush()

	return pieces
}
