// Package text provides input-text normalization for the synthesis pipeline.
//
// Normalization is lossless apart from specific character substitutions:
// typographic punctuation is folded to ASCII, zero-width and non-printable
// control characters are stripped, and whitespace runs are collapsed. The
// result of normalizing already-normalized text is the same text.
package text

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/piper-hub/synth-service/internal/core"
)

// Regex patterns for whitespace normalization.
const (
	horizontalRunPattern = `[ \t]+`
	newlineEdgePattern   = `[ \t]*\n[ \t]*`
	newlineRunPattern    = `\n{3,}`
)

// Typographic characters folded to ASCII equivalents.
const (
	emDash        = "—"
	enDash        = "–"
	figureDash    = "‒"
	horizontalBar = "―"
	ellipsisChar  = "…"
	nonBreakRune  = rune(0x00A0)
)

// Zero-width characters removed outright.
var zeroWidthRunes = map[rune]struct{}{
	0x200B: {}, // zero width space
	0x200C: {}, // zero width non-joiner
	0x200D: {}, // zero width joiner
	0x2060: {}, // word joiner
	0xFEFF: {}, // byte order mark
}

// Normalizer canonicalizes raw request text before chunking.
type Normalizer struct {
	horizontalRun *regexp.Regexp
	newlineEdge   *regexp.Regexp
	newlineRun    *regexp.Regexp
	punctuation   *strings.Replacer
}

// NewNormalizer creates a normalizer with compiled patterns and replacers.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		horizontalRun: regexp.MustCompile(horizontalRunPattern),
		newlineEdge:   regexp.MustCompile(newlineEdgePattern),
		newlineRun:    regexp.MustCompile(newlineRunPattern),
		punctuation: strings.NewReplacer(
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			horizontalBar, "-",
			ellipsisChar, "...",
			string(nonBreakRune), " ",
		),
	}
}

// Normalize canonicalizes raw text. It returns core.ErrEmptyInput when the
// result is blank.
func (n *Normalizer) Normalize(raw string) (string, error) {
	cleaned := norm.NFC.String(raw)
	cleaned = n.punctuation.Replace(cleaned)
	cleaned = stripControl(cleaned)
	cleaned = n.horizontalRun.ReplaceAllString(cleaned, " ")
	cleaned = n.newlineEdge.ReplaceAllString(cleaned, "\n")
	cleaned = n.newlineRun.ReplaceAllString(cleaned, "\n\n")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return "", fmt.Errorf("normalize: %w", core.ErrEmptyInput)
	}

	return cleaned, nil
}

// stripControl removes zero-width and non-printable control characters,
// keeping newline and tab so later whitespace folding sees them.
func stripControl(text string) string {
	var builder strings.Builder

	builder.Grow(len(text))

	for _, char := range text {
		if _, zeroWidth := zeroWidthRunes[char]; zeroWidth {
			continue
		}

		if unicode.IsControl(char) && char != '\n' && char != '\t' {
			continue
		}

		builder.WriteRune(char)
	}

	return builder.String()
}
