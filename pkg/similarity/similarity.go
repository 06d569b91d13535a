// Package similarity provides the fuzzy string-matching capability used by
// the entity resolver, abstracted from any database extension so the scoring
// is testable and deterministic.
package similarity

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Scorer computes a similarity score in [0,1] for two strings.
// 1.0 means identical after normalization.
type Scorer interface {
	Score(a, b string) float64
}

// TrigramScorer scores strings by Jaccard overlap of their trigram sets.
// Inputs are normalized first, so scoring is case-, accent- and
// plural-insensitive.
type TrigramScorer struct{}

// NewTrigramScorer creates a TrigramScorer.
func NewTrigramScorer() *TrigramScorer {
	return &TrigramScorer{}
}

var _ Scorer = (*TrigramScorer)(nil)

// Score returns the Jaccard similarity of the two strings' trigram sets.
func (s *TrigramScorer) Score(a, b string) float64 {
	setA := trigramSet(Normalize(a))
	setB := trigramSet(Normalize(b))
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

var accentStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize lowercases, strips accents, collapses punctuation and whitespace
// to single spaces, and singularizes each token. "Pine Boards" and
// "pine-board" normalize identically.
func Normalize(text string) string {
	stripped, _, err := transform.String(accentStripper, text)
	if err != nil {
		stripped = text
	}
	lowered := strings.ToLower(stripped)

	var b strings.Builder
	lastSpace := true
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}

	tokens := strings.Fields(b.String())
	for i, tok := range tokens {
		tokens[i] = inflection.Singular(tok)
	}
	return strings.Join(tokens, " ")
}

// trigramSet returns the set of overlapping 3-rune substrings. Strings
// shorter than three runes form a single-element set so that very short
// names still compare exactly.
func trigramSet(text string) map[string]struct{} {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}
