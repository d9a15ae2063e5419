package span

import (
	"strings"
	"unicode"
)

// Token is one token's [Start, End) code point range in a text.
type Token struct {
	Start int
	End   int
}

// Tokenizer splits a text into ordered, non-overlapping tokens.
// Implementations must be deterministic.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// defaultAffixes are split off the edges of whitespace-delimited chunks.
const defaultAffixes = ".,;:!?"

// WhitespaceTokenizer splits on Unicode whitespace and peels single-rune
// punctuation tokens off the edges of each chunk. Editorial brackets used in
// epigraphic transcriptions, e.g. "D(is)" or "[M]arcus", stay inside the token.
type WhitespaceTokenizer struct {
	// Affixes lists the runes split off chunk edges. Empty means defaultAffixes.
	Affixes string
}

// Tokenize implements Tokenizer.
func (w WhitespaceTokenizer) Tokenize(text string) []Token {
	affixes := w.Affixes
	if affixes == "" {
		affixes = defaultAffixes
	}

	runes := []rune(text)
	var tokens []Token
	i := 0
	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		tokens = append(tokens, splitAffixes(runes, start, i, affixes)...)
	}
	return tokens
}

func splitAffixes(runes []rune, start, end int, affixes string) []Token {
	var prefix, suffix []Token
	for start < end-1 && strings.ContainsRune(affixes, runes[start]) {
		prefix = append(prefix, Token{Start: start, End: start + 1})
		start++
	}
	for end-1 > start && strings.ContainsRune(affixes, runes[end-1]) {
		suffix = append([]Token{{Start: end - 1, End: end}}, suffix...)
		end--
	}

	out := make([]Token, 0, len(prefix)+1+len(suffix))
	out = append(out, prefix...)
	out = append(out, Token{Start: start, End: end})
	return append(out, suffix...)
}
