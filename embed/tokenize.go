// Package embed implements the bot's embedding pipeline: deterministic
// local embedders (TF-IDF and averaged word vectors), an HTTP client for
// an external embedding service, and a privacy router that decides which
// one a given text may be sent to.
package embed

import (
	"strings"
	"unicode"
)

// minTokenLen is the shortest token the tokeniser keeps.
const minTokenLen = 3

// Tokenize lowercases the input, splits it into maximal runs of word
// characters, and drops short tokens and English stopwords. The same
// tokeniser feeds both the local embedders and the metadata text index.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder

	flush := func() {
		if b.Len() >= minTokenLen {
			tok := b.String()
			if !stopwords[tok] {
				tokens = append(tokens, tok)
			}
		}
		b.Reset()
	}

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "him": true, "his": true, "how": true, "its": true,
	"may": true, "new": true, "now": true, "old": true, "see": true,
	"two": true, "way": true, "who": true, "did": true, "get": true,
	"let": true, "say": true, "she": true, "too": true, "use": true,
	"this": true, "that": true, "with": true, "from": true, "they": true,
	"have": true, "been": true, "were": true, "will": true, "would": true,
	"there": true, "their": true, "what": true, "about": true, "which": true,
	"when": true, "them": true, "these": true, "some": true, "then": true,
	"than": true, "each": true, "other": true, "into": true, "more": true,
	"your": true, "just": true, "also": true, "only": true, "over": true,
	"such": true, "most": true, "very": true, "after": true, "where": true,
	"here": true, "does": true, "should": true, "could": true, "being": true,
}
