// Package semantic groups markets that describe the same underlying event:
// cheap keyword matching first, then LLM clustering for the candidates that
// survive.
package semantic

import (
	"regexp"
	"strings"
)

// Temporal phrases are stripped before comparing questions so that
// "Will X happen by March?" and "Will X happen by June?" normalize to the
// same base event.
var temporalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bby\s+(the\s+)?end\s+of\s+\w+(\s+\d{4})?\b`),
	regexp.MustCompile(`(?i)\bbefore\s+\w+\s+\d{1,2}(,?\s*\d{4})?\b`),
	regexp.MustCompile(`(?i)\b(in|by|during)\s+(january|february|march|april|may|june|july|august|september|october|november|december)(\s+\d{4})?\b`),
	regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(st|nd|rd|th)?(,?\s*\d{4})?\b`),
	regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`),
	regexp.MustCompile(`(?i)\b(in|by|before|during)\s+(q[1-4]|h[12])\s*\d{4}\b`),
	regexp.MustCompile(`\b(19|20)\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}(/\d{2,4})?\b`),
	regexp.MustCompile(`(?i)\bthis\s+(week|month|year|quarter)\b`),
	regexp.MustCompile(`(?i)\bnext\s+(week|month|year|quarter)\b`),
}

var whitespaceRe = regexp.MustCompile(`\s+`)

var punctuationRe = regexp.MustCompile(`[?!.,;:'"()\[\]]`)

// NormalizeQuestion lowercases a market question and strips temporal
// qualifiers, punctuation and redundant whitespace. Two questions about the
// same event with different deadlines normalize to the same string.
func NormalizeQuestion(question string) string {
	s := strings.ToLower(question)
	for _, re := range temporalPatterns {
		s = re.ReplaceAllString(s, " ")
	}
	s = punctuationRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
