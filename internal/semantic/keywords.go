package semantic

import "strings"

// stopWords are excluded from keyword overlap scoring.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "he": true, "in": true, "is": true, "it": true, "its": true,
	"of": true, "on": true, "or": true, "that": true, "the": true,
	"to": true, "was": true, "were": true, "will": true, "with": true,
	"would": true, "who": true, "what": true, "when": true, "where": true,
	"there": true, "their": true, "they": true, "this": true, "than": true,
	"then": true, "do": true, "does": true, "did": true, "not": true,
	"no": true, "yes": true, "any": true, "more": true, "most": true,
	"over": true, "under": true, "above": true, "below": true,
	"before": true, "after": true, "between": true, "into": true,
	"out": true, "up": true, "down": true, "end": true,
}

// Keywords extracts the content words of a normalized question.
func Keywords(normalized string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// KeywordSimilarity scores two questions by content-word overlap relative
// to the smaller set. Returns a value in [0,1].
func KeywordSimilarity(a, b string) float64 {
	ka := Keywords(NormalizeQuestion(a))
	kb := Keywords(NormalizeQuestion(b))
	if len(ka) == 0 || len(kb) == 0 {
		return 0
	}

	overlap := 0
	for w := range ka {
		if kb[w] {
			overlap++
		}
	}

	denom := len(ka)
	if len(kb) < denom {
		denom = len(kb)
	}
	return float64(overlap) / float64(denom)
}
