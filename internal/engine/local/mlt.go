package local

import (
	"sort"

	"github.com/blevesearch/bleve/v2/analysis"
)

// selectTerms picks the query terms of a more-like-this seed: terms seen at
// least minFreq times, most frequent first, ties in lexical order, at most
// maxTerms of them.
func selectTerms(tokens analysis.TokenStream, minFreq, maxTerms int) []string {
	if minFreq < 1 {
		minFreq = 1
	}

	freq := make(map[string]int)
	for _, t := range tokens {
		if len(t.Term) == 0 {
			continue
		}
		freq[string(t.Term)]++
	}

	terms := make([]string, 0, len(freq))
	for term, n := range freq {
		if n >= minFreq {
			terms = append(terms, term)
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if maxTerms > 0 && len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}
	return terms
}
