package openmemory

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// stopWords mirrors the small closed list the teacher used to filter noise
// out of its entity-signal scans (classify.go's signal lists); extended
// here into a general-purpose stop-word set for keyword extraction.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"being": true, "have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"for": true, "with": true, "about": true, "against": true, "between": true,
	"into": true, "through": true, "during": true, "before": true, "after": true,
	"from": true, "up": true, "down": true, "this": true, "that": true,
	"these": true, "those": true, "i": true, "you": true, "he": true, "she": true,
	"it": true, "we": true, "they": true, "my": true, "your": true, "his": true,
	"her": true, "its": true, "our": true, "their": true, "as": true, "if": true,
	"so": true, "than": true, "then": true, "not": true, "no": true, "just": true,
}

// tokenize lowercases and splits text on non-letter/digit runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords extracts stop-word-filtered tokens at least minLen runes long,
// deduplicated but order-preserving.
func Keywords(text string, minLen int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokenize(text) {
		if len(tok) < minLen || stopWords[tok] {
			continue
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// KeywordOverlap returns the Jaccard similarity between two keyword sets.
func KeywordOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, k := range a {
		setA[k] = true
	}
	setB := make(map[string]bool, len(b))
	for _, k := range b {
		setB[k] = true
	}
	inter := 0
	for k := range setA {
		if setB[k] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SimHash computes a 64-bit locality-sensitive fingerprint over token
// bigrams (falling back to unigrams for very short text), following the
// standard weighted-bit-vote construction: each shingle hashes to 64 bits,
// each bit position accumulates +1/-1 depending on the hash bit, and the
// final fingerprint bit is set wherever the accumulator is positive.
func SimHash(text string) uint64 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	var shingles []string
	if len(tokens) >= 2 {
		for i := 0; i < len(tokens)-1; i++ {
			shingles = append(shingles, tokens[i]+" "+tokens[i+1])
		}
	} else {
		shingles = tokens
	}

	var acc [64]int
	for _, sh := range shingles {
		h := fnv.New64a()
		_, _ = h.Write([]byte(sh))
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				acc[bit]++
			} else {
				acc[bit]--
			}
		}
	}

	var fp uint64
	for bit := 0; bit < 64; bit++ {
		if acc[bit] > 0 {
			fp |= 1 << uint(bit)
		}
	}
	return fp
}

// HammingDistance returns the number of differing bits between a and b.
func HammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}

// IsNearDuplicate reports whether two fingerprints are within the
// configured Hamming threshold.
func IsNearDuplicate(a, b uint64, threshold int) bool {
	return HammingDistance(a, b) <= threshold
}

// keywordIndex is a bounded inverted index from keyword to candidate
// memory ids. Capped at capPerKeyword entries per keyword so a common
// token can't grow without bound (oldest entries are evicted first). The
// engine's write, dedup and reflection paths neither populate nor query
// it.
type keywordIndex struct {
	capPerKeyword int
	byKeyword     map[string][]string
}

func newKeywordIndex(cap int) *keywordIndex {
	return &keywordIndex{capPerKeyword: cap, byKeyword: make(map[string][]string)}
}

func (k *keywordIndex) Add(memoryID string, keywords []string) {
	for _, kw := range keywords {
		lst := k.byKeyword[kw]
		lst = append(lst, memoryID)
		if len(lst) > k.capPerKeyword {
			lst = lst[len(lst)-k.capPerKeyword:]
		}
		k.byKeyword[kw] = lst
	}
}

// Candidates returns the union of memory ids indexed under any of
// keywords.
func (k *keywordIndex) Candidates(keywords []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, kw := range keywords {
		for _, id := range k.byKeyword[kw] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
