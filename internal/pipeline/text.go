package pipeline

import (
	"regexp"
	"sort"
	"strings"
)

// stopwords excluded from keyword extraction and title/sentence matching.
var stopwords = map[string]bool{
	"a": true, "about": true, "after": true, "all": true, "also": true,
	"an": true, "and": true, "any": true, "are": true, "as": true, "at": true,
	"be": true, "because": true, "been": true, "but": true, "by": true,
	"can": true, "could": true, "did": true, "do": true, "does": true,
	"for": true, "from": true, "get": true, "had": true, "has": true,
	"have": true, "he": true, "her": true, "his": true, "how": true,
	"i": true, "if": true, "in": true, "into": true, "is": true, "it": true,
	"its": true, "just": true, "like": true, "me": true, "more": true,
	"most": true, "my": true, "no": true, "not": true, "of": true, "on": true,
	"one": true, "or": true, "our": true, "out": true, "over": true,
	"she": true, "so": true, "some": true, "than": true, "that": true,
	"the": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "to": true, "up": true,
	"us": true, "very": true, "was": true, "we": true, "were": true,
	"what": true, "when": true, "which": true, "who": true, "will": true,
	"with": true, "would": true, "you": true, "your": true,
}

var sentenceSplitRe = regexp.MustCompile(`[.!?]+`)

// splitSentences segments text on terminal punctuation, dropping empties.
func splitSentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var wordRe = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_'-]*`)

// tokenize lowercases and extracts word tokens.
func tokenize(text string) []string {
	words := wordRe.FindAllString(text, -1)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// contentWords returns tokens with stopwords removed.
func contentWords(text string) []string {
	var out []string
	for _, w := range tokenize(text) {
		if !stopwords[w] && len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// topKeywords ranks content words by frequency, breaking ties alphabetically
// for determinism.
func topKeywords(text string, n int) []string {
	freq := make(map[string]int)
	for _, w := range contentWords(text) {
		freq[w]++
	}
	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

// overlapScore counts how many keywords appear in the sentence.
func overlapScore(sentence string, keywords []string) int {
	toks := make(map[string]bool)
	for _, w := range tokenize(sentence) {
		toks[w] = true
	}
	score := 0
	for _, k := range keywords {
		if toks[k] {
			score++
		}
	}
	return score
}

// truncateWords caps text at n words, appending an ellipsis when cut.
func truncateWords(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) <= n {
		return text
	}
	return strings.Join(fields[:n], " ") + " …"
}
