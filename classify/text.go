package classify

import "strings"

// Stop words excluded from the informative-token count.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "were": true, "they": true, "their": true,
}

// tokenize splits text into lowercase words with punctuation trimmed.
func tokenize(text string) []string {
	words := strings.Fields(text)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" {
			tokens = append(tokens, cleaned)
		}
	}
	return tokens
}

// sentenceLengths returns the word count of each sentence in the sample.
func sentenceLengths(sample string) []int {
	var lengths []int
	count := 0
	for _, word := range strings.Fields(sample) {
		count++
		if strings.ContainsAny(word, ".!?") {
			lengths = append(lengths, count)
			count = 0
		}
	}
	if count > 0 {
		lengths = append(lengths, count)
	}
	return lengths
}
