package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grimoiredb/grimoire/core"
)

// Stop words dropped when normalizing query text into a signature.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation,
// and removes stop words.
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// querySignature normalizes a request into a stable signature so the
// optimizer can group samples of equivalent queries. Word order and
// stop words do not change the signature; filters and mode do.
func querySignature(req Request, mode core.Strategy) string {
	tokens := tokenizeAndFilter(req.Text)
	sort.Strings(tokens)
	key := fmt.Sprintf("%s|%s|%s|%s",
		mode, strings.Join(tokens, " "), req.Filters.Domain, req.Filters.ContentType)
	digest := core.HashContent([]byte(key))
	return string(digest[:16])
}
