package recall

import (
	"regexp"
	"slices"
	"strings"
)

const maxQueryChars = 200

var recallCues = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:what|when|where|why|how)\s+(?:did|was|were|have|had)`),
	regexp.MustCompile(`(?i)(?:remind|remember|recall|forget)`),
	regexp.MustCompile(`(?i)(?:earlier|before|previously|last|yesterday)`),
	regexp.MustCompile(`(?i)(?:said|mentioned|told|discussed|decided)`),
	regexp.MustCompile(`(?i)(?:about|regarding)\s+(?:the|that|this)`),
}

var entityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`),
	regexp.MustCompile(`\b\w+(?:_\w+)+\b`),
	regexp.MustCompile(`\b\w+(?:\.\w+)+\b`),
}

// NeedsRecall reports whether message carries a cue that past context is
// wanted: a question about the past, a memory verb, a temporal reference or
// a reference to an earlier discussion.
func NeedsRecall(message string) bool {
	for _, re := range recallCues {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// Entities returns the distinct capitalized phrases, snake_case identifiers
// and dotted names in message, in order of first occurrence per pattern.
func Entities(message string) []string {
	var out []string
	for _, re := range entityPatterns {
		for _, m := range re.FindAllString(message, -1) {
			if !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
	}
	return out
}

// ExtractQueries returns the search queries for message. The truncated
// message always comes first. With at least two entities, their joined
// first four and each of the first three longer than four characters
// follow.
func ExtractQueries(message string) []string {
	queries := []string{truncate(message, maxQueryChars)}

	entities := Entities(message)
	if len(entities) < 2 {
		return queries
	}
	queries = appendQuery(queries, strings.Join(entities[:min(4, len(entities))], " "))
	for _, e := range entities[:min(3, len(entities))] {
		if len(e) > 4 {
			queries = appendQuery(queries, e)
		}
	}
	return queries
}

func appendQuery(queries []string, q string) []string {
	if q == "" || slices.Contains(queries, q) {
		return queries
	}
	return append(queries, q)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
