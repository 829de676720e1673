package summary

import (
	"regexp"
	"slices"
	"strings"
)

// Extractor pulls structured items out of conversation text.
type Extractor interface {
	// Topics returns candidate topics from user text.
	Topics(text string) []string
	// Decisions returns decision statements from assistant text.
	Decisions(text string) []string
	// Actions returns action items from any conversation text.
	Actions(text string) []ActionMatch
}

// ActionMatch is a raw action found in text.
type ActionMatch struct {
	Text     string
	Deadline string
}

// RuleExtractor is a keyword/regex Extractor. It needs no model calls.
type RuleExtractor struct{}

var _ Extractor = RuleExtractor{}

const (
	maxTopicChars    = 30
	maxDecisionChars = 50
	maxActionChars   = 60
)

var (
	topicPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:about|regarding|on|discussing)\s+(\w+(?:\s+\w+){0,2})`),
		regexp.MustCompile(`(?i)\b(\w+(?:\s+\w+)?)\s+(?:system|agent|bot|feature|issue)\b`),
	}

	decisionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:decided|decision|will|going to|choose|select)\s*:?\s*([^.\n]{10,100})`),
		regexp.MustCompile(`(?i)(?:\blet's|\bwe should|\brecommend|\bsuggest)\s+([^.\n]{10,100})`),
	}

	actionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:todo|action|task|need to|must|should)\s*:?\s*([^.\n]{10,80})`),
		regexp.MustCompile(`(?i)\b(?:build|create|implement|fix|deploy|test)\s+([^.\n]{10,80})`),
	}

	deadlinePattern = regexp.MustCompile(`(?i)\b(?:by|due|before)\s+(today|tonight|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday|\d{4}-\d{2}-\d{2})\b`)
)

// Topics implements Extractor.
func (RuleExtractor) Topics(text string) []string {
	var out []string
	for _, re := range topicPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			topic := strings.ToLower(strings.TrimSpace(m[1]))
			if topic == "" {
				continue
			}
			out = append(out, truncate(topic, maxTopicChars))
		}
	}
	return out
}

// Decisions implements Extractor.
func (RuleExtractor) Decisions(text string) []string {
	var out []string
	for _, re := range decisionPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			d := strings.TrimSpace(m[1])
			if d == "" {
				continue
			}
			out = append(out, truncate(d, maxDecisionChars))
		}
	}
	return out
}

// Actions implements Extractor.
func (RuleExtractor) Actions(text string) []ActionMatch {
	var out []ActionMatch
	for _, re := range actionPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			a := strings.TrimSpace(m[1])
			if a == "" {
				continue
			}
			match := ActionMatch{Text: truncate(a, maxActionChars)}
			if dm := deadlinePattern.FindStringSubmatch(a); dm != nil {
				match.Deadline = strings.ToLower(dm[1])
			}
			out = append(out, match)
		}
	}
	return out
}

// appendUnique appends items not already present, up to limit entries.
func appendUnique(dst []string, limit int, items ...string) []string {
	for _, it := range items {
		if len(dst) >= limit {
			return dst
		}
		if !slices.Contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}
