package patterns

import (
	"regexp"
	"strings"
)

// keywordLexicon drives log keyword mining. Order inside each tier is the
// scan order; counting is case-insensitive substring matching.
var keywordLexicon = map[string][]string{
	"critical": {"fatal", "critical", "emergency", "panic", "corrupt", "crash"},
	"error":    {"error", "failed", "failure", "timeout", "500", "502", "503", "504"},
	"warning":  {"warning", "slow", "retry", "deprecated"},
}

var (
	ipPattern     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	numberPattern = regexp.MustCompile(`\d+`)
	pathPattern   = regexp.MustCompile(`/[^\s/]+(?:/[^\s/]+)+`)
)

// normalizeShape collapses the variable parts of a log line so repeated
// message templates hash to the same string. IPs collapse before plain
// numbers so dotted quads do not degrade into NUM.NUM.NUM.NUM.
func normalizeShape(line string) string {
	s := strings.TrimSpace(line)
	s = ipPattern.ReplaceAllString(s, "IP")
	s = pathPattern.ReplaceAllString(s, "/PATH/")
	s = numberPattern.ReplaceAllString(s, "NUM")
	return s
}

// countKeywords tallies lexicon hits across a message sample.
func countKeywords(messages []string) map[string]int {
	counts := make(map[string]int)
	for _, msg := range messages {
		lower := strings.ToLower(msg)
		for _, tier := range keywordLexicon {
			for _, kw := range tier {
				if strings.Contains(lower, kw) {
					counts[kw]++
				}
			}
		}
	}
	return counts
}

// keywordTier reports which lexicon tier a keyword belongs to.
func keywordTier(keyword string) string {
	for tier, words := range keywordLexicon {
		for _, w := range words {
			if w == keyword {
				return tier
			}
		}
	}
	return ""
}
