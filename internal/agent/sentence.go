package agent

import (
	"regexp"
	"strings"
)

// sentencePattern implements spec's sentence-extraction rule: a
// greedy-minimal run of characters ending in one-or-more '.', '!', or '?'
// (so an ellipsis counts as one terminator, matched by the punctuation
// run), followed by whitespace or end-of-string. Dotall so the match can
// span embedded newlines.
var sentencePattern = regexp.MustCompile(`(?s)^(.+?[.!?]+)(?:\s+|$)`)

// extractSentences repeatedly matches sentencePattern against buf's current
// contents, returning each trimmed sentence found and leaving buf holding
// whatever remains unmatched (the start of the next, still-incomplete
// sentence).
func extractSentences(buf *strings.Builder) []string {
	var sentences []string
	for {
		s := buf.String()
		loc := sentencePattern.FindStringSubmatchIndex(s)
		if loc == nil {
			return sentences
		}
		sentence := strings.TrimSpace(s[loc[2]:loc[3]])
		rest := s[loc[1]:]
		buf.Reset()
		buf.WriteString(rest)
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
	}
}
