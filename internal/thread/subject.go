package thread

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	bracketTagRe    = regexp.MustCompile(`^\s*\[[^\]]{0,80}\]\s*`)
	subjectPrefixRe = regexp.MustCompile(`(?i)^(?:re|fw|fwd|aw|sv|wg|tr|fs)\s*:\s*`)
	forwardRe       = regexp.MustCompile(`(?i)^\s*(?:fw|fwd)\s*:`)
	punctRe         = regexp.MustCompile(`[^\w\s]`)
	spaceRunRe      = regexp.MustCompile(`\s+`)
)

// NormalizeSubject reduces a subject line to a stable grouping key:
// leading bracketed tags like [EXTERNAL] removed, reply/forward prefixes
// stripped iteratively, long numeric tokens (ticket and contract refs)
// dropped, punctuation flattened, lowercased. Returns "" when nothing
// usable remains.
func NormalizeSubject(subject string, numericLen int) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return ""
	}
	s = bracketTagRe.ReplaceAllString(s, "")
	for {
		next := subjectPrefixRe.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if numericLen > 0 {
		numRe := regexp.MustCompile(fmt.Sprintf(`\b\d{%d,}\b`, numericLen))
		s = numRe.ReplaceAllString(s, "")
	}
	s = punctRe.ReplaceAllString(s, " ")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// IsForwardSubject reports whether the raw subject starts with a forward
// prefix. Forwards start new conversations more often than they continue
// one, so they are kept out of subject-window linking.
func IsForwardSubject(subject string) bool {
	return forwardRe.MatchString(subject)
}
