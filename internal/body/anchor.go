package body

import (
	"regexp"
	"strings"
)

var headerLineRe = regexp.MustCompile(`(?i)^(from|sent|to|cc|bcc|subject|date)\s*:\s*`)

func collectAnchorLines(text string, maxLines int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if headerLineRe.MatchString(stripped) {
			continue
		}
		if strings.HasPrefix(stripped, ">") {
			stripped = strings.TrimSpace(strings.TrimLeft(stripped, ">"))
		}
		if stripped != "" {
			lines = append(lines, stripped)
		}
		if len(lines) >= maxLines {
			break
		}
	}
	return lines
}

// ExtractBodyAnchor returns the first maxLines meaningful lines of text,
// unquoted and with header-style lines skipped. A reply that quotes this
// message will carry the same lines in its quoted chain.
func ExtractBodyAnchor(text string, maxLines int) string {
	if text == "" {
		return ""
	}
	return strings.Join(collectAnchorLines(normalizeNewlines(text), maxLines), "\n")
}

// ExtractQuotedAnchor returns the first maxLines meaningful lines of the
// quoted chain in text, or "" when the message quotes nothing.
func ExtractQuotedAnchor(text string, maxLines int) string {
	if text == "" {
		return ""
	}
	text = normalizeNewlines(text)

	var anchorText string
	if loc := replySplitRe.FindStringIndex(text); loc != nil {
		anchorText = text[loc[0]:]
	} else {
		var quoted []string
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimLeft(line, " \t"), ">") {
				quoted = append(quoted, line)
			}
		}
		anchorText = strings.Join(quoted, "\n")
	}
	if anchorText == "" {
		return ""
	}
	return strings.Join(collectAnchorLines(anchorText, maxLines), "\n")
}

var collapseSpaceRe = regexp.MustCompile(`\s+`)

// NormalizeForHash canonicalizes text for hashing: NULs dropped,
// newlines unified, whitespace collapsed, lowercased.
func NormalizeForHash(text string) string {
	normalized := strings.ReplaceAll(text, "\x00", " ")
	normalized = normalizeNewlines(normalized)
	normalized = collapseSpaceRe.ReplaceAllString(normalized, " ")
	return strings.ToLower(strings.TrimSpace(normalized))
}
