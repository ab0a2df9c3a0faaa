// Package body selects the canonical body text of a message from its
// plain, HTML, and RTF candidates, and strips the noise (banners,
// footers, signatures, quoted chains) that would poison hashing and
// review. Cleaning is versioned: NormalizerVersion plus RulesetHash pin
// the exact rules a derived record was produced with.
package body

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"html"
	"regexp"
	"strings"
)

// NormalizerVersion identifies the cleaning rule generation. Bump it
// whenever the pattern lists below change in meaning.
const NormalizerVersion = "2026-08-31-v2"

var bannerPatterns = []string{
	// Exact match for common external email banners, highest priority.
	`(?mi)^\s*EXTERNAL\s+EMAIL\s*:\s*Don'?t\s+click\s+links\s+or\s+open\s+attachments\s+unless\s+the\s+content\s+is\s+expected\s+and\s+known\s+to\s+be\s+safe\.?\s*$`,
	`(?mi)^\s*\[?\s*EXTERNAL\s*\]?\s*:?\s*Don'?t\s+click\s+links.*$`,
	`(?mi)^.*EXTERNAL\s+EMAIL\s*:.*(?:click|links?|attachments?|safe).*$`,
	`(?mi)^\s*\[?\s*caution[:\-]?\s*external email[\s\]]?.*$`,
	`(?mi)^\s*\[?\s*warning[:\-]?\s*external email[\s\]]?.*$`,
	`(?mi)^\s*\[?\s*external sender[\s\]]?.*$`,
	`(?mi)^\s*external email[:\-].*$`,
	`(?mi)^\s*external email\b.*$`,
	`(?mi)^\s*caution[:\s-]*external.*$`,
	`(?mi)^\s*(?:safety|security)\s+tip[:\s-].*$`,
	`(?mi)^.*expected\s+and\s+known\s+to\s+be\s+safe.*$`,
	`(?mi)^.*recogni[sz]e\s+the\s+sender.*safe.*$`,
	`(?mi)^.*safe\s+senders?\s+list.*$`,
	`(?mi)^.*(?:email|message)\s+looks\s+safe.*$`,
	`(?mi)^\s*this email originated outside.*$`,
	`(?mi)^\s*this email originated from outside.*$`,
	`(?mi)^\s*do not (?:click|open) (?:links?|attachments?).*$`,
	`(?mi)^\s*don'?t (?:click|open) (?:links?|attachments?).*$`,
	`(?mi)^\s*(?:click|open) (?:links?|attachments?) (?:unless|only).*$`,
	`(?mi)^\s*attachments? and links? .* (?:unsafe|suspicious|dangerous).*$`,
	`(?mi)^\s*unless (?:you|the) (?:recogni[sz]e|content is expected).*$`,
	`(?mi)^\s*unless (?:the )?(?:content is expected|sender).*safe.*$`,
}

var footerMarkers = []string{
	`(?mi)^\s*disclaimer from:.*`,
	`(?mi)^\s*this email (and any attachments )?(is|are) confidential.*`,
	`(?mi)^\s*this message (and any attachments )?(contains|may contain) (confidential|privileged).*`,
	`(?mi)^\s*the information (contained|in) this (e-?mail|message).*confidential.*`,
	`(?mi)^\s*this email is intended.*`,
	`(?mi)^\s*this message is intended.*`,
	`(?mi)^\s*if you have received this (e-?mail|message) in error.*`,
	`(?mi)^\s*if you are not the intended recipient.*`,
	`(?mi)^\s*please notify the sender.*`,
	`(?mi)^\s*please delete.*(this email|this message).*`,
	`(?mi)^\s*any views or opinions.*`,
	`(?mi)^\s*views expressed.*`,
	`(?mi)^\s*no liability.*`,
	`(?mi)^\s*company policy.*`,
	`(?mi)^\s*data protection.*`,
	`(?mi)^\s*privacy notice.*`,
	`(?mi)^\s*disclaimer[:\s].*`,
	`(?mi)^\s*registered office.*`,
	`(?mi)^\s*registered address.*`,
	`(?mi)^\s*head office.*`,
	`(?mi)^\s*office address.*`,
	`(?mi)^\s*company (registration|reg\.? no|number).*`,
	`(?mi)^\s*registered in (england|wales|scotland|ireland).*`,
	`(?mi)^\s*vat (registration|reg\.?|number|no\.?).*`,
	`(?mi)^\s*please consider the environment.*`,
	`(?mi)^\s*think before you print.*`,
	`(?mi)^\s*this email has been scanned for viruses.*`,
	`(?mi)^\s*for information about how we process data.*privacy.*`,
	`(?mi)^\s*click here to unsubscribe.*`,
}

var (
	compiledBanners = compileAll(bannerPatterns)
	compiledFooters = compileAll(footerMarkers)

	// RulesetHash fingerprints the active pattern lists.
	RulesetHash = computeRulesetHash()
)

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func computeRulesetHash() string {
	payload, _ := json.Marshal(struct {
		BannerPatterns []string `json:"banner_patterns"`
		FooterMarkers  []string `json:"footer_markers"`
	}{bannerPatterns, footerMarkers})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

var (
	hrLineRe        = regexp.MustCompile(`(?m)^\s*[-_]{2,}\s*$`)
	blankLineRe     = regexp.MustCompile(`(?m)^\s*$`)
	multiNewlineRe  = regexp.MustCompile(`\n{3,}`)
	intraSpaceRe    = regexp.MustCompile(`[^\S\n]+`)
	nonAlnumRe      = regexp.MustCompile(`[^0-9A-Za-z]+`)
	styleBlockRe    = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	vmlBehaviorRe   = regexp.MustCompile(`[vow]\\:\*\s*\{[^}]*\}`)
	shapeCSSRe      = regexp.MustCompile(`\.shape\s*\{[^}]*\}`)
	atRuleRe        = regexp.MustCompile(`(?i)@[a-z-]+\s*\{[^}]*\}`)
	tagRe           = regexp.MustCompile(`<[^>]+>`)
	bareCSSRe       = regexp.MustCompile(`(?m)^[A-Za-z][A-Za-z0-9_-]*\s*\{[^}]*\}\s*$`)
	zeroWidthRe     = regexp.MustCompile("[\u200b\u200c\u200d\ufeff\u00ad]")
	controlCharRe   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// alnumCount counts the alphanumeric characters in text. Scoring on
// density rather than raw length keeps whitespace and markup from
// inflating a candidate.
func alnumCount(text string) int {
	return len(nonAlnumRe.ReplaceAllString(text, ""))
}

// StripFooterNoise removes warning banners inline and truncates at the
// earliest footer marker. The cut only happens when at least 50
// alphanumeric characters remain, so short legitimate emails survive.
func StripFooterNoise(text string) string {
	if text == "" {
		return ""
	}
	cleaned := normalizeNewlines(text)

	for _, re := range compiledBanners {
		cleaned = re.ReplaceAllString(cleaned, "")
	}

	// Earliest footer marker across all patterns, single pass. Cutting
	// iteratively per pattern would truncate progressively.
	earliest := len(cleaned)
	for _, re := range compiledFooters {
		if loc := re.FindStringIndex(cleaned); loc != nil && loc[0] < earliest {
			earliest = loc[0]
		}
	}
	if earliest < len(cleaned) {
		candidate := strings.TrimRight(cleaned[:earliest], " \t\n")
		if alnumCount(candidate) >= 50 {
			cleaned = candidate
		}
	}

	cleaned = hrLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineRe.ReplaceAllString(cleaned, "")
	cleaned = multiNewlineRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// CleanBodyText produces display-safe text from a raw body: CSS and tag
// residue removed, entities decoded, invisible characters dropped, and
// footer noise stripped.
func CleanBodyText(text string) string {
	if text == "" {
		return ""
	}
	text = styleBlockRe.ReplaceAllString(text, "")
	text = vmlBehaviorRe.ReplaceAllString(text, "")
	text = shapeCSSRe.ReplaceAllString(text, "")
	text = atRuleRe.ReplaceAllString(text, "")
	text = tagRe.ReplaceAllString(text, " ")
	text = bareCSSRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = zeroWidthRe.ReplaceAllString(text, "")
	text = controlCharRe.ReplaceAllString(text, "")
	text = StripFooterNoise(text)
	text = intraSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
