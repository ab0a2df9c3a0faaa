package body

import (
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"
)

// Source identifies which candidate body was selected.
type Source string

const (
	SourcePlain Source = "plain"
	SourceHTML  Source = "html"
	SourceRTF   Source = "rtf"
	SourceNone  Source = "none"
)

// CandidateDiag records how one candidate scored.
type CandidateDiag struct {
	FullLen     int    `json:"full_len"`
	TopLen      int    `json:"top_len"`
	QuotedLen   int    `json:"quoted_len"`
	Score       int    `json:"score"`
	ReplyMarker string `json:"reply_marker,omitempty"`
}

// Selection is the outcome of body selection for one message.
type Selection struct {
	Source    Source
	Full      string
	Top       string // new content with signature removed
	Quoted    string
	Signature string
	Diag      map[Source]CandidateDiag
}

var replySplitRe = regexp.MustCompile(
	`(?mi)^\s*>?\s*On .+ wrote:` +
		`|^\s*>?\s*From:\s` +
		`|^\s*>?\s*Sent:\s` +
		`|^\s*>?\s*To:\s` +
		`|^\s*>?\s*Cc:\s` +
		`|^\s*>?\s*Bcc:\s` +
		`|^\s*>?\s*Subject:\s` +
		`|^\s*>?\s*Date:\s` +
		`|^-----Original Message-----` +
		`|^----- Forwarded message -----` +
		`|^Begin forwarded message`)

var htmlQuoteBlockRe = regexp.MustCompile(
	`(?is)<blockquote\b[^>]*>.*?</blockquote>` +
		`|<div\b[^>]*(?:gmail_quote|yahoo_quoted|WordSection1|divRplyFwdMsg)[^>]*>.*?</div>`)

// SplitReply separates new content from the quoted chain below it. When
// no marker matches, leading non-'>' lines become the top.
func SplitReply(text string) (top, quoted, marker string) {
	if text == "" {
		return "", "", ""
	}
	if loc := replySplitRe.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[0]]),
			strings.TrimSpace(text[loc[0]:]),
			strings.TrimSpace(text[loc[0]:loc[1]])
	}
	var topLines, quotedLines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), ">") {
			quotedLines = append(quotedLines, line)
		} else if len(quotedLines) > 0 {
			quotedLines = append(quotedLines, line)
		} else {
			topLines = append(topLines, line)
		}
	}
	return strings.TrimSpace(strings.Join(topLines, "\n")),
		strings.TrimSpace(strings.Join(quotedLines, "\n")), ""
}

// HTMLToText converts an HTML body to plain text. Conversion failures
// degrade to tag stripping rather than erroring; selection must always
// have a candidate to score.
func HTMLToText(htmlBody string) string {
	if htmlBody == "" {
		return ""
	}
	text, err := html2text.FromString(htmlBody, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		text = tagRe.ReplaceAllString(styleBlockRe.ReplaceAllString(htmlBody, " "), " ")
	}
	text = normalizeNewlines(text)
	text = intraSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// StripHTMLQuoteBlocks removes quoted-reply containers from HTML before
// conversion, giving the HTML candidate a fair "new content" score.
func StripHTMLQuoteBlocks(htmlBody string) string {
	if htmlBody == "" {
		return ""
	}
	return htmlQuoteBlockRe.ReplaceAllString(htmlBody, " ")
}

var (
	rtfParRe     = regexp.MustCompile(`\\pard?\b`)
	rtfHexRe     = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
	rtfControlRe = regexp.MustCompile(`\\[a-z]+\d*\s?`)
)

// RTFToText is a lossy but deterministic RTF conversion: paragraph
// controls become newlines, remaining control words are dropped.
func RTFToText(rtf []byte) string {
	if len(rtf) == 0 {
		return ""
	}
	text := string(rtf)
	text = rtfParRe.ReplaceAllString(text, "\n")
	text = rtfHexRe.ReplaceAllString(text, " ")
	text = rtfControlRe.ReplaceAllString(text, " ")
	text = strings.NewReplacer("{", " ", "}", " ").Replace(text)
	text = normalizeNewlines(text)
	text = intraSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

type candidate struct {
	source Source
	full   string
	top    string
	quoted string
	marker string
}

// Select scores the plain, HTML, and RTF candidates by the alphanumeric
// density of their new content and picks the best. A zero score across
// the board falls back to the plain text verbatim when present, so a
// message that is nothing but quotes still gets a canonical body.
func Select(plainText, htmlBody string, rtfBody []byte) Selection {
	plainFull := normalizeNewlines(plainText)

	htmlFullText := HTMLToText(htmlBody)
	htmlTopHint := HTMLToText(StripHTMLQuoteBlocks(htmlBody))
	if htmlTopHint == "" {
		htmlTopHint = htmlFullText
	}

	rtfText := RTFToText(rtfBody)

	plainTop, plainQuoted, plainMarker := SplitReply(plainFull)
	htmlTop, htmlQuoted, htmlMarker := SplitReply(htmlTopHint)
	rtfTop, rtfQuoted, rtfMarker := SplitReply(rtfText)

	candidates := []candidate{
		{SourcePlain, plainFull, plainTop, plainQuoted, plainMarker},
		{SourceHTML, htmlFullText, htmlTop, htmlQuoted, htmlMarker},
		{SourceRTF, rtfText, rtfTop, rtfQuoted, rtfMarker},
	}

	diag := make(map[Source]CandidateDiag, len(candidates))
	best := candidates[0]
	bestScore := -1
	anyContent := false
	for _, c := range candidates {
		score := alnumCount(c.top)
		diag[c.source] = CandidateDiag{
			FullLen:     len(c.full),
			TopLen:      len(c.top),
			QuotedLen:   len(c.quoted),
			Score:       score,
			ReplyMarker: c.marker,
		}
		if c.full != "" {
			anyContent = true
		}
		if score > bestScore || (score == bestScore && c.source > best.source) {
			best = c
			bestScore = score
		}
	}

	if !anyContent {
		return Selection{Source: SourceNone, Diag: diag}
	}

	if bestScore <= 0 && plainFull != "" {
		best = candidates[0]
	}

	topNoSig, signature := StripSignature(best.top)

	return Selection{
		Source:    best.source,
		Full:      best.full,
		Top:       topNoSig,
		Quoted:    best.quoted,
		Signature: signature,
		Diag:      diag,
	}
}
