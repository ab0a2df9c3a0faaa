package body

import (
	"regexp"
	"strings"
)

var signatureSplitRe = regexp.MustCompile(
	`(?mi)^\s*(--\s*$|__+\s*$|sent from my\b|sent via\b)`)

// Sign-off lines split too, but only when the line is nothing but the
// phrase. "Thanks for your email..." at the top of a message must not
// match.
var signoffLineRe = regexp.MustCompile(
	`(?mi)^\s*(kind regards|warm regards|best regards|regards|many thanks|thanks|thank you|cheers|best wishes|yours sincerely|yours faithfully)\s*[,.!]?\s*$`)

var (
	sigEmailRe    = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)
	sigURLRe      = regexp.MustCompile(`(?i)\b(?:https?://\S+|www\.\S+)\b`)
	sigPhoneRe    = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
	sigPostcodeRe = regexp.MustCompile(`(?i)\b[A-Z]{1,2}\d[A-Z\d]?\s*\d[A-Z]{2}\b`)
	sigTitleRe    = regexp.MustCompile(`(?i)\b(manager|director|engineer|assistant|contracts?|commercial|project|site|qs|surveyor)\b`)
	sigSignoffRe  = regexp.MustCompile(`(?i)^\s*(kind regards|regards|best regards|many thanks|thanks|cheers|yours sincerely|yours faithfully)\b`)
	sigCompanyRe  = regexp.MustCompile(`(?i)\b(ltd|limited|inc|plc)\b`)
	nameLineRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z .'\-]{1,49}$`)
	nameRejectRe  = regexp.MustCompile(`[@:/\\]|\d`)
)

func lineSigScore(line string) int {
	if strings.TrimSpace(line) == "" {
		return 0
	}
	s := 0
	if sigEmailRe.MatchString(line) {
		s += 3
	}
	if sigURLRe.MatchString(line) {
		s += 2
	}
	if sigPhoneRe.MatchString(line) {
		s += 2
	}
	if sigPostcodeRe.MatchString(line) {
		s += 1
	}
	if sigTitleRe.MatchString(line) {
		s += 1
	}
	if sigCompanyRe.MatchString(line) {
		s += 1
	}
	return s
}

func looksLikeName(line string) bool {
	stripped := strings.TrimSpace(line)
	if stripped == "" || len(stripped) > 50 {
		return false
	}
	if nameRejectRe.MatchString(stripped) {
		return false
	}
	return nameLineRe.MatchString(stripped)
}

// StripSignature splits a signature block off the bottom of text. An
// explicit delimiter ("--", "Sent from my ...") always splits, and a
// line holding only a sign-off phrase ("Kind regards,") splits when any
// body would remain. Without either, a bounded bottom window is scanned
// for clustered contact info and only stripped when a hard indicator
// (email, URL, phone) plus a sign-off or second strong line is present,
// and at least 20 alphanumeric characters of body remain.
func StripSignature(text string) (bodyText, signature string) {
	if text == "" {
		return "", ""
	}
	if loc := signatureSplitRe.FindStringIndex(text); loc != nil {
		return strings.TrimRight(text[:loc[0]], " \t\n"), strings.TrimSpace(text[loc[0]:])
	}
	if loc := signoffLineRe.FindStringIndex(text); loc != nil {
		before := strings.TrimRight(text[:loc[0]], " \t\n")
		if alnumCount(before) > 0 {
			return before, strings.TrimSpace(text[loc[0]:])
		}
	}

	normalized := normalizeNewlines(text)
	rawLines := strings.Split(normalized, "\n")
	lines := make([]string, len(rawLines))
	for i, ln := range rawLines {
		lines[i] = strings.TrimRight(ln, " \t")
	}
	if len(lines) < 6 {
		return strings.TrimSpace(text), ""
	}

	end := len(lines) - 1
	for end >= 0 && strings.TrimSpace(lines[end]) == "" {
		end--
	}
	if end <= 2 {
		return strings.TrimSpace(text), ""
	}

	startSearch := end - 14
	if startSearch < 0 {
		startSearch = 0
	}
	window := lines[startSearch : end+1]

	sigEnd := end
	sigStart := sigEnd
	strongLines := 0
	anySignoff := false

	for i := len(window) - 1; i >= 0; i-- {
		line := strings.TrimSpace(window[i])
		if line == "" {
			// One internal blank line is fine; a gap after collecting
			// something ends the block.
			if sigStart < sigEnd {
				break
			}
			continue
		}
		if sigSignoffRe.MatchString(line) {
			anySignoff = true
			sigStart = startSearch + i
			continue
		}
		score := lineSigScore(line)
		if score <= 0 {
			break
		}
		if score >= 2 {
			strongLines++
		}
		sigStart = startSearch + i
	}

	// Pull in immediately preceding sign-off or bare-name lines, the
	// common "Kind regards,\nJohn Smith\n<contact info>" pattern.
	pulledAny := false
	for pullIdx := sigStart - 1; pullIdx >= 0 && pullIdx >= sigStart-3; pullIdx-- {
		prev := strings.TrimSpace(lines[pullIdx])
		if prev == "" {
			continue
		}
		if sigSignoffRe.MatchString(prev) || looksLikeName(prev) {
			sigStart = pullIdx
			pulledAny = true
			continue
		}
		break
	}
	if pulledAny {
		anySignoff = true
	}

	sigBlock := strings.TrimSpace(strings.Join(lines[sigStart:sigEnd+1], "\n"))
	bodyBlock := strings.TrimRight(strings.Join(lines[:sigStart], "\n"), " \t\n")

	hard := sigEmailRe.MatchString(sigBlock) || sigURLRe.MatchString(sigBlock)
	hasPhone := sigPhoneRe.MatchString(sigBlock)
	if (hard || hasPhone) && (anySignoff || strongLines >= 2) {
		if alnumCount(bodyBlock) >= 20 {
			return strings.TrimSpace(bodyBlock), sigBlock
		}
	}
	return strings.TrimSpace(text), ""
}
