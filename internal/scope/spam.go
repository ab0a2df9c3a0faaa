package scope

import (
	"regexp"
	"strings"
)

// Result is the outcome of classifying one message.
type Result struct {
	IsSpam   bool
	Score    int // 0-100 confidence
	Category string
	IsHidden bool // high-confidence matches are hidden from review
}

// PatternGroup is a set of subject patterns sharing a category,
// confidence, and auto-hide behavior.
type PatternGroup struct {
	Category   string
	Patterns   []string
	Confidence int
	AutoHide   bool
}

// High-confidence groups are hidden automatically; medium-confidence
// groups are tagged only, since they can still carry useful content.
var highConfidenceGroups = []PatternGroup{
	{
		Category: "non_email",
		Patterns: []string{
			// Mailbox item classes that are not actual mail.
			`^IPM\.Activity$`,
			`^IPM\.Appointment`,
			`^IPM\.Task`,
			`^IPM\.Contact`,
			`^IPM\.StickyNote`,
			`^IPM\.Schedule`,
			`^IPM\.DistList`,
			`^IPM\.Post`,
			`^-$`,
			`^$`,
		},
		Confidence: 100,
		AutoHide:   true,
	},
	{
		Category: "marketing",
		Patterns: []string{
			`\bwebinar\b`,
			`\bexhibition\b`,
			`\bconference\b`,
			`\bsummit\b`,
			`\d+%\s*off\b`,
			`\bdiscount\b`,
			`\bfree pass\b`,
			`\bstands? remaining\b`,
			`\bstands? sold\b`,
			`\bsecure yours\b`,
			`\bearly bird\b`,
			`\bregister now\b`,
			`\bbook your\b`,
			`\bspecial offer\b`,
		},
		Confidence: 95,
		AutoHide:   true,
	},
	{
		Category: "linkedin",
		Patterns: []string{
			`person is noticing`,
			`person noticed`,
			`people viewed your profile`,
			`new connection`,
			`linkedin\.com`,
		},
		Confidence: 98,
		AutoHide:   true,
	},
	{
		Category: "news_digest",
		Patterns: []string{
			`\.\.appointed to`,
			`\.\.framework`,
			`contractors? appointed`,
			`\d+\s*(?:firms?|contractors?)\s*appointed`,
			`contract (?:win|awarded)`,
			`framework (?:win|awarded)`,
		},
		Confidence: 90,
		AutoHide:   true,
	},
	{
		Category: "date_only",
		Patterns: []string{
			// Subject is just a timestamp: "2021-07-08 12:32:33"
			`^20\d{2}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}(?:\.msg)?$`,
		},
		Confidence: 85,
		AutoHide:   true,
	},
	{
		Category: "vendor_discount",
		Patterns: []string{
			`trade discount`,
			`%\s*off your next order`,
		},
		Confidence: 90,
		AutoHide:   true,
	},
}

var mediumConfidenceGroups = []PatternGroup{
	{
		Category: "out_of_office",
		Patterns: []string{
			`automatic reply[:\s]`,
			`out of (?:the )?office`,
			`away from (?:my )?(?:desk|office)`,
			`on (?:annual )?leave`,
			`currently unavailable`,
		},
		Confidence: 75,
		AutoHide:   false,
	},
	{
		Category: "hr_automated",
		Patterns: []string{
			`\d+\s*(?:month|day|week)\s*check[- ]?up`,
			`check[- ]?up for`,
			`probation review`,
			`performance review reminder`,
		},
		Confidence: 70,
		AutoHide:   false,
	},
	{
		Category: "survey",
		Patterns: []string{
			`\bsurvey\b`,
			`feedback request`,
			`your opinion`,
			`rate your experience`,
			`how did we do`,
		},
		Confidence: 65,
		AutoHide:   false,
	},
	{
		Category: "training",
		Patterns: []string{
			`\bcpd\b`,
			`training (?:course|session)`,
			`learning module`,
			`certification expir`,
		},
		Confidence: 60,
		AutoHide:   false,
	},
	{
		Category: "leave_request",
		Patterns: []string{
			`leave request`,
			`holiday request`,
			`time off request`,
			`absence notification`,
		},
		Confidence: 55,
		AutoHide:   false,
	},
}

var spamSenderPatterns = []string{
	`noreply@`,
	`no-reply@`,
	`donotreply@`,
	`marketing@`,
	`newsletter@`,
	`notifications?@linkedin`,
	`@eventbrite\.com$`,
	`@mailchimp\.com$`,
	`@sendgrid\.net$`,
}

// Classifier tags a message as spam/low-value from its subject and
// sender. Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(subject, sender, body string) Result
}

type compiledGroup struct {
	group    PatternGroup
	patterns []*regexp.Regexp
}

// PatternClassifier is the default Classifier: fixed pattern groups plus
// optional per-project terms compiled at construction.
type PatternClassifier struct {
	high   []compiledGroup
	medium []compiledGroup
	sender []*regexp.Regexp
}

// NewPatternClassifier compiles the built-in pattern groups. Project
// terms, when given, form an extra high-confidence "other_projects" group
// matched as literal phrases.
func NewPatternClassifier(otherProjectTerms []string) *PatternClassifier {
	c := &PatternClassifier{}

	groups := highConfidenceGroups
	if len(otherProjectTerms) > 0 {
		var pats []string
		for _, t := range otherProjectTerms {
			if t = strings.TrimSpace(t); t != "" {
				pats = append(pats, regexp.QuoteMeta(strings.ToLower(t)))
			}
		}
		if len(pats) > 0 {
			groups = append(groups, PatternGroup{
				Category:   "other_projects",
				Patterns:   pats,
				Confidence: 92,
				AutoHide:   true,
			})
		}
	}

	for _, g := range groups {
		c.high = append(c.high, compileGroup(g))
	}
	for _, g := range mediumConfidenceGroups {
		c.medium = append(c.medium, compileGroup(g))
	}
	for _, p := range spamSenderPatterns {
		c.sender = append(c.sender, regexp.MustCompile(`(?i)`+p))
	}
	return c
}

func compileGroup(g PatternGroup) compiledGroup {
	cg := compiledGroup{group: g}
	for _, p := range g.Patterns {
		cg.patterns = append(cg.patterns, regexp.MustCompile(`(?i)`+p))
	}
	return cg
}

// Classify checks high-confidence groups first, then sender patterns,
// then medium-confidence groups with a sender boost. A spammy sender with
// no subject match tags low-confidence "automated" without hiding.
func (c *PatternClassifier) Classify(subject, sender, body string) Result {
	subject = strings.TrimSpace(subject)
	sender = strings.ToLower(strings.TrimSpace(sender))

	for _, cg := range c.high {
		for _, p := range cg.patterns {
			if p.MatchString(subject) {
				return Result{
					IsSpam:   true,
					Score:    cg.group.Confidence,
					Category: cg.group.Category,
					IsHidden: cg.group.AutoHide,
				}
			}
		}
	}

	senderSpammy := false
	for _, p := range c.sender {
		if p.MatchString(sender) {
			senderSpammy = true
			break
		}
	}

	for _, cg := range c.medium {
		for _, p := range cg.patterns {
			if p.MatchString(subject) {
				score := cg.group.Confidence
				if senderSpammy {
					score += 10
				}
				if score > 100 {
					score = 100
				}
				return Result{
					IsSpam:   true,
					Score:    score,
					Category: cg.group.Category,
					IsHidden: cg.group.AutoHide,
				}
			}
		}
	}

	if senderSpammy {
		return Result{IsSpam: true, Score: 40, Category: "automated"}
	}
	return Result{}
}

// ExtractOtherProject returns the display label of the other-project term
// found in the subject, or "". Used only to populate meta fields.
func ExtractOtherProject(subject string, terms []string) string {
	lower := strings.ToLower(subject)
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			return titleCase(strings.ToLower(t))
		}
	}
	return ""
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
