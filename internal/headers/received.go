package headers

import (
	"regexp"
	"strings"
	"time"
)

// ReceivedHop is one parsed Received header. Hops appear newest-first in
// the header blob; Index preserves that order.
type ReceivedHop struct {
	Index    int
	Raw      string
	Date     *time.Time
	ParsedOK bool
	From     string
	By       string
	With     string
	ID       string
	For      string
}

var receivedKeyRe = regexp.MustCompile(`(?i)\b(from|by|with|id|for)\b`)

var foldWhitespaceRe = regexp.MustCompile(`\s+`)

// ParseReceived parses the route and timestamp out of each Received
// header value. Unparseable hops are kept with ParsedOK false so the hop
// count stays faithful to the source.
func ParseReceived(values []string) []ReceivedHop {
	hops := make([]ReceivedHop, 0, len(values))
	for idx, raw := range values {
		unfolded := strings.TrimSpace(foldWhitespaceRe.ReplaceAllString(raw, " "))
		route := unfolded
		var dateRaw string
		if i := strings.Index(unfolded, ";"); i >= 0 {
			route = strings.TrimSpace(unfolded[:i])
			dateRaw = strings.TrimSpace(unfolded[i+1:])
		}
		date := ParseDate(dateRaw)

		hop := ReceivedHop{
			Index:    idx,
			Raw:      unfolded,
			Date:     date,
			ParsedOK: date != nil,
		}
		// Slice the route into keyword-delimited segments. RE2 has no
		// lookahead, so segment ends come from the next keyword match.
		keys := receivedKeyRe.FindAllStringIndex(route, -1)
		for i, k := range keys {
			end := len(route)
			if i+1 < len(keys) {
				end = keys[i+1][0]
			}
			val := strings.TrimSpace(route[k[1]:end])
			if val == "" {
				continue
			}
			switch strings.ToLower(route[k[0]:k[1]]) {
			case "from":
				if hop.From == "" {
					hop.From = val
				}
			case "by":
				if hop.By == "" {
					hop.By = val
				}
			case "with":
				if hop.With == "" {
					hop.With = val
				}
			case "id":
				if hop.ID == "" {
					hop.ID = val
				}
			case "for":
				if hop.For == "" {
					hop.For = val
				}
			}
		}
		hops = append(hops, hop)
	}
	return hops
}

// ReceivedTimeBounds returns the earliest and latest hop timestamps, or
// nils when no hop carried a parseable date.
func ReceivedTimeBounds(hops []ReceivedHop) (minTime, maxTime *time.Time) {
	for _, h := range hops {
		if h.Date == nil {
			continue
		}
		if minTime == nil || h.Date.Before(*minTime) {
			t := *h.Date
			minTime = &t
		}
		if maxTime == nil || h.Date.After(*maxTime) {
			t := *h.Date
			maxTime = &t
		}
	}
	return minTime, maxTime
}
