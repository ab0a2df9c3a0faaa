// Package headers provides tolerant RFC 5322 header parsing for forensic
// ingestion. Malformed input never fails: the worst case is an empty map.
package headers

import (
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Header is one name/value pair with the original casing preserved.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered, case-insensitive multimap over a raw header blob.
type Headers struct {
	list  []Header
	index map[string][]int
}

// Parse builds a Headers from a raw header blob. Folded continuation
// lines (leading space or tab) are joined with a single space. Lines
// without a colon are skipped rather than treated as errors.
func Parse(raw string) *Headers {
	h := &Headers{index: make(map[string][]int)}
	if raw == "" {
		return h
	}

	// Stop at the blank line separating headers from body, if present.
	if i := strings.Index(raw, "\r\n\r\n"); i >= 0 {
		raw = raw[:i]
	} else if i := strings.Index(raw, "\n\n"); i >= 0 {
		raw = raw[:i]
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var cur *Header
	for _, line := range lines {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && cur != nil {
			cur.Value += " " + strings.TrimSpace(line)
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			cur = nil
			continue
		}
		name := strings.TrimSpace(line[:colon])
		if name == "" {
			cur = nil
			continue
		}
		h.list = append(h.list, Header{Name: name, Value: strings.TrimSpace(line[colon+1:])})
		cur = &h.list[len(h.list)-1]
	}

	for i, hdr := range h.list {
		key := strings.ToLower(hdr.Name)
		h.index[key] = append(h.index[key], i)
	}
	return h
}

// Get returns the first value for name, case-insensitively, or "".
func (h *Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	idx := h.index[strings.ToLower(name)]
	if len(idx) == 0 {
		return ""
	}
	return h.list[idx[0]].Value
}

// GetAll returns every value for name in original order.
func (h *Headers) GetAll(name string) []string {
	if h == nil {
		return nil
	}
	idx := h.index[strings.ToLower(name)]
	if len(idx) == 0 {
		return nil
	}
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		if v := h.list[i].Value; v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of parsed header fields.
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.list)
}

var angleBracketRe = regexp.MustCompile(`<([^>]+)>`)

// NormalizeMessageID extracts the identifier from a Message-ID style value
// and lowercases it. Returns "" when nothing usable remains.
func NormalizeMessageID(value string) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	if m := angleBracketRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "<>"))
	return strings.ToLower(text)
}

var refSplitRe = regexp.MustCompile(`[,\s]+`)

// ParseReferences parses a References header into normalized, deduplicated
// message ids in order. Angle-bracket tokens are preferred; bare
// comma/space separated ids are a fallback for sloppy producers.
func ParseReferences(value string) []string {
	if value == "" {
		return nil
	}
	tokens := angleBracketRe.FindAllStringSubmatch(value, -1)
	var raw []string
	if len(tokens) > 0 {
		for _, m := range tokens {
			raw = append(raw, m[1])
		}
	} else {
		raw = refSplitRe.Split(value, -1)
	}

	var refs []string
	seen := make(map[string]struct{})
	for _, tok := range raw {
		ref := NormalizeMessageID(tok)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a Date style header value, trying the common RFC
// layouts before degrading to looser forms. The result is normalized to
// UTC. Returns nil when no layout matches.
func ParseDate(value string) *time.Time {
	text := strings.TrimSpace(value)
	if text == "" {
		return nil
	}
	// Drop trailing comment like "(UTC)" when a zone offset is present.
	if i := strings.Index(text, " ("); i > 0 && strings.HasSuffix(text, ")") {
		if t := tryLayouts(text[:i]); t != nil {
			return t
		}
	}
	return tryLayouts(text)
}

func tryLayouts(text string) *time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// ConversationIndex is a decoded Outlook Conversation-Index value.
type ConversationIndex struct {
	Root  string // hex of the first 22 bytes, stable across the thread
	Depth int    // number of trailing 5-byte response blocks
	Hex   string // full normalized hex value
}

// DecodeConversationIndex decodes an Outlook Conversation-Index hex
// string. The first 22 bytes identify the thread root; each reply appends
// a 5 byte block. Malformed input decodes to nil.
func DecodeConversationIndex(convIndexHex string) *ConversationIndex {
	text := strings.TrimSpace(convIndexHex)
	if text == "" {
		return nil
	}
	data, err := hex.DecodeString(text)
	if err != nil || len(data) < 22 {
		return nil
	}
	depth := (len(data) - 22) / 5
	return &ConversationIndex{
		Root:  hex.EncodeToString(data[:22]),
		Depth: depth,
		Hex:   strings.ToLower(text),
	}
}

// ParentHex returns the conversation index of the parent message, formed
// by truncating the last response block. Returns "" at the root.
func (c *ConversationIndex) ParentHex() string {
	if c == nil || c.Depth == 0 {
		return ""
	}
	data, err := hex.DecodeString(c.Hex)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(data[:len(data)-5])
}
