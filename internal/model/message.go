package model

import (
	"sort"
	"strings"
	"time"
)

// EmailMessage is the queryable projection of one message occurrence. The
// forensic record triad is the ground truth; this row exists for review,
// threading, and dedupe passes.
type EmailMessage struct {
	ID                string     `json:"id"`
	RunID             string     `json:"run_id"`
	Project           string     `json:"project"`
	FolderPath        string     `json:"folder_path"`
	MessageID         string     `json:"message_id"`
	InReplyTo         string     `json:"in_reply_to"`
	References        []string   `json:"references,omitempty"`
	ConversationIndex string     `json:"conversation_index,omitempty"`
	Subject           string     `json:"subject"`
	SenderName        string     `json:"sender_name"`
	SenderEmail       string     `json:"sender_email"`
	ToRecipients      []string   `json:"to_recipients,omitempty"`
	CcRecipients      []string   `json:"cc_recipients,omitempty"`
	BccRecipients     []string   `json:"bcc_recipients,omitempty"`
	Date              *time.Time `json:"date,omitempty"`

	BodyPreview     string `json:"body_preview"`
	BodyText        string `json:"body_text,omitempty"`
	BodySource      string `json:"body_source,omitempty"`
	BodyBlobKey     string `json:"body_blob_key,omitempty"`
	ContentHash     string `json:"content_hash"`
	SourceHash      string `json:"source_hash"`
	HasAttachments  bool   `json:"has_attachments"`
	AttachmentCount int    `json:"attachment_count"`

	ThreadGroupID    string  `json:"thread_group_id,omitempty"`
	ThreadParentID   string  `json:"thread_parent_id,omitempty"`
	ThreadPosition   int     `json:"thread_position,omitempty"`
	ThreadPath       string  `json:"thread_path,omitempty"`
	ThreadMethod     string  `json:"thread_method,omitempty"`
	ThreadConfidence float64 `json:"thread_confidence,omitempty"`

	IsDuplicate bool   `json:"is_duplicate"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
	DedupeTier  string `json:"dedupe_tier,omitempty"`

	Meta map[string]any `json:"meta,omitempty"`
}

// Participants returns the normalized set of all addresses on the message,
// sender included, sorted and deduplicated.
func (m *EmailMessage) Participants() []string {
	seen := make(map[string]struct{})
	add := func(addr string) {
		a := NormalizeAddress(addr)
		if a != "" {
			seen[a] = struct{}{}
		}
	}
	add(m.SenderEmail)
	for _, r := range m.ToRecipients {
		add(r)
	}
	for _, r := range m.CcRecipients {
		add(r)
	}
	for _, r := range m.BccRecipients {
		add(r)
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// NormalizeAddress lowercases an address and strips display-name framing.
// "Jane Doe <Jane@X.COM>" becomes "jane@x.com".
func NormalizeAddress(addr string) string {
	a := strings.TrimSpace(addr)
	if i := strings.LastIndex(a, "<"); i >= 0 {
		if j := strings.Index(a[i:], ">"); j > 0 {
			a = a[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(a))
}
