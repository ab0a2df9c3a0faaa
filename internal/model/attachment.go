package model

import "time"

// EmailAttachment is one attachment occurrence on one message. Content is
// stored once per distinct hash in the blob store; every occurrence row
// points at the same storage key, with IsDuplicate marking the ones that
// reused an already-uploaded object.
type EmailAttachment struct {
	ID             string    `json:"id"`
	EmailID        string    `json:"email_id"`
	RunID          string    `json:"run_id"`
	Filename       string    `json:"filename"`
	ContentType    string    `json:"content_type"`
	ContentID      string    `json:"content_id,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`
	AttachmentHash string    `json:"attachment_hash"`
	StorageKey     string    `json:"storage_key"`
	IsInline       bool      `json:"is_inline"`
	IsDuplicate    bool      `json:"is_duplicate"`
	CreatedAt      time.Time `json:"created_at"`
}
