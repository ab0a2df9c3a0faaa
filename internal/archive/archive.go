// Package archive reads mailbox archives for ingestion. Traversal is
// iterative and tolerant: a single unreadable folder or message is
// recorded as a skip, never an abort, because a partially corrupt
// archive must still yield everything readable.
package archive

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrCorrupt means the container itself cannot be interpreted.
	ErrCorrupt = eris.New("archive: corrupt container")
	// ErrUnreadable means the archive cannot be opened at all.
	ErrUnreadable = eris.New("archive: unreadable")
)

// NodeError records one skipped node during a walk.
type NodeError struct {
	Path string
	Err  error
}

// Entry is one message positioned in the folder tree.
type Entry struct {
	FolderPath string
	Message    *Message
}

// WalkFunc receives each readable entry. Returning an error aborts the
// walk; per-node read failures never reach it.
type WalkFunc func(Entry) error

// Reader is a mailbox archive open for traversal. Implementations walk
// the folder tree iteratively with an explicit stack; archive folder
// nesting is user data and must not be able to exhaust the call stack.
type Reader interface {
	// Open validates the archive and prepares traversal.
	Open(ctx context.Context) error
	// Walk visits every readable message exactly once. Unreadable
	// nodes are recorded and skipped.
	Walk(ctx context.Context, fn WalkFunc) error
	// Skips returns the nodes skipped by the last Walk.
	Skips() []NodeError
	// Close releases resources.
	Close() error
}

// Counter is implemented by readers that can cheaply pre-count messages
// for progress reporting.
type Counter interface {
	CountMessages(ctx context.Context) (int, error)
}

// Message is one mail item as read from the archive, with all body
// representations preserved.
type Message struct {
	HeadersBlob       string
	Subject           string
	SenderName        string
	SenderEmail       string
	ToRecipients      []string
	CcRecipients      []string
	BccRecipients     []string
	Date              *time.Time
	ConversationIndex string // hex
	MessageClass      string

	BodyPlain string
	BodyHTML  string
	BodyRTF   []byte

	Attachments []Attachment
}

// Attachment is one attachment reference. Bytes is lazy so the walk can
// decide per attachment whether the content is worth materializing.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	IsInline    bool
	Size        int64

	read func() ([]byte, error)
}

// Bytes returns the attachment content. Errors here are per-attachment:
// the caller records a skip and moves on.
func (a *Attachment) Bytes() ([]byte, error) {
	if a.read == nil {
		return nil, eris.New("archive: attachment has no content")
	}
	return a.read()
}

// NewAttachment builds an attachment backed by an in-memory payload.
// Used by the mbox backend after MIME decoding and by test fixtures.
func NewAttachment(filename, contentType, contentID string, inline bool, data []byte) Attachment {
	return Attachment{
		Filename:    filename,
		ContentType: contentType,
		ContentID:   contentID,
		IsInline:    inline,
		Size:        int64(len(data)),
		read:        func() ([]byte, error) { return data, nil },
	}
}

// NewFailingAttachment builds an attachment whose content read fails.
// Test fixtures use it to exercise skip-on-error paths.
func NewFailingAttachment(filename string, err error) Attachment {
	return Attachment{
		Filename: filename,
		read:     func() ([]byte, error) { return nil, err },
	}
}
