// Package forensic computes the content-addressed identities that make
// ingestion evidence-grade: every hash here is a pure function of its
// inputs, so reprocessing the same archive yields the same ids.
package forensic

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ToolVersion identifies the extraction tool generation. It participates
// in the source hash so records from different extractor versions never
// collide silently.
const ToolVersion = "discovery-cli/1.0"

// hashJSON hashes the canonical JSON of payload. encoding/json emits map
// keys sorted, which is what makes this canonical.
func hashJSON(payload map[string]any) string {
	blob, err := json.Marshal(payload)
	if err != nil {
		// Maps of strings and slices cannot fail to marshal; guard anyway.
		blob = []byte(err.Error())
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// HashText returns the sha256 hex of text, or "" for empty input.
func HashText(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SourceIdentity pins where a message came from. Two reads of the same
// message in the same archive produce the same SourceHash.
type SourceIdentity struct {
	SourceType        string
	ArchiveLocator    string
	FolderPath        string
	MessageID         string
	ConversationIndex string
	Subject           string
	Date              *time.Time
}

// SourceHash computes the content-addressed identity of a raw message.
func SourceHash(id SourceIdentity) string {
	return hashJSON(map[string]any{
		"source_type":        id.SourceType,
		"archive_locator":    id.ArchiveLocator,
		"folder_path":        id.FolderPath,
		"message_id":         strings.ToLower(strings.TrimSpace(id.MessageID)),
		"conversation_index": strings.ToLower(id.ConversationIndex),
		"subject":            strings.TrimSpace(id.Subject),
		"date":               formatDate(id.Date),
		"tool_version":       ToolVersion,
	})
}

// ContentHash is the phase-one identity used for the queryable row:
// canonical body plus the visible envelope.
func ContentHash(canonicalBody, senderEmail, senderName string, toRecipients []string, subject string, date *time.Time) string {
	normFrom := strings.ToLower(strings.TrimSpace(senderEmail))
	if normFrom == "" {
		normFrom = strings.ToLower(strings.TrimSpace(senderName))
	}
	return hashJSON(map[string]any{
		"body":    canonicalBody,
		"from":    normFrom,
		"to":      strings.Join(normList(toRecipients), ","),
		"subject": strings.ToLower(strings.TrimSpace(subject)),
		"date":    formatDate(date),
	})
}

// Envelope carries the participant fields shared by the dedupe hashes.
type Envelope struct {
	SenderEmail   string
	ToRecipients  []string
	CcRecipients  []string
	BccRecipients []string
	SubjectKey    string
	Date          *time.Time
	Attachments   []string // sorted attachment content hashes
}

// StrictHash fingerprints a message for exact duplicate detection: full
// normalized body, all participants, subject key, date, and attachment
// hashes.
func StrictHash(normalizedBody string, env Envelope) string {
	return hashJSON(map[string]any{
		"body":        normalizedBody,
		"from":        strings.ToLower(strings.TrimSpace(env.SenderEmail)),
		"to":          normList(env.ToRecipients),
		"cc":          normList(env.CcRecipients),
		"bcc":         normList(env.BccRecipients),
		"subject":     env.SubjectKey,
		"date":        formatDate(env.Date),
		"attachments": sortedCopy(env.Attachments),
	})
}

// RelaxedHash is StrictHash without the date and with the signature
// already stripped from the body, catching near-duplicates that differ
// only in transport timestamps or signature churn.
func RelaxedHash(relaxedBody string, env Envelope) string {
	return hashJSON(map[string]any{
		"body":        relaxedBody,
		"from":        strings.ToLower(strings.TrimSpace(env.SenderEmail)),
		"to":          normList(env.ToRecipients),
		"cc":          normList(env.CcRecipients),
		"bcc":         normList(env.BccRecipients),
		"subject":     env.SubjectKey,
		"attachments": sortedCopy(env.Attachments),
	})
}

// HashReaderChunked hashes r in fixed-size chunks, returning the hex
// digest and total byte count. Chunking keeps memory flat for large
// attachments.
func HashReaderChunked(r io.Reader, chunkSize int) (string, int64, error) {
	if chunkSize <= 0 {
		chunkSize = 1024 * 1024
	}
	h := sha256.New()
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", total, eris.Wrap(err, "forensic: hash read")
		}
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func normList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
