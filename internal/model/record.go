package model

import "time"

// The forensic record triad. All three tables are append-only: a re-run of
// the same archive appends new occurrence rows rather than mutating
// existing ones, so chain of custody survives reprocessing.

// MessageRaw is the immutable capture of a message exactly as read from
// the archive, identified by its content-addressed source hash.
type MessageRaw struct {
	ID          string    `json:"id"`
	SourceHash  string    `json:"source_hash"`
	RunID       string    `json:"run_id"`
	HeadersBlob string    `json:"headers_blob"`
	BodyPlain   string    `json:"body_plain,omitempty"`
	BodyHTML    string    `json:"body_html,omitempty"`
	BodyRTF     []byte    `json:"body_rtf,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
	ToolVersion string    `json:"tool_version"`
}

// MessageOccurrence records where a raw message was found: which archive,
// which folder, which run. The same source hash may occur many times.
type MessageOccurrence struct {
	ID             string    `json:"id"`
	SourceHash     string    `json:"source_hash"`
	RunID          string    `json:"run_id"`
	ArchiveLocator string    `json:"archive_locator"`
	FolderPath     string    `json:"folder_path"`
	EmailID        string    `json:"email_id"`
	SeenAt         time.Time `json:"seen_at"`
}

// MessageDerived holds everything computed from a raw message: canonical
// body, hashes, and normalization provenance. NormalizerVersion plus
// RulesetHash pin exactly which cleaning rules produced the canonical
// text, so a derived row is reproducible.
type MessageDerived struct {
	ID                string    `json:"id"`
	SourceHash        string    `json:"source_hash"`
	RunID             string    `json:"run_id"`
	BodySource        string    `json:"body_source"`
	CanonicalBody     string    `json:"canonical_body"`
	TopBody           string    `json:"top_body"`
	QuotedBody        string    `json:"quoted_body,omitempty"`
	Signature         string    `json:"signature,omitempty"`
	ContentHash       string    `json:"content_hash"`
	StrictHash        string    `json:"strict_hash"`
	RelaxedHash       string    `json:"relaxed_hash"`
	QuotedAnchorHash  string    `json:"quoted_anchor_hash,omitempty"`
	NormalizerVersion string    `json:"normalizer_version"`
	RulesetHash       string    `json:"ruleset_hash"`
	MinHopSecs        *int64    `json:"min_hop_secs,omitempty"`
	MaxHopSecs        *int64    `json:"max_hop_secs,omitempty"`
	DerivedAt         time.Time `json:"derived_at"`
}
