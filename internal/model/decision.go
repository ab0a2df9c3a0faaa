package model

import "time"

// ThreadLinkDecision records why a message was linked to its thread
// parent, including the alternatives that were considered, so a reviewer
// can audit the reconstruction.
type ThreadLinkDecision struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	EmailID      string    `json:"email_id"`
	ParentID     string    `json:"parent_id,omitempty"`
	Method       string    `json:"method"`
	Confidence   float64   `json:"confidence"`
	Alternatives []string  `json:"alternatives,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Threading link methods, in precedence order.
const (
	ThreadMethodInReplyTo   = "in_reply_to"
	ThreadMethodReferences  = "references"
	ThreadMethodConvIndex   = "conversation_index"
	ThreadMethodQuotedHash  = "quoted_hash"
	ThreadMethodSubjectTime = "subject_window"
	ThreadMethodRoot        = "root"
)

// ThreadUpdate carries the per-email thread fields produced by a
// reconstruction pass, ready to be written back to the store.
type ThreadUpdate struct {
	EmailID    string
	GroupID    string
	ParentID   string
	Position   int
	Path       string
	Method     string
	Confidence float64
}

// DedupeUpdate flags one loser as a duplicate of its group winner.
type DedupeUpdate struct {
	EmailID     string
	DuplicateOf string
	Tier        string
}

// DedupeDecision records one winner/loser pairing from a deduplication
// pass, with the tier that matched and both rank tuples.
type DedupeDecision struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	WinnerID   string    `json:"winner_id"`
	LoserID    string    `json:"loser_id"`
	Tier       string    `json:"tier"`
	MatchKey   string    `json:"match_key"`
	WinnerRank string    `json:"winner_rank"`
	LoserRank  string    `json:"loser_rank"`
	GroupSize  int       `json:"group_size"`
	CreatedAt  time.Time `json:"created_at"`
}

// Dedupe tiers, strongest first.
const (
	DedupeTierMessageID = "message_id"
	DedupeTierStrict    = "strict_hash"
	DedupeTierRelaxed   = "relaxed_hash"
)
