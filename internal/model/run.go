package model

import "time"

// RunStatus represents the current state of an ingestion run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusFetching   RunStatus = "fetching"
	RunStatusProcessing RunStatus = "processing"
	RunStatusThreading  RunStatus = "threading"
	RunStatusDeduping   RunStatus = "deduping"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// IngestRun represents a single archive ingestion run. A run either
// completes with final stats or fails with an error message; it is never
// left in a terminal state without one of the two.
type IngestRun struct {
	ID             string     `json:"id"`
	ArchiveLocator string     `json:"archive_locator"`
	ArchiveName    string     `json:"archive_name"`
	Project        string     `json:"project"`
	Status         RunStatus  `json:"status"`
	Stats          *RunStats  `json:"stats,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// RunStats accumulates counters over an ingestion run. It is updated by a
// single goroutine (the walk loop) and serialized into the run record.
type RunStats struct {
	TotalMessages     int      `json:"total_messages"`
	EmailsProcessed   int      `json:"emails_processed"`
	EmailsExcluded    int      `json:"emails_excluded"`
	FoldersVisited    int      `json:"folders_visited"`
	NodesSkipped      int      `json:"nodes_skipped"`
	Attachments       int      `json:"attachments"`
	UniqueAttachments int      `json:"unique_attachments"`
	AttachmentsSkipped int      `json:"attachments_skipped"`
	BodiesOffloaded   int      `json:"bodies_offloaded"`
	ThreadsFound      int      `json:"threads_found"`
	DuplicatesFound   int      `json:"duplicates_found"`
	BytesSaved        int64    `json:"bytes_saved"`
	Errors            []string `json:"errors,omitempty"`
}

// AddError records a non-fatal per-node error, capped to keep the run
// record bounded.
func (s *RunStats) AddError(msg string) {
	if len(s.Errors) >= 200 {
		return
	}
	s.Errors = append(s.Errors, msg)
}
