package store

import (
	"context"

	"github.com/caseprobe/discovery-cli/internal/model"
)

// Batch buffers one flush worth of records. The pipeline accumulates into
// a Batch and the store commits all of it in a single transaction.
type Batch struct {
	Raws        []model.MessageRaw
	Occurrences []model.MessageOccurrence
	Deriveds    []model.MessageDerived
	Emails      []model.EmailMessage
	Attachments []model.EmailAttachment
}

// Len returns the total number of buffered records.
func (b *Batch) Len() int {
	return len(b.Raws) + len(b.Occurrences) + len(b.Deriveds) + len(b.Emails) + len(b.Attachments)
}

// RunFilter specifies criteria for listing ingestion runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	Project string          `json:"project,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline and
// the threading and dedupe passes. An empty project in the scoped methods
// means the whole corpus.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, archiveLocator, archiveName, project string) (*model.IngestRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error
	FailRun(ctx context.Context, runID string, runErr string, stats *model.RunStats) error
	GetRun(ctx context.Context, runID string) (*model.IngestRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error)

	// Ingestion
	FlushBatch(ctx context.Context, batch *Batch) error
	ReportProgress(ctx context.Context, runID, phase string, processed int) error

	// Corpus reads for the threading and dedupe passes
	ListEmails(ctx context.Context, project string) ([]*model.EmailMessage, error)
	ListAttachmentHashes(ctx context.Context, project string) (map[string][]string, error)

	// Threading
	ClearThreadLinks(ctx context.Context, project string) error
	WriteThreadLinks(ctx context.Context, links []model.ThreadLinkDecision) error
	UpdateThreadFields(ctx context.Context, updates []model.ThreadUpdate) error

	// Dedupe
	ClearDedupe(ctx context.Context, project string) error
	WriteDedupe(ctx context.Context, updates []model.DedupeUpdate, decisions []model.DedupeDecision) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
