package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/caseprobe/discovery-cli/internal/model"
	"github.com/caseprobe/discovery-cli/internal/store"
	"github.com/caseprobe/discovery-cli/pkg/searchidx"
)

type progressEntry struct {
	phase     string
	processed int
}

// memStore is an in-memory store.Store for pipeline tests.
type memStore struct {
	mu sync.Mutex

	runs     map[string]*model.IngestRun
	statuses map[string][]model.RunStatus

	raws        []model.MessageRaw
	occurrences []model.MessageOccurrence
	deriveds    []model.MessageDerived
	emails      []model.EmailMessage
	attachments []model.EmailAttachment

	links         []model.ThreadLinkDecision
	threadUpdates []model.ThreadUpdate
	dedupeUpdates []model.DedupeUpdate
	decisions     []model.DedupeDecision

	progress []progressEntry

	flushErr error
	flushes  int
}

func newMemStore() *memStore {
	return &memStore{
		runs:     make(map[string]*model.IngestRun),
		statuses: make(map[string][]model.RunStatus),
	}
}

func (s *memStore) CreateRun(ctx context.Context, archiveLocator, archiveName, project string) (*model.IngestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &model.IngestRun{
		ID:             uuid.NewString(),
		ArchiveLocator: archiveLocator,
		ArchiveName:    archiveName,
		Project:        project,
		Status:         model.RunStatusQueued,
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *memStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID].Status = status
	s.statuses[runID] = append(s.statuses[runID], status)
	return nil
}

func (s *memStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.runs[runID]
	r.Status = model.RunStatusCompleted
	r.Stats = stats
	return nil
}

func (s *memStore) FailRun(ctx context.Context, runID string, runErr string, stats *model.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.runs[runID]
	r.Status = model.RunStatusFailed
	r.Error = runErr
	r.Stats = stats
	return nil
}

func (s *memStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *s.runs[runID]
	return &r, nil
}

func (s *memStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.IngestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.IngestRun
	for _, r := range s.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (s *memStore) FlushBatch(ctx context.Context, batch *store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushErr != nil {
		return s.flushErr
	}
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	s.raws = append(s.raws, batch.Raws...)
	s.occurrences = append(s.occurrences, batch.Occurrences...)
	s.deriveds = append(s.deriveds, batch.Deriveds...)
	s.emails = append(s.emails, batch.Emails...)
	s.attachments = append(s.attachments, batch.Attachments...)
	s.flushes++
	return nil
}

func (s *memStore) ReportProgress(ctx context.Context, runID, phase string, processed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progressEntry{phase: phase, processed: processed})
	return nil
}

func (s *memStore) ListEmails(ctx context.Context, project string) ([]*model.EmailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.EmailMessage
	for i := range s.emails {
		m := s.emails[i]
		if project != "" && m.Project != project {
			continue
		}
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Date, out[j].Date
		switch {
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.Before(*dj)
		case di == nil && dj != nil:
			return false
		case di != nil && dj == nil:
			return true
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) ListAttachmentHashes(ctx context.Context, project string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string)
	for _, a := range s.attachments {
		if a.AttachmentHash == "" {
			continue
		}
		out[a.EmailID] = append(out[a.EmailID], a.AttachmentHash)
	}
	return out, nil
}

func (s *memStore) ClearThreadLinks(ctx context.Context, project string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = nil
	return nil
}

func (s *memStore) WriteThreadLinks(ctx context.Context, links []model.ThreadLinkDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, links...)
	return nil
}

func (s *memStore) UpdateThreadFields(ctx context.Context, updates []model.ThreadUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadUpdates = append(s.threadUpdates, updates...)
	return nil
}

func (s *memStore) ClearDedupe(ctx context.Context, project string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedupeUpdates = nil
	s.decisions = nil
	return nil
}

func (s *memStore) WriteDedupe(ctx context.Context, updates []model.DedupeUpdate, decisions []model.DedupeDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedupeUpdates = append(s.dedupeUpdates, updates...)
	s.decisions = append(s.decisions, decisions...)
	return nil
}

func (s *memStore) Migrate(ctx context.Context) error { return nil }
func (s *memStore) Close() error                      { return nil }

var _ store.Store = (*memStore)(nil)

// captureIndexer records indexed documents.
type captureIndexer struct {
	mu   sync.Mutex
	docs []searchidx.Document
}

func (c *captureIndexer) Index(ctx context.Context, doc searchidx.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
	return nil
}

func (c *captureIndexer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}
