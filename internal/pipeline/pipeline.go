// Package pipeline orchestrates an archive ingestion run: fetch, walk,
// per-message processing, durable batch commits, then the threading and
// deduplication passes over the persisted corpus.
package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caseprobe/discovery-cli/internal/archive"
	"github.com/caseprobe/discovery-cli/internal/config"
	"github.com/caseprobe/discovery-cli/internal/dedupe"
	"github.com/caseprobe/discovery-cli/internal/model"
	"github.com/caseprobe/discovery-cli/internal/resilience"
	"github.com/caseprobe/discovery-cli/internal/scope"
	"github.com/caseprobe/discovery-cli/internal/store"
	"github.com/caseprobe/discovery-cli/internal/thread"
	"github.com/caseprobe/discovery-cli/pkg/blob"
	"github.com/caseprobe/discovery-cli/pkg/searchidx"
)

// ReaderFactory opens an archive at a local path.
type ReaderFactory func(path string) archive.Reader

// Pipeline wires the ingestion dependencies together.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	blob    blob.Client
	indexer searchidx.Indexer
	gate    *scope.Gate

	readerFor ReaderFactory
}

// Option configures optional pipeline behavior.
type Option func(*Pipeline)

// WithReaderFactory overrides how archives are opened, used by tests.
func WithReaderFactory(f ReaderFactory) Option {
	return func(p *Pipeline) {
		p.readerFor = f
	}
}

// New creates a Pipeline. blob and indexer may be nil when object
// storage or search indexing is disabled.
func New(cfg *config.Config, st store.Store, bc blob.Client, idx searchidx.Indexer, gate *scope.Gate, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		store:   st,
		blob:    bc,
		indexer: idx,
		gate:    gate,
		readerFor: func(path string) archive.Reader {
			return archive.NewMboxArchive(path)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes a full ingestion run for one archive. Any fatal error
// marks the run failed with its message; a run is never left completed
// without its data durably committed.
func (p *Pipeline) Run(ctx context.Context, locator, project string) (*model.IngestRun, error) {
	log := zap.L().With(zap.String("archive", locator), zap.String("project", project))
	log.Info("pipeline: starting ingestion")

	run, err := p.store.CreateRun(ctx, locator, filepath.Base(locator), project)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	stats := &model.RunStats{}
	fail := func(cause error) (*model.IngestRun, error) {
		log.Error("pipeline: run failed", zap.String("run_id", run.ID), zap.Error(cause))
		if failErr := p.store.FailRun(ctx, run.ID, cause.Error(), stats); failErr != nil {
			log.Error("pipeline: could not mark run failed", zap.Error(failErr))
		}
		return run, cause
	}
	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	setStatus(model.RunStatusFetching)
	path, err := p.resolveArchive(ctx, locator)
	if err != nil {
		return fail(err)
	}

	reader := p.readerFor(path)
	if err := reader.Open(ctx); err != nil {
		return fail(eris.Wrap(err, "pipeline: open archive"))
	}
	defer reader.Close()

	if p.cfg.Ingest.PrecountMessages {
		if counter, ok := reader.(archive.Counter); ok {
			if total, countErr := counter.CountMessages(ctx); countErr == nil {
				log.Info("pipeline: archive precount", zap.Int("messages", total))
			} else {
				log.Warn("pipeline: precount failed", zap.Error(countErr))
			}
		}
	}

	if p.blob != nil {
		if err := p.blob.EnsureBucket(ctx, p.cfg.Blob.Bucket); err != nil {
			return fail(err)
		}
		if p.cfg.Blob.BodyBucket != "" {
			if err := p.blob.EnsureBucket(ctx, p.cfg.Blob.BodyBucket); err != nil {
				return fail(err)
			}
		}
	}

	setStatus(model.RunStatusProcessing)
	rs := &runState{
		runID:    run.ID,
		locator:  locator,
		project:  project,
		batch:    newBatcher(p.store, p.cfg.Ingest.BatchCommitSize),
		progress: newProgressReporter(p.store, run.ID, p.cfg.Ingest.ProgressIntervalSecs, p.cfg.Ingest.ProgressEvery),
		stats:    stats,
		folders:  make(map[string]struct{}),
	}
	if p.blob != nil {
		retry := resilience.FromRetryConfig(
			p.cfg.Retry.MaxAttempts, p.cfg.Retry.InitialBackoffMs, p.cfg.Retry.MaxBackoffMs,
			p.cfg.Retry.Multiplier, p.cfg.Retry.JitterFraction,
		)
		retry.OnRetry = resilience.RetryLogger("blob", "put_attachment")
		rs.uploads = newUploader(ctx, p.blob, p.cfg.Blob.Bucket, p.cfg.Ingest.UploadWorkers, retry)
	}

	walkErr := reader.Walk(ctx, func(e archive.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processMessage(ctx, e, rs); err != nil {
			return err
		}
		if rs.batch.full() {
			if err := rs.batch.flush(ctx, false); err != nil {
				return err
			}
			p.indexPending(ctx, rs)
		}
		rs.progress.report(ctx, string(model.RunStatusProcessing), rs.stats.TotalMessages)
		return nil
	})
	if walkErr != nil {
		return fail(eris.Wrap(walkErr, "pipeline: walk"))
	}

	for _, skip := range reader.Skips() {
		stats.NodesSkipped++
		stats.AddError("skip " + skip.Path + ": " + skip.Err.Error())
	}

	if err := rs.batch.flush(ctx, true); err != nil {
		return fail(err)
	}
	p.indexPending(ctx, rs)

	if rs.uploads != nil {
		if err := rs.uploads.wait(); err != nil {
			return fail(err)
		}
		stats.UniqueAttachments = rs.uploads.uniqueCount()
	}
	rs.progress.force(ctx, string(model.RunStatusProcessing), stats.TotalMessages)

	setStatus(model.RunStatusThreading)
	threadStats, err := p.RunThreadPass(ctx, run.ID, project)
	if err != nil {
		return fail(err)
	}
	stats.ThreadsFound = threadStats.ThreadsIdentified

	setStatus(model.RunStatusDeduping)
	dedupeStats, err := p.RunDedupePass(ctx, run.ID, project)
	if err != nil {
		return fail(err)
	}
	stats.DuplicatesFound = dedupeStats.DuplicatesFound

	rs.progress.force(ctx, string(model.RunStatusCompleted), stats.TotalMessages)
	if err := p.store.CompleteRun(ctx, run.ID, stats); err != nil {
		return fail(eris.Wrap(err, "pipeline: complete run"))
	}

	log.Info("pipeline: ingestion complete",
		zap.String("run_id", run.ID),
		zap.Int("messages", stats.TotalMessages),
		zap.Int("processed", stats.EmailsProcessed),
		zap.Int("excluded", stats.EmailsExcluded),
		zap.Int("threads", stats.ThreadsFound),
		zap.Int("duplicates", stats.DuplicatesFound))
	return p.store.GetRun(ctx, run.ID)
}

// resolveArchive returns a local path for the archive, fetching it from
// the object store when the locator is an s3:// URL.
func (p *Pipeline) resolveArchive(ctx context.Context, locator string) (string, error) {
	if !strings.HasPrefix(locator, "s3://") {
		return locator, nil
	}
	if p.blob == nil {
		return "", eris.Errorf("pipeline: %s requires object storage, which is not configured", locator)
	}

	rest := strings.TrimPrefix(locator, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", eris.Errorf("pipeline: malformed archive locator %s", locator)
	}

	workDir := p.cfg.Ingest.WorkDir
	if workDir == "" {
		workDir = "work"
	}
	return p.blob.FetchToFile(ctx, bucket, key, workDir)
}

// indexPending sends persisted emails to the search indexer. Indexing is
// best-effort: failures are logged and never fail the run.
func (p *Pipeline) indexPending(ctx context.Context, rs *runState) {
	if p.indexer == nil {
		rs.indexed = rs.indexed[:0]
		return
	}
	for i := range rs.indexed {
		m := &rs.indexed[i]
		doc := searchidx.Document{
			ID:             m.ID,
			RunID:          m.RunID,
			Project:        m.Project,
			FolderPath:     m.FolderPath,
			Subject:        m.Subject,
			SenderEmail:    m.SenderEmail,
			SenderName:     m.SenderName,
			ToRecipients:   m.ToRecipients,
			DateSent:       m.Date,
			BodyPreview:    m.BodyPreview,
			HasAttachments: m.HasAttachments,
		}
		if err := p.indexer.Index(ctx, doc); err != nil {
			zap.L().Warn("pipeline: search index failed", zap.String("email_id", m.ID), zap.Error(err))
		}
	}
	rs.indexed = rs.indexed[:0]
}

// RunThreadPass reconstructs conversation structure over the stored
// corpus for the given project scope and persists the result.
func (p *Pipeline) RunThreadPass(ctx context.Context, runID, project string) (*thread.Stats, error) {
	msgs, err := p.store.ListEmails(ctx, project)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: thread pass list")
	}

	cfg := thread.DefaultConfig()
	if p.cfg.Thread.TimeWindowHours > 0 {
		cfg.TimeWindowHours = p.cfg.Thread.TimeWindowHours
	}
	if p.cfg.Thread.QuotedAnchorLines > 0 {
		cfg.QuotedAnchorLines = p.cfg.Thread.QuotedAnchorLines
	}
	if p.cfg.Thread.SubjectNumericTokenLen > 0 {
		cfg.SubjectNumericTokenLen = p.cfg.Thread.SubjectNumericTokenLen
	}

	res := thread.Reconstruct(runID, msgs, cfg)

	if err := p.store.ClearThreadLinks(ctx, project); err != nil {
		return nil, eris.Wrap(err, "pipeline: clear thread links")
	}
	if err := p.store.WriteThreadLinks(ctx, res.Links); err != nil {
		return nil, eris.Wrap(err, "pipeline: write thread links")
	}
	if err := p.store.UpdateThreadFields(ctx, res.Updates); err != nil {
		return nil, eris.Wrap(err, "pipeline: write thread fields")
	}

	zap.L().Info("pipeline: thread pass complete",
		zap.Int("emails", res.Stats.EmailsTotal),
		zap.Int("threads", res.Stats.ThreadsIdentified),
		zap.Int("orphans", res.Stats.Orphans),
		zap.Int("cycles_broken", res.Stats.CyclesBroken))
	return &res.Stats, nil
}

// RunDedupePass deduplicates the stored corpus for the given project
// scope and persists the flags and decisions.
func (p *Pipeline) RunDedupePass(ctx context.Context, runID, project string) (*dedupe.Stats, error) {
	msgs, err := p.store.ListEmails(ctx, project)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: dedupe pass list")
	}
	attHashes, err := p.store.ListAttachmentHashes(ctx, project)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: dedupe pass attachments")
	}

	cfg := dedupe.DefaultConfig()
	if p.cfg.Thread.QuotedAnchorLines > 0 {
		cfg.QuotedAnchorLines = p.cfg.Thread.QuotedAnchorLines
	}

	res := dedupe.Deduplicate(runID, msgs, attHashes, cfg)

	if err := p.store.ClearDedupe(ctx, project); err != nil {
		return nil, eris.Wrap(err, "pipeline: clear dedupe")
	}
	if err := p.store.WriteDedupe(ctx, res.Updates, res.Decisions); err != nil {
		return nil, eris.Wrap(err, "pipeline: write dedupe")
	}

	zap.L().Info("pipeline: dedupe pass complete",
		zap.Int("emails", res.Stats.EmailsTotal),
		zap.Int("duplicates", res.Stats.DuplicatesFound),
		zap.Int("groups", res.Stats.GroupsMatched))
	return &res.Stats, nil
}
