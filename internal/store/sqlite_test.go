package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseprobe/discovery-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Run lifecycle ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "s3://archives/enron.pst", "enron.pst", "matter-001")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusProcessing))

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusProcessing, fetched.Status)
	require.NotNil(t, fetched.StartedAt)

	stats := &model.RunStats{TotalMessages: 100, EmailsProcessed: 95, EmailsExcluded: 5}
	require.NoError(t, st.CompleteRun(ctx, run.ID, stats))

	fetched, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, fetched.Status)
	require.NotNil(t, fetched.Stats)
	assert.Equal(t, 95, fetched.Stats.EmailsProcessed)
	require.NotNil(t, fetched.CompletedAt)
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "/mnt/evidence/box.mbox", "box.mbox", "")
	require.NoError(t, err)

	require.NoError(t, st.FailRun(ctx, run.ID, "walk failed: truncated node", &model.RunStats{TotalMessages: 3}))

	fetched, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, fetched.Status)
	assert.Equal(t, "walk failed: truncated node", fetched.Error)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_UpdateRunStatus_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateRunStatus(context.Background(), "missing", model.RunStatusProcessing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_ListRuns_FilterByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r1, err := st.CreateRun(ctx, "a.pst", "a.pst", "matter-001")
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, "b.pst", "b.pst", "matter-001")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, r1.ID, &model.RunStats{}))

	completed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, r1.ID, completed[0].ID)

	all, err := st.ListRuns(ctx, RunFilter{Project: "matter-001"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Batch flush ---

func sqliteBatch(runID string, now time.Time) *Batch {
	return &Batch{
		Raws: []model.MessageRaw{{
			ID: "raw-1", SourceHash: "srchash1", RunID: runID,
			HeadersBlob: "Subject: budget\r\n", BodyPlain: "see attached",
			ExtractedAt: now, ToolVersion: "ingest/1.0",
		}},
		Occurrences: []model.MessageOccurrence{{
			ID: "occ-1", SourceHash: "srchash1", RunID: runID,
			ArchiveLocator: "a.pst", FolderPath: "/Inbox", EmailID: "email-1", SeenAt: now,
		}},
		Deriveds: []model.MessageDerived{{
			ID: "der-1", SourceHash: "srchash1", RunID: runID,
			BodySource: "plain", CanonicalBody: "see attached",
			ContentHash: "chash", StrictHash: "shash", RelaxedHash: "rhash",
			NormalizerVersion: "2", RulesetHash: "rs", DerivedAt: now,
		}},
		Emails: []model.EmailMessage{{
			ID: "email-1", RunID: runID, Project: "matter-001",
			FolderPath: "/Inbox", MessageID: "<a@site.com>", Subject: "budget",
			SenderEmail: "pat@site.com", ToRecipients: []string{"sam@site.com"},
			References: []string{"<r1@site.com>"},
			Date:       &now, BodyText: "see attached", SourceHash: "srchash1",
			HasAttachments: true, AttachmentCount: 1,
		}},
		Attachments: []model.EmailAttachment{{
			ID: "att-1", EmailID: "email-1", RunID: runID,
			Filename: "q1.xlsx", ContentType: "application/vnd.ms-excel",
			SizeBytes: 2048, AttachmentHash: "hash-a", StorageKey: "sha256/hash-a",
			CreatedAt: now,
		}},
	}
}

func TestSQLite_FlushBatch_Roundtrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.FlushBatch(ctx, sqliteBatch("run-1", now)))

	emails, err := st.ListEmails(ctx, "matter-001")
	require.NoError(t, err)
	require.Len(t, emails, 1)

	m := emails[0]
	assert.Equal(t, "email-1", m.ID)
	assert.Equal(t, "<a@site.com>", m.MessageID)
	assert.Equal(t, []string{"<r1@site.com>"}, m.References)
	assert.Equal(t, []string{"sam@site.com"}, m.ToRecipients)
	require.NotNil(t, m.Date)
	assert.True(t, m.Date.Equal(now))
	assert.True(t, m.HasAttachments)
	assert.Equal(t, 1, m.AttachmentCount)

	hashes, err := st.ListAttachmentHashes(ctx, "matter-001")
	require.NoError(t, err)
	assert.Equal(t, []string{"hash-a"}, hashes["email-1"])
}

func TestSQLite_FlushBatch_RawIsContentAddressed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.FlushBatch(ctx, sqliteBatch("run-1", now)))

	// A second run over the same archive sees the same raw message. The
	// raw insert is ignored; occurrence and per-run derived rows land.
	second := sqliteBatch("run-2", now.Add(time.Hour))
	second.Raws[0].ID = "raw-2"
	second.Raws[0].RunID = "run-2"
	second.Occurrences[0].ID = "occ-2"
	second.Occurrences[0].EmailID = "email-2"
	second.Deriveds[0].ID = "der-2"
	second.Emails = nil
	second.Attachments = nil

	require.NoError(t, st.FlushBatch(ctx, second))

	var rawCount, occCount, derCount int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM message_raw`).Scan(&rawCount))
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM message_occurrence`).Scan(&occCount))
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM message_derived`).Scan(&derCount))
	assert.Equal(t, 1, rawCount)
	assert.Equal(t, 2, occCount)
	assert.Equal(t, 2, derCount) // distinct run_id, new derived row
}

func TestSQLite_FlushBatch_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	require.NoError(t, st.FlushBatch(context.Background(), nil))
	require.NoError(t, st.FlushBatch(context.Background(), &Batch{}))
}

// --- Progress ---

func TestSQLite_ReportProgress_Upserts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReportProgress(ctx, "run-1", "processing", 2500))
	require.NoError(t, st.ReportProgress(ctx, "run-1", "threading", 5000))

	var phase string
	var processed int
	require.NoError(t, st.db.QueryRow(`SELECT phase, processed FROM run_progress WHERE run_id = ?`, "run-1").Scan(&phase, &processed))
	assert.Equal(t, "threading", phase)
	assert.Equal(t, 5000, processed)

	var count int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM run_progress`).Scan(&count))
	assert.Equal(t, 1, count)
}

// --- Threading ---

func TestSQLite_ThreadFieldsAndLinks(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	batch := sqliteBatch("run-1", now)
	batch.Emails = append(batch.Emails, model.EmailMessage{
		ID: "email-2", RunID: "run-1", Project: "matter-001",
		MessageID: "<b@site.com>", InReplyTo: "<a@site.com>", Subject: "RE: budget",
	})
	require.NoError(t, st.FlushBatch(ctx, batch))

	require.NoError(t, st.UpdateThreadFields(ctx, []model.ThreadUpdate{
		{EmailID: "email-1", GroupID: "thread_abc", Position: 0, Path: "000000", Method: "root"},
		{EmailID: "email-2", GroupID: "thread_abc", ParentID: "email-1", Position: 1, Path: "000000.000001", Method: "in_reply_to", Confidence: 0.98},
	}))

	var group, parent, method string
	var confidence float64
	require.NoError(t, st.db.QueryRow(
		`SELECT thread_group_id, thread_parent_id, thread_method, thread_confidence FROM email_messages WHERE id = ?`,
		"email-2",
	).Scan(&group, &parent, &method, &confidence))
	assert.Equal(t, "thread_abc", group)
	assert.Equal(t, "email-1", parent)
	assert.Equal(t, "in_reply_to", method)
	assert.InDelta(t, 0.98, confidence, 1e-9)

	require.NoError(t, st.WriteThreadLinks(ctx, []model.ThreadLinkDecision{
		{ID: "link-1", RunID: "run-1", EmailID: "email-1", Method: "root", CreatedAt: now},
		{ID: "link-2", RunID: "run-1", EmailID: "email-2", ParentID: "email-1", Method: "in_reply_to", Confidence: 0.98, Alternatives: []string{"email-3"}, CreatedAt: now},
	}))

	var linkCount int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM email_thread_links`).Scan(&linkCount))
	assert.Equal(t, 2, linkCount)

	require.NoError(t, st.ClearThreadLinks(ctx, "matter-001"))
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM email_thread_links`).Scan(&linkCount))
	assert.Equal(t, 0, linkCount)
}

// --- Dedupe ---

func TestSQLite_DedupeWriteAndClear(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	batch := sqliteBatch("run-1", now)
	batch.Emails = append(batch.Emails, model.EmailMessage{
		ID: "email-2", RunID: "run-1", Project: "matter-001",
		MessageID: "<a@site.com>", Subject: "budget",
	})
	require.NoError(t, st.FlushBatch(ctx, batch))

	require.NoError(t, st.WriteDedupe(ctx,
		[]model.DedupeUpdate{{EmailID: "email-2", DuplicateOf: "email-1", Tier: model.DedupeTierMessageID}},
		[]model.DedupeDecision{{
			ID: "dec-1", RunID: "run-1", WinnerID: "email-1", LoserID: "email-2",
			Tier: model.DedupeTierMessageID, MatchKey: "a@site.com", GroupSize: 2, CreatedAt: now,
		}},
	))

	var isDup bool
	var dupOf, tier string
	require.NoError(t, st.db.QueryRow(
		`SELECT is_duplicate, duplicate_of, dedupe_tier FROM email_messages WHERE id = ?`, "email-2",
	).Scan(&isDup, &dupOf, &tier))
	assert.True(t, isDup)
	assert.Equal(t, "email-1", dupOf)
	assert.Equal(t, model.DedupeTierMessageID, tier)

	require.NoError(t, st.ClearDedupe(ctx, "matter-001"))

	require.NoError(t, st.db.QueryRow(
		`SELECT is_duplicate FROM email_messages WHERE id = ?`, "email-2",
	).Scan(&isDup))
	assert.False(t, isDup)

	var decCount int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM email_dedupe_decisions`).Scan(&decCount))
	assert.Equal(t, 0, decCount)
}
