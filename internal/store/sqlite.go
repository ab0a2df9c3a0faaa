package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/caseprobe/discovery-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// single-workstation reviews where running Postgres is not worth it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ingest_runs (
	id              TEXT PRIMARY KEY,
	archive_locator TEXT NOT NULL,
	archive_name    TEXT NOT NULL,
	project         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'queued',
	stats           TEXT,
	error           TEXT,
	created_at      DATETIME NOT NULL,
	started_at      DATETIME,
	completed_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_status ON ingest_runs(status);

CREATE TABLE IF NOT EXISTS message_raw (
	id           TEXT PRIMARY KEY,
	source_hash  TEXT NOT NULL UNIQUE,
	run_id       TEXT NOT NULL,
	headers_blob TEXT NOT NULL,
	body_plain   TEXT,
	body_html    TEXT,
	body_rtf     BLOB,
	extracted_at DATETIME NOT NULL,
	tool_version TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS message_occurrence (
	id              TEXT PRIMARY KEY,
	source_hash     TEXT NOT NULL,
	run_id          TEXT NOT NULL,
	archive_locator TEXT NOT NULL,
	folder_path     TEXT NOT NULL,
	email_id        TEXT NOT NULL,
	seen_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_occurrence_source_hash ON message_occurrence(source_hash);

CREATE TABLE IF NOT EXISTS message_derived (
	id                 TEXT PRIMARY KEY,
	source_hash        TEXT NOT NULL,
	run_id             TEXT NOT NULL,
	body_source        TEXT,
	canonical_body     TEXT,
	top_body           TEXT,
	quoted_body        TEXT,
	signature          TEXT,
	content_hash       TEXT,
	strict_hash        TEXT,
	relaxed_hash       TEXT,
	quoted_anchor_hash TEXT,
	normalizer_version TEXT NOT NULL,
	ruleset_hash       TEXT NOT NULL,
	min_hop_secs       INTEGER,
	max_hop_secs       INTEGER,
	derived_at         DATETIME NOT NULL,
	UNIQUE (source_hash, run_id)
);

CREATE TABLE IF NOT EXISTS email_messages (
	id                 TEXT PRIMARY KEY,
	run_id             TEXT NOT NULL,
	project            TEXT NOT NULL DEFAULT '',
	folder_path        TEXT,
	message_id         TEXT,
	in_reply_to        TEXT,
	references_list    TEXT,
	conversation_index TEXT,
	subject            TEXT,
	sender_name        TEXT,
	sender_email       TEXT,
	to_recipients      TEXT,
	cc_recipients      TEXT,
	bcc_recipients     TEXT,
	date_sent          DATETIME,
	body_preview       TEXT,
	body_text          TEXT,
	body_source        TEXT,
	body_blob_key      TEXT,
	content_hash       TEXT,
	source_hash        TEXT,
	has_attachments    INTEGER NOT NULL DEFAULT 0,
	attachment_count   INTEGER NOT NULL DEFAULT 0,
	thread_group_id    TEXT,
	thread_parent_id   TEXT,
	thread_position    INTEGER,
	thread_path        TEXT,
	thread_method      TEXT,
	thread_confidence  REAL,
	is_duplicate       INTEGER NOT NULL DEFAULT 0,
	duplicate_of       TEXT,
	dedupe_tier        TEXT,
	meta               TEXT
);

CREATE INDEX IF NOT EXISTS idx_emails_project ON email_messages(project);
CREATE INDEX IF NOT EXISTS idx_emails_message_id ON email_messages(message_id);
CREATE INDEX IF NOT EXISTS idx_emails_thread_group ON email_messages(thread_group_id);

CREATE TABLE IF NOT EXISTS email_attachments (
	id              TEXT PRIMARY KEY,
	email_id        TEXT NOT NULL,
	run_id          TEXT NOT NULL,
	filename        TEXT,
	content_type    TEXT,
	content_id      TEXT,
	size_bytes      INTEGER NOT NULL DEFAULT 0,
	attachment_hash TEXT,
	storage_key     TEXT,
	is_inline       INTEGER NOT NULL DEFAULT 0,
	is_duplicate    INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_email ON email_attachments(email_id);

CREATE TABLE IF NOT EXISTS email_thread_links (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	email_id     TEXT NOT NULL,
	parent_id    TEXT,
	method       TEXT NOT NULL,
	confidence   REAL NOT NULL,
	alternatives TEXT,
	detail       TEXT,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_thread_links_email ON email_thread_links(email_id);

CREATE TABLE IF NOT EXISTS email_dedupe_decisions (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	winner_id   TEXT NOT NULL,
	loser_id    TEXT NOT NULL,
	tier        TEXT NOT NULL,
	match_key   TEXT NOT NULL,
	winner_rank TEXT,
	loser_rank  TEXT,
	group_size  INTEGER NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_progress (
	run_id     TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	processed  INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, archiveLocator, archiveName, project string) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, archive_locator, archive_name, project, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, archiveLocator, archiveName, project, string(model.RunStatusQueued), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.IngestRun{
		ID:             id,
		ArchiveLocator: archiveLocator,
		ArchiveName:    archiveName,
		Project:        project,
		Status:         model.RunStatusQueued,
		CreatedAt:      now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	return s.finishRun(ctx, runID, model.RunStatusCompleted, "", stats)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, runErr string, stats *model.RunStats) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, runErr, stats)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, runErr string, stats *model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, stats = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), string(statsJSON), runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, archive_locator, archive_name, project, status, stats, error, created_at, started_at, completed_at FROM ingest_runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT id, archive_locator, archive_name, project, status, stats, error, created_at, started_at, completed_at FROM ingest_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Project != "" {
		query += ` AND project = ?`
		args = append(args, filter.Project)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// FlushBatch commits every buffered record in a single transaction.
func (s *SQLiteStore) FlushBatch(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: flush begin")
	}
	defer tx.Rollback()

	for _, raw := range batch.Raws {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_raw (id, source_hash, run_id, headers_blob, body_plain, body_html, body_rtf, extracted_at, tool_version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			raw.ID, raw.SourceHash, raw.RunID, raw.HeadersBlob,
			raw.BodyPlain, raw.BodyHTML, raw.BodyRTF, raw.ExtractedAt, raw.ToolVersion,
		); err != nil {
			return eris.Wrap(err, "sqlite: flush raw")
		}
	}

	for _, o := range batch.Occurrences {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_occurrence (id, source_hash, run_id, archive_locator, folder_path, email_id, seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.SourceHash, o.RunID, o.ArchiveLocator, o.FolderPath, o.EmailID, o.SeenAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: flush occurrence")
		}
	}

	for _, d := range batch.Deriveds {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_derived (id, source_hash, run_id, body_source, canonical_body, top_body, quoted_body, signature, content_hash, strict_hash, relaxed_hash, quoted_anchor_hash, normalizer_version, ruleset_hash, min_hop_secs, max_hop_secs, derived_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.SourceHash, d.RunID, d.BodySource, d.CanonicalBody,
			d.TopBody, d.QuotedBody, d.Signature, d.ContentHash, d.StrictHash,
			d.RelaxedHash, d.QuotedAnchorHash, d.NormalizerVersion, d.RulesetHash,
			d.MinHopSecs, d.MaxHopSecs, d.DerivedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: flush derived")
		}
	}

	for _, m := range batch.Emails {
		row, err := emailRow(m)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_messages (id, run_id, project, folder_path, message_id, in_reply_to, references_list, conversation_index, subject, sender_name, sender_email, to_recipients, cc_recipients, bcc_recipients, date_sent, body_preview, body_text, body_source, body_blob_key, content_hash, source_hash, has_attachments, attachment_count, meta)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row...,
		); err != nil {
			return eris.Wrap(err, "sqlite: flush email")
		}
	}

	for _, a := range batch.Attachments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_attachments (id, email_id, run_id, filename, content_type, content_id, size_bytes, attachment_hash, storage_key, is_inline, is_duplicate, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.EmailID, a.RunID, a.Filename, a.ContentType, a.ContentID,
			a.SizeBytes, a.AttachmentHash, a.StorageKey, a.IsInline, a.IsDuplicate, a.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: flush attachment")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: flush commit")
}

func (s *SQLiteStore) ReportProgress(ctx context.Context, runID, phase string, processed int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_progress (run_id, phase, processed, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET phase = excluded.phase, processed = excluded.processed, updated_at = excluded.updated_at`,
		runID, phase, processed, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: report progress")
}

func (s *SQLiteStore) ListEmails(ctx context.Context, project string) ([]*model.EmailMessage, error) {
	query := `SELECT id, run_id, project, folder_path, message_id, in_reply_to, references_list, conversation_index, subject, sender_name, sender_email, to_recipients, cc_recipients, bcc_recipients, date_sent, body_text, content_hash, source_hash, has_attachments, attachment_count FROM email_messages`
	var args []any
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY date_sent ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list emails")
	}
	defer rows.Close()

	var emails []*model.EmailMessage
	for rows.Next() {
		var m model.EmailMessage
		var folderPath, messageID, inReplyTo, convIdx, subject, senderName, senderEmail sql.NullString
		var bodyText, contentHash, sourceHash sql.NullString
		var refs, to, cc, bcc sql.NullString
		var date sql.NullTime
		if err := rows.Scan(&m.ID, &m.RunID, &m.Project, &folderPath, &messageID,
			&inReplyTo, &refs, &convIdx, &subject, &senderName,
			&senderEmail, &to, &cc, &bcc, &date, &bodyText,
			&contentHash, &sourceHash, &m.HasAttachments, &m.AttachmentCount,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email")
		}
		m.FolderPath = folderPath.String
		m.MessageID = messageID.String
		m.InReplyTo = inReplyTo.String
		m.ConversationIndex = convIdx.String
		m.Subject = subject.String
		m.SenderName = senderName.String
		m.SenderEmail = senderEmail.String
		m.BodyText = bodyText.String
		m.ContentHash = contentHash.String
		m.SourceHash = sourceHash.String
		if date.Valid {
			d := date.Time.UTC()
			m.Date = &d
		}
		if err := unmarshalListsText(&m, refs, to, cc, bcc); err != nil {
			return nil, err
		}
		emails = append(emails, &m)
	}
	return emails, eris.Wrap(rows.Err(), "sqlite: list emails iterate")
}

func unmarshalListsText(m *model.EmailMessage, refs, to, cc, bcc sql.NullString) error {
	for _, field := range []struct {
		raw  sql.NullString
		dest *[]string
	}{
		{refs, &m.References},
		{to, &m.ToRecipients},
		{cc, &m.CcRecipients},
		{bcc, &m.BccRecipients},
	} {
		if !field.raw.Valid || field.raw.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw.String), field.dest); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal recipients")
		}
	}
	return nil
}

func (s *SQLiteStore) ListAttachmentHashes(ctx context.Context, project string) (map[string][]string, error) {
	query := `SELECT a.email_id, a.attachment_hash FROM email_attachments a`
	var args []any
	if project != "" {
		query += ` JOIN email_messages m ON m.id = a.email_id WHERE m.project = ? AND a.attachment_hash <> ''`
		args = append(args, project)
	} else {
		query += ` WHERE a.attachment_hash <> ''`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attachment hashes")
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var emailID, hash string
		if err := rows.Scan(&emailID, &hash); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attachment hash")
		}
		out[emailID] = append(out[emailID], hash)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list attachment hashes iterate")
}

func (s *SQLiteStore) ClearThreadLinks(ctx context.Context, project string) error {
	query := `DELETE FROM email_thread_links`
	var args []any
	if project != "" {
		query += ` WHERE email_id IN (SELECT id FROM email_messages WHERE project = ?)`
		args = append(args, project)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: clear thread links")
}

func (s *SQLiteStore) WriteThreadLinks(ctx context.Context, links []model.ThreadLinkDecision) error {
	if len(links) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: thread links begin")
	}
	defer tx.Rollback()

	for _, l := range links {
		alts, err := json.Marshal(l.Alternatives)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal alternatives")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_thread_links (id, run_id, email_id, parent_id, method, confidence, alternatives, detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.RunID, l.EmailID, l.ParentID, l.Method, l.Confidence, string(alts), l.Detail, l.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: write thread link")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: thread links commit")
}

func (s *SQLiteStore) UpdateThreadFields(ctx context.Context, updates []model.ThreadUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: thread fields begin")
	}
	defer tx.Rollback()

	for _, up := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE email_messages SET thread_group_id = ?, thread_parent_id = ?, thread_position = ?, thread_path = ?, thread_method = ?, thread_confidence = ? WHERE id = ?`,
			up.GroupID, up.ParentID, up.Position, up.Path, up.Method, up.Confidence, up.EmailID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: thread fields %s", up.EmailID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: thread fields commit")
}

func (s *SQLiteStore) ClearDedupe(ctx context.Context, project string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: clear dedupe begin")
	}
	defer tx.Rollback()

	delQuery := `DELETE FROM email_dedupe_decisions`
	resetQuery := `UPDATE email_messages SET is_duplicate = 0, duplicate_of = NULL, dedupe_tier = NULL`
	var delArgs, resetArgs []any
	if project != "" {
		delQuery += ` WHERE winner_id IN (SELECT id FROM email_messages WHERE project = ?) OR loser_id IN (SELECT id FROM email_messages WHERE project = ?)`
		delArgs = append(delArgs, project, project)
		resetQuery += ` WHERE project = ?`
		resetArgs = append(resetArgs, project)
	}
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return eris.Wrap(err, "sqlite: clear dedupe decisions")
	}
	if _, err := tx.ExecContext(ctx, resetQuery, resetArgs...); err != nil {
		return eris.Wrap(err, "sqlite: clear dedupe flags")
	}
	return eris.Wrap(tx.Commit(), "sqlite: clear dedupe commit")
}

func (s *SQLiteStore) WriteDedupe(ctx context.Context, updates []model.DedupeUpdate, decisions []model.DedupeDecision) error {
	if len(updates) == 0 && len(decisions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: write dedupe begin")
	}
	defer tx.Rollback()

	for _, up := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE email_messages SET is_duplicate = 1, duplicate_of = ?, dedupe_tier = ? WHERE id = ?`,
			up.DuplicateOf, up.Tier, up.EmailID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: mark duplicate %s", up.EmailID)
		}
	}

	for _, d := range decisions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email_dedupe_decisions (id, run_id, winner_id, loser_id, tier, match_key, winner_rank, loser_rank, group_size, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.RunID, d.WinnerID, d.LoserID, d.Tier, d.MatchKey, d.WinnerRank, d.LoserRank, d.GroupSize, d.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: write dedupe decision")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: write dedupe commit")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.IngestRun, error) {
	var r model.IngestRun
	var statsJSON, runErr sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.ArchiveLocator, &r.ArchiveName, &r.Project, &r.Status,
		&statsJSON, &runErr, &r.CreatedAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if runErr.Valid {
		r.Error = runErr.String
	}
	if statsJSON.Valid && statsJSON.String != "" && statsJSON.String != "null" {
		r.Stats = &model.RunStats{}
		if err := json.Unmarshal([]byte(statsJSON.String), r.Stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal stats")
		}
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		r.CompletedAt = &t
	}
	return &r, nil
}
