package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/caseprobe/discovery-cli/internal/db"
	"github.com/caseprobe/discovery-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"insert_derived": `INSERT INTO message_derived (id, source_hash, run_id, body_source, canonical_body, top_body, quoted_body, signature, content_hash, strict_hash, relaxed_hash, quoted_anchor_hash, normalizer_version, ruleset_hash, min_hop_secs, max_hop_secs, derived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) ON CONFLICT (source_hash, run_id) DO NOTHING`,
	"update_thread_fields": `UPDATE email_messages SET thread_group_id = $1, thread_parent_id = $2, thread_position = $3, thread_path = $4, thread_method = $5, thread_confidence = $6 WHERE id = $7`,
	"mark_duplicate":       `UPDATE email_messages SET is_duplicate = true, duplicate_of = $1, dedupe_tier = $2 WHERE id = $3`,
	"report_progress": `INSERT INTO run_progress (run_id, phase, processed, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET phase = $2, processed = $3, updated_at = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ingest_runs (
	id              TEXT PRIMARY KEY,
	archive_locator TEXT NOT NULL,
	archive_name    TEXT NOT NULL,
	project         TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'queued',
	stats           JSONB,
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_status ON ingest_runs(status);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_project ON ingest_runs(project);

CREATE TABLE IF NOT EXISTS message_raw (
	id           TEXT PRIMARY KEY,
	source_hash  TEXT NOT NULL UNIQUE,
	run_id       TEXT NOT NULL,
	headers_blob TEXT NOT NULL,
	body_plain   TEXT,
	body_html    TEXT,
	body_rtf     BYTEA,
	extracted_at TIMESTAMPTZ NOT NULL,
	tool_version TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS message_occurrence (
	id              TEXT PRIMARY KEY,
	source_hash     TEXT NOT NULL,
	run_id          TEXT NOT NULL,
	archive_locator TEXT NOT NULL,
	folder_path     TEXT NOT NULL,
	email_id        TEXT NOT NULL,
	seen_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_occurrence_source_hash ON message_occurrence(source_hash);
CREATE INDEX IF NOT EXISTS idx_occurrence_run ON message_occurrence(run_id);

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
	min_hop_secs       BIGINT,
	max_hop_secs       BIGINT,
	derived_at         TIMESTAMPTZ NOT NULL,
	UNIQUE (source_hash, run_id)
);

CREATE TABLE IF NOT EXISTS email_messages (
	id                 TEXT PRIMARY KEY,
	run_id             TEXT NOT NULL,
	project            TEXT NOT NULL DEFAULT '',
	folder_path        TEXT,
	message_id         TEXT,
	in_reply_to        TEXT,
	references_list    JSONB,
	conversation_index TEXT,
	subject            TEXT,
	sender_name        TEXT,
	sender_email       TEXT,
	to_recipients      JSONB,
	cc_recipients      JSONB,
	bcc_recipients     JSONB,
	date_sent          TIMESTAMPTZ,
	body_preview       TEXT,
	body_text          TEXT,
	body_source        TEXT,
	body_blob_key      TEXT,
	content_hash       TEXT,
	source_hash        TEXT,
	has_attachments    BOOLEAN NOT NULL DEFAULT false,
	attachment_count   INTEGER NOT NULL DEFAULT 0,
	thread_group_id    TEXT,
	thread_parent_id   TEXT,
	thread_position    INTEGER,
	thread_path        TEXT,
	thread_method      TEXT,
	thread_confidence  DOUBLE PRECISION,
	is_duplicate       BOOLEAN NOT NULL DEFAULT false,
	duplicate_of       TEXT,
	dedupe_tier        TEXT,
	meta               JSONB
);

CREATE INDEX IF NOT EXISTS idx_emails_project ON email_messages(project);
CREATE INDEX IF NOT EXISTS idx_emails_run ON email_messages(run_id);
CREATE INDEX IF NOT EXISTS idx_emails_message_id ON email_messages(message_id);
CREATE INDEX IF NOT EXISTS idx_emails_content_hash ON email_messages(content_hash);
CREATE INDEX IF NOT EXISTS idx_emails_thread_group ON email_messages(thread_group_id);

CREATE TABLE IF NOT EXISTS email_attachments (
	id              TEXT PRIMARY KEY,
	email_id        TEXT NOT NULL,
	run_id          TEXT NOT NULL,
	filename        TEXT,
	content_type    TEXT,
	content_id      TEXT,
	size_bytes      BIGINT NOT NULL DEFAULT 0,
	attachment_hash TEXT,
	storage_key     TEXT,
	is_inline       BOOLEAN NOT NULL DEFAULT false,
	is_duplicate    BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_email ON email_attachments(email_id);
CREATE INDEX IF NOT EXISTS idx_attachments_hash ON email_attachments(attachment_hash);

CREATE TABLE IF NOT EXISTS email_thread_links (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	email_id     TEXT NOT NULL,
	parent_id    TEXT,
	method       TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	alternatives JSONB,
	detail       TEXT,
	created_at   TIMESTAMPTZ NOT NULL
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
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dedupe_winner ON email_dedupe_decisions(winner_id);
CREATE INDEX IF NOT EXISTS idx_dedupe_loser ON email_dedupe_decisions(loser_id);

CREATE TABLE IF NOT EXISTS run_progress (
	run_id     TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	processed  INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, archiveLocator, archiveName, project string) (*model.IngestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, archive_locator, archive_name, project, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, archiveLocator, archiveName, project, string(model.RunStatusQueued), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, started_at = COALESCE(started_at, $2) WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	return s.finishRun(ctx, runID, model.RunStatusCompleted, "", stats)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, runErr string, stats *model.RunStats) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, runErr, stats)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, runErr string, stats *model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, stats = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), statsJSON, runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	var r model.IngestRun
	var statsJSON []byte
	var runErr *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, archive_locator, archive_name, project, status, stats, error, created_at, started_at, completed_at FROM ingest_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.ArchiveLocator, &r.ArchiveName, &r.Project, &r.Status, &statsJSON, &runErr, &r.CreatedAt, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if runErr != nil {
		r.Error = *runErr
	}
	if len(statsJSON) > 0 {
		r.Stats = &model.RunStats{}
		if err := json.Unmarshal(statsJSON, r.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stats")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT id, archive_locator, archive_name, project, status, stats, error, created_at, started_at, completed_at FROM ingest_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Project != "" {
		query += fmt.Sprintf(` AND project = $%d`, argIdx)
		args = append(args, filter.Project)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var statsJSON []byte
		var runErr *string

		if err := rows.Scan(&r.ID, &r.ArchiveLocator, &r.ArchiveName, &r.Project, &r.Status, &statsJSON, &runErr, &r.CreatedAt, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if runErr != nil {
			r.Error = *runErr
		}
		if len(statsJSON) > 0 {
			r.Stats = &model.RunStats{}
			if err := json.Unmarshal(statsJSON, r.Stats); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stats")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

var rawColumns = []string{
	"id", "source_hash", "run_id", "headers_blob", "body_plain", "body_html",
	"body_rtf", "extracted_at", "tool_version",
}

var occurrenceColumns = []string{"id", "source_hash", "run_id", "archive_locator", "folder_path", "email_id", "seen_at"}

var emailColumns = []string{
	"id", "run_id", "project", "folder_path", "message_id", "in_reply_to",
	"references_list", "conversation_index", "subject", "sender_name",
	"sender_email", "to_recipients", "cc_recipients", "bcc_recipients",
	"date_sent", "body_preview", "body_text", "body_source", "body_blob_key",
	"content_hash", "source_hash", "has_attachments", "attachment_count", "meta",
}

var attachmentColumns = []string{
	"id", "email_id", "run_id", "filename", "content_type", "content_id",
	"size_bytes", "attachment_hash", "storage_key", "is_inline", "is_duplicate", "created_at",
}

var threadLinkColumns = []string{
	"id", "run_id", "email_id", "parent_id", "method", "confidence",
	"alternatives", "detail", "created_at",
}

var dedupeDecisionColumns = []string{
	"id", "run_id", "winner_id", "loser_id", "tier", "match_key",
	"winner_rank", "loser_rank", "group_size", "created_at",
}

// FlushBatch commits a buffered batch. Raw captures land first through
// the content-addressed bulk path; being keyed on source hash, rows that
// reach the table stay valid even if the rest of the batch has to retry.
// Everything else commits in a single transaction.
func (s *PostgresStore) FlushBatch(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}

	if len(batch.Raws) > 0 {
		rows := make([][]any, 0, len(batch.Raws))
		for _, raw := range batch.Raws {
			rows = append(rows, []any{
				raw.ID, raw.SourceHash, raw.RunID, raw.HeadersBlob,
				raw.BodyPlain, raw.BodyHTML, raw.BodyRTF, raw.ExtractedAt, raw.ToolVersion,
			})
		}
		if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        "message_raw",
			Columns:      rawColumns,
			ConflictKeys: []string{"source_hash"},
			DoNothing:    true,
		}, rows); err != nil {
			return eris.Wrap(err, "postgres: flush raw")
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: flush begin")
	}
	defer tx.Rollback(ctx)

	if len(batch.Occurrences) > 0 {
		rows := make([][]any, 0, len(batch.Occurrences))
		for _, o := range batch.Occurrences {
			rows = append(rows, []any{o.ID, o.SourceHash, o.RunID, o.ArchiveLocator, o.FolderPath, o.EmailID, o.SeenAt})
		}
		if _, err := db.CopyFrom(ctx, tx, "message_occurrence", occurrenceColumns, rows); err != nil {
			return eris.Wrap(err, "postgres: flush occurrences")
		}
	}

	for _, d := range batch.Deriveds {
		if _, err := tx.Exec(ctx, preparedStatements["insert_derived"],
			d.ID, d.SourceHash, d.RunID, d.BodySource, d.CanonicalBody,
			d.TopBody, d.QuotedBody, d.Signature, d.ContentHash, d.StrictHash,
			d.RelaxedHash, d.QuotedAnchorHash, d.NormalizerVersion, d.RulesetHash,
			d.MinHopSecs, d.MaxHopSecs, d.DerivedAt,
		); err != nil {
			return eris.Wrap(err, "postgres: flush derived")
		}
	}

	if len(batch.Emails) > 0 {
		rows := make([][]any, 0, len(batch.Emails))
		for _, m := range batch.Emails {
			row, err := emailRow(m)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		if _, err := db.CopyFrom(ctx, tx, "email_messages", emailColumns, rows); err != nil {
			return eris.Wrap(err, "postgres: flush emails")
		}
	}

	if len(batch.Attachments) > 0 {
		rows := make([][]any, 0, len(batch.Attachments))
		for _, a := range batch.Attachments {
			rows = append(rows, []any{
				a.ID, a.EmailID, a.RunID, a.Filename, a.ContentType, a.ContentID,
				a.SizeBytes, a.AttachmentHash, a.StorageKey, a.IsInline, a.IsDuplicate, a.CreatedAt,
			})
		}
		if _, err := db.CopyFrom(ctx, tx, "email_attachments", attachmentColumns, rows); err != nil {
			return eris.Wrap(err, "postgres: flush attachments")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: flush commit")
}

func emailRow(m model.EmailMessage) ([]any, error) {
	refs, err := json.Marshal(m.References)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal references")
	}
	to, err := json.Marshal(m.ToRecipients)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal to")
	}
	cc, err := json.Marshal(m.CcRecipients)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal cc")
	}
	bcc, err := json.Marshal(m.BccRecipients)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal bcc")
	}
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal meta")
	}
	return []any{
		m.ID, m.RunID, m.Project, m.FolderPath, m.MessageID, m.InReplyTo,
		refs, m.ConversationIndex, m.Subject, m.SenderName,
		m.SenderEmail, to, cc, bcc,
		m.Date, m.BodyPreview, m.BodyText, m.BodySource, m.BodyBlobKey,
		m.ContentHash, m.SourceHash, m.HasAttachments, m.AttachmentCount, meta,
	}, nil
}

func (s *PostgresStore) ReportProgress(ctx context.Context, runID, phase string, processed int) error {
	_, err := s.pool.Exec(ctx, preparedStatements["report_progress"],
		runID, phase, processed, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: report progress")
}

const emailSelect = `SELECT id, run_id, project, folder_path, message_id, in_reply_to, references_list, conversation_index, subject, sender_name, sender_email, to_recipients, cc_recipients, bcc_recipients, date_sent, body_text, content_hash, source_hash, has_attachments, attachment_count FROM email_messages`

// ListEmails returns the projection the threading and dedupe passes run
// over: identity headers, recipients, and the canonical body.
func (s *PostgresStore) ListEmails(ctx context.Context, project string) ([]*model.EmailMessage, error) {
	query := emailSelect
	var args []any
	if project != "" {
		query += ` WHERE project = $1`
		args = append(args, project)
	}
	query += ` ORDER BY date_sent ASC NULLS LAST, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list emails")
	}
	defer rows.Close()

	var emails []*model.EmailMessage
	for rows.Next() {
		var m model.EmailMessage
		var refs, to, cc, bcc []byte
		if err := rows.Scan(&m.ID, &m.RunID, &m.Project, &m.FolderPath, &m.MessageID,
			&m.InReplyTo, &refs, &m.ConversationIndex, &m.Subject, &m.SenderName,
			&m.SenderEmail, &to, &cc, &bcc, &m.Date, &m.BodyText,
			&m.ContentHash, &m.SourceHash, &m.HasAttachments, &m.AttachmentCount,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan email")
		}
		if err := unmarshalLists(&m, refs, to, cc, bcc); err != nil {
			return nil, err
		}
		emails = append(emails, &m)
	}
	return emails, eris.Wrap(rows.Err(), "postgres: list emails iterate")
}

func unmarshalLists(m *model.EmailMessage, refs, to, cc, bcc []byte) error {
	for _, field := range []struct {
		raw  []byte
		dest *[]string
	}{
		{refs, &m.References},
		{to, &m.ToRecipients},
		{cc, &m.CcRecipients},
		{bcc, &m.BccRecipients},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return eris.Wrap(err, "postgres: unmarshal recipients")
		}
	}
	return nil
}

func (s *PostgresStore) ListAttachmentHashes(ctx context.Context, project string) (map[string][]string, error) {
	query := `SELECT a.email_id, a.attachment_hash FROM email_attachments a`
	var args []any
	if project != "" {
		query += ` JOIN email_messages m ON m.id = a.email_id WHERE m.project = $1 AND a.attachment_hash <> ''`
		args = append(args, project)
	} else {
		query += ` WHERE a.attachment_hash <> ''`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attachment hashes")
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var emailID, hash string
		if err := rows.Scan(&emailID, &hash); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attachment hash")
		}
		out[emailID] = append(out[emailID], hash)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list attachment hashes iterate")
}

func (s *PostgresStore) ClearThreadLinks(ctx context.Context, project string) error {
	query := `DELETE FROM email_thread_links`
	var args []any
	if project != "" {
		query += ` WHERE email_id IN (SELECT id FROM email_messages WHERE project = $1)`
		args = append(args, project)
	}
	_, err := s.pool.Exec(ctx, query, args...)
	return eris.Wrap(err, "postgres: clear thread links")
}

func (s *PostgresStore) WriteThreadLinks(ctx context.Context, links []model.ThreadLinkDecision) error {
	if len(links) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(links))
	for _, l := range links {
		alts, err := json.Marshal(l.Alternatives)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal alternatives")
		}
		rows = append(rows, []any{l.ID, l.RunID, l.EmailID, l.ParentID, l.Method, l.Confidence, alts, l.Detail, l.CreatedAt})
	}
	_, err := db.CopyFrom(ctx, s.pool, "email_thread_links", threadLinkColumns, rows)
	return eris.Wrap(err, "postgres: write thread links")
}

func (s *PostgresStore) UpdateThreadFields(ctx context.Context, updates []model.ThreadUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: thread fields begin")
	}
	defer tx.Rollback(ctx)

	for _, up := range updates {
		if _, err := tx.Exec(ctx, preparedStatements["update_thread_fields"],
			up.GroupID, up.ParentID, up.Position, up.Path, up.Method, up.Confidence, up.EmailID,
		); err != nil {
			return eris.Wrapf(err, "postgres: thread fields %s", up.EmailID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: thread fields commit")
}

func (s *PostgresStore) ClearDedupe(ctx context.Context, project string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: clear dedupe begin")
	}
	defer tx.Rollback(ctx)

	delQuery := `DELETE FROM email_dedupe_decisions`
	resetQuery := `UPDATE email_messages SET is_duplicate = false, duplicate_of = NULL, dedupe_tier = NULL`
	var args []any
	if project != "" {
		delQuery += ` WHERE winner_id IN (SELECT id FROM email_messages WHERE project = $1) OR loser_id IN (SELECT id FROM email_messages WHERE project = $1)`
		resetQuery += ` WHERE project = $1`
		args = append(args, project)
	}
	if _, err := tx.Exec(ctx, delQuery, args...); err != nil {
		return eris.Wrap(err, "postgres: clear dedupe decisions")
	}
	if _, err := tx.Exec(ctx, resetQuery, args...); err != nil {
		return eris.Wrap(err, "postgres: clear dedupe flags")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: clear dedupe commit")
}

func (s *PostgresStore) WriteDedupe(ctx context.Context, updates []model.DedupeUpdate, decisions []model.DedupeDecision) error {
	if len(updates) == 0 && len(decisions) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: write dedupe begin")
	}
	defer tx.Rollback(ctx)

	for _, up := range updates {
		if _, err := tx.Exec(ctx, preparedStatements["mark_duplicate"],
			up.DuplicateOf, up.Tier, up.EmailID,
		); err != nil {
			return eris.Wrapf(err, "postgres: mark duplicate %s", up.EmailID)
		}
	}

	if len(decisions) > 0 {
		rows := make([][]any, 0, len(decisions))
		for _, d := range decisions {
			rows = append(rows, []any{d.ID, d.RunID, d.WinnerID, d.LoserID, d.Tier, d.MatchKey, d.WinnerRank, d.LoserRank, d.GroupSize, d.CreatedAt})
		}
		if _, err := db.CopyFrom(ctx, tx, "email_dedupe_decisions", dedupeDecisionColumns, rows); err != nil {
			return eris.Wrap(err, "postgres: write dedupe decisions")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: write dedupe commit")
}
