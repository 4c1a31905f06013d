package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface checks.
var (
	_ Store          = (*PostgresStore)(nil)
	_ Users          = (*pgUsers)(nil)
	_ Sessions       = (*pgSessions)(nil)
	_ Transcriptions = (*pgTranscriptions)(nil)
	_ Summaries      = (*pgSummaries)(nil)
	_ Usage          = (*pgUsage)(nil)
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id               UUID         PRIMARY KEY,
    platform         TEXT         NOT NULL,
    platform_user_id TEXT         NOT NULL,
    language         TEXT         NOT NULL DEFAULT '',
    model            TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (platform, platform_user_id)
);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS processing_sessions (
    id               UUID         PRIMARY KEY,
    user_id          UUID         NOT NULL,
    platform         TEXT         NOT NULL,
    chat_id          TEXT         NOT NULL,
    kind             TEXT         NOT NULL,
    source_key       TEXT         NOT NULL,
    file_hash        TEXT         NOT NULL DEFAULT '',
    status           TEXT         NOT NULL,
    status_rank      INT          NOT NULL,
    error            TEXT         NOT NULL DEFAULT '',
    failure_stage    TEXT         NOT NULL DEFAULT '',
    transcription_id UUID,
    duration_ns      BIGINT       NOT NULL DEFAULT 0,
    completed_at     TIMESTAMPTZ,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_created
    ON processing_sessions (user_id, created_at);
`

const ddlTranscriptions = `
CREATE TABLE IF NOT EXISTS transcriptions (
    id             UUID         PRIMARY KEY,
    source_key     TEXT         NOT NULL,
    file_hash      TEXT         NOT NULL DEFAULT '',
    language       TEXT         NOT NULL DEFAULT '',
    provider       TEXT         NOT NULL,
    model          TEXT         NOT NULL DEFAULT '',
    text           TEXT         NOT NULL,
    time_annotated TEXT         NOT NULL DEFAULT '',
    duration_ns    BIGINT       NOT NULL DEFAULT 0,
    created_by     UUID         NOT NULL,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_file_hash
    ON transcriptions (file_hash, created_at);

CREATE INDEX IF NOT EXISTS idx_transcriptions_source_key
    ON transcriptions (source_key, created_at);
`

const ddlSummaries = `
CREATE TABLE IF NOT EXISTS summaries (
    id               UUID         PRIMARY KEY,
    transcription_id UUID         NOT NULL,
    language         TEXT         NOT NULL DEFAULT '',
    model            TEXT         NOT NULL,
    prompt_hash      TEXT         NOT NULL,
    title            TEXT         NOT NULL DEFAULT '',
    text             TEXT         NOT NULL,
    tokens           INT          NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (transcription_id, language, model, prompt_hash)
);
`

const ddlUsage = `
CREATE TABLE IF NOT EXISTS provider_attempts (
    id          UUID         PRIMARY KEY,
    session_id  UUID         NOT NULL,
    capability  TEXT         NOT NULL,
    provider    TEXT         NOT NULL,
    model       TEXT         NOT NULL DEFAULT '',
    success     BOOLEAN      NOT NULL,
    error       TEXT         NOT NULL DEFAULT '',
    duration_ns BIGINT       NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_attempts_session
    ON provider_attempts (session_id);

CREATE INDEX IF NOT EXISTS idx_attempts_provider_created
    ON provider_attempts (provider, created_at);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{ddlUsers, ddlSessions, ddlTranscriptions, ddlSummaries, ddlUsage}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// PostgresStore is the production persistence backend. All sub-stores share
// one [pgxpool.Pool] and are safe for concurrent use.
type PostgresStore struct {
	pool           *pgxpool.Pool
	users          *pgUsers
	sessions       *pgSessions
	transcriptions *pgTranscriptions
	summaries      *pgSummaries
	usage          *pgUsage
}

// NewPostgres connects to the database at dsn, verifies the connection and
// runs [Migrate].
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &PostgresStore{
		pool:           pool,
		users:          &pgUsers{pool: pool},
		sessions:       &pgSessions{pool: pool},
		transcriptions: &pgTranscriptions{pool: pool},
		summaries:      &pgSummaries{pool: pool},
		usage:          &pgUsage{pool: pool},
	}, nil
}

func (s *PostgresStore) Users() Users                   { return s.users }
func (s *PostgresStore) Sessions() Sessions             { return s.sessions }
func (s *PostgresStore) Transcriptions() Transcriptions { return s.transcriptions }
func (s *PostgresStore) Summaries() Summaries           { return s.summaries }
func (s *PostgresStore) Usage() Usage                   { return s.usage }

// Close releases all connections held by the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

type pgUsers struct {
	pool *pgxpool.Pool
}

func (u *pgUsers) GetOrCreate(ctx context.Context, platform, platformUserID string) (*User, error) {
	const q = `
		INSERT INTO users (id, platform, platform_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (platform, platform_user_id) DO NOTHING`

	if _, err := u.pool.Exec(ctx, q, uuid.New(), platform, platformUserID); err != nil {
		return nil, fmt.Errorf("users: create: %w", err)
	}
	user, err := u.Get(ctx, platform, platformUserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("users: %s/%s vanished after insert", platform, platformUserID)
	}
	return user, nil
}

func (u *pgUsers) Get(ctx context.Context, platform, platformUserID string) (*User, error) {
	const q = `
		SELECT id, platform, platform_user_id, language, model, created_at
		FROM   users
		WHERE  platform = $1 AND platform_user_id = $2`

	var user User
	err := u.pool.QueryRow(ctx, q, platform, platformUserID).Scan(
		&user.ID, &user.Platform, &user.PlatformUserID, &user.Language, &user.Model, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: get: %w", err)
	}
	return &user, nil
}

func (u *pgUsers) SetPreferences(ctx context.Context, id uuid.UUID, language, model string) error {
	const q = `UPDATE users SET language = $2, model = $3 WHERE id = $1`
	if _, err := u.pool.Exec(ctx, q, id, language, model); err != nil {
		return fmt.Errorf("users: set preferences: %w", err)
	}
	return nil
}

type pgSessions struct {
	pool *pgxpool.Pool
}

func (s *pgSessions) Create(ctx context.Context, sess *ProcessingSession) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.Status == "" {
		sess.Status = StatusReceived
	}
	const q = `
		INSERT INTO processing_sessions
		    (id, user_id, platform, chat_id, kind, source_key, status, status_rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		sess.ID, sess.UserID, sess.Platform, sess.ChatID, sess.Kind, sess.SourceKey,
		sess.Status, sess.Status.rank(),
	)
	if err != nil {
		return fmt.Errorf("sessions: create: %w", err)
	}
	return nil
}

func (s *pgSessions) Get(ctx context.Context, id uuid.UUID) (*ProcessingSession, error) {
	const q = `
		SELECT id, user_id, platform, chat_id, kind, source_key, file_hash,
		       status, error, failure_stage, transcription_id, duration_ns,
		       completed_at, created_at, updated_at
		FROM   processing_sessions
		WHERE  id = $1`

	var (
		sess        ProcessingSession
		trID        *uuid.UUID
		durationNS  int64
		completedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.UserID, &sess.Platform, &sess.ChatID, &sess.Kind, &sess.SourceKey,
		&sess.FileHash, &sess.Status, &sess.Error, &sess.FailureStage, &trID, &durationNS,
		&completedAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get: %w", err)
	}
	if trID != nil {
		sess.TranscriptionID = *trID
	}
	if completedAt != nil {
		sess.CompletedAt = *completedAt
	}
	sess.Duration = time.Duration(durationNS)
	return &sess, nil
}

// Advance only writes when the new status ranks later than the stored one,
// which makes duplicated or out-of-order updates harmless.
func (s *pgSessions) Advance(ctx context.Context, id uuid.UUID, status Status) error {
	const q = `
		UPDATE processing_sessions
		SET    status = $2, status_rank = $3, updated_at = now()
		WHERE  id = $1 AND status_rank < $3`

	if _, err := s.pool.Exec(ctx, q, id, status, status.rank()); err != nil {
		return fmt.Errorf("sessions: advance: %w", err)
	}
	return nil
}

func (s *pgSessions) SetFileHash(ctx context.Context, id uuid.UUID, hash string) error {
	const q = `UPDATE processing_sessions SET file_hash = $2, updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, hash); err != nil {
		return fmt.Errorf("sessions: set file hash: %w", err)
	}
	return nil
}

func (s *pgSessions) Complete(ctx context.Context, id, transcriptionID uuid.UUID, elapsed time.Duration) error {
	const q = `
		UPDATE processing_sessions
		SET    status = $2, status_rank = $3, transcription_id = $4,
		       duration_ns = $5, completed_at = now(), updated_at = now()
		WHERE  id = $1 AND status_rank < $3`

	if _, err := s.pool.Exec(ctx, q, id, StatusDone, StatusDone.rank(), transcriptionID, elapsed.Nanoseconds()); err != nil {
		return fmt.Errorf("sessions: complete: %w", err)
	}
	return nil
}

func (s *pgSessions) Fail(ctx context.Context, id uuid.UUID, stage, reason string) error {
	const q = `
		UPDATE processing_sessions
		SET    status = $2, status_rank = $3, failure_stage = $4, error = $5,
		       completed_at = now(), updated_at = now()
		WHERE  id = $1 AND status_rank < $3`

	if _, err := s.pool.Exec(ctx, q, id, StatusFailed, StatusFailed.rank(), stage, reason); err != nil {
		return fmt.Errorf("sessions: fail: %w", err)
	}
	return nil
}

type pgTranscriptions struct {
	pool *pgxpool.Pool
}

func (t *pgTranscriptions) Save(ctx context.Context, tr *Transcription) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	const q = `
		INSERT INTO transcriptions
		    (id, source_key, file_hash, language, provider, model, text,
		     time_annotated, duration_ns, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := t.pool.Exec(ctx, q,
		tr.ID, tr.SourceKey, tr.FileHash, tr.Language, tr.Provider, tr.Model,
		tr.Text, tr.TimeAnnotated, tr.Duration.Nanoseconds(), tr.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("transcriptions: save: %w", err)
	}
	return nil
}

func (t *pgTranscriptions) FindByFileHash(ctx context.Context, hash, language string) (*Transcription, error) {
	if hash == "" {
		return nil, nil
	}
	return t.findNewest(ctx, "file_hash", hash, language)
}

func (t *pgTranscriptions) FindBySourceKey(ctx context.Context, key, language string) (*Transcription, error) {
	if key == "" {
		return nil, nil
	}
	return t.findNewest(ctx, "source_key", key, language)
}

func (t *pgTranscriptions) findNewest(ctx context.Context, column, value, language string) (*Transcription, error) {
	q := fmt.Sprintf(`
		SELECT id, source_key, file_hash, language, provider, model, text,
		       time_annotated, duration_ns, created_by, created_at
		FROM   transcriptions
		WHERE  %s = $1 AND ($2 = '' OR language = $2)
		ORDER  BY created_at DESC
		LIMIT  1`, column)

	var (
		tr         Transcription
		durationNS int64
	)
	err := t.pool.QueryRow(ctx, q, value, language).Scan(
		&tr.ID, &tr.SourceKey, &tr.FileHash, &tr.Language, &tr.Provider, &tr.Model,
		&tr.Text, &tr.TimeAnnotated, &durationNS, &tr.CreatedBy, &tr.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transcriptions: find by %s: %w", column, err)
	}
	tr.Duration = time.Duration(durationNS)
	return &tr, nil
}

type pgSummaries struct {
	pool *pgxpool.Pool
}

// Save relies on the composite unique index: concurrent producers of the
// same summary race and the first insert wins.
func (s *pgSummaries) Save(ctx context.Context, sum *Summary) error {
	if sum.ID == uuid.Nil {
		sum.ID = uuid.New()
	}
	const q = `
		INSERT INTO summaries
		    (id, transcription_id, language, model, prompt_hash, title, text, tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transcription_id, language, model, prompt_hash) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		sum.ID, sum.TranscriptionID, sum.Language, sum.Model, sum.PromptHash,
		sum.Title, sum.Text, sum.Tokens,
	)
	if err != nil {
		return fmt.Errorf("summaries: save: %w", err)
	}
	return nil
}

func (s *pgSummaries) Find(ctx context.Context, transcriptionID uuid.UUID, language, model, promptHash string) (*Summary, error) {
	const q = `
		SELECT id, transcription_id, language, model, prompt_hash, title, text, tokens, created_at
		FROM   summaries
		WHERE  transcription_id = $1 AND language = $2 AND model = $3 AND prompt_hash = $4`

	var sum Summary
	err := s.pool.QueryRow(ctx, q, transcriptionID, language, model, promptHash).Scan(
		&sum.ID, &sum.TranscriptionID, &sum.Language, &sum.Model, &sum.PromptHash,
		&sum.Title, &sum.Text, &sum.Tokens, &sum.Created,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("summaries: find: %w", err)
	}
	return &sum, nil
}

type pgUsage struct {
	pool *pgxpool.Pool
}

func (u *pgUsage) Record(ctx context.Context, a *ProviderAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	const q = `
		INSERT INTO provider_attempts
		    (id, session_id, capability, provider, model, success, error, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := u.pool.Exec(ctx, q,
		a.ID, a.SessionID, a.Capability, a.Provider, a.Model, a.Success, a.Error,
		a.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("usage: record: %w", err)
	}
	return nil
}
