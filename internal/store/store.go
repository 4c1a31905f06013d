// Package store persists users, processing sessions, the transcription and
// summary caches, and the provider usage log. The PostgreSQL implementation
// is the production backend; the in-memory implementation backs tests and
// single-process development runs.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Users manages chat-platform accounts.
// Implementations must be safe for concurrent use.
type Users interface {
	// GetOrCreate returns the user for a (platform, platformUserID) pair,
	// creating it on first contact.
	GetOrCreate(ctx context.Context, platform, platformUserID string) (*User, error)

	// Get returns the user, or (nil, nil) if unknown.
	Get(ctx context.Context, platform, platformUserID string) (*User, error)

	// SetPreferences updates the user's language and model preferences.
	SetPreferences(ctx context.Context, id uuid.UUID, language, model string) error
}

// Sessions manages processing session records.
type Sessions interface {
	// Create inserts a new session in its initial status.
	Create(ctx context.Context, s *ProcessingSession) error

	// Get returns a session by ID, or (nil, nil) if not found.
	Get(ctx context.Context, id uuid.UUID) (*ProcessingSession, error)

	// Advance moves the session to a later status. Updates that would move
	// the status backwards are ignored.
	Advance(ctx context.Context, id uuid.UUID, status Status) error

	// SetFileHash records the content hash once the media is downloaded.
	SetFileHash(ctx context.Context, id uuid.UUID, hash string) error

	// Complete marks the session done, linking it to the transcription that
	// served it and recording the end-to-end processing time.
	Complete(ctx context.Context, id, transcriptionID uuid.UUID, elapsed time.Duration) error

	// Fail marks the session failed, recording the stage it died in and the
	// reason. Failed is terminal.
	Fail(ctx context.Context, id uuid.UUID, stage, reason string) error
}

// Transcriptions is the transcription cache.
type Transcriptions interface {
	// Save inserts a new cache entry.
	Save(ctx context.Context, t *Transcription) error

	// FindByFileHash returns the newest entry for a content hash and
	// language, or (nil, nil) on a miss. An empty language matches any.
	FindByFileHash(ctx context.Context, hash, language string) (*Transcription, error)

	// FindBySourceKey returns the newest entry for a source key and
	// language, or (nil, nil) on a miss. An empty language matches any.
	FindBySourceKey(ctx context.Context, key, language string) (*Transcription, error)
}

// Summaries is the summary cache.
type Summaries interface {
	// Save inserts a summary. When an entry with the same composite key
	// (transcription, language, model, prompt hash) already exists the
	// existing entry wins and Save is a no-op.
	Save(ctx context.Context, s *Summary) error

	// Find returns the summary for the composite key, or (nil, nil) on a
	// miss.
	Find(ctx context.Context, transcriptionID uuid.UUID, language, model, promptHash string) (*Summary, error)
}

// Usage is the append-only provider usage log.
type Usage interface {
	// Record appends one provider attempt.
	Record(ctx context.Context, a *ProviderAttempt) error
}

// Store bundles all persistence interfaces a caller might need.
type Store interface {
	Users() Users
	Sessions() Sessions
	Transcriptions() Transcriptions
	Summaries() Summaries
	Usage() Usage
}
