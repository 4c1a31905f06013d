package store

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks how far a processing session has advanced. Transitions are
// forward-only: a session never moves back to an earlier status, so a late
// or duplicated update cannot mask real progress.
type Status string

const (
	StatusReceived     Status = "received"
	StatusQueued       Status = "queued"
	StatusDownloading  Status = "downloading"
	StatusConverting   Status = "converting"
	StatusTranscribing Status = "transcribing"
	StatusSummarizing  Status = "summarizing"
	StatusDelivering   Status = "delivering"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

// rank orders statuses for the forward-only rule. Unknown statuses rank
// lowest so they can never overwrite anything.
func (s Status) rank() int {
	switch s {
	case StatusReceived:
		return 1
	case StatusQueued:
		return 2
	case StatusDownloading:
		return 3
	case StatusConverting:
		return 4
	case StatusTranscribing:
		return 5
	case StatusSummarizing:
		return 6
	case StatusDelivering:
		return 7
	case StatusDone:
		return 8
	case StatusFailed:
		return 9
	}
	return 0
}

// User is one chat-platform account known to the bot.
type User struct {
	ID             uuid.UUID
	Platform       string
	PlatformUserID string

	// Language is the user's preferred transcription language ("" = auto).
	Language string

	// Model is the user's preferred summarization model ("" = default).
	Model string

	CreatedAt time.Time
}

// ProcessingSession is the durable record of one submitted job, written when
// the job is accepted and updated as it advances. It survives restarts so a
// stuck job can be diagnosed after the fact.
type ProcessingSession struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Platform string
	ChatID   string

	// Kind is the messenger.SourceKind of the submission.
	Kind string

	// SourceKey is the pre-download cache key.
	SourceKey string

	// FileHash is the content SHA-256, set once the media is downloaded.
	FileHash string

	Status Status
	Error  string

	// FailureStage names the pipeline stage a failed session died in.
	FailureStage string

	// TranscriptionID links a completed session to the transcript cache
	// entry that served it.
	TranscriptionID uuid.UUID

	// Duration is the end-to-end processing time, recorded on completion.
	Duration time.Duration

	// CompletedAt is when the session reached a terminal status.
	CompletedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transcription is one cached transcription result, keyed by content hash
// (authoritative) and source key (pre-download shortcut).
type Transcription struct {
	ID        uuid.UUID
	SourceKey string
	FileHash  string

	// Language the transcript was produced in ("" = auto-detected).
	Language string

	// Provider and Model identify who produced the text, for the quality
	// escalation rule.
	Provider string
	Model    string

	Text          string
	TimeAnnotated string
	Duration      time.Duration

	// CreatedBy is the user whose job produced this entry.
	CreatedBy uuid.UUID
	CreatedAt time.Time
}

// Summary is one cached summary. The composite key
// (TranscriptionID, Language, Model, PromptHash) makes entries produced
// under a different prompt or model invisible to each other.
type Summary struct {
	ID              uuid.UUID
	TranscriptionID uuid.UUID
	Language        string
	Model           string
	PromptHash      string

	Title   string
	Text    string
	Tokens  int
	Created time.Time
}

// ProviderAttempt is one usage-log row: a single provider invocation made on
// behalf of a session, successful or not.
type ProviderAttempt struct {
	ID        uuid.UUID
	SessionID uuid.UUID

	// Capability is "stt" or "llm".
	Capability string

	Provider string
	Model    string
	Success  bool
	Error    string
	Duration time.Duration
	CreatedAt time.Time
}
