// Package messenger defines the transport port the processing core speaks
// to. The core never touches a platform SDK type directly; each chat
// platform contributes one adapter implementing [Port] and one inbound
// normalizer producing [Submission] values.
package messenger

import (
	"context"
	"errors"
)

// Edit/delete failures are classified into these sentinels by adapters so the
// core can react uniformly regardless of platform.
var (
	// ErrNotModified means the edit would not change the message content.
	// Callers treat this as success.
	ErrNotModified = errors.New("message not modified")

	// ErrNotFound means the target message no longer exists (deleted by the
	// user or the platform).
	ErrNotFound = errors.New("message not found")
)

// MessageRef identifies one message on one chat platform.
type MessageRef struct {
	// Platform names the adapter that owns this reference (e.g. "discord").
	Platform string

	// ChatID is the platform-specific conversation identifier.
	ChatID string

	// MessageID is the platform-specific message identifier.
	MessageID string
}

// IsZero reports whether the reference points at nothing.
func (r MessageRef) IsZero() bool { return r.MessageID == "" }

// SendOptions carries optional rendering hints for outbound messages.
type SendOptions struct {
	// ReplyTo threads the new message under an existing one when the
	// platform supports it.
	ReplyTo MessageRef

	// Actions is the list of action-button identifiers to attach. The
	// adapter renders them as platform-appropriate affordances (inline
	// keyboard, message components). Known identifiers are defined by the
	// pipeline (e.g. ActionCancelQueue, ActionGenerateSummary).
	Actions []string
}

// Port is the capability set the core requires from a chat transport.
// Implementations must be safe for concurrent use.
type Port interface {
	// SendMessage posts text to a chat and returns a reference to the new
	// message.
	SendMessage(ctx context.Context, chatID, text string, opts SendOptions) (MessageRef, error)

	// EditMessage replaces the text of an existing message. Adapters must
	// map platform errors onto ErrNotModified / ErrNotFound where they
	// apply.
	EditMessage(ctx context.Context, ref MessageRef, text string, opts SendOptions) error

	// DeleteMessage removes a message. Deleting an already-gone message is
	// not an error.
	DeleteMessage(ctx context.Context, ref MessageRef) error

	// SendDocument posts a file with a caption and returns a reference to
	// the new message.
	SendDocument(ctx context.Context, chatID string, filename string, payload []byte, caption string, opts SendOptions) (MessageRef, error)
}

// SourceKind classifies what the user submitted.
type SourceKind string

const (
	SourceVoice     SourceKind = "voice"
	SourceVideo     SourceKind = "video"
	SourceVideoNote SourceKind = "video_note"
	SourceDocument  SourceKind = "document"
	SourceURL       SourceKind = "url"
)

// IsNote reports whether the source is a short-form voice or video note,
// which the skip-summary policy treats specially.
func (k SourceKind) IsNote() bool {
	return k == SourceVoice || k == SourceVideoNote
}

// Submission is one normalized inbound item, platform-independent.
type Submission struct {
	// Platform names the adapter this arrived through.
	Platform string

	// SenderID is the platform-specific user identifier.
	SenderID string

	// ChatID is where result messages should be delivered.
	ChatID string

	// Kind classifies the payload.
	Kind SourceKind

	// FileURL is a fetchable location for the media bytes. For
	// platform-native files the adapter resolves the platform's file
	// reference to a download URL before handing the submission to the
	// core; for link submissions it is the user-supplied URL.
	FileURL string

	// SourceRef is the stable identity of the source used as a cache key:
	// the platform file id for native uploads, the normalized URL for
	// links.
	SourceRef string

	// FileName is the original file name, when the platform provides one.
	FileName string

	// UserMessage references the user's original message, for reply
	// threading.
	UserMessage MessageRef

	// LanguageHint is the user's declared transcription language, if any.
	LanguageHint string
}
