package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/dimakhov/voxnote/internal/messenger"
	"github.com/dimakhov/voxnote/internal/store"
)

// Policy holds the tunable decision knobs of the pipeline. All values come
// from configuration; see config.Pipeline.
type Policy struct {
	// QualityProvider is the highest-fidelity STT provider name, preferred
	// under quality escalation and for long recordings.
	QualityProvider string

	// FastProvider is the STT provider preferred for short clips.
	FastProvider string

	// STTFallbacks are tried after the primary pair, in order.
	STTFallbacks []string

	// LongAudio is the duration at which a recording counts as long and the
	// quality provider becomes the primary even without escalation.
	LongAudio time.Duration

	// EscalationWindow is how recently a cached transcription must have been
	// produced for the same-user quality escalation rule to apply.
	EscalationWindow time.Duration

	// SummaryCutover marks the transcript-only tier rollout: accounts
	// created at or after this instant never get automatic summaries.
	SummaryCutover time.Time

	// ShortTranscriptChars is the length under which a voice/video note
	// transcript is considered too short to summarize.
	ShortTranscriptChars int
}

// sttOrder returns the provider priority order for one transcription run.
// Escalated runs and long recordings lead with the quality provider; short
// clips lead with the fast one.
func (p Policy) sttOrder(duration time.Duration, escalated bool) []string {
	order := make([]string, 0, 2+len(p.STTFallbacks))
	if escalated || duration >= p.LongAudio {
		order = append(order, p.QualityProvider, p.FastProvider)
	} else {
		order = append(order, p.FastProvider, p.QualityProvider)
	}
	return append(order, p.STTFallbacks...)
}

// shouldEscalate implements the quality escalation rule: a cache hit is
// discarded, and the quality provider forced to the front, when the hit was
// produced by the same user, within the escalation window, by anything other
// than the quality provider. Hits from other users or outside the window are
// served as-is.
func (p Policy) shouldEscalate(hit *store.Transcription, userID uuid.UUID, now time.Time) bool {
	if hit == nil {
		return false
	}
	if hit.Provider == p.QualityProvider {
		return false
	}
	if hit.CreatedBy != userID {
		return false
	}
	return now.Sub(hit.CreatedAt) < p.EscalationWindow
}

// skipSummary decides whether a job delivers the transcript without a
// summary. It is a pure function of the user's account age, the transcript
// length and the source kind, so the cache-hit and cache-miss paths cannot
// diverge. forced bypasses both rules (the on-demand "generate summary"
// action).
func (p Policy) skipSummary(userCreatedAt time.Time, transcript string, kind messenger.SourceKind, forced bool) bool {
	if forced {
		return false
	}
	if !userCreatedAt.Before(p.SummaryCutover) {
		return true
	}
	return len(transcript) < p.ShortTranscriptChars && kind.IsNote()
}
