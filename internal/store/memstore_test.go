package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUsers_GetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	users := NewMemStore().Users()

	first, err := users.GetOrCreate(ctx, "discord", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := users.GetOrCreate(ctx, "discord", "alice")
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second call created a new user: %s vs %s", first.ID, second.ID)
	}

	other, _ := users.GetOrCreate(ctx, "telegram", "alice")
	if other.ID == first.ID {
		t.Error("the same handle on another platform must be a distinct user")
	}
}

func TestUsers_GetUnknownReturnsNil(t *testing.T) {
	users := NewMemStore().Users()
	u, err := users.Get(context.Background(), "discord", "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u != nil {
		t.Errorf("Get = %+v, want nil for unknown user", u)
	}
}

func TestSessions_StatusIsForwardOnly(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemStore().Sessions()

	sess := &ProcessingSession{UserID: uuid.New(), Platform: "discord", ChatID: "c", Kind: "voice", SourceKey: "k"}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sessions.Advance(ctx, sess.ID, StatusTranscribing); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	// A stale earlier status must not win.
	if err := sessions.Advance(ctx, sess.ID, StatusDownloading); err != nil {
		t.Fatalf("Advance backwards: %v", err)
	}

	got, _ := sessions.Get(ctx, sess.ID)
	if got.Status != StatusTranscribing {
		t.Errorf("status = %s, want %s after stale update", got.Status, StatusTranscribing)
	}
}

func TestSessions_FailIsTerminal(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemStore().Sessions()

	sess := &ProcessingSession{UserID: uuid.New(), Platform: "discord", ChatID: "c", Kind: "url", SourceKey: "k"}
	sessions.Create(ctx, sess)
	sessions.Fail(ctx, sess.ID, "download", "download timed out")
	sessions.Advance(ctx, sess.ID, StatusDone)

	got, _ := sessions.Get(ctx, sess.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed to stick", got.Status)
	}
	if got.FailureStage != "download" || got.Error != "download timed out" {
		t.Errorf("stage=%q error=%q, want the failure attribution preserved", got.FailureStage, got.Error)
	}
	if got.CompletedAt.IsZero() {
		t.Error("failed session must carry a completion timestamp")
	}
}

func TestSessions_CompleteRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	sessions := NewMemStore().Sessions()

	sess := &ProcessingSession{UserID: uuid.New(), Platform: "discord", ChatID: "c", Kind: "voice", SourceKey: "k"}
	sessions.Create(ctx, sess)

	trID := uuid.New()
	if err := sessions.Complete(ctx, sess.ID, trID, 42*time.Second); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, _ := sessions.Get(ctx, sess.ID)
	if got.Status != StatusDone {
		t.Fatalf("status = %s, want %s", got.Status, StatusDone)
	}
	if got.TranscriptionID != trID {
		t.Errorf("transcription = %s, want %s", got.TranscriptionID, trID)
	}
	if got.Duration != 42*time.Second {
		t.Errorf("duration = %s, want 42s", got.Duration)
	}
	if got.CompletedAt.IsZero() {
		t.Error("completed session must carry a completion timestamp")
	}

	// Completion is terminal for ordinary advances.
	sessions.Advance(ctx, sess.ID, StatusDelivering)
	if got, _ = sessions.Get(ctx, sess.ID); got.Status != StatusDone {
		t.Errorf("status = %s after stale advance, want %s", got.Status, StatusDone)
	}
}

func TestTranscriptions_ReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	cache := NewMemStore().Transcriptions()

	in := &Transcription{
		SourceKey: "youtube:abc",
		FileHash:  "deadbeef",
		Language:  "en",
		Provider:  "deepgram",
		Text:      "hello world",
		Duration:  90 * time.Second,
		CreatedBy: uuid.New(),
	}
	if err := cache.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	byHash, err := cache.FindByFileHash(ctx, "deadbeef", "en")
	if err != nil {
		t.Fatalf("FindByFileHash: %v", err)
	}
	if byHash == nil || byHash.Text != "hello world" {
		t.Fatalf("byHash = %+v, want the saved entry", byHash)
	}

	byKey, _ := cache.FindBySourceKey(ctx, "youtube:abc", "")
	if byKey == nil || byKey.ID != in.ID {
		t.Errorf("byKey = %+v, want the saved entry", byKey)
	}
}

func TestTranscriptions_MissAndLanguageFilter(t *testing.T) {
	ctx := context.Background()
	cache := NewMemStore().Transcriptions()
	cache.Save(ctx, &Transcription{SourceKey: "k", FileHash: "h", Language: "de", Provider: "openai", Text: "hallo"})

	if got, _ := cache.FindByFileHash(ctx, "other", ""); got != nil {
		t.Errorf("unknown hash returned %+v, want nil", got)
	}
	if got, _ := cache.FindByFileHash(ctx, "h", "en"); got != nil {
		t.Errorf("language mismatch returned %+v, want nil", got)
	}
	if got, _ := cache.FindByFileHash(ctx, "", ""); got != nil {
		t.Errorf("empty hash returned %+v, want nil", got)
	}
}

func TestTranscriptions_NewestEntryWins(t *testing.T) {
	ctx := context.Background()
	cache := NewMemStore().Transcriptions()

	cache.Save(ctx, &Transcription{FileHash: "h", Provider: "openai", Text: "old", CreatedAt: time.Now().Add(-time.Hour)})
	cache.Save(ctx, &Transcription{FileHash: "h", Provider: "deepgram", Text: "new", CreatedAt: time.Now()})

	got, _ := cache.FindByFileHash(ctx, "h", "")
	if got == nil || got.Text != "new" {
		t.Errorf("got %+v, want the newest entry", got)
	}
}

func TestSummaries_CompositeKeyAndFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	summaries := NewMemStore().Summaries()
	trID := uuid.New()

	first := &Summary{TranscriptionID: trID, Language: "en", Model: "gpt-4o", PromptHash: "p1", Text: "first"}
	if err := summaries.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Same composite key: the original entry must survive.
	summaries.Save(ctx, &Summary{TranscriptionID: trID, Language: "en", Model: "gpt-4o", PromptHash: "p1", Text: "second"})

	got, _ := summaries.Find(ctx, trID, "en", "gpt-4o", "p1")
	if got == nil || got.Text != "first" {
		t.Errorf("got %+v, want the first write preserved", got)
	}

	// Any component change is a different key.
	if got, _ := summaries.Find(ctx, trID, "en", "gpt-4o", "p2"); got != nil {
		t.Errorf("different prompt hash returned %+v, want nil", got)
	}
	if got, _ := summaries.Find(ctx, trID, "de", "gpt-4o", "p1"); got != nil {
		t.Errorf("different language returned %+v, want nil", got)
	}
}

func TestUsage_RecordsAttempts(t *testing.T) {
	ctx := context.Background()
	mem := NewMemStore()

	mem.Usage().Record(ctx, &ProviderAttempt{SessionID: uuid.New(), Capability: "stt", Provider: "deepgram", Success: false, Error: "timeout"})
	mem.Usage().Record(ctx, &ProviderAttempt{SessionID: uuid.New(), Capability: "stt", Provider: "fireworks", Success: true})

	attempts := mem.Attempts()
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	if attempts[0].Provider != "deepgram" || attempts[0].Success {
		t.Errorf("first attempt = %+v, want failed deepgram", attempts[0])
	}
}
