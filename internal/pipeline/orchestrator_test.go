package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/dimakhov/voxnote/internal/cache"
	"github.com/dimakhov/voxnote/internal/media"
	"github.com/dimakhov/voxnote/internal/messenger"
	mmock "github.com/dimakhov/voxnote/internal/messenger/mock"
	"github.com/dimakhov/voxnote/internal/observe"
	"github.com/dimakhov/voxnote/internal/resilience"
	"github.com/dimakhov/voxnote/internal/store"
	"github.com/dimakhov/voxnote/pkg/provider/llm"
	llmmock "github.com/dimakhov/voxnote/pkg/provider/llm/mock"
	"github.com/dimakhov/voxnote/pkg/provider/stt"
	sttmock "github.com/dimakhov/voxnote/pkg/provider/stt/mock"
)

// goodTranscript clears both the minimum-word floor and the short-transcript
// threshold of the test policy.
var goodTranscript = strings.TrimSpace(strings.Repeat("every spoken word lands here ", 12))

func scripted(text string) func(context.Context, stt.Request) (*stt.Result, error) {
	return func(context.Context, stt.Request) (*stt.Result, error) {
		return &stt.Result{Text: text}, nil
	}
}

type fakeFetcher struct {
	payload []byte
	err     error

	mu    sync.Mutex
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, destDir string) (*media.Download, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(destDir, fmt.Sprintf("download-%d", n))
	if err := os.WriteFile(path, f.payload, 0o600); err != nil {
		return nil, err
	}
	return &media.Download{Path: path, Hash: cache.BytesHash(f.payload), Size: int64(len(f.payload))}, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePreparer fabricates a WAV header claiming the configured duration; the
// duration probe reads the header only.
type fakePreparer struct {
	duration time.Duration
}

func (p *fakePreparer) Prepare(_ context.Context, path string) (string, error) {
	out := path + ".wav"
	dataSize := uint32(p.duration.Seconds() * 32000) // 16 kHz mono 16-bit

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], 16000)
	binary.LittleEndian.PutUint32(header[28:32], 32000)
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	return out, os.WriteFile(out, header[:], 0o600)
}

type fixture struct {
	port      *mmock.Port
	mem       *store.MemStore
	deepgram  *sttmock.Provider
	fireworks *sttmock.Provider
	llm       *llmmock.Provider
	fetcher   *fakeFetcher
	orch      *Orchestrator

	mu       sync.Mutex
	finished []*Job
}

func newFixture(t *testing.T, policy Policy, clipLength time.Duration) *fixture {
	t.Helper()

	f := &fixture{
		port:      mmock.New(),
		mem:       store.NewMemStore(),
		deepgram:  &sttmock.Provider{TranscribeFunc: scripted(goodTranscript)},
		fireworks: &sttmock.Provider{TranscribeFunc: scripted(goodTranscript)},
		llm:       &llmmock.Provider{},
		fetcher:   &fakeFetcher{payload: []byte("media bytes")},
	}

	sttChain := resilience.NewChain[stt.Provider](nil)
	sttChain.Register("deepgram", "nova-2", f.deepgram)
	sttChain.Register("fireworks", "whisper-v3-turbo", f.fireworks)

	llmChain := resilience.NewChain[llm.Provider](nil)
	llmChain.Register("gpt-4o-mini", "gpt-4o-mini", f.llm)

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f.orch = New(
		f.port,
		f.mem,
		f.fetcher,
		&fakePreparer{duration: clipLength},
		NewTranscriber(sttChain, policy),
		NewSummarizer(llmChain, "Summarize the transcript.", "Write a short title.",
			[]string{"gpt-4o-mini"}, []string{"gpt-4o-mini"}),
		policy,
		metrics,
		t.TempDir(),
	)
	f.orch.SetFinishFunc(func(job *Job) {
		f.mu.Lock()
		f.finished = append(f.finished, job)
		f.mu.Unlock()
	})
	return f
}

func (f *fixture) finishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finished)
}

func (f *fixture) newJob(t *testing.T, user *store.User, kind messenger.SourceKind, sourceKey string) *Job {
	t.Helper()
	ctx := context.Background()

	sess := &store.ProcessingSession{
		UserID:    user.ID,
		Platform:  "discord",
		ChatID:    "chat1",
		Kind:      string(kind),
		SourceKey: sourceKey,
	}
	if err := f.mem.Sessions().Create(ctx, sess); err != nil {
		t.Fatalf("Create session: %v", err)
	}
	status, err := f.port.SendMessage(ctx, "chat1", "⏳ Processing...", messenger.SendOptions{})
	if err != nil {
		t.Fatalf("send placeholder: %v", err)
	}
	return &Job{
		Session: sess,
		User:    user,
		Sub: messenger.Submission{
			Platform:  "discord",
			SenderID:  user.PlatformUserID,
			ChatID:    "chat1",
			Kind:      kind,
			FileURL:   "https://files.example/media",
			SourceRef: sourceKey,
		},
		Status: status,
	}
}

func (f *fixture) session(t *testing.T, id uuid.UUID) *store.ProcessingSession {
	t.Helper()
	s, err := f.mem.Sessions().Get(context.Background(), id)
	if err != nil || s == nil {
		t.Fatalf("Get session: %v, %v", s, err)
	}
	return s
}

func testUser(createdAt time.Time) *store.User {
	return &store.User{
		ID:             uuid.New(),
		Platform:       "discord",
		PlatformUserID: "u1",
		CreatedAt:      createdAt,
	}
}

func TestVoiceNoteTranscriptOnly(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(-24 * time.Hour) // user below is post-cutover
	f := newFixture(t, policy, 30*time.Second)

	user := testUser(time.Now())
	job := f.newJob(t, user, messenger.SourceVoice, "discord:file123")
	f.orch.Process(context.Background(), job)

	sess := f.session(t, job.Session.ID)
	if sess.Status != store.StatusDone {
		t.Fatalf("status = %s, want %s (error: %s)", sess.Status, store.StatusDone, sess.Error)
	}
	if got := f.port.Text(job.Status); !strings.Contains(got, goodTranscript) {
		t.Errorf("status message = %q, want transcript delivered in place", got)
	}
	if f.llm.CallCount() != 0 {
		t.Errorf("LLM called %d times for a post-cutover account, want 0", f.llm.CallCount())
	}
	// Short clip: fast provider wins, quality never consulted.
	if f.fireworks.CallCount() != 1 || f.deepgram.CallCount() != 0 {
		t.Errorf("stt calls fireworks=%d deepgram=%d, want 1/0", f.fireworks.CallCount(), f.deepgram.CallCount())
	}
	if f.finishedCount() != 1 {
		t.Errorf("finish callback ran %d times, want exactly 1", f.finishedCount())
	}

	// Transcript-only delivery offers the on-demand summary action.
	edits := f.port.CallsOf("edit")
	last := edits[len(edits)-1]
	if len(last.Actions) != 1 || last.Actions[0] != ActionGenerateSummary {
		t.Errorf("final edit actions = %v, want [%s]", last.Actions, ActionGenerateSummary)
	}

	saved, err := f.mem.Transcriptions().FindBySourceKey(context.Background(), "discord:file123", "")
	if err != nil || saved == nil {
		t.Fatalf("transcription not cached: %v, %v", saved, err)
	}
	if saved.Provider != "fireworks" || saved.CreatedBy != user.ID {
		t.Errorf("cached record provider=%s creator=%s, want fireworks/%s", saved.Provider, saved.CreatedBy, user.ID)
	}

	// Completion bookkeeping links the session to the cache entry.
	sess = f.session(t, job.Session.ID)
	if sess.TranscriptionID != saved.ID {
		t.Errorf("session transcription = %s, want %s", sess.TranscriptionID, saved.ID)
	}
	if sess.CompletedAt.IsZero() {
		t.Error("completed session must carry a completion timestamp")
	}
}

func TestResubmitServedFromCache(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(-24 * time.Hour)
	f := newFixture(t, policy, 30*time.Second)

	user := testUser(time.Now())
	seed := &store.Transcription{
		SourceKey: "discord:file123",
		FileHash:  "unrelated",
		Provider:  "deepgram", // quality provider: recency never escalates
		Model:     "nova-2",
		Text:      goodTranscript,
		CreatedBy: user.ID,
		CreatedAt: time.Now().Add(-10 * time.Minute),
	}
	if err := f.mem.Transcriptions().Save(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	job := f.newJob(t, user, messenger.SourceVoice, "discord:file123")
	f.orch.Process(context.Background(), job)

	if f.fetcher.Calls() != 0 {
		t.Errorf("download ran %d times on a source-key hit, want 0", f.fetcher.Calls())
	}
	if n := f.deepgram.CallCount() + f.fireworks.CallCount(); n != 0 {
		t.Errorf("stt invoked %d times on a cache hit, want 0", n)
	}
	if sess := f.session(t, job.Session.ID); sess.Status != store.StatusDone {
		t.Errorf("status = %s, want %s", sess.Status, store.StatusDone)
	}
	if got := f.port.Text(job.Status); !strings.Contains(got, goodTranscript) {
		t.Errorf("status message = %q, want cached transcript", got)
	}
}

func TestRecentFastResultEscalatesToQuality(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(-24 * time.Hour)
	f := newFixture(t, policy, 30*time.Second)

	user := testUser(time.Now())
	seed := &store.Transcription{
		SourceKey: "discord:file123",
		FileHash:  "some-other-bytes",
		Provider:  "fireworks",
		Text:      goodTranscript,
		CreatedBy: user.ID,
		CreatedAt: time.Now().Add(-10 * time.Minute),
	}
	if err := f.mem.Transcriptions().Save(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	job := f.newJob(t, user, messenger.SourceVoice, "discord:file123")
	f.orch.Process(context.Background(), job)

	if f.fetcher.Calls() != 1 {
		t.Errorf("escalated resubmit must re-download, got %d fetches", f.fetcher.Calls())
	}
	if f.deepgram.CallCount() != 1 || f.fireworks.CallCount() != 0 {
		t.Errorf("stt calls deepgram=%d fireworks=%d, want quality provider only", f.deepgram.CallCount(), f.fireworks.CallCount())
	}
	if sess := f.session(t, job.Session.ID); sess.Status != store.StatusDone {
		t.Errorf("status = %s, want %s", sess.Status, store.StatusDone)
	}
}

func TestHashHitSkipsTranscription(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(-24 * time.Hour)
	f := newFixture(t, policy, 30*time.Second)

	// Someone else already transcribed byte-identical content under a
	// different source.
	seed := &store.Transcription{
		SourceKey: "discord:other-source",
		FileHash:  cache.BytesHash(f.fetcher.payload),
		Provider:  "fireworks",
		Text:      goodTranscript,
		CreatedBy: uuid.New(),
		CreatedAt: time.Now().Add(-5 * time.Minute),
	}
	if err := f.mem.Transcriptions().Save(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	user := testUser(time.Now())
	job := f.newJob(t, user, messenger.SourceVoice, "discord:file456")
	f.orch.Process(context.Background(), job)

	if f.fetcher.Calls() != 1 {
		t.Errorf("fetches = %d, want 1 (hash is only known after download)", f.fetcher.Calls())
	}
	if n := f.deepgram.CallCount() + f.fireworks.CallCount(); n != 0 {
		t.Errorf("stt invoked %d times on a hash hit, want 0", n)
	}
	if got := f.port.Text(job.Status); !strings.Contains(got, goodTranscript) {
		t.Errorf("status message = %q, want transcript from hash hit", got)
	}
}

func TestAllProvidersFailing(t *testing.T) {
	policy := testPolicy()
	f := newFixture(t, policy, 30*time.Second)
	f.deepgram.TranscribeFunc = func(context.Context, stt.Request) (*stt.Result, error) {
		return nil, errors.New("service unavailable")
	}
	f.fireworks.TranscribeFunc = func(context.Context, stt.Request) (*stt.Result, error) {
		return nil, errors.New("rate limited")
	}

	user := testUser(time.Now())
	job := f.newJob(t, user, messenger.SourceVoice, "discord:file789")
	f.orch.Process(context.Background(), job)

	sess := f.session(t, job.Session.ID)
	if sess.Status != store.StatusFailed {
		t.Fatalf("status = %s, want %s", sess.Status, store.StatusFailed)
	}
	if sess.FailureStage != string(StageTranscription) {
		t.Errorf("failure stage = %q, want %q", sess.FailureStage, StageTranscription)
	}
	if !strings.Contains(sess.Error, "all providers failed") {
		t.Errorf("failure reason = %q, want the chain error preserved", sess.Error)
	}
	if sess.CompletedAt.IsZero() {
		t.Error("failed session must carry a completion timestamp")
	}
	if got := f.port.Text(job.Status); got != errorText {
		t.Errorf("status message = %q, want the generic error text", got)
	}
	if f.llm.CallCount() != 0 {
		t.Errorf("LLM invoked after transcription failure")
	}
	if f.finishedCount() != 1 {
		t.Errorf("finish callback ran %d times, want exactly 1", f.finishedCount())
	}
	if saved, _ := f.mem.Transcriptions().FindBySourceKey(context.Background(), "discord:file789", ""); saved != nil {
		t.Errorf("failed job must not populate the transcript cache")
	}
}

func TestDownloadFailure(t *testing.T) {
	f := newFixture(t, testPolicy(), 30*time.Second)
	f.fetcher.err = errors.New("upstream gone")

	job := f.newJob(t, testUser(time.Now()), messenger.SourceURL, "youtube:abc")
	f.orch.Process(context.Background(), job)

	sess := f.session(t, job.Session.ID)
	if sess.Status != store.StatusFailed || sess.FailureStage != string(StageDownload) {
		t.Errorf("status=%s stage=%q, want failed at the download stage", sess.Status, sess.FailureStage)
	}
	if got := f.port.Text(job.Status); got != errorText {
		t.Errorf("status message = %q, want the generic error text", got)
	}
}

func TestImplausiblyShortResultFallsThrough(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(-24 * time.Hour)
	f := newFixture(t, policy, 30*time.Second)
	f.fireworks.TranscribeFunc = scripted("uh huh") // below the word floor

	job := f.newJob(t, testUser(time.Now()), messenger.SourceVoice, "discord:file123")
	f.orch.Process(context.Background(), job)

	if f.fireworks.CallCount() != 1 || f.deepgram.CallCount() != 1 {
		t.Fatalf("stt calls fireworks=%d deepgram=%d, want fallthrough to quality", f.fireworks.CallCount(), f.deepgram.CallCount())
	}
	saved, err := f.mem.Transcriptions().FindBySourceKey(context.Background(), "discord:file123", "")
	if err != nil || saved == nil {
		t.Fatalf("transcription not cached: %v, %v", saved, err)
	}
	if saved.Provider != "deepgram" {
		t.Errorf("cached provider = %s, want the provider that produced the accepted result", saved.Provider)
	}
}

func TestSummaryDeliveredAsSecondMessage(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(24 * time.Hour) // user is pre-cutover
	f := newFixture(t, policy, 30*time.Second)

	job := f.newJob(t, testUser(time.Now()), messenger.SourceDocument, "discord:doc1")
	f.orch.Process(context.Background(), job)

	if sess := f.session(t, job.Session.ID); sess.Status != store.StatusDone {
		t.Fatalf("status = %s, want %s (error: %s)", sess.Status, store.StatusDone, sess.Error)
	}
	// Summary plus title both run through the chain.
	if f.llm.CallCount() != 2 {
		t.Errorf("LLM calls = %d, want 2 (summary + title)", f.llm.CallCount())
	}

	sends := f.port.CallsOf("send")
	if len(sends) != 2 { // placeholder + summary
		t.Fatalf("sends = %d, want placeholder and summary", len(sends))
	}
	if !strings.Contains(sends[1].Text, "📋") {
		t.Errorf("summary message = %q, want summary formatting", sends[1].Text)
	}

	// With a summary present there is no on-demand action.
	edits := f.port.CallsOf("edit")
	if last := edits[len(edits)-1]; len(last.Actions) != 0 {
		t.Errorf("transcript edit actions = %v, want none", last.Actions)
	}
}

func TestSummaryCacheSkipsSecondLLMRun(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(24 * time.Hour)
	policy.EscalationWindow = 0 // keep the second run on the cached transcript
	f := newFixture(t, policy, 30*time.Second)

	user := testUser(time.Now())
	first := f.newJob(t, user, messenger.SourceDocument, "discord:doc1")
	f.orch.Process(context.Background(), first)
	callsAfterFirst := f.llm.CallCount()

	second := f.newJob(t, user, messenger.SourceDocument, "discord:doc1")
	f.orch.Process(context.Background(), second)

	if f.llm.CallCount() != callsAfterFirst {
		t.Errorf("LLM calls grew %d -> %d on resubmit, want summary served from cache",
			callsAfterFirst, f.llm.CallCount())
	}
	if sess := f.session(t, second.Session.ID); sess.Status != store.StatusDone {
		t.Errorf("status = %s, want %s", sess.Status, store.StatusDone)
	}
	sends := f.port.CallsOf("send")
	if !strings.Contains(sends[len(sends)-1].Text, "📋") {
		t.Errorf("resubmit must still deliver the cached summary")
	}
}

func TestForceSummaryOverridesCutover(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(-24 * time.Hour)
	f := newFixture(t, policy, 30*time.Second)

	job := f.newJob(t, testUser(time.Now()), messenger.SourceVoice, "discord:file123")
	job.ForceSummary = true
	f.orch.Process(context.Background(), job)

	if f.llm.CallCount() != 2 {
		t.Errorf("LLM calls = %d, want forced summary to run", f.llm.CallCount())
	}
}

func TestOversizedTranscriptAttachedAsDocument(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(-24 * time.Hour)
	f := newFixture(t, policy, 30*time.Second)
	huge := strings.TrimSpace(strings.Repeat("an exceedingly long transcript line ", 120))
	f.fireworks.TranscribeFunc = scripted(huge)

	job := f.newJob(t, testUser(time.Now()), messenger.SourceVoice, "discord:file123")
	f.orch.Process(context.Background(), job)

	docs := f.port.CallsOf("document")
	if len(docs) != 1 {
		t.Fatalf("document sends = %d, want transcript attached as a file", len(docs))
	}
	if got := f.port.Text(job.Status); !strings.Contains(got, "attached") {
		t.Errorf("status message = %q, want attachment notice", got)
	}
	// The on-demand summary action rides the document, and the job records
	// that message as the one a later action tap will reference.
	doc := docs[0]
	if len(doc.Actions) != 1 || doc.Actions[0] != ActionGenerateSummary {
		t.Errorf("document actions = %v, want [%s]", doc.Actions, ActionGenerateSummary)
	}
	if job.ResultRef != doc.Ref {
		t.Errorf("result ref = %v, want the document message %v", job.ResultRef, doc.Ref)
	}
}

func TestLongRecordingPrefersQualityProvider(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(-24 * time.Hour)
	f := newFixture(t, policy, 20*time.Minute)

	job := f.newJob(t, testUser(time.Now()), messenger.SourceVideo, "discord:longvideo")
	f.orch.Process(context.Background(), job)

	if f.deepgram.CallCount() != 1 || f.fireworks.CallCount() != 0 {
		t.Errorf("stt calls deepgram=%d fireworks=%d, want quality first for long audio",
			f.deepgram.CallCount(), f.fireworks.CallCount())
	}
	calls := f.deepgram.Calls()
	if len(calls) == 1 && calls[0].Duration != 20*time.Minute {
		t.Errorf("provider saw duration %s, want 20m from the WAV header", calls[0].Duration)
	}
}

func TestDeliverySurvivesDeletedStatusMessage(t *testing.T) {
	policy := testPolicy()
	policy.SummaryCutover = time.Now().Add(-24 * time.Hour)
	f := newFixture(t, policy, 30*time.Second)
	f.port.EditErrFunc = func(messenger.MessageRef, string) error {
		return messenger.ErrNotFound
	}

	job := f.newJob(t, testUser(time.Now()), messenger.SourceVoice, "discord:file123")
	f.orch.Process(context.Background(), job)

	if sess := f.session(t, job.Session.ID); sess.Status != store.StatusDone {
		t.Fatalf("status = %s, want delivery to fall back to a fresh message", sess.Status)
	}
	sends := f.port.CallsOf("send")
	last := sends[len(sends)-1]
	if !strings.Contains(last.Text, goodTranscript) {
		t.Errorf("fresh message = %q, want the transcript", last.Text)
	}
	if job.ResultRef != last.Ref {
		t.Errorf("result ref = %v, want the replacement message %v", job.ResultRef, last.Ref)
	}
}
