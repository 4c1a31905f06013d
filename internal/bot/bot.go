// Package bot routes normalized inbound submissions into the processing
// pipeline: user lookup, session bookkeeping, per-user admission control and
// the queue placeholder lifecycle. Platform adapters call into this package;
// it never touches an SDK type.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dimakhov/voxnote/internal/cache"
	"github.com/dimakhov/voxnote/internal/messenger"
	"github.com/dimakhov/voxnote/internal/observe"
	"github.com/dimakhov/voxnote/internal/pipeline"
	"github.com/dimakhov/voxnote/internal/queue"
	"github.com/dimakhov/voxnote/internal/store"
)

const (
	processingText = "⏳ Processing..."
	queuedTextFmt  = "🕓 Added to queue. Position: %d"
	cancelledText  = "❌ Removed from queue."
)

// Processor runs one admitted job to completion. *pipeline.Orchestrator is
// the production implementation.
type Processor interface {
	Process(ctx context.Context, job *pipeline.Job)
	SetFinishFunc(fn func(job *pipeline.Job))
}

var _ Processor = (*pipeline.Orchestrator)(nil)

// Bot is the inbound entry point shared by all platform adapters. Safe for
// concurrent use.
type Bot struct {
	port    messenger.Port
	st      store.Store
	proc    Processor
	metrics *observe.Metrics

	manager *queue.Manager[*pipeline.Job]

	// delivered maps a transcript-only result message to the submission that
	// produced it, so the generate-summary action can resubmit it. Bounded
	// by deliveredCap; the oldest registration is dropped first.
	mu             sync.Mutex
	delivered      map[messenger.MessageRef]messenger.Submission
	deliveredOrder []messenger.MessageRef
}

// deliveredCap bounds how many transcript-only results stay resubmittable.
const deliveredCap = 512

// New wires a Bot around the processor. It installs itself as the
// processor's finish callback; one processor belongs to one Bot.
func New(port messenger.Port, st store.Store, proc Processor, metrics *observe.Metrics) *Bot {
	b := &Bot{
		port:      port,
		st:        st,
		proc:      proc,
		metrics:   metrics,
		delivered: make(map[messenger.MessageRef]messenger.Submission),
	}
	b.manager = queue.NewManager(b.runJob, queue.WithPositionNotifier(b.notifyPosition))
	proc.SetFinishFunc(b.onFinish)
	return b
}

// HandleSubmission admits one normalized submission: resolve the user, open a
// processing session, post the placeholder and enqueue. Returns an error only
// when the submission could not be admitted at all.
func (b *Bot) HandleSubmission(ctx context.Context, sub messenger.Submission) error {
	user, err := b.st.Users().GetOrCreate(ctx, sub.Platform, sub.SenderID)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	if sub.LanguageHint != "" && sub.LanguageHint != user.Language {
		if err := b.st.Users().SetPreferences(ctx, user.ID, sub.LanguageHint, user.Model); err != nil {
			slog.Warn("persisting language hint failed", "user", user.ID, "error", err)
		} else {
			user.Language = sub.LanguageHint
		}
	}

	sess := &store.ProcessingSession{
		UserID:    user.ID,
		Platform:  sub.Platform,
		ChatID:    sub.ChatID,
		Kind:      string(sub.Kind),
		SourceKey: cache.SourceKey(sub.Platform, string(sub.Kind), sub.SourceRef),
	}
	if err := b.st.Sessions().Create(ctx, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	b.metrics.RecordSubmission(ctx, sub.Platform, string(sub.Kind))

	placeholder, err := b.port.SendMessage(ctx, sub.ChatID, processingText,
		messenger.SendOptions{ReplyTo: sub.UserMessage})
	if err != nil {
		return fmt.Errorf("send placeholder: %w", err)
	}

	job := &pipeline.Job{Session: sess, User: user, Sub: sub, Status: placeholder}
	b.enqueue(ctx, job)
	return nil
}

// HandleAction dispatches an action-button tap from an adapter. Unknown
// actions are ignored.
func (b *Bot) HandleAction(ctx context.Context, action, platform, userID string, ref messenger.MessageRef) {
	switch action {
	case pipeline.ActionCancelQueue:
		b.CancelQueued(ctx, platform, userID, ref)
	case pipeline.ActionGenerateSummary:
		if err := b.RequestSummary(ctx, platform, userID, ref); err != nil {
			slog.Warn("summary request rejected", "platform", platform, "user", userID, "error", err)
		}
	default:
		slog.Debug("ignoring unknown action", "action", action)
	}
}

// CancelQueued removes the waiting entry whose placeholder is ref. The
// running job cannot be cancelled. Reports whether anything was removed.
func (b *Bot) CancelQueued(ctx context.Context, platform, userID string, ref messenger.MessageRef) bool {
	key := queue.Key{Platform: platform, UserID: userID}
	var cancelled *pipeline.Job
	removed := b.manager.Cancel(key, func(j *pipeline.Job) bool {
		if j.Status == ref {
			cancelled = j
			return true
		}
		return false
	})
	if !removed {
		return false
	}

	b.metrics.QueueDepth.Add(ctx, -1)
	if err := b.st.Sessions().Fail(ctx, cancelled.Session.ID, "queue", "cancelled by user"); err != nil {
		slog.Warn("persisting cancellation failed", "session", cancelled.Session.ID, "error", err)
	}
	if err := b.port.EditMessage(ctx, ref, cancelledText, messenger.SendOptions{}); err != nil {
		slog.Warn("editing cancelled placeholder failed", "error", err)
	}
	slog.Info("queued job cancelled", "session", cancelled.Session.ID, "platform", platform, "user", userID)
	return true
}

// RequestSummary resubmits a delivered transcript-only result with the
// summary forced, as a fresh session through the normal queue.
func (b *Bot) RequestSummary(ctx context.Context, platform, userID string, ref messenger.MessageRef) error {
	b.mu.Lock()
	sub, ok := b.delivered[ref]
	delete(b.delivered, ref)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no deliverable result behind message %s", ref.MessageID)
	}
	if sub.Platform != platform || sub.SenderID != userID {
		return fmt.Errorf("summary requested by a different user")
	}

	user, err := b.st.Users().GetOrCreate(ctx, platform, userID)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	sess := &store.ProcessingSession{
		UserID:    user.ID,
		Platform:  sub.Platform,
		ChatID:    sub.ChatID,
		Kind:      string(sub.Kind),
		SourceKey: cache.SourceKey(sub.Platform, string(sub.Kind), sub.SourceRef),
	}
	if err := b.st.Sessions().Create(ctx, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	placeholder, err := b.port.SendMessage(ctx, sub.ChatID, processingText,
		messenger.SendOptions{ReplyTo: sub.UserMessage})
	if err != nil {
		return fmt.Errorf("send placeholder: %w", err)
	}

	job := &pipeline.Job{Session: sess, User: user, Sub: sub, Status: placeholder, ForceSummary: true}
	b.enqueue(ctx, job)
	return nil
}

// Waiting returns how many jobs are queued behind the user's running one.
func (b *Bot) Waiting(platform, userID string) int {
	return b.manager.Waiting(queue.Key{Platform: platform, UserID: userID})
}

func (b *Bot) enqueue(ctx context.Context, job *pipeline.Job) {
	key := laneKey(job)
	pos := b.manager.Enqueue(key, job)
	b.metrics.QueueDepth.Add(ctx, 1)
	if pos == 0 {
		return
	}

	if err := b.st.Sessions().Advance(ctx, job.Session.ID, store.StatusQueued); err != nil {
		slog.Warn("status advance failed", "session", job.Session.ID, "error", err)
	}
	opts := messenger.SendOptions{Actions: []string{pipeline.ActionCancelQueue}}
	if err := b.port.EditMessage(ctx, job.Status, fmt.Sprintf(queuedTextFmt, pos), opts); err != nil {
		slog.Warn("editing queue placeholder failed", "session", job.Session.ID, "error", err)
	}
}

// runJob is the queue's runner: it executes on a fresh goroutine per admitted
// job, both for immediate admissions and for promotions.
func (b *Bot) runJob(_ queue.Key, job *pipeline.Job) {
	ctx := context.Background()
	// Promoted jobs carry a stale "position N" placeholder.
	opts := messenger.SendOptions{}
	if err := b.port.EditMessage(ctx, job.Status, processingText, opts); err != nil {
		slog.Debug("refreshing placeholder failed", "session", job.Session.ID, "error", err)
	}
	b.proc.Process(ctx, job)
}

// onFinish is the processor's finalization callback: release the user's lane
// and, for a successful transcript delivery, remember the result message so
// its generate-summary action can find the submission again.
func (b *Bot) onFinish(job *pipeline.Job) {
	ctx := context.Background()
	b.metrics.QueueDepth.Add(ctx, -1)

	sess, err := b.st.Sessions().Get(ctx, job.Session.ID)
	if err != nil {
		slog.Warn("reading finished session failed", "session", job.Session.ID, "error", err)
	}
	if sess != nil && sess.Status == store.StatusDone && !job.ForceSummary {
		// The action buttons ride the result message, which is not the
		// placeholder when the transcript went out as a document.
		ref := job.ResultRef
		if ref == (messenger.MessageRef{}) {
			ref = job.Status
		}
		b.rememberDelivered(ref, job.Sub)
	}

	b.manager.Finish(laneKey(job))
}

// rememberDelivered registers a resubmittable result message, evicting the
// oldest registration once the cap is exceeded.
func (b *Bot) rememberDelivered(ref messenger.MessageRef, sub messenger.Submission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.delivered[ref]; !ok {
		b.deliveredOrder = append(b.deliveredOrder, ref)
	}
	b.delivered[ref] = sub
	// Entries consumed by RequestSummary leave stale refs in the order
	// slice; skip them while trimming.
	for len(b.deliveredOrder) > 0 && len(b.delivered) > deliveredCap {
		oldest := b.deliveredOrder[0]
		b.deliveredOrder = b.deliveredOrder[1:]
		delete(b.delivered, oldest)
	}
}

// notifyPosition re-renders a waiting placeholder after the lane changes
// shape. It runs under the manager's lock, so the edit goes to a goroutine.
func (b *Bot) notifyPosition(_ queue.Key, job *pipeline.Job, position int) {
	go func() {
		opts := messenger.SendOptions{Actions: []string{pipeline.ActionCancelQueue}}
		text := fmt.Sprintf(queuedTextFmt, position)
		if err := b.port.EditMessage(context.Background(), job.Status, text, opts); err != nil {
			slog.Warn("renumbering queue placeholder failed", "session", job.Session.ID, "error", err)
		}
	}()
}

func laneKey(job *pipeline.Job) queue.Key {
	return queue.Key{Platform: job.Sub.Platform, UserID: job.Sub.SenderID}
}
