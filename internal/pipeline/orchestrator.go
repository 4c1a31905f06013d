// Package pipeline drives one submitted media item end to end: cache probe,
// download, audio extraction, transcription, summarization and delivery,
// narrating progress to the user throughout. Provider calls for every stage
// run through the resilience fallback chains; results land in the
// content-addressed caches so identical media is never transcribed twice.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dimakhov/voxnote/internal/cache"
	"github.com/dimakhov/voxnote/internal/media"
	"github.com/dimakhov/voxnote/internal/messenger"
	"github.com/dimakhov/voxnote/internal/observe"
	"github.com/dimakhov/voxnote/internal/progress"
	"github.com/dimakhov/voxnote/internal/store"
)

// Action identifiers rendered as buttons by the messenger adapters.
const (
	ActionCancelQueue     = "cancel_queue"
	ActionGenerateSummary = "generate_summary"
)

// maxInlineTranscript is the largest transcript delivered as message text;
// longer ones are attached as a document.
const maxInlineTranscript = 3500

// errorText is the only failure message users ever see. Raw provider errors
// stay in the logs.
const errorText = "⚠️ Something went wrong while processing your file. Please try again later."

// Job is one admitted submission with everything needed to process it.
type Job struct {
	Session *store.ProcessingSession
	User    *store.User
	Sub     messenger.Submission

	// Status is the placeholder message the progress reporter animates and
	// delivery finally replaces.
	Status messenger.MessageRef

	// ForceSummary bypasses the skip-summary policy (the on-demand
	// "generate summary" action).
	ForceSummary bool

	// ResultRef is the message that ended up carrying the delivered
	// transcript and its actions. Set during delivery; it differs from
	// Status when the transcript goes out as a document or the status
	// message had to be replaced.
	ResultRef messenger.MessageRef

	// transcriptionID is the cache entry that served this job, recorded on
	// the session at completion.
	transcriptionID uuid.UUID

	finalized sync.Once
}

// Fetcher downloads submitted media. *media.Downloader is the production
// implementation.
type Fetcher interface {
	Fetch(ctx context.Context, url, destDir string) (*media.Download, error)
}

// Preparer shapes a downloaded file into the WAV the STT providers expect.
// *media.Preparer is the production implementation.
type Preparer interface {
	Prepare(ctx context.Context, path string) (string, error)
}

// Orchestrator wires the pipeline's collaborators together. One instance
// serves all jobs; per-job state lives in [Job].
type Orchestrator struct {
	port        messenger.Port
	st          store.Store
	fetcher     Fetcher
	preparer    Preparer
	transcriber *Transcriber
	summarizer  *Summarizer
	policy      Policy
	metrics     *observe.Metrics
	workDir     string

	// onFinish hands the user's queue lane back after finalization. Set by
	// the bot layer.
	onFinish func(job *Job)

	now func() time.Time
}

// New creates an Orchestrator. workDir holds in-flight downloads and is
// cleaned per job.
func New(
	port messenger.Port,
	st store.Store,
	fetcher Fetcher,
	preparer Preparer,
	transcriber *Transcriber,
	summarizer *Summarizer,
	policy Policy,
	metrics *observe.Metrics,
	workDir string,
) *Orchestrator {
	return &Orchestrator{
		port:        port,
		st:          st,
		fetcher:     fetcher,
		preparer:    preparer,
		transcriber: transcriber,
		summarizer:  summarizer,
		policy:      policy,
		metrics:     metrics,
		workDir:     workDir,
		onFinish:    func(*Job) {},
		now:         time.Now,
	}
}

// SetFinishFunc installs the queue hand-off callback. Must be called before
// the first job runs.
func (o *Orchestrator) SetFinishFunc(fn func(job *Job)) {
	if fn != nil {
		o.onFinish = fn
	}
}

// Process runs one job to completion. It never returns an error: every
// outcome, success or failure, ends in the same finalization (persist the
// outcome, stop the reporter, release the queue lane), each action recovered
// independently so none can suppress the others.
func (o *Orchestrator) Process(ctx context.Context, job *Job) {
	start := o.now()
	o.metrics.ActiveJobs.Add(ctx, 1)
	defer o.metrics.ActiveJobs.Add(ctx, -1)

	reporter := progress.New(o.port, job.Status)
	reporter.Start(ctx)

	stage := StageCacheProbe
	err := o.run(ctx, job, reporter, &stage)
	o.finalize(ctx, job, reporter, stage, err, o.now().Sub(start))
}

func (o *Orchestrator) run(ctx context.Context, job *Job, reporter *progress.Reporter, stage *Stage) error {
	sess := job.Session
	log := slog.With("session", sess.ID, "platform", sess.Platform, "user", job.User.PlatformUserID)

	// First-chance probe by source identity, before any bytes move.
	*stage = StageCacheProbe
	tr, escalated, err := o.probeSource(ctx, job)
	if err != nil {
		log.Warn("source cache probe failed", "error", err)
	}

	if tr == nil {
		*stage = StageDownload
		o.advance(ctx, sess.ID, store.StatusDownloading)
		reporter.SetPhase(ctx, progress.PhaseDownloading)

		dl, err := o.fetch(ctx, job)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		defer os.Remove(dl.Path)

		// Second chance: byte-identical content may already be transcribed
		// under a different source.
		hashHit, hashEscalated, err := o.probeHash(ctx, job, dl.Hash)
		if err != nil {
			log.Warn("hash cache probe failed", "error", err)
		}
		if hashHit != nil {
			tr = hashHit
		} else {
			escalated = escalated || hashEscalated

			*stage = StageExtraction
			o.advance(ctx, sess.ID, store.StatusConverting)
			reporter.SetPhase(ctx, progress.PhaseConverting)

			wavPath, err := o.extract(ctx, dl.Path)
			if err != nil {
				return fmt.Errorf("audio extraction: %w", err)
			}
			defer os.Remove(wavPath)

			duration, err := media.WAVDuration(wavPath)
			if err != nil {
				log.Warn("duration probe failed", "error", err)
			}
			reporter.SetDuration(duration)
			reporter.SetPhase(ctx, progress.PhasePreparing)

			*stage = StageTranscription
			o.advance(ctx, sess.ID, store.StatusTranscribing)
			reporter.SetPhase(ctx, progress.PhaseTranscribing)

			sttStart := o.now()
			result, winner, err := o.transcriber.Transcribe(ctx, wavPath, job.User.Language, duration, escalated)
			o.metrics.STTDuration.Record(ctx, o.now().Sub(sttStart).Seconds())
			if err != nil {
				return fmt.Errorf("transcription: %w", err)
			}
			log.Info("transcribed", "provider", winner.Provider, "duration", duration)

			tr = &store.Transcription{
				SourceKey:     sess.SourceKey,
				FileHash:      dl.Hash,
				Language:      job.User.Language,
				Provider:      winner.Provider,
				Model:         winner.Model,
				Text:          result.Text,
				TimeAnnotated: result.TimeAnnotated,
				Duration:      duration,
				CreatedBy:     job.User.ID,
			}
			if err := o.st.Transcriptions().Save(ctx, tr); err != nil {
				// Cache writes are best-effort: the user still gets the result.
				log.Warn("transcription cache write failed", "error", err)
			}
		}
	}

	job.transcriptionID = tr.ID

	var summary *store.Summary
	if !o.policy.skipSummary(job.User.CreatedAt, tr.Text, job.Sub.Kind, job.ForceSummary) {
		*stage = StageSummary
		o.advance(ctx, sess.ID, store.StatusSummarizing)
		reporter.SetPhase(ctx, progress.PhaseSummarizing)

		summary, err = o.summarize(ctx, job, tr)
		if err != nil {
			return fmt.Errorf("summary: %w", err)
		}
	}

	*stage = StageDelivery
	o.advance(ctx, sess.ID, store.StatusDelivering)
	reporter.SetPhase(ctx, progress.PhaseFinalizing)
	reporter.Stop()

	if err := o.deliver(ctx, job, tr, summary); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	return nil
}

// probeSource checks the transcription cache by source identity and applies
// the quality escalation rule. A discarded hit returns (nil, true, nil).
func (o *Orchestrator) probeSource(ctx context.Context, job *Job) (*store.Transcription, bool, error) {
	hit, err := o.st.Transcriptions().FindBySourceKey(ctx, job.Session.SourceKey, job.User.Language)
	if err != nil {
		return nil, false, err
	}
	return o.applyEscalation(ctx, job, hit)
}

// probeHash is the post-download probe by content hash.
func (o *Orchestrator) probeHash(ctx context.Context, job *Job, hash string) (*store.Transcription, bool, error) {
	hit, err := o.st.Transcriptions().FindByFileHash(ctx, hash, job.User.Language)
	if err != nil {
		return nil, false, err
	}
	return o.applyEscalation(ctx, job, hit)
}

func (o *Orchestrator) applyEscalation(ctx context.Context, job *Job, hit *store.Transcription) (*store.Transcription, bool, error) {
	switch {
	case hit == nil:
		o.metrics.RecordCacheLookup(ctx, "transcript", "miss")
		return nil, false, nil
	case o.policy.shouldEscalate(hit, job.User.ID, o.now()):
		o.metrics.RecordCacheLookup(ctx, "transcript", "escalated")
		return nil, true, nil
	default:
		o.metrics.RecordCacheLookup(ctx, "transcript", "hit")
		return hit, false, nil
	}
}

func (o *Orchestrator) fetch(ctx context.Context, job *Job) (*media.Download, error) {
	start := o.now()
	dl, err := o.fetcher.Fetch(ctx, job.Sub.FileURL, o.workDir)
	o.metrics.DownloadDuration.Record(ctx, o.now().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}
	if err := o.st.Sessions().SetFileHash(ctx, job.Session.ID, dl.Hash); err != nil {
		slog.Warn("recording file hash failed", "session", job.Session.ID, "error", err)
	}
	return dl, nil
}

func (o *Orchestrator) extract(ctx context.Context, inputPath string) (string, error) {
	start := o.now()
	defer func() {
		o.metrics.ConvertDuration.Record(ctx, o.now().Sub(start).Seconds())
	}()
	return o.preparer.Prepare(ctx, inputPath)
}

// summarize probes the summary cache and runs the LLM chain on a miss.
func (o *Orchestrator) summarize(ctx context.Context, job *Job, tr *store.Transcription) (*store.Summary, error) {
	model := o.summarizer.EffectiveModel(job.User.Model)
	promptHash := cache.PromptHash(o.summarizer.SystemPrompt())

	cached, err := o.st.Summaries().Find(ctx, tr.ID, job.User.Language, model, promptHash)
	if err != nil {
		slog.Warn("summary cache probe failed", "session", job.Session.ID, "error", err)
	}
	if cached != nil {
		o.metrics.RecordCacheLookup(ctx, "summary", "hit")
		return cached, nil
	}
	o.metrics.RecordCacheLookup(ctx, "summary", "miss")

	start := o.now()
	out, err := o.summarizer.Summarize(ctx, tr.Text, job.User.Language, job.User.Model)
	o.metrics.LLMDuration.Record(ctx, o.now().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}

	summary := &store.Summary{
		TranscriptionID: tr.ID,
		Language:        job.User.Language,
		Model:           model,
		PromptHash:      promptHash,
		Title:           out.Title,
		Text:            out.Text,
	}
	if err := o.st.Summaries().Save(ctx, summary); err != nil {
		slog.Warn("summary cache write failed", "session", job.Session.ID, "error", err)
	}
	return summary, nil
}

// deliver replaces the status message with the transcript and, when one was
// produced, sends the summary as a second message. Transcript-only delivery
// offers the on-demand summary action instead.
func (o *Orchestrator) deliver(ctx context.Context, job *Job, tr *store.Transcription, summary *store.Summary) error {
	var actions []string
	if summary == nil {
		actions = []string{ActionGenerateSummary}
	}

	if len(tr.Text) > maxInlineTranscript {
		if _, err := o.editOrSend(ctx, job.Status, job.Sub.ChatID, "📝 Transcript attached.", messenger.SendOptions{}); err != nil {
			return err
		}
		opts := messenger.SendOptions{ReplyTo: job.Sub.UserMessage, Actions: actions}
		docRef, err := o.port.SendDocument(ctx, job.Sub.ChatID, "transcript.txt", []byte(tr.Text), "Full transcript", opts)
		if err != nil {
			return err
		}
		job.ResultRef = docRef
	} else {
		text := "📝 Transcript:\n\n" + tr.Text
		ref, err := o.editOrSend(ctx, job.Status, job.Sub.ChatID, text, messenger.SendOptions{Actions: actions})
		if err != nil {
			return err
		}
		job.ResultRef = ref
	}

	if summary != nil {
		text := summaryMessage(summary)
		opts := messenger.SendOptions{ReplyTo: job.Sub.UserMessage}
		if _, err := o.port.SendMessage(ctx, job.Sub.ChatID, text, opts); err != nil {
			return err
		}
	}
	return nil
}

func summaryMessage(s *store.Summary) string {
	if s.Title == "" {
		return "📋 Summary:\n\n" + s.Text
	}
	return "📋 " + s.Title + "\n\n" + s.Text
}

// finalize performs the three mandatory end-of-job actions exactly once,
// each recovered independently: persist the outcome, stop the reporter (and
// show the generic error on failure), release the user's queue lane.
func (o *Orchestrator) finalize(ctx context.Context, job *Job, reporter *progress.Reporter, stage Stage, runErr error, elapsed time.Duration) {
	job.finalized.Do(func() {
		status := "success"
		if runErr != nil {
			status = "failed"
			slog.Error("job failed", "session", job.Session.ID, "stage", stage, "error", runErr)
		}
		o.metrics.JobDuration.Record(ctx, elapsed.Seconds())

		safely("persist outcome", func() {
			if runErr != nil {
				if err := o.st.Sessions().Fail(ctx, job.Session.ID, string(stage), runErr.Error()); err != nil {
					slog.Error("failed to persist job failure", "session", job.Session.ID, "error", err)
				}
				return
			}
			if err := o.st.Sessions().Complete(ctx, job.Session.ID, job.transcriptionID, elapsed); err != nil {
				slog.Error("failed to persist job success", "session", job.Session.ID, "error", err)
			}
		})

		safely("stop reporter", func() {
			reporter.Stop()
			if runErr != nil {
				if _, err := o.editOrSend(ctx, job.Status, job.Sub.ChatID, errorText, messenger.SendOptions{}); err != nil {
					slog.Warn("failed to show error message", "session", job.Session.ID, "error", err)
				}
			}
		})

		safely("release queue", func() {
			o.onFinish(job)
		})

		slog.Info("job finalized", "session", job.Session.ID, "status", status, "elapsed", elapsed)
	})
}

// advance persists a status step. Bookkeeping failures never abort the job.
func (o *Orchestrator) advance(ctx context.Context, id uuid.UUID, status store.Status) {
	if err := o.st.Sessions().Advance(ctx, id, status); err != nil {
		slog.Warn("status advance failed", "session", id, "status", status, "error", err)
	}
}

// editOrSend edits ref in place; when the message is gone it sends a fresh
// one instead. A no-op edit is success. The returned ref is the message that
// ended up showing the text.
func (o *Orchestrator) editOrSend(ctx context.Context, ref messenger.MessageRef, chatID, text string, opts messenger.SendOptions) (messenger.MessageRef, error) {
	err := o.port.EditMessage(ctx, ref, text, opts)
	switch {
	case err == nil, errors.Is(err, messenger.ErrNotModified):
		return ref, nil
	case errors.Is(err, messenger.ErrNotFound):
		return o.port.SendMessage(ctx, chatID, text, opts)
	default:
		return messenger.MessageRef{}, err
	}
}

// safely runs fn, converting a panic into a logged error so one finalization
// action cannot suppress the others.
func safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("finalization action panicked", "action", name, "panic", r)
		}
	}()
	fn()
}
