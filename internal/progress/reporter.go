// Package progress maintains a single status message per job and keeps it
// alive while the pipeline works. Two background activities animate the
// message: a dot ticker that cycles "." → ".." → "..." so the user sees the
// bot is not stuck, and a synthetic checkpoint advancer that nudges the
// percentage through the long transcription phase when the provider reports
// no real progress. Real progress always wins: the displayed percentage is
// monotonic and a provider-reported value moves the synthetic sequence past
// it.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dimakhov/voxnote/internal/messenger"
)

// maxConsecutiveEditErrors stops the reporter after this many edit failures
// in a row. ErrNotModified does not count; a successful edit resets the run.
const maxConsecutiveEditErrors = 5

// syntheticCeiling caps what the checkpoint advancer may display. Only a
// phase change or a real provider update can go past it.
const syntheticCeiling = 95

// checkpoints is the synthetic percentage ladder walked during
// transcription. The advancer picks the first rung above the current
// percentage, so real updates skip rungs naturally.
var checkpoints = []int{42, 47, 52, 58, 64, 70, 75, 80, 85}

// initialCheckpointDelay derives the first synthetic step delay from the
// media duration. Short clips tick quickly; longer recordings scale the
// delay so the ladder spans roughly the expected transcription time. The
// delay doubles after every synthetic step.
func initialCheckpointDelay(d time.Duration) time.Duration {
	sec := d / time.Second
	switch {
	case sec < 300:
		return 5 * time.Second
	case sec < 900:
		return d / 45
	case sec < 1800:
		return d / 63
	case sec < 3600:
		return d / 138
	default:
		return d / 250
	}
}

// nextCheckpoint returns the first ladder rung strictly above current.
func nextCheckpoint(current int) (int, bool) {
	for _, c := range checkpoints {
		if c > current {
			return c, true
		}
	}
	return 0, false
}

// Reporter drives one status message. Create it with New, call Start once,
// then SetPhase/Update as the pipeline advances, and Stop when done. All
// methods are safe for concurrent use.
type Reporter struct {
	port        messenger.Port
	ref         messenger.MessageRef
	dotInterval time.Duration

	mu       sync.Mutex
	phase    Phase
	percent  int
	dots     int
	duration time.Duration
	lastText string
	editErrs int
	stopped  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithDuration seeds the media duration used for transcription labels and
// synthetic delays. It can also be set later via SetDuration once the media
// has been probed.
func WithDuration(d time.Duration) Option {
	return func(r *Reporter) { r.duration = d }
}

// WithDotInterval overrides the dot animation period. Intended for tests.
func WithDotInterval(d time.Duration) Option {
	return func(r *Reporter) { r.dotInterval = d }
}

// New creates a reporter bound to an already-sent status message.
func New(port messenger.Port, ref messenger.MessageRef, opts ...Option) *Reporter {
	r := &Reporter{
		port:        port,
		ref:         ref,
		dotInterval: 4 * time.Second,
		dots:        1,
		stopCh:      make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start launches the dot animation. The animation stops when ctx is done or
// Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.dotLoop(ctx)
}

// SetPhase moves the reporter into a new phase, lifting the percentage to
// the phase floor, and renders immediately. Entering the transcription phase
// starts the synthetic checkpoint advancer.
func (r *Reporter) SetPhase(ctx context.Context, p Phase) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.phase = p
	if f := p.floor(); f > r.percent {
		r.percent = f
	}
	r.dots = 1
	r.editLocked(ctx)
	startAdvancer := p == PhaseTranscribing && !r.stopped
	r.mu.Unlock()

	if startAdvancer {
		r.wg.Add(1)
		go r.syntheticLoop(ctx)
	}
}

// Update applies a real provider-reported percentage. Values at or below the
// current display are ignored so the bar never moves backwards.
func (r *Reporter) Update(ctx context.Context, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || percent <= r.percent {
		return
	}
	r.percent = percent
	r.editLocked(ctx)
}

// SetDuration records the probed media duration. It affects the
// transcription label and the synthetic delay schedule; it does not trigger
// an edit by itself.
func (r *Reporter) SetDuration(d time.Duration) {
	r.mu.Lock()
	r.duration = d
	r.mu.Unlock()
}

// Percent returns the currently displayed percentage.
func (r *Reporter) Percent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percent
}

// Stopped reports whether the reporter has shut down, either via Stop or
// because the status message disappeared or editing kept failing.
func (r *Reporter) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Stop halts both background loops and blocks until they exit. The status
// message itself is left in place; the caller replaces or deletes it.
func (r *Reporter) Stop() {
	r.halt()
	r.wg.Wait()
}

func (r *Reporter) halt() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(r.stopCh)
	})
}

func (r *Reporter) dotLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.dotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.stopped {
				r.mu.Unlock()
				return
			}
			r.dots = r.dots%3 + 1
			r.editLocked(ctx)
			r.mu.Unlock()
		}
	}
}

func (r *Reporter) syntheticLoop(ctx context.Context) {
	defer r.wg.Done()
	r.mu.Lock()
	delay := initialCheckpointDelay(r.duration)
	r.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			if !r.advance(ctx) {
				return
			}
			delay *= 2
			timer.Reset(delay)
		}
	}
}

// advance performs one synthetic checkpoint step. It returns false when the
// advancer should stop: the reporter is halted, the pipeline has moved past
// transcription, or the ladder is exhausted.
func (r *Reporter) advance(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.phase != PhaseTranscribing {
		return false
	}
	next, ok := nextCheckpoint(r.percent)
	if !ok || next > syntheticCeiling {
		return false
	}
	r.percent = next
	r.editLocked(ctx)
	return !r.stopped
}

// editLocked renders and pushes the current state. Callers hold r.mu.
// A missing status message or a run of edit failures halts the reporter so
// the background loops wind down on their next tick.
func (r *Reporter) editLocked(ctx context.Context) {
	text := render(r.phase, r.duration, r.percent, r.dots)
	if text == r.lastText {
		return
	}
	err := r.port.EditMessage(ctx, r.ref, text, messenger.SendOptions{})
	switch {
	case err == nil:
		r.lastText = text
		r.editErrs = 0
	case errors.Is(err, messenger.ErrNotModified):
		r.lastText = text
		r.editErrs = 0
	case errors.Is(err, messenger.ErrNotFound):
		slog.Info("status message gone, stopping progress updates", "chat", r.ref.ChatID)
		r.haltLocked()
	default:
		r.editErrs++
		slog.Warn("progress edit failed", "error", err, "consecutive", r.editErrs)
		if r.editErrs >= maxConsecutiveEditErrors {
			r.haltLocked()
		}
	}
}

// haltLocked is halt for callers already holding r.mu.
func (r *Reporter) haltLocked() {
	r.stopOnce.Do(func() {
		r.stopped = true
		close(r.stopCh)
	})
}
