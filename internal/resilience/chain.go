// Package resilience provides the provider fallback chain used for every
// interchangeable capability in the pipeline: speech-to-text, summarization,
// and title generation.
//
// The central type is [Chain], a registry of named provider entries of one
// capability type. A call site picks a per-request priority order (for
// example, by audio duration or by the user's preferred model) and [Run]
// tries each entry until one returns a usable result. An empty result is
// treated exactly like a raised error: the chain falls through to the next
// entry. Every attempt, successful or not, is reported to the chain's
// [Recorder] so the caller can feed analytics and usage logs.
//
// All types are safe for concurrent use once registration is complete.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned by [Run] when every entry in the requested order
// fails. It wraps the last underlying error.
var ErrAllFailed = errors.New("all providers failed")

// ErrEmptyResult marks a provider response that is structurally valid but
// unusable (empty text, implausibly small transcript). Validation hooks
// return it to force fallthrough to the next provider.
var ErrEmptyResult = errors.New("provider returned empty result")

// Attempt describes one provider invocation for bookkeeping.
type Attempt struct {
	// Provider is the registered entry name (e.g., "deepgram").
	Provider string

	// Model is the provider's model label (e.g., "nova-2").
	Model string

	// Err is nil for a successful attempt.
	Err error

	// Duration is the wall-clock time of the invocation.
	Duration time.Duration
}

// Succeeded reports whether the attempt returned a usable result.
func (a Attempt) Succeeded() bool { return a.Err == nil }

// Recorder receives every attempt made by [Run]. Implementations must be
// fast and must never panic; they typically increment metrics and enqueue a
// fire-and-forget usage-log write.
type Recorder func(Attempt)

// Winner identifies the entry whose result was accepted.
type Winner struct {
	Provider string
	Model    string
}

type entry[T any] struct {
	name  string
	model string
	value T
}

// Chain is an ordered-on-demand registry of interchangeable providers of one
// capability type. Entries are registered once at startup; the execution
// order is chosen per request.
type Chain[T any] struct {
	entries []entry[T]
	index   map[string]int
	rec     Recorder
}

// NewChain creates an empty chain. rec may be nil.
func NewChain[T any](rec Recorder) *Chain[T] {
	return &Chain[T]{index: make(map[string]int), rec: rec}
}

// Register adds a named provider entry. Registering the same name twice
// replaces the earlier entry. The model label is carried through to
// [Attempt] and [Winner] for bookkeeping.
func (c *Chain[T]) Register(name, model string, value T) {
	if i, ok := c.index[name]; ok {
		c.entries[i] = entry[T]{name: name, model: model, value: value}
		return
	}
	c.index[name] = len(c.entries)
	c.entries = append(c.entries, entry[T]{name: name, model: model, value: value})
}

// Has reports whether a provider with the given name is registered.
func (c *Chain[T]) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

// Names returns the registered entry names in registration order.
func (c *Chain[T]) Names() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.name
	}
	return out
}

// Run tries fn against the chain's entries in the given order until one
// succeeds. Order names without a registered entry are skipped. A fn result
// of (zero, err) — including [ErrEmptyResult] — moves on to the next entry.
// On success, Run stops immediately: entries after the first success are
// never invoked.
//
// Run is a package-level function because Go does not support method-level
// type parameters.
func Run[T, R any](ctx context.Context, c *Chain[T], order []string, fn func(ctx context.Context, v T) (R, error)) (R, Winner, error) {
	var (
		zero    R
		lastErr error
		tried   int
	)
	for _, name := range order {
		i, ok := c.index[name]
		if !ok {
			slog.Debug("skipping unknown provider in order", "provider", name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return zero, Winner{}, err
		}
		e := c.entries[i]
		tried++

		start := time.Now()
		result, err := fn(ctx, e.value)
		c.record(Attempt{Provider: e.name, Model: e.model, Err: err, Duration: time.Since(start)})

		if err == nil {
			return result, Winner{Provider: e.name, Model: e.model}, nil
		}
		lastErr = err
		slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
	}
	if tried == 0 {
		return zero, Winner{}, fmt.Errorf("%w: no providers matched order %v", ErrAllFailed, order)
	}
	return zero, Winner{}, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

func (c *Chain[T]) record(a Attempt) {
	if c.rec != nil {
		c.rec(a)
	}
}
