// Package mock provides an in-memory messenger.Port that records every call
// and can be scripted to fail, for pipeline and progress tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/dimakhov/voxnote/internal/messenger"
)

// Call records one Port invocation.
type Call struct {
	Op      string // "send", "edit", "delete", "document"
	Ref     messenger.MessageRef
	Text    string
	Actions []string
}

// Port is a recording test double for messenger.Port.
type Port struct {
	// EditErr, when non-nil, is returned by every EditMessage call.
	EditErr error

	// EditErrFunc, when set, decides per-call whether an edit fails. It
	// takes precedence over EditErr.
	EditErrFunc func(ref messenger.MessageRef, text string) error

	mu    sync.Mutex
	seq   int
	calls []Call
	texts map[messenger.MessageRef]string
}

var _ messenger.Port = (*Port)(nil)

// New creates an empty mock port.
func New() *Port {
	return &Port{texts: make(map[messenger.MessageRef]string)}
}

// SendMessage implements messenger.Port.
func (p *Port) SendMessage(_ context.Context, chatID, text string, opts messenger.SendOptions) (messenger.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ref := messenger.MessageRef{Platform: "mock", ChatID: chatID, MessageID: fmt.Sprintf("m%d", p.seq)}
	p.texts[ref] = text
	p.calls = append(p.calls, Call{Op: "send", Ref: ref, Text: text, Actions: opts.Actions})
	return ref, nil
}

// EditMessage implements messenger.Port.
func (p *Port) EditMessage(_ context.Context, ref messenger.MessageRef, text string, opts messenger.SendOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EditErrFunc != nil {
		if err := p.EditErrFunc(ref, text); err != nil {
			return err
		}
	} else if p.EditErr != nil {
		return p.EditErr
	}
	p.texts[ref] = text
	p.calls = append(p.calls, Call{Op: "edit", Ref: ref, Text: text, Actions: opts.Actions})
	return nil
}

// DeleteMessage implements messenger.Port.
func (p *Port) DeleteMessage(_ context.Context, ref messenger.MessageRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.texts, ref)
	p.calls = append(p.calls, Call{Op: "delete", Ref: ref})
	return nil
}

// SendDocument implements messenger.Port.
func (p *Port) SendDocument(_ context.Context, chatID, filename string, _ []byte, caption string, opts messenger.SendOptions) (messenger.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ref := messenger.MessageRef{Platform: "mock", ChatID: chatID, MessageID: fmt.Sprintf("m%d", p.seq)}
	p.calls = append(p.calls, Call{Op: "document", Ref: ref, Text: filename + ": " + caption, Actions: opts.Actions})
	return ref, nil
}

// Calls returns a copy of all recorded calls.
func (p *Port) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallsOf returns recorded calls of one operation.
func (p *Port) CallsOf(op string) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Call
	for _, c := range p.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Text returns the current text of a message, or "" if it does not exist.
func (p *Port) Text(ref messenger.MessageRef) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.texts[ref]
}

// EditCount returns the number of successful edits so far.
func (p *Port) EditCount() int {
	return len(p.CallsOf("edit"))
}
