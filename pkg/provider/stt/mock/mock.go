// Package mock provides a scriptable stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/dimakhov/voxnote/pkg/provider/stt"
)

// Provider is a test double for stt.Provider. Configure TranscribeFunc to
// script behaviour; calls are recorded for later inspection.
type Provider struct {
	// TranscribeFunc is invoked for every Transcribe call. When nil, a
	// fixed placeholder result is returned.
	TranscribeFunc func(ctx context.Context, req stt.Request) (*stt.Result, error)

	mu    sync.Mutex
	calls []stt.Request
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.TranscribeFunc != nil {
		return p.TranscribeFunc(ctx, req)
	}
	return &stt.Result{Text: "mock transcript", TimeAnnotated: "[00:00] mock transcript"}, nil
}

// Calls returns a copy of all requests seen so far.
func (p *Provider) Calls() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many times Transcribe was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
