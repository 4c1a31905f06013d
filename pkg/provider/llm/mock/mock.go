// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/dimakhov/voxnote/pkg/provider/llm"
)

// Provider is a test double for llm.Provider.
type Provider struct {
	// CompleteFunc is invoked for every Complete call. When nil, a fixed
	// placeholder response is returned.
	CompleteFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

	mu    sync.Mutex
	calls []llm.Request
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, req)
	}
	return &llm.Response{Content: "mock completion"}, nil
}

// Calls returns a copy of all requests seen so far.
func (p *Provider) Calls() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many times Complete was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
