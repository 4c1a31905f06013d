// Package openai implements stt.Provider on the OpenAI audio transcription
// API (Whisper) via the official Go SDK.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dimakhov/voxnote/pkg/provider/stt"
)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   oai.AudioModel
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithModel selects the transcription model (default whisper-1).
func WithModel(m string) Option {
	return func(c *config) { c.model = oai.AudioModel(m) }
}

// New constructs an OpenAI transcription provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{model: oai.AudioModelWhisper1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe implements stt.Provider. The OpenAI batch endpoint does not
// return segment timings in the plain response shape, so TimeAnnotated is the
// plain text; downstream consumers treat the two uniformly.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("openai: open audio: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, stt.CallTimeout(req.Duration))
	defer cancel()

	params := oai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  f,
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	tr, err := p.client.Audio.Transcriptions.New(ctx, params,
		option.WithHTTPClient(&http.Client{Timeout: stt.CallTimeout(req.Duration)}))
	if err != nil {
		return nil, fmt.Errorf("openai: transcribe: %w", err)
	}
	if tr.Text == "" {
		return nil, errors.New("openai: empty transcript")
	}
	return &stt.Result{Text: tr.Text, TimeAnnotated: tr.Text}, nil
}
