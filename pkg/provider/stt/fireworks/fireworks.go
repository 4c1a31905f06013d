// Package fireworks implements stt.Provider against the Fireworks AI audio
// transcription endpoint (whisper-v3 family).
package fireworks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dimakhov/voxnote/pkg/provider/stt"
)

const defaultBaseURL = "https://audio-prod.us-virginia-1.direct.fireworks.ai/v1/audio/transcriptions"

// Provider implements stt.Provider using the Fireworks transcription API.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the default endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithModel selects the model (default "whisper-v3").
func WithModel(m string) Option {
	return func(p *Provider) { p.model = m }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New constructs a Fireworks provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("fireworks: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   "whisper-v3",
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type response struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("fireworks: open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(req.Path))
	if err != nil {
		return nil, fmt.Errorf("fireworks: build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("fireworks: read audio: %w", err)
	}
	_ = mw.WriteField("model", p.model)
	_ = mw.WriteField("response_format", "verbose_json")
	if req.Language != "" {
		_ = mw.WriteField("language", req.Language)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("fireworks: finalize form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, stt.CallTimeout(req.Duration))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, &body)
	if err != nil {
		return nil, fmt.Errorf("fireworks: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fireworks: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fireworks: status %d: %s", resp.StatusCode, msg)
	}

	var fw response
	if err := json.NewDecoder(resp.Body).Decode(&fw); err != nil {
		return nil, fmt.Errorf("fireworks: decode response: %w", err)
	}
	if fw.Text == "" {
		return nil, errors.New("fireworks: empty transcript")
	}

	return &stt.Result{Text: fw.Text, TimeAnnotated: annotate(fw)}, nil
}

func annotate(fw response) string {
	if len(fw.Segments) == 0 {
		return fw.Text
	}
	var out bytes.Buffer
	for i, seg := range fw.Segments {
		if i > 0 {
			out.WriteByte('\n')
		}
		start := time.Duration(seg.Start) * time.Second
		fmt.Fprintf(&out, "[%02d:%02d]%s", int(start.Minutes()), int(start.Seconds())%60, seg.Text)
	}
	return out.String()
}
