// Package deepgram implements stt.Provider against the Deepgram pre-recorded
// transcription API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/dimakhov/voxnote/pkg/provider/stt"
)

const defaultBaseURL = "https://api.deepgram.com/v1/listen"

// Provider implements stt.Provider using Deepgram's batch endpoint.
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

// WithBaseURL overrides the default Deepgram API endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithModel selects the Deepgram model (default "nova-2").
func WithModel(m string) Option {
	return func(p *Provider) { p.model = m }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New constructs a Deepgram provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   "nova-2",
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// response mirrors the subset of the Deepgram JSON payload we consume.
type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word  string  `json:"punctuated_word"`
					Start float64 `json:"start"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("deepgram: open audio: %w", err)
	}
	defer f.Close()

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	if req.Language != "" {
		q.Set("language", req.Language)
	}

	ctx, cancel := context.WithTimeout(ctx, stt.CallTimeout(req.Duration))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"?"+q.Encode(), f)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("deepgram: status %d: %s", resp.StatusCode, body)
	}

	var dg response
	if err := json.NewDecoder(resp.Body).Decode(&dg); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(dg.Results.Channels) == 0 || len(dg.Results.Channels[0].Alternatives) == 0 {
		return nil, errors.New("deepgram: empty result set")
	}

	alt := dg.Results.Channels[0].Alternatives[0]
	if alt.Transcript == "" {
		return nil, errors.New("deepgram: empty transcript")
	}

	return &stt.Result{
		Text:          alt.Transcript,
		TimeAnnotated: annotate(alt.Transcript, alt.Words),
	}, nil
}

// annotate interleaves minute markers into the transcript using word start
// offsets. Falls back to the plain transcript when no word timings exist.
func annotate(transcript string, words []struct {
	Word  string  `json:"punctuated_word"`
	Start float64 `json:"start"`
}) string {
	if len(words) == 0 {
		return transcript
	}
	var out []byte
	lastMark := -1
	for i, w := range words {
		mark := int(w.Start) / 60
		if mark != lastMark {
			if i > 0 {
				out = append(out, '\n')
			}
			start := time.Duration(w.Start) * time.Second
			out = append(out, fmt.Sprintf("[%02d:%02d] ", int(start.Minutes()), int(start.Seconds())%60)...)
			lastMark = mark
		} else if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, w.Word...)
	}
	return string(out)
}
