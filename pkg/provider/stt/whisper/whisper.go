// Package whisper implements stt.Provider with local whisper.cpp inference
// via the CGO bindings. The whisper.cpp static library (libwhisper.a) and
// headers must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// This provider has no network dependency, which makes it the natural last
// entry in a transcription fallback chain: slower than hosted APIs but immune
// to their outages.
package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/dimakhov/voxnote/pkg/provider/stt"
)

// Provider implements stt.Provider using a locally loaded whisper.cpp model.
// The model is loaded once at startup and shared across transcriptions; each
// inference gets its own whisper context (contexts are not thread-safe, the
// model is).
type Provider struct {
	model    whisperlib.Model
	language string
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the default language code used when a request carries no
// language hint. Defaults to "auto".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New loads the whisper.cpp model from modelPath. The caller must Close the
// provider when done.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{model: model, language: "auto"}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the loaded model.
func (p *Provider) Close() error {
	return p.model.Close()
}

// Transcribe implements stt.Provider. The input must be a 16-bit PCM WAV
// file, which is what the media layer's normalization step produces.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	samples, err := readWAVMono(req.Path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var plain, annotated []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		plain = append(plain, text)
		annotated = append(annotated, fmt.Sprintf("[%02d:%02d] %s",
			int(segment.Start.Minutes()), int(segment.Start.Seconds())%60, text))
	}
	if len(plain) == 0 {
		return nil, errors.New("whisper: empty transcript")
	}

	return &stt.Result{
		Text:          strings.Join(plain, " "),
		TimeAnnotated: strings.Join(annotated, "\n"),
	}, nil
}

// readWAVMono reads a 16-bit PCM WAV file and returns mono float32 samples
// normalised to [-1, 1]. Multi-channel input is down-mixed by averaging.
func readWAVMono(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: read wav: %w", err)
	}
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, errors.New("whisper: input is not a RIFF/WAVE file")
	}

	channels := int(binary.LittleEndian.Uint16(raw[22:24]))
	if channels < 1 {
		channels = 1
	}

	// Locate the data chunk; headers may carry extra chunks before it.
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		if id == "data" {
			pcm := raw[off+8:]
			if size < len(pcm) {
				pcm = pcm[:size]
			}
			return pcmToFloat32Mono(pcm, channels), nil
		}
		off += 8 + size + size%2
	}
	return nil, errors.New("whisper: wav data chunk not found")
}
