// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription service (a hosted API such as
// Deepgram or Fireworks, or a local whisper.cpp model) and exposes a uniform
// batch interface: give it a normalized audio file, get back a plain
// transcript and a time-annotated transcript. Providers are interchangeable;
// the pipeline arranges them in priority chains and falls through on failure.
//
// Implementations must be safe for concurrent use. Multiple transcriptions
// may be in flight simultaneously (one per active user job).
package stt

import (
	"context"
	"time"
)

// Request describes one audio file to transcribe. The file must already be
// normalized by the media layer (audio-only container, mono-compatible).
type Request struct {
	// Path is the location of the audio file on local disk.
	Path string

	// Language is the BCP-47 language hint (e.g., "en", "ru"). Empty lets
	// the provider auto-detect, if supported.
	Language string

	// Duration is the probed audio duration. Providers use it to size
	// their per-call timeout; zero means unknown.
	Duration time.Duration
}

// Result is a completed transcription.
type Result struct {
	// Text is the clean transcript without any timing markup.
	Text string

	// TimeAnnotated is the transcript with segment timestamps interleaved
	// (e.g., "[00:12] …"). Providers that cannot produce timestamps should
	// set this to Text rather than leaving it empty.
	TimeAnnotated string
}

// Provider is the abstraction over any STT backend.
//
// Transcribe blocks until the provider returns a transcript or fails. It must
// respect ctx cancellation and should bound its own network waits with a
// timeout derived from Request.Duration. An empty transcript is an error
// condition and must be reported as such, never as an empty Result.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
