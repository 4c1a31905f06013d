package media

import "context"

// Preparer turns any downloaded media file into a WAV ready for
// transcription: plain OGG/Opus voice notes decode natively, everything else
// goes through ffmpeg.
type Preparer struct {
	converter *Converter
}

// NewPreparer creates a Preparer around the given converter.
func NewPreparer(c *Converter) *Preparer {
	return &Preparer{converter: c}
}

// Prepare converts path into a WAV file next to it and returns the new path.
func (p *Preparer) Prepare(ctx context.Context, path string) (string, error) {
	if IsVoiceNote(path) {
		return DecodeVoiceNote(path)
	}
	return p.converter.ExtractAudio(ctx, path)
}
