package progress

import (
	"fmt"
	"strings"
	"time"
)

// Phase is a coarse processing stage shown to the user. Each phase has a
// floor percentage; the displayed percentage never moves backwards.
type Phase int

const (
	PhaseDownloading Phase = iota
	PhaseConverting
	PhasePreparing
	PhaseTranscribing
	PhaseSummarizing
	PhaseFinalizing
)

// floor is the minimum displayed percentage once the phase is entered.
func (p Phase) floor() int {
	switch p {
	case PhaseDownloading:
		return 5
	case PhaseConverting:
		return 20
	case PhasePreparing:
		return 35
	case PhaseTranscribing:
		return 39
	case PhaseSummarizing:
		return 85
	case PhaseFinalizing:
		return 95
	}
	return 0
}

// label returns the user-facing phase text. The transcription text varies
// with both the media duration and the displayed percentage; other phases
// ignore the percentage.
func (p Phase) label(d time.Duration, percent int) string {
	switch p {
	case PhaseDownloading:
		return "Downloading media"
	case PhaseConverting:
		return "Converting audio"
	case PhasePreparing:
		return "Preparing transcription"
	case PhaseTranscribing:
		return transcribingLabel(d, percent)
	case PhaseSummarizing:
		return "Summarizing"
	case PhaseFinalizing:
		return "Finishing up"
	}
	return "Working"
}

// transcribingFinalPercent is the last synthetic rung; at that point the
// message switches to a finishing-up text.
const transcribingFinalPercent = 85

// transcribingStepText gives each synthetic checkpoint its own line so the
// message keeps changing while the bar lingers mid-transcription.
var transcribingStepText = map[int]string{
	42: "Transcribing, the first words are coming through",
	47: "Transcribing, working through the audio",
	52: "Transcribing, about halfway there",
	58: "Transcribing, past the halfway mark",
	64: "Transcribing, making steady progress",
	70: "Transcribing, most of it is done",
	75: "Transcribing, getting close now",
	80: "Transcribing, nearly there",
}

// transcribingLabel picks the transcription text for the displayed
// percentage. Up to the phase floor, and at percentages with no dedicated
// line, the duration-based text sets expectations instead.
func transcribingLabel(d time.Duration, percent int) string {
	if percent == transcribingFinalPercent {
		return "Finishing up the transcript"
	}
	if text, ok := transcribingStepText[percent]; ok {
		return text
	}
	switch {
	case d <= 0:
		return "Transcribing"
	case d < 5*time.Minute:
		return "Transcribing"
	case d < 15*time.Minute:
		return "Transcribing, this can take a few minutes"
	case d < 30*time.Minute:
		return "Transcribing a long recording, hang tight"
	case d < time.Hour:
		return "Transcribing a long recording, this will take a while"
	default:
		return "Transcribing a very long recording, grab a coffee"
	}
}

const barWidth = 20

// bar renders a fixed-width progress bar like "[████----------------] 20%".
func bar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * barWidth / 100
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(strings.Repeat("█", filled))
	b.WriteString(strings.Repeat("-", barWidth-filled))
	b.WriteByte(']')
	fmt.Fprintf(&b, " %d%%", percent)
	return b.String()
}

// render assembles the full status message: phase label with trailing
// activity dots, then the bar on its own line.
func render(p Phase, d time.Duration, percent, dots int) string {
	return p.label(d, percent) + strings.Repeat(".", dots) + "\n" + bar(percent)
}
