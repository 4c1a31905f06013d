package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dimakhov/voxnote/internal/resilience"
	"github.com/dimakhov/voxnote/pkg/provider/stt"
)

// minTranscriptWords is the plausibility floor: a provider returning fewer
// words is treated as a failed attempt and the chain falls through.
const minTranscriptWords = 5

// Transcriber runs the speech-to-text fallback chain.
type Transcriber struct {
	chain  *resilience.Chain[stt.Provider]
	policy Policy
}

// NewTranscriber wraps a registered STT chain with the ordering policy.
func NewTranscriber(chain *resilience.Chain[stt.Provider], policy Policy) *Transcriber {
	return &Transcriber{chain: chain, policy: policy}
}

// Transcribe runs the chain against the prepared WAV file. The provider
// order follows the duration and escalation policy; each attempt gets its
// own duration-scaled timeout.
func (t *Transcriber) Transcribe(ctx context.Context, path, language string, duration time.Duration, escalated bool) (*stt.Result, resilience.Winner, error) {
	req := stt.Request{Path: path, Language: language, Duration: duration}
	order := t.policy.sttOrder(duration, escalated)

	result, winner, err := resilience.Run(ctx, t.chain, order,
		func(ctx context.Context, p stt.Provider) (*stt.Result, error) {
			ctx, cancel := context.WithTimeout(ctx, stt.CallTimeout(duration))
			defer cancel()

			res, err := p.Transcribe(ctx, req)
			if err != nil {
				return nil, err
			}
			if wordCount(res.Text) < minTranscriptWords {
				return nil, fmt.Errorf("%w: %d words", resilience.ErrEmptyResult, wordCount(res.Text))
			}
			return res, nil
		})
	if err != nil {
		return nil, resilience.Winner{}, err
	}
	return result, winner, nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
