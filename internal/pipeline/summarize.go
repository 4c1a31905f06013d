package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dimakhov/voxnote/internal/resilience"
	"github.com/dimakhov/voxnote/pkg/provider/llm"
)

// maxTitleSourceChars bounds how much transcript the title prompt sees.
const maxTitleSourceChars = 2000

// SummaryOutput is one produced summary plus its title.
type SummaryOutput struct {
	Title string
	Text  string
	Model string
}

// Summarizer runs the LLM fallback chains for summaries and titles.
type Summarizer struct {
	chain *resilience.Chain[llm.Provider]

	systemPrompt string
	titlePrompt  string

	// defaultOrder is the summary chain order when the user has no model
	// preference: fast model first, high-quality fallback after.
	defaultOrder []string

	// titleOrder is the independent two-entry title chain.
	titleOrder []string
}

// NewSummarizer wraps a registered LLM chain with prompts and default
// orderings.
func NewSummarizer(chain *resilience.Chain[llm.Provider], systemPrompt, titlePrompt string, defaultOrder, titleOrder []string) *Summarizer {
	return &Summarizer{
		chain:        chain,
		systemPrompt: systemPrompt,
		titlePrompt:  titlePrompt,
		defaultOrder: defaultOrder,
		titleOrder:   titleOrder,
	}
}

// SystemPrompt returns the active summary prompt; the summary cache key
// includes its hash.
func (s *Summarizer) SystemPrompt() string { return s.systemPrompt }

// Order returns the summary chain order for a user's preferred model. A
// preference that is registered leads the chain; an unknown or empty
// preference falls back to the defaults.
func (s *Summarizer) Order(preferred string) []string {
	if preferred == "" || !s.chain.Has(preferred) {
		return s.defaultOrder
	}
	order := []string{preferred}
	for _, name := range s.defaultOrder {
		if name != preferred {
			order = append(order, name)
		}
	}
	return order
}

// EffectiveModel returns the model the summary cache entry is keyed by: the
// first entry of the order that would run.
func (s *Summarizer) EffectiveModel(preferred string) string {
	order := s.Order(preferred)
	if len(order) == 0 {
		return ""
	}
	return order[0]
}

// Summarize produces a summary and a title for the transcript. The summary
// runs through the preference-ordered chain; the title runs through its own
// two-provider chain and degrades to empty rather than failing the job.
func (s *Summarizer) Summarize(ctx context.Context, transcript, language, preferred string) (*SummaryOutput, error) {
	req := llm.Request{
		SystemPrompt: s.prompt(s.systemPrompt, language),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: transcript}},
	}

	text, winner, err := resilience.Run(ctx, s.chain, s.Order(preferred),
		func(ctx context.Context, p llm.Provider) (string, error) {
			resp, err := p.Complete(ctx, req)
			if err != nil {
				return "", err
			}
			content := strings.TrimSpace(resp.Content)
			if content == "" {
				return "", fmt.Errorf("%w: blank summary", resilience.ErrEmptyResult)
			}
			return content, nil
		})
	if err != nil {
		return nil, err
	}

	return &SummaryOutput{
		Title: s.title(ctx, transcript, language),
		Text:  text,
		Model: winner.Model,
	}, nil
}

// title generates a short title. Title failures are absorbed: a summary
// without a title is still deliverable.
func (s *Summarizer) title(ctx context.Context, transcript, language string) string {
	source := transcript
	if len(source) > maxTitleSourceChars {
		source = source[:maxTitleSourceChars]
	}
	req := llm.Request{
		SystemPrompt: s.prompt(s.titlePrompt, language),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: source}},
	}

	title, _, err := resilience.Run(ctx, s.chain, s.titleOrder,
		func(ctx context.Context, p llm.Provider) (string, error) {
			resp, err := p.Complete(ctx, req)
			if err != nil {
				return "", err
			}
			title := sanitizeTitle(resp.Content)
			if title == "" {
				return "", fmt.Errorf("%w: blank title", resilience.ErrEmptyResult)
			}
			return title, nil
		})
	if err != nil {
		return ""
	}
	return title
}

func (s *Summarizer) prompt(base, language string) string {
	if language == "" {
		return base
	}
	return base + "\nRespond in language: " + language + "."
}

// sanitizeTitle strips quotes and collapses the model output to one line.
func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	return strings.Trim(title, `"'“”`)
}
