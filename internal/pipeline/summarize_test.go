package pipeline

import (
	"context"
	"testing"

	"github.com/dimakhov/voxnote/internal/resilience"
	"github.com/dimakhov/voxnote/pkg/provider/llm"
	llmmock "github.com/dimakhov/voxnote/pkg/provider/llm/mock"
)

func canned(content string) *llmmock.Provider {
	return &llmmock.Provider{
		CompleteFunc: func(context.Context, llm.Request) (*llm.Response, error) {
			return &llm.Response{Content: content}, nil
		},
	}
}

func TestBlankSummaryFallsThroughChain(t *testing.T) {
	blank := canned("   \n\t")
	good := canned("A real summary.")

	chain := resilience.NewChain[llm.Provider](nil)
	chain.Register("blank", "blank-model", blank)
	chain.Register("good", "good-model", good)

	s := NewSummarizer(chain, "Summarize.", "Write a title.",
		[]string{"blank", "good"}, []string{"good"})

	out, err := s.Summarize(context.Background(), goodTranscript, "", "")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out.Text != "A real summary." {
		t.Errorf("summary = %q, want the fallback model's text", out.Text)
	}
	if out.Model != "good-model" {
		t.Errorf("winner = %q, want the model that produced usable text", out.Model)
	}
	if blank.CallCount() != 1 {
		t.Errorf("blank provider called %d times, want 1", blank.CallCount())
	}

	// The conversation is sent as a single user turn.
	calls := good.Calls()
	if len(calls) == 0 || calls[0].Messages[0].Role != llm.RoleUser {
		t.Errorf("request messages = %+v, want one user-role message", calls)
	}
}

func TestBlankTitleFallsThroughChain(t *testing.T) {
	// Quoted-empty output sanitizes to nothing and must not win the chain.
	blank := canned(`""`)
	good := canned("A tidy title")

	chain := resilience.NewChain[llm.Provider](nil)
	chain.Register("blank", "blank-model", blank)
	chain.Register("good", "good-model", good)

	s := NewSummarizer(chain, "Summarize.", "Write a title.",
		[]string{"good"}, []string{"blank", "good"})

	out, err := s.Summarize(context.Background(), goodTranscript, "", "")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out.Title != "A tidy title" {
		t.Errorf("title = %q, want the fallback model's title", out.Title)
	}
}

func TestAllBlankSummariesFailTheChain(t *testing.T) {
	chain := resilience.NewChain[llm.Provider](nil)
	chain.Register("blank", "blank-model", canned(" "))

	s := NewSummarizer(chain, "Summarize.", "Write a title.",
		[]string{"blank"}, []string{"blank"})

	if _, err := s.Summarize(context.Background(), goodTranscript, "", ""); err == nil {
		t.Fatal("a chain of blank completions must fail, not deliver an empty summary")
	}
}
