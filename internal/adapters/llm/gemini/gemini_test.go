package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/iamwavecut/antispambot/internal/adapters/llm"
)

func TestSplitMessages(t *testing.T) {
	t.Parallel()

	system, history, last := splitMessages([]llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: "classify"},
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "ok"},
		{Role: llm.RoleUser, Content: "buy now"},
	})
	if system == nil || system.Parts[0] != genai.Text("classify") {
		t.Fatalf("system = %+v", system)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("history = %+v", history)
	}
	if last != "buy now" {
		t.Fatalf("last = %q, want %q", last, "buy now")
	}

	system, history, last = splitMessages([]llm.ChatCompletionMessage{{Role: llm.RoleUser, Content: "only"}})
	if system != nil || len(history) != 0 || last != "only" {
		t.Fatalf("splitMessages(single) = %+v, %+v, %q", system, history, last)
	}
}

func TestResponseText(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"result":`), genai.Text(`0}`)}},
	}}}
	if got, ok := responseText(resp); !ok || got != `{"result":0}` {
		t.Fatalf("responseText() = %q, %v", got, ok)
	}
	if _, ok := responseText(&genai.GenerateContentResponse{}); ok {
		t.Fatalf("responseText(empty) ok = true")
	}
	if _, ok := responseText(nil); ok {
		t.Fatalf("responseText(nil) ok = true")
	}
}

func TestWithModelFallback(t *testing.T) {
	t.Parallel()

	if got := (&API{}).WithModel("@cf/meta/llama").modelName; got != DefaultModel {
		t.Fatalf("WithModel(@cf) = %q, want %q", got, DefaultModel)
	}
	if got := (&API{}).WithModel("gemini-pro").modelName; got != "gemini-pro" {
		t.Fatalf("WithModel(gemini-pro) = %q", got)
	}
}
