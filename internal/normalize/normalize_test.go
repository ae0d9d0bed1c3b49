package normalize

import (
	"strings"
	"testing"

	"github.com/nulpointcorp/provider-gateway/internal/canonical"
)

func textContent(s string) canonical.MessageContent {
	return canonical.MessageContent{Blocks: []canonical.ContentBlock{{Type: "text", Text: s}}}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		model string
		want  Family
	}{
		{"qwen2.5-coder-32b", FamilyQwen},
		{"Meta-Llama-3.1-70B", FamilyLlama},
		{"mixtral-8x7b", FamilyMixtral},
		{"mistral-large", FamilyMixtral},
		{"claude-sonnet-4-20250514", FamilyClaude},
		{"gpt-4o", FamilyGPT},
		{"o1-preview", FamilyGPT},
		{"deepseek-r1", FamilyUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.model); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.model, got, tc.want)
		}
	}
}

func TestNormalize_FlattensSystem(t *testing.T) {
	sys := textContent("Top-level system.")
	req := &canonical.Request{
		Model:  "claude-sonnet-4",
		System: &sys,
		Messages: []canonical.Message{
			{Role: canonical.RoleSystem, Content: textContent("Embedded system turn.")},
			{Role: canonical.RoleUser, Content: textContent("Hi")},
			{Role: canonical.RoleAssistant, Content: textContent("Hello")},
		},
		MaxTokens: 32,
	}

	out := Normalize(req, "claude-sonnet-4")

	if len(out.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out.Messages))
	}
	lead := out.Messages[0]
	if lead.Role != canonical.RoleSystem {
		t.Fatalf("expected leading system message, got role %q", lead.Role)
	}
	if lead.Content != "Top-level system.\nEmbedded system turn." {
		t.Errorf("system turns must fold into one message, got %q", lead.Content)
	}
	if out.Messages[1].Role != canonical.RoleUser || out.Messages[2].Role != canonical.RoleAssistant {
		t.Errorf("conversation order must be preserved: %+v", out.Messages)
	}
}

func TestNormalize_NoSystemWhenAbsent(t *testing.T) {
	req := &canonical.Request{
		Model:     "claude-sonnet-4",
		Messages:  []canonical.Message{{Role: canonical.RoleUser, Content: textContent("Hi")}},
		MaxTokens: 32,
	}

	out := Normalize(req, "claude-sonnet-4")

	if len(out.Messages) != 1 || out.Messages[0].Role != canonical.RoleUser {
		t.Errorf("claude family without a system prompt must not gain one: %+v", out.Messages)
	}
}

func TestNormalize_ToolSuffixByFamily(t *testing.T) {
	req := &canonical.Request{
		Model:     "anything",
		Messages:  []canonical.Message{{Role: canonical.RoleUser, Content: textContent("Hi")}},
		MaxTokens: 32,
	}

	// Qwen gets the invocation syntax appended as a system message.
	out := Normalize(req, "qwen2.5-72b-instruct")
	if out.Messages[0].Role != canonical.RoleSystem {
		t.Fatal("qwen family must receive a tool-syntax system message")
	}
	if !strings.Contains(out.Messages[0].Content, `"type":"tool_use"`) {
		t.Errorf("suffix must include the invocation syntax, got %q", out.Messages[0].Content)
	}

	// GPT family understands the syntax natively.
	out = Normalize(req, "gpt-4o")
	if out.Messages[0].Role == canonical.RoleSystem {
		t.Errorf("gpt family must not receive augmentation: %+v", out.Messages[0])
	}
}

func TestNormalize_SuffixAppendsToExistingSystem(t *testing.T) {
	sys := textContent("Be brief.")
	req := &canonical.Request{
		Model:     "anything",
		System:    &sys,
		Messages:  []canonical.Message{{Role: canonical.RoleUser, Content: textContent("Hi")}},
		MaxTokens: 32,
	}

	out := Normalize(req, "llama-3.3-70b")

	lead := out.Messages[0].Content
	if !strings.HasPrefix(lead, "Be brief.\n\n") {
		t.Errorf("suffix must append after the existing system text, got %q", lead)
	}
}

func TestNormalize_DoesNotMutateRequest(t *testing.T) {
	req := &canonical.Request{
		Model:     "claude-sonnet-4",
		Messages:  []canonical.Message{{Role: canonical.RoleUser, Content: textContent("Hi")}},
		MaxTokens: 64,
	}

	out := Normalize(req, "qwen-max")
	out.Messages[len(out.Messages)-1].Content = "mutated"

	if req.Messages[0].Content.Text() != "Hi" {
		t.Error("normalization must not mutate the canonical request")
	}
}
