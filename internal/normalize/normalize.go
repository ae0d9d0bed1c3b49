// Package normalize converts canonical requests into the provider-neutral
// message list consumed by provider clients.
//
// Normalization flattens the system prompt (string or block array) into a
// single leading system message and extracts text from block-structured user
// and assistant turns, dropping other modalities. For model families whose
// backends do not natively understand the canonical tool-calling syntax, a
// family-specific instructional suffix is appended to the system message.
package normalize

import (
	"strings"

	"github.com/nulpointcorp/provider-gateway/internal/canonical"
	"github.com/nulpointcorp/provider-gateway/internal/providers"
)

// Family classifies a model name into a coarse family used to select
// tool-syntax augmentation.
type Family string

const (
	FamilyQwen    Family = "qwen"
	FamilyLlama   Family = "llama"
	FamilyMixtral Family = "mixtral"
	FamilyClaude  Family = "claude"
	FamilyGPT     Family = "gpt"
	FamilyUnknown Family = "unknown"
)

// Classify returns the model family for a model name. Matching is by
// substring on the lowercased name; the first listed family wins.
func Classify(model string) Family {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "qwen"):
		return FamilyQwen
	case strings.Contains(m, "llama"):
		return FamilyLlama
	case strings.Contains(m, "mixtral"), strings.Contains(m, "mistral"):
		return FamilyMixtral
	case strings.Contains(m, "claude"):
		return FamilyClaude
	case strings.Contains(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return FamilyGPT
	default:
		return FamilyUnknown
	}
}

// toolSyntaxSuffix teaches backends without native canonical tool-calling
// the exact invocation syntax expected downstream. Claude and GPT families
// understand the syntax natively and receive no augmentation.
func toolSyntaxSuffix(f Family) string {
	const invocation = "To call a tool, reply with a single JSON object on its own line: " +
		`{"type":"tool_use","name":"<tool>","input":{...}} and nothing else.`

	switch f {
	case FamilyClaude, FamilyGPT:
		return ""
	case FamilyQwen:
		return "When a tool is needed, do not describe the call in prose. " + invocation +
			" Do not wrap the object in code fences."
	case FamilyLlama:
		return "You have access to tools. " + invocation +
			" Emit the JSON object verbatim, with no surrounding text."
	case FamilyMixtral:
		return "Tool calls must be machine-readable. " + invocation +
			" Any other output is treated as a plain text answer."
	default:
		return "If you decide to call a tool: " + invocation
	}
}

// Normalize derives the provider-neutral request from a canonical request
// without mutating it. providerModel is the already-resolved provider-native
// model name used both in the outgoing request and for family
// classification.
func Normalize(req *canonical.Request, providerModel string) *providers.Request {
	msgs := make([]providers.Message, 0, len(req.Messages)+1)

	var system strings.Builder
	if req.System != nil {
		system.WriteString(req.System.Text())
	}

	for _, m := range req.Messages {
		text := m.Content.Text()
		if m.Role == canonical.RoleSystem {
			// System turns embedded in the message list fold into the single
			// leading system message.
			if text != "" {
				if system.Len() > 0 {
					system.WriteString("\n")
				}
				system.WriteString(text)
			}
			continue
		}
		msgs = append(msgs, providers.Message{Role: m.Role, Content: text})
	}

	if suffix := toolSyntaxSuffix(Classify(providerModel)); suffix != "" {
		if system.Len() > 0 {
			system.WriteString("\n\n")
		}
		system.WriteString(suffix)
	}

	if system.Len() > 0 {
		msgs = append([]providers.Message{{Role: canonical.RoleSystem, Content: system.String()}}, msgs...)
	}

	return &providers.Request{
		Model:       providerModel,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
}
