// Package canonical defines the wire format every caller of the gateway
// speaks, regardless of which backend ultimately serves the request: the
// Messages-style request/response JSON plus the named-event SSE stream.
//
// Field names are part of the wire contract and must not change.
package canonical

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Roles accepted in a conversation turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentBlock is a single typed block inside a message. Only "text" blocks
// carry meaning through the gateway; other types (e.g. "image") are counted
// for token estimation and otherwise dropped during normalization.
type ContentBlock struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source json.RawMessage `json:"source,omitempty"`
}

// MessageContent is either a bare string or an array of content blocks on
// the wire. Decoding normalises both forms into Blocks; Text() flattens the
// block list back to plain text.
type MessageContent struct {
	Blocks []ContentBlock
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Blocks = []ContentBlock{{Type: "text", Text: s}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("canonical: content must be a string or an array of blocks")
	}
	c.Blocks = blocks
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Blocks)
}

// Text concatenates the text of all text blocks, newline separated.
func (c MessageContent) Text() string {
	var sb strings.Builder
	for _, b := range c.Blocks {
		if b.Type != "text" || b.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// ImageBlocks counts non-text blocks carrying image payloads.
func (c MessageContent) ImageBlocks() int {
	n := 0
	for _, b := range c.Blocks {
		if b.Type == "image" {
			n++
		}
	}
	return n
}

// Message is one conversation turn in a canonical request.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// Request is the canonical chat-completion request. It is immutable once
// received; normalization derives a new message list without mutating it.
type Request struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	System      *MessageContent `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Validate checks the structural constraints the gateway enforces before
// contacting any provider.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("field 'model' is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("field 'messages' must contain at least one message")
	}
	if r.MaxTokens < 1 {
		return fmt.Errorf("field 'max_tokens' must be at least 1")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("messages[%d]: invalid role %q", i, m.Role)
		}
	}
	return nil
}
