package canonical

// Stop reasons a canonical response may carry.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopStopSequence = "stop_sequence"
)

// Usage — token usage stats as reported (or estimated) by the gateway.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TextBlock is a text content block in a canonical response.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is the canonical chat-completion response. Constructed fresh per
// request and never mutated after being handed to the transport.
type Response struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Role         string      `json:"role"`
	Model        string      `json:"model"`
	Content      []TextBlock `json:"content"`
	StopReason   string      `json:"stop_reason,omitempty"`
	StopSequence string      `json:"stop_sequence,omitempty"`
	Usage        Usage       `json:"usage"`
}

// NewResponse returns a response shell with the constant envelope fields set.
func NewResponse(id, model string) *Response {
	return &Response{
		ID:      id,
		Type:    "message",
		Role:    RoleAssistant,
		Model:   model,
		Content: []TextBlock{},
	}
}

// Text concatenates all content block text.
func (r *Response) Text() string {
	var out string
	for _, b := range r.Content {
		out += b.Text
	}
	return out
}
