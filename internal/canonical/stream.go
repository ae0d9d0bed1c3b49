package canonical

import (
	"encoding/json"
	"fmt"
)

// Stream event names. A well-formed sequence is exactly one message_start,
// zero or more content blocks each bracketed by content_block_start and
// content_block_stop with interior content_block_delta events, then a single
// message_delta followed by message_stop. A single error event aborts the
// sequence.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

type (
	// StreamEvent is the tagged union carried by one SSE frame. Only the
	// fields relevant to the event's Type are populated.
	StreamEvent struct {
		Type         string         `json:"type"`
		Message      *StreamMessage `json:"message,omitempty"`
		Index        *int           `json:"index,omitempty"`
		ContentBlock *TextBlock     `json:"content_block,omitempty"`
		Delta        *StreamDelta   `json:"delta,omitempty"`
		Usage        *StreamUsage   `json:"usage,omitempty"`
		Error        *StreamError   `json:"error,omitempty"`
	}

	// StreamMessage seeds the response envelope in message_start.
	StreamMessage struct {
		ID         string      `json:"id"`
		Type       string      `json:"type"`
		Role       string      `json:"role"`
		Model      string      `json:"model"`
		Content    []TextBlock `json:"content"`
		StopReason *string     `json:"stop_reason"`
		Usage      Usage       `json:"usage"`
	}

	// StreamDelta carries either a text fragment (content_block_delta) or the
	// terminal stop reason (message_delta).
	StreamDelta struct {
		Type         string `json:"type,omitempty"`
		Text         string `json:"text,omitempty"`
		StopReason   string `json:"stop_reason,omitempty"`
		StopSequence string `json:"stop_sequence,omitempty"`
	}

	// StreamUsage is the partial usage object attached to message_delta.
	StreamUsage struct {
		OutputTokens int `json:"output_tokens"`
	}

	// StreamError is the payload of an error event.
	StreamError struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
)

// MessageStartEvent builds the opening event of a stream.
func MessageStartEvent(id, model string, inputTokens int) StreamEvent {
	return StreamEvent{
		Type: EventMessageStart,
		Message: &StreamMessage{
			ID:      id,
			Type:    "message",
			Role:    RoleAssistant,
			Model:   model,
			Content: []TextBlock{},
			Usage:   Usage{InputTokens: inputTokens},
		},
	}
}

// ContentBlockStartEvent opens content block index with an empty text block.
func ContentBlockStartEvent(index int) StreamEvent {
	return StreamEvent{
		Type:         EventContentBlockStart,
		Index:        &index,
		ContentBlock: &TextBlock{Type: "text", Text: ""},
	}
}

// ContentBlockDeltaEvent carries one text fragment for block index.
func ContentBlockDeltaEvent(index int, text string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &index,
		Delta: &StreamDelta{Type: "text_delta", Text: text},
	}
}

// ContentBlockStopEvent closes content block index.
func ContentBlockStopEvent(index int) StreamEvent {
	return StreamEvent{Type: EventContentBlockStop, Index: &index}
}

// MessageDeltaEvent is the terminal delta carrying the stop reason and the
// output token count.
func MessageDeltaEvent(stopReason, stopSequence string, outputTokens int) StreamEvent {
	return StreamEvent{
		Type:  EventMessageDelta,
		Delta: &StreamDelta{StopReason: stopReason, StopSequence: stopSequence},
		Usage: &StreamUsage{OutputTokens: outputTokens},
	}
}

// MessageStopEvent marks the end of a well-formed stream.
func MessageStopEvent() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}

// ErrorEvent aborts the sequence with a canonical error payload.
func ErrorEvent(errType, message string) StreamEvent {
	return StreamEvent{
		Type:  EventError,
		Error: &StreamError{Type: errType, Message: message},
	}
}

// EncodeSSE renders the event as one named SSE frame:
//
//	event: <name>\ndata: <json>\n\n
func (e StreamEvent) EncodeSSE() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("canonical: encode %s event: %w", e.Type, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, payload)), nil
}

// DecodeEventPayload parses the JSON payload of one SSE data line back into
// a StreamEvent. The payload's "type" field is authoritative.
func DecodeEventPayload(data []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StreamEvent{}, fmt.Errorf("canonical: decode event payload: %w", err)
	}
	if ev.Type == "" {
		return StreamEvent{}, fmt.Errorf("canonical: event payload missing type")
	}
	return ev, nil
}
