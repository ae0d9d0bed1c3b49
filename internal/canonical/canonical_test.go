package canonical

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestMessageContent_UnmarshalString(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"Hello"}`), &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Content.Text(); got != "Hello" {
		t.Errorf("expected 'Hello', got %q", got)
	}
}

func TestMessageContent_UnmarshalBlocks(t *testing.T) {
	var m Message
	body := `{"role":"user","content":[{"type":"text","text":"one"},{"type":"image","source":{}},{"type":"text","text":"two"}]}`
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Content.Text(); got != "one\ntwo" {
		t.Errorf("expected text blocks joined by newline, got %q", got)
	}
	if got := m.Content.ImageBlocks(); got != 1 {
		t.Errorf("expected 1 image block, got %d", got)
	}
}

func TestMessageContent_UnmarshalRejectsOtherShapes(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &m); err == nil {
		t.Error("expected error for numeric content")
	}
}

func TestRequest_Validate(t *testing.T) {
	valid := func() *Request {
		return &Request{
			Model:     "claude-sonnet-4",
			Messages:  []Message{{Role: RoleUser, Content: MessageContent{Blocks: []ContentBlock{{Type: "text", Text: "Hi"}}}}},
			MaxTokens: 16,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing model", func(r *Request) { r.Model = " " }},
		{"no messages", func(r *Request) { r.Messages = nil }},
		{"zero max_tokens", func(r *Request) { r.MaxTokens = 0 }},
		{"bad role", func(r *Request) { r.Messages[0].Role = "robot" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid()
			tc.mutate(r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestStreamEvent_EncodeSSE(t *testing.T) {
	frame, err := ContentBlockDeltaEvent(0, "hi").EncodeSSE()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(frame, []byte("event: content_block_delta\ndata: ")) {
		t.Errorf("unexpected frame prefix: %q", frame)
	}
	if !bytes.HasSuffix(frame, []byte("\n\n")) {
		t.Errorf("frame must end with a blank line: %q", frame)
	}
}

func TestDecodeEventPayload_RoundTrip(t *testing.T) {
	events := []StreamEvent{
		MessageStartEvent("msg_1", "claude-sonnet-4", 12),
		ContentBlockStartEvent(0),
		ContentBlockDeltaEvent(0, "Hello"),
		ContentBlockStopEvent(0),
		MessageDeltaEvent(StopEndTurn, "", 3),
		MessageStopEvent(),
		ErrorEvent("api_error", "boom"),
	}

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal %s: %v", ev.Type, err)
		}
		got, err := DecodeEventPayload(payload)
		if err != nil {
			t.Fatalf("decode %s: %v", ev.Type, err)
		}
		if got.Type != ev.Type {
			t.Errorf("expected type %q, got %q", ev.Type, got.Type)
		}
	}
}

func TestDecodeEventPayload_MissingType(t *testing.T) {
	if _, err := DecodeEventPayload([]byte(`{"index":0}`)); err == nil {
		t.Error("expected error for payload without type")
	}
}
