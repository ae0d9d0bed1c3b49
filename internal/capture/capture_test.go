package capture

import (
	"sync"
	"testing"

	"github.com/nulpointcorp/provider-gateway/internal/canonical"
)

// encodeAll renders a full canonical event sequence as raw SSE bytes.
func encodeAll(t *testing.T, events []canonical.StreamEvent) []byte {
	t.Helper()
	var out []byte
	for _, ev := range events {
		frame, err := ev.EncodeSSE()
		if err != nil {
			t.Fatalf("encode %s: %v", ev.Type, err)
		}
		out = append(out, frame...)
	}
	return out
}

func wellFormedSequence() []canonical.StreamEvent {
	return []canonical.StreamEvent{
		canonical.MessageStartEvent("msg_abc", "claude-sonnet-4", 12),
		canonical.ContentBlockStartEvent(0),
		canonical.ContentBlockDeltaEvent(0, "Hello"),
		canonical.ContentBlockDeltaEvent(0, ", world"),
		canonical.ContentBlockStopEvent(0),
		canonical.MessageDeltaEvent(canonical.StopEndTurn, "", 4),
		canonical.MessageStopEvent(),
	}
}

func TestCapture_Reconstruction(t *testing.T) {
	raw := encodeAll(t, wellFormedSequence())

	// The reconstruction must not depend on how the transport chunks the
	// bytes: whole stream, frame-by-frame, and byte-by-byte must agree.
	chunkings := map[string][]int{
		"whole":  {len(raw)},
		"tiny":   {1},
		"jagged": {7, 3, 64, 1, 128},
	}

	for name, sizes := range chunkings {
		t.Run(name, func(t *testing.T) {
			var got *canonical.Response
			c := New(func(resp *canonical.Response, errType string) {
				got = resp
				if errType != "" {
					t.Errorf("unexpected errType %q", errType)
				}
			}, nil)

			i, s := 0, 0
			for i < len(raw) {
				n := sizes[s%len(sizes)]
				s++
				end := i + n
				if end > len(raw) {
					end = len(raw)
				}
				if _, err := c.Write(raw[i:end]); err != nil {
					t.Fatalf("write: %v", err)
				}
				i = end
			}
			c.Flush()

			if got == nil {
				t.Fatal("onFlush was not invoked")
			}
			if got.ID != "msg_abc" || got.Model != "claude-sonnet-4" {
				t.Errorf("envelope not reconstructed: %+v", got)
			}
			if got.Text() != "Hello, world" {
				t.Errorf("expected text 'Hello, world', got %q", got.Text())
			}
			if got.StopReason != canonical.StopEndTurn {
				t.Errorf("expected end_turn, got %q", got.StopReason)
			}
			if got.Usage.InputTokens != 12 || got.Usage.OutputTokens != 4 {
				t.Errorf("usage not reconstructed: %+v", got.Usage)
			}
		})
	}
}

func TestCapture_FlushExactlyOnce(t *testing.T) {
	calls := 0
	c := New(func(*canonical.Response, string) { calls++ }, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Flush()
		}()
	}
	wg.Wait()
	c.Flush()

	if calls != 1 {
		t.Errorf("onFlush must run exactly once, ran %d times", calls)
	}
}

func TestCapture_CancelledMidStreamCommitsOpenBlock(t *testing.T) {
	partial := []canonical.StreamEvent{
		canonical.MessageStartEvent("msg_x", "m", 3),
		canonical.ContentBlockStartEvent(0),
		canonical.ContentBlockDeltaEvent(0, "partial out"),
		// client disconnected here: no stop events ever arrive
	}

	var got *canonical.Response
	c := New(func(resp *canonical.Response, _ string) { got = resp }, nil)
	if _, err := c.Write(encodeAll(t, partial)); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Flush()

	if got.Text() != "partial out" {
		t.Errorf("open block must be committed on flush, got %q", got.Text())
	}
	if got.StopReason != "" {
		t.Errorf("no stop reason was ever seen, got %q", got.StopReason)
	}
}

func TestCapture_ErrorEventSetsErrType(t *testing.T) {
	seq := []canonical.StreamEvent{
		canonical.MessageStartEvent("msg_x", "m", 1),
		canonical.ErrorEvent("overloaded_error", "backend saturated"),
	}

	var gotType string
	c := New(func(_ *canonical.Response, errType string) { gotType = errType }, nil)
	if _, err := c.Write(encodeAll(t, seq)); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Flush()

	if gotType != "overloaded_error" {
		t.Errorf("expected overloaded_error, got %q", gotType)
	}
}

func TestCapture_IgnoresMalformedFrames(t *testing.T) {
	var got *canonical.Response
	c := New(func(resp *canonical.Response, _ string) { got = resp }, nil)

	if _, err := c.Write([]byte("data: {not json}\n\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := c.Write(encodeAll(t, wellFormedSequence())); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Flush()

	if got.Text() != "Hello, world" {
		t.Errorf("malformed frame must not derail folding, got %q", got.Text())
	}
}
