package translate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/provider-gateway/internal/canonical"
	"github.com/nulpointcorp/provider-gateway/internal/providers"
)

// simulatedDelay is the fixed inter-event delay when streaming is simulated
// from a complete result.
const simulatedDelay = 10 * time.Millisecond

// SimulatedStream emits the canonical event sequence for a complete result,
// one content_block_delta per whitespace-separated word. Original spacing is
// preserved by prefixing every non-first word with a single space. The
// channel closes after message_stop or when ctx is cancelled.
func SimulatedStream(ctx context.Context, res *providers.Result, req *canonical.Request) <-chan canonical.StreamEvent {
	ch := make(chan canonical.StreamEvent, 16)

	go func() {
		defer close(ch)

		resp := ToCanonical(res, req)

		send := func(ev canonical.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(canonical.MessageStartEvent(resp.ID, resp.Model, resp.Usage.InputTokens)) {
			return
		}
		if !send(canonical.ContentBlockStartEvent(0)) {
			return
		}

		words := splitWords(res.Text)
		for i, w := range words {
			if i > 0 {
				w = " " + w
				select {
				case <-time.After(simulatedDelay):
				case <-ctx.Done():
					return
				}
			}
			if !send(canonical.ContentBlockDeltaEvent(0, w)) {
				return
			}
		}

		if !send(canonical.ContentBlockStopEvent(0)) {
			return
		}
		if !send(canonical.MessageDeltaEvent(resp.StopReason, resp.StopSequence, resp.Usage.OutputTokens)) {
			return
		}
		send(canonical.MessageStopEvent())
	}()

	return ch
}

// NativeStream translates a native provider stream into the canonical event
// sequence. Usage counts are forwarded when the backend supplies them;
// otherwise output tokens are estimated from the emitted text. A chunk error
// aborts the sequence with a single error event.
func NativeStream(ctx context.Context, stream *providers.Stream, req *canonical.Request, errType func(error) string) <-chan canonical.StreamEvent {
	ch := make(chan canonical.StreamEvent, 16)

	go func() {
		defer close(ch)

		send := func(ev canonical.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		id := "msg_" + uuid.NewString()
		inputTokens := EstimateInputTokens(req)

		started := false
		blockOpen := false
		emittedChars := 0
		start := func() bool {
			if started {
				return true
			}
			started = true
			return send(canonical.MessageStartEvent(id, req.Model, inputTokens))
		}

		for chunk := range stream.Events {
			if chunk.Err != nil {
				send(canonical.ErrorEvent(errType(chunk.Err), chunk.Err.Error()))
				return
			}

			if chunk.Text != "" {
				if !start() {
					return
				}
				if !blockOpen {
					blockOpen = true
					if !send(canonical.ContentBlockStartEvent(0)) {
						return
					}
				}
				emittedChars += len(chunk.Text)
				if !send(canonical.ContentBlockDeltaEvent(0, chunk.Text)) {
					return
				}
			}

			if chunk.FinishReason != "" {
				if !start() {
					return
				}
				if blockOpen {
					blockOpen = false
					if !send(canonical.ContentBlockStopEvent(0)) {
						return
					}
				}
				outputTokens := 0
				if chunk.Usage != nil && chunk.Usage.OutputTokens > 0 {
					outputTokens = chunk.Usage.OutputTokens
				} else {
					outputTokens = emittedChars / charsPerToken
					if outputTokens == 0 && emittedChars > 0 {
						outputTokens = 1
					}
				}
				if !send(canonical.MessageDeltaEvent(StopReason(chunk.FinishReason), "", outputTokens)) {
					return
				}
				send(canonical.MessageStopEvent())
				return
			}
		}

		// Backend closed the stream without a finish signal; terminate the
		// sequence so consumers always observe a complete envelope.
		if !start() {
			return
		}
		if blockOpen {
			if !send(canonical.ContentBlockStopEvent(0)) {
				return
			}
		}
		outputTokens := emittedChars / charsPerToken
		if outputTokens == 0 && emittedChars > 0 {
			outputTokens = 1
		}
		if !send(canonical.MessageDeltaEvent(canonical.StopEndTurn, "", outputTokens)) {
			return
		}
		send(canonical.MessageStopEvent())
	}()

	return ch
}

// splitWords splits on any whitespace, discarding empty fields.
func splitWords(s string) []string {
	return strings.Fields(s)
}
