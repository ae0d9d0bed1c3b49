// Package capture reconstructs a complete canonical response from the byte
// stream being forwarded to the transport, for audit logging.
//
// The capture is an io.Writer tapped into the outgoing SSE stream: it is
// tolerant of arbitrary chunk boundaries (a JSON payload may be split across
// writes) and guarantees the reconstructed response is handed to its
// completion callback exactly once, even when client cancellation races
// natural stream completion.
package capture

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"

	"github.com/nulpointcorp/provider-gateway/internal/canonical"
)

const dataPrefix = "data: "

// Capture folds canonical SSE frames into an accumulating response.
type Capture struct {
	mu      sync.Mutex
	buf     bytes.Buffer // partial line carried across writes
	resp    *canonical.Response
	block   strings.Builder // active content block text
	errType string

	flushOnce sync.Once
	onFlush   func(resp *canonical.Response, errType string)
	log       *slog.Logger
}

// New creates a Capture. onFlush receives the reconstructed response once,
// on Flush; errType is non-empty when the stream ended with an error event.
func New(onFlush func(resp *canonical.Response, errType string), log *slog.Logger) *Capture {
	if log == nil {
		log = slog.Default()
	}
	return &Capture{
		resp:    canonical.NewResponse("", ""),
		onFlush: onFlush,
		log:     log,
	}
}

// Write implements io.Writer. It never returns an error: capture is an
// observer and must not disturb the transport path.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(p)
	for {
		raw := c.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := string(raw[:idx])
		c.buf.Next(idx + 1)
		c.foldLine(strings.TrimRight(line, "\r"))
	}
	return len(p), nil
}

func (c *Capture) foldLine(line string) {
	if !strings.HasPrefix(line, dataPrefix) {
		return
	}
	payload := line[len(dataPrefix):]
	ev, err := canonical.DecodeEventPayload([]byte(payload))
	if err != nil {
		// A malformed frame is an emitter bug; log and keep folding so a
		// partial response still reaches the audit log.
		c.log.Warn("capture_bad_frame", slog.String("error", err.Error()))
		return
	}
	c.fold(ev)
}

func (c *Capture) fold(ev canonical.StreamEvent) {
	switch ev.Type {
	case canonical.EventMessageStart:
		if ev.Message != nil {
			c.resp.ID = ev.Message.ID
			c.resp.Model = ev.Message.Model
			c.resp.Role = ev.Message.Role
			c.resp.Usage.InputTokens = ev.Message.Usage.InputTokens
		}
	case canonical.EventContentBlockStart:
		c.block.Reset()
	case canonical.EventContentBlockDelta:
		if ev.Delta != nil {
			c.block.WriteString(ev.Delta.Text)
		}
	case canonical.EventContentBlockStop:
		c.resp.Content = append(c.resp.Content, canonical.TextBlock{Type: "text", Text: c.block.String()})
		c.block.Reset()
	case canonical.EventMessageDelta:
		if ev.Delta != nil {
			c.resp.StopReason = ev.Delta.StopReason
			c.resp.StopSequence = ev.Delta.StopSequence
		}
		if ev.Usage != nil {
			c.resp.Usage.OutputTokens = ev.Usage.OutputTokens
		}
	case canonical.EventMessageStop:
		// terminal marker; nothing to fold
	case canonical.EventError:
		c.errType = "stream_error"
		if ev.Error != nil && ev.Error.Type != "" {
			c.errType = ev.Error.Type
		}
	}
}

// Flush hands the reconstructed response to the completion callback. Safe to
// call from both the completion and the cancellation path: only the first
// call has any effect. An open content block (cancelled mid-stream) is
// committed with whatever text had accumulated.
func (c *Capture) Flush() {
	c.flushOnce.Do(func() {
		c.mu.Lock()
		if c.block.Len() > 0 {
			c.resp.Content = append(c.resp.Content, canonical.TextBlock{Type: "text", Text: c.block.String()})
			c.block.Reset()
		}
		resp := c.resp
		errType := c.errType
		c.mu.Unlock()

		if c.onFlush != nil {
			c.onFlush(resp, errType)
		}
	})
}
