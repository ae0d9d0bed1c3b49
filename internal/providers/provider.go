// Package providers defines the common interfaces and types implemented by
// every backend client (native-bearer, openai-compatible, local-inference).
//
// Each client lives in its own sub-package and implements Client. Clients
// are resolved once per request by the registry, which also owns credential
// construction; the types here never touch credential state.
package providers

import (
	"context"
	"errors"
	"time"
)

// Defaults applied when an identity leaves them unset.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultMaxTokens  = 4096
)

type (
	// Message is a single provider-neutral conversation turn.
	Message struct {
		Role    string
		Content string
	}

	// Request is the normalized, provider-neutral request produced by the
	// normalizer. The leading message is the flattened system prompt when
	// one is present.
	Request struct {
		Model       string
		Messages    []Message
		MaxTokens   int
		Temperature *float64
		TopP        *float64
		TopK        *int
		RequestID   string
	}

	// Usage — token usage stats as reported by the backend. Zero values mean
	// the backend reported nothing and the translator must estimate.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// Result is a complete (non-streaming) backend response.
	Result struct {
		ID           string
		Model        string
		Text         string
		FinishReason string
		StopSequence string
		Usage        Usage
	}

	// Chunk is one frame of a native backend stream. Exactly one of Text,
	// FinishReason, or Err is meaningful per chunk; Usage rides along on the
	// finish chunk when the backend supplies counts.
	Chunk struct {
		Text         string
		FinishReason string
		Usage        *Usage
		Err          error
	}

	// Stream is a native backend stream. The channel is closed by the
	// producer when the backend finishes or the context is cancelled.
	Stream struct {
		Events <-chan Chunk
	}
)

// Client executes normalized requests against one concrete backend.
type Client interface {
	// Name returns the identity id this client serves.
	Name() string
	// Generate performs a single synchronous call.
	Generate(ctx context.Context, req *Request) (*Result, error)
	// StreamGenerate opens a native stream.
	StreamGenerate(ctx context.Context, req *Request) (*Stream, error)
}

// StatusCoder is implemented by provider errors that carry an upstream HTTP
// status.
type StatusCoder interface {
	HTTPStatus() int
}

// Retryable reports whether an error is a transient provider failure worth
// another bounded attempt: timeouts and upstream 429/5xx.
func Retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		return status == 429 || status >= 500
	}
	return false
}

// WithRetries runs fn up to maxRetries times (including the first attempt),
// stopping early on success, a non-retryable error, or context cancellation.
func WithRetries(ctx context.Context, maxRetries int, fn func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
		if err = fn(); err == nil || !Retryable(err) {
			return err
		}
	}
	return err
}
