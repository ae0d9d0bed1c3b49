// Package openaicompat implements the provider client for any backend that
// speaks the OpenAI chat-completions API (hosted OpenAI-compatible services
// and, via the localinference wrapper, local inference servers).
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nulpointcorp/provider-gateway/internal/providers"
)

// Client implements providers.Client over the chat-completions shape.
type Client struct {
	name       string
	maxRetries int
	sdk        openaiSDK.Client
}

// Option configures a Client.
type Option func(*config)

type config struct {
	maxRetries int
	httpClient *http.Client
}

// WithMaxRetries bounds transient-error retries. Default: providers.DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithHTTPClient overrides the HTTP client (per-identity timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New creates an OpenAI-compatible client.
//
//   - name    — identity id used for routing and logs.
//   - apiKey  — sent as "Authorization: Bearer <key>". May be empty for
//     backends that require no credential.
//   - baseURL — API base URL, e.g. "https://api.x.ai/v1".
func New(name, apiKey, baseURL string, opts ...Option) *Client {
	cfg := &config{
		maxRetries: providers.DefaultMaxRetries,
		httpClient: &http.Client{Timeout: providers.DefaultTimeout},
	}
	for _, o := range opts {
		o(cfg)
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0), // retries are handled by providers.WithRetries
	}
	if baseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(baseURL))
	}

	return &Client{
		name:       name,
		maxRetries: cfg.maxRetries,
		sdk:        openaiSDK.NewClient(sdkOpts...),
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) buildParams(req *providers.Request) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openaiSDK.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openaiSDK.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openaiSDK.UserMessage(m.Content))
		}
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openaiSDK.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openaiSDK.Float(*req.TopP)
	}

	return params
}

// Generate performs a single synchronous call with bounded retries on
// transient failures.
func (c *Client) Generate(ctx context.Context, req *providers.Request) (*providers.Result, error) {
	params := c.buildParams(req)

	var resp *openaiSDK.ChatCompletion
	err := providers.WithRetries(ctx, c.maxRetries, func() error {
		var callErr error
		resp, callErr = c.sdk.Chat.Completions.New(ctx, params)
		return c.toProviderError(callErr)
	})
	if err != nil {
		return nil, err
	}

	text := ""
	finish := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
		finish = resp.Choices[0].FinishReason
	}

	return &providers.Result{
		ID:           resp.ID,
		Model:        resp.Model,
		Text:         text,
		FinishReason: finish,
		Usage: providers.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// StreamGenerate opens a native delta stream and translates it into
// provider-neutral chunks. Usage counts are forwarded only when the backend
// supplies them on the final frame; some backends supply none.
func (c *Client) StreamGenerate(ctx context.Context, req *providers.Request) (*providers.Stream, error) {
	params := c.buildParams(req)
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan providers.Chunk, 64)
	go func() {
		defer close(ch)

		var lastUsage *providers.Usage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				lastUsage = &providers.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				select {
				case ch <- providers.Chunk{Text: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
			if choice.FinishReason != "" {
				select {
				case ch <- providers.Chunk{FinishReason: choice.FinishReason, Usage: lastUsage}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case ch <- providers.Chunk{Err: c.toProviderError(err)}:
			case <-ctx.Done():
			}
		}
	}()

	return &providers.Stream{Events: ch}, nil
}

// Error is a structured upstream failure with its HTTP status preserved.
type Error struct {
	Name       string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status=%d)", e.Name, e.Message, e.StatusCode)
}

// HTTPStatus implements providers.StatusCoder.
func (e *Error) HTTPStatus() int { return e.StatusCode }

func (c *Client) toProviderError(err error) error {
	if err == nil {
		return nil
	}
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		return &Error{Name: c.name, StatusCode: apierr.StatusCode, Message: apierr.Error()}
	}
	return err
}
