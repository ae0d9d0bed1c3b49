// Package nativebearer implements the provider client for backends that
// speak the canonical wire protocol directly, authenticated with a bearer
// token (refreshable OAuth credential or static key).
//
// When tool mode is enabled the client injects a fixed client-identity
// system preamble and a static tool-definition set so the backend enables
// tool-calling mode for the session.
package nativebearer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/provider-gateway/internal/providers"
)

const defaultBaseURL = "https://api.anthropic.com/v1"

// systemPreamble is the fixed client-identity line expected by bearer-token
// backends before any caller-supplied system prompt.
const systemPreamble = "You are a command-line coding assistant operating inside a developer workspace."

// staticTools is the minimal tool-definition set that switches the backend
// into tool-calling mode. The gateway never executes these tools; they only
// shape the backend's output mode.
var staticTools = []anthropic.ToolUnionParam{
	{
		OfTool: &anthropic.ToolParam{
			Name:        "bash",
			Description: anthropic.String("Run a shell command in the workspace and return its output."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"command": map[string]any{"type": "string", "description": "The shell command to run."},
				},
				Required: []string{"command"},
			},
		},
	},
	{
		OfTool: &anthropic.ToolParam{
			Name:        "read_file",
			Description: anthropic.String("Read a file from the workspace."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"path": map[string]any{"type": "string", "description": "Absolute file path."},
				},
				Required: []string{"path"},
			},
		},
	},
}

// Client implements providers.Client over the canonical wire protocol.
type Client struct {
	name       string
	baseURL    string
	maxRetries int
	toolMode   bool
	sdk        anthropic.Client
}

// Option configures a Client.
type Option func(*config)

type config struct {
	baseURL    string
	maxRetries int
	toolMode   bool
	httpClient *http.Client
}

// WithBaseURL overrides the backend base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithToolMode toggles preamble and static-tool injection. Default: on.
func WithToolMode(enabled bool) Option {
	return func(c *config) { c.toolMode = enabled }
}

// WithMaxRetries bounds transient-error retries. Default: providers.DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithHTTPClient overrides the HTTP client (per-identity timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New creates a native-bearer client for the given identity name. The bearer
// token is sent as an Authorization header via the SDK's auth-token option.
func New(name, bearerToken string, opts ...Option) *Client {
	cfg := &config{
		baseURL:    defaultBaseURL,
		maxRetries: providers.DefaultMaxRetries,
		toolMode:   true,
		httpClient: &http.Client{Timeout: providers.DefaultTimeout},
	}
	for _, o := range opts {
		o(cfg)
	}

	sdk := anthropic.NewClient(
		option.WithAuthToken(bearerToken),
		option.WithBaseURL(cfg.baseURL),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0), // retries are handled by providers.WithRetries
	)

	return &Client{
		name:       name,
		baseURL:    cfg.baseURL,
		maxRetries: cfg.maxRetries,
		toolMode:   cfg.toolMode,
		sdk:        sdk,
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) buildParams(req *providers.Request) anthropic.MessageNewParams {
	var systemPrompt string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = providers.DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}

	var system []anthropic.TextBlockParam
	if c.toolMode {
		system = append(system, anthropic.TextBlockParam{Text: systemPreamble})
		params.Tools = staticTools
	}
	if systemPrompt != "" {
		system = append(system, anthropic.TextBlockParam{Text: systemPrompt})
	}
	if len(system) > 0 {
		params.System = system
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if req.TopK != nil {
		params.TopK = anthropic.Int(int64(*req.TopK))
	}

	return params
}

// Generate performs a single synchronous call with bounded retries on
// transient failures.
func (c *Client) Generate(ctx context.Context, req *providers.Request) (*providers.Result, error) {
	params := c.buildParams(req)

	var msg *anthropic.Message
	err := providers.WithRetries(ctx, c.maxRetries, func() error {
		var callErr error
		msg, callErr = c.sdk.Messages.New(ctx, params)
		return toProviderError(callErr)
	})
	if err != nil {
		return nil, err
	}

	var text string
	for _, b := range msg.Content {
		if tb, ok := b.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}

	return &providers.Result{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Text:         text,
		FinishReason: string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Usage: providers.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// StreamGenerate opens a native stream and translates SDK events into
// provider-neutral chunks.
func (c *Client) StreamGenerate(ctx context.Context, req *providers.Request) (*providers.Stream, error) {
	params := c.buildParams(req)
	stream := c.sdk.Messages.NewStreaming(ctx, params)

	ch := make(chan providers.Chunk, 64)
	go func() {
		defer close(ch)

		var inputTokens int
		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.MessageStartEvent:
				inputTokens = int(ev.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				if td, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && td.Text != "" {
					select {
					case ch <- providers.Chunk{Text: td.Text}:
					case <-ctx.Done():
						return
					}
				}
			case anthropic.MessageDeltaEvent:
				usage := &providers.Usage{
					InputTokens:  inputTokens,
					OutputTokens: int(ev.Usage.OutputTokens),
				}
				select {
				case ch <- providers.Chunk{FinishReason: string(ev.Delta.StopReason), Usage: usage}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case ch <- providers.Chunk{Err: toProviderError(err)}:
			case <-ctx.Done():
			}
		}
	}()

	return &providers.Stream{Events: ch}, nil
}

// Error is a structured upstream failure with its HTTP status preserved.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("nativebearer: %s (status=%d)", e.Message, e.StatusCode)
}

// HTTPStatus implements providers.StatusCoder.
func (e *Error) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	if err == nil {
		return nil
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &Error{StatusCode: apierr.StatusCode, Message: apierr.Error()}
	}
	return err
}
