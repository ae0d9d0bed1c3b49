// Package localinference implements the provider client for a local
// inference server exposing an OpenAI-compatible chat endpoint on a local
// HTTP port. No credential is required; the wire protocol is delegated to
// the openaicompat client.
package localinference

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nulpointcorp/provider-gateway/internal/providers"
	"github.com/nulpointcorp/provider-gateway/internal/providers/openaicompat"
)

const defaultBaseURL = "http://127.0.0.1:11434/v1"

// Client implements providers.Client against a local inference server.
type Client struct {
	inner *openaicompat.Client
}

// Option configures a Client.
type Option func(*config)

type config struct {
	maxRetries int
	httpClient *http.Client
}

// WithMaxRetries bounds transient-error retries.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithHTTPClient overrides the HTTP client (per-identity timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New creates a local-inference client. baseURL defaults to the standard
// local server port when empty; a bare "host:port" is accepted and
// normalised to "http://host:port/v1".
func New(name, baseURL string, opts ...Option) *Client {
	cfg := &config{maxRetries: providers.DefaultMaxRetries}
	for _, o := range opts {
		o(cfg)
	}

	url := normalizeBaseURL(baseURL)

	inner := []openaicompat.Option{openaicompat.WithMaxRetries(cfg.maxRetries)}
	if cfg.httpClient != nil {
		inner = append(inner, openaicompat.WithHTTPClient(cfg.httpClient))
	}

	// The server ignores the key; the SDK requires a non-empty one.
	return &Client{inner: openaicompat.New(name, "local", url, inner...)}
}

func normalizeBaseURL(raw string) string {
	if raw == "" {
		return defaultBaseURL
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = fmt.Sprintf("http://%s", raw)
	}
	if !strings.HasSuffix(strings.TrimSuffix(raw, "/"), "/v1") {
		raw = strings.TrimSuffix(raw, "/") + "/v1"
	}
	return raw
}

func (c *Client) Name() string { return c.inner.Name() }

func (c *Client) Generate(ctx context.Context, req *providers.Request) (*providers.Result, error) {
	return c.inner.Generate(ctx, req)
}

func (c *Client) StreamGenerate(ctx context.Context, req *providers.Request) (*providers.Stream, error) {
	return c.inner.StreamGenerate(ctx, req)
}
