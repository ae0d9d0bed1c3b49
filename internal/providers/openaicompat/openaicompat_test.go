package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nulpointcorp/provider-gateway/internal/providers"
)

func chatRequest() *providers.Request {
	return &providers.Request{
		Model:     "gpt-4o",
		MaxTokens: 64,
		Messages: []providers.Message{
			{Role: "system", Content: "Be brief."},
			{Role: "user", Content: "Hi"},
		},
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("expected bearer auth, got %q", got)
		}

		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxCompletionTokens int `json:"max_completion_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Model != "gpt-4o" || len(payload.Messages) != 2 {
			t.Errorf("unexpected payload: %+v", payload)
		}
		if payload.Messages[0].Role != "system" {
			t.Errorf("system message must lead, got %q", payload.Messages[0].Role)
		}
		if payload.MaxCompletionTokens != 64 {
			t.Errorf("expected max_completion_tokens 64, got %d", payload.MaxCompletionTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 1, "total_tokens": 12}
		}`)
	}))
	t.Cleanup(srv.Close)

	c := New("test-ident", "sk-test", srv.URL+"/v1/")
	res, err := c.Generate(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.ID != "chatcmpl-1" || res.Text != "Hello" || res.FinishReason != "stop" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Usage.InputTokens != 11 || res.Usage.OutputTokens != 1 {
		t.Errorf("usage not carried over: %+v", res.Usage)
	}
}

func TestGenerate_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"error":{"message":"upstream hiccup"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Recovered"}, "finish_reason": "stop"}]
		}`)
	}))
	t.Cleanup(srv.Close)

	c := New("test-ident", "sk-test", srv.URL+"/v1/", WithMaxRetries(3))
	res, err := c.Generate(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Recovered" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 calls (1 retry), got %d", got)
	}
}

func TestGenerate_NonRetryableFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"message":"bad key","type":"invalid_api_key"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := New("test-ident", "sk-bad", srv.URL+"/v1/", WithMaxRetries(3))
	_, err := c.Generate(context.Background(), chatRequest())

	var provErr *Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if provErr.HTTPStatus() != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", provErr.HTTPStatus())
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("401 must not be retried, got %d calls", got)
	}
}

func TestStreamGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"chatcmpl-3","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"chatcmpl-3","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"chatcmpl-3","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	c := New("test-ident", "sk-test", srv.URL+"/v1/")
	stream, err := c.StreamGenerate(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text strings.Builder
	var finish string
	var usage *providers.Usage
	for chunk := range stream.Events {
		if chunk.Err != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Err)
		}
		text.WriteString(chunk.Text)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
			usage = chunk.Usage
		}
	}

	if text.String() != "Hello" {
		t.Errorf("expected 'Hello', got %q", text.String())
	}
	if finish != "stop" {
		t.Errorf("expected finish reason 'stop', got %q", finish)
	}
	if usage == nil || usage.OutputTokens != 2 {
		t.Errorf("usage from the final frame must be forwarded: %+v", usage)
	}
}
