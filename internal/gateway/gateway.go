// Package gateway is the core request orchestrator.
//
// The Gateway receives a canonical chat-completion request, resolves the
// active provider identity (driving credential acquisition through the token
// refresher), normalizes the request for the backend, dispatches it, and
// translates the result back into the canonical response shape or canonical
// SSE event sequence.
//
// Key design constraints:
//   - Recorder, rate limiter, and metrics are optional and nil-safe.
//   - All outbound I/O uses context.Context so timeouts propagate correctly.
//   - Persistence never affects the caller-visible outcome: the failure path
//     and both completion paths funnel through one record call that cannot
//     fail the request.
//   - Streaming responses are produced by a single read loop that feeds the
//     transport and the stream capture from the same bytes.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/provider-gateway/internal/canonical"
	"github.com/nulpointcorp/provider-gateway/internal/capture"
	"github.com/nulpointcorp/provider-gateway/internal/identity"
	"github.com/nulpointcorp/provider-gateway/internal/metrics"
	"github.com/nulpointcorp/provider-gateway/internal/normalize"
	"github.com/nulpointcorp/provider-gateway/internal/ratelimit"
	"github.com/nulpointcorp/provider-gateway/internal/recorder"
	"github.com/nulpointcorp/provider-gateway/internal/registry"
	"github.com/nulpointcorp/provider-gateway/internal/store"
	"github.com/nulpointcorp/provider-gateway/internal/translate"
	"github.com/nulpointcorp/provider-gateway/pkg/apierr"
)

// Options holds optional tuning parameters for a Gateway. All fields have
// sensible defaults and can be omitted.
type Options struct {
	// Logger is the structured logger used for request events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. When nil, metrics are
	// disabled.
	Metrics *metrics.Registry

	// Recorder is the async audit-log boundary. When nil, interactions are
	// not persisted.
	Recorder *recorder.Recorder

	// RateLimiter enforces a per-identity RPM limit. When nil, no limiting.
	RateLimiter *ratelimit.RPMLimiter

	// CORSOrigins is the allowed-origins list for the CORS middleware.
	CORSOrigins []string

	// Version is reported by /health.
	Version string
}

// Gateway orchestrates canonical requests end to end. All dependencies are
// injected via the constructor so they can be replaced with doubles in tests.
type Gateway struct {
	registry *registry.Registry
	baseCtx  context.Context
	log      *slog.Logger
	metrics  *metrics.Registry
	rec      *recorder.Recorder
	rpm      *ratelimit.RPMLimiter

	corsOrigins []string
	version     string
}

// New creates a Gateway.
func New(baseCtx context.Context, reg *registry.Registry, opts Options) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		registry:    reg,
		baseCtx:     baseCtx,
		log:         log,
		metrics:     opts.Metrics,
		rec:         opts.Recorder,
		rpm:         opts.RateLimiter,
		corsOrigins: opts.CORSOrigins,
		version:     opts.Version,
	}
}

// dispatchMessages is the core handler for POST /v1/messages.
func (g *Gateway) dispatchMessages(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	streaming := false

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil || streaming {
			return // streaming is finalised by the stream writer
		}
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP("messages", ctx.Response.StatusCode(), time.Since(start))
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	// 1. Parse and validate. Local failures return before any provider call.
	var req canonical.Request
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteType(ctx, apierr.TypeInvalidRequest, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		apierr.WriteType(ctx, apierr.TypeInvalidRequest, err.Error())
		return
	}

	// 2. Resolve the active identity.
	ident, err := g.registry.Source().GetDefault(ctx)
	if err != nil {
		g.failRequest(ctx, reqID, nil, &req, start, err)
		return
	}

	g.log.InfoContext(ctx, "request",
		slog.String("request_id", reqID),
		slog.String("model", req.Model),
		slog.String("identity", ident.ID),
		slog.String("kind", string(ident.Kind)),
		slog.Bool("stream", req.Stream),
	)

	// 3. Rate limit check (RPM, per identity).
	if g.rpm != nil {
		allowed, rlErr := g.rpm.Allow(ctx, ident.ID)
		if rlErr == nil && !allowed {
			if g.metrics != nil {
				g.metrics.RecordRateLimit("blocked")
			}
			g.log.WarnContext(ctx, "rate_limit_exceeded",
				slog.String("request_id", reqID),
				slog.String("identity", ident.ID),
			)
			apierr.WriteRateLimit(ctx)
			g.recordFailure(reqID, ident, &req, start, false, apierr.TypeRateLimit, fasthttp.StatusTooManyRequests)
			return
		}
		if g.metrics != nil {
			if rlErr != nil {
				g.metrics.RecordRateLimit("error")
			} else {
				g.metrics.RecordRateLimit("allowed")
			}
		}
	}

	// 4. Resolve the client (credential acquisition happens here).
	client, err := g.registry.ResolveClient(ctx, ident)
	if err != nil {
		g.failRequest(ctx, reqID, ident, &req, start, err)
		return
	}

	// 5. Normalize for the backend.
	providerModel := registry.ModelFor(ident, req.Model)
	preq := normalize.Normalize(&req, providerModel)
	preq.RequestID = reqID

	// 6a. Non-streaming: dispatch synchronously, translate, persist, return.
	if !req.Stream {
		provCtx, cancel := context.WithTimeout(ctx, registry.Timeout(ident))
		defer cancel()

		res, err := client.Generate(provCtx, preq)
		if err != nil {
			g.log.ErrorContext(ctx, "provider_error",
				slog.String("request_id", reqID),
				slog.String("identity", ident.ID),
				slog.String("error", err.Error()),
				slog.Duration("elapsed", time.Since(start)),
			)
			g.failRequest(ctx, reqID, ident, &req, start, err)
			return
		}

		resp := translate.ToCanonical(res, &req)
		body, err := json.Marshal(resp)
		if err != nil {
			apierr.WriteType(ctx, apierr.TypeAPIError, "failed to serialize response")
			return
		}

		g.record(store.Interaction{
			IdentityID:     ident.ID,
			IdentityKind:   string(ident.Kind),
			CanonicalModel: req.Model,
			ProviderModel:  providerModel,
			StopReason:     resp.StopReason,
			ResponseText:   resp.Text(),
			InputTokens:    uint32(resp.Usage.InputTokens),
			OutputTokens:   uint32(resp.Usage.OutputTokens),
			LatencyMs:      clampLatency(time.Since(start)),
			Status:         fasthttp.StatusOK,
		}, reqID)
		if g.metrics != nil {
			g.metrics.RecordRequest(ident.ID, string(ident.Kind), fasthttp.StatusOK, false, time.Since(start))
			g.metrics.AddTokens(ident.ID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}

		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
		return
	}

	// 6b. Streaming: produce the event channel, then hand off to the stream
	// writer. The producer must outlive this handler (fasthttp runs the body
	// writer after it returns), so its context derives from the base context.
	streamCtx, cancel := context.WithTimeout(context.WithoutCancel(g.baseCtx), registry.Timeout(ident))

	var events <-chan canonical.StreamEvent
	if ident.SimulateStreaming {
		res, err := client.Generate(streamCtx, preq)
		if err != nil {
			cancel()
			g.failRequest(ctx, reqID, ident, &req, start, err)
			return
		}
		events = translate.SimulatedStream(streamCtx, res, &req)
	} else {
		nativeStream, err := client.StreamGenerate(streamCtx, preq)
		if err != nil {
			cancel()
			g.failRequest(ctx, reqID, ident, &req, start, err)
			return
		}
		events = translate.NativeStream(streamCtx, nativeStream, &req, streamErrType)
	}

	streaming = true
	g.writeStream(ctx, events, cancel, ident, &req, providerModel, reqID, start)
}

// writeStream forwards canonical events to the transport as SSE while
// feeding the same bytes into the stream capture. Persistence happens from
// the capture's flush callback — exactly once, whether the stream completes
// or the client disconnects mid-sequence.
func (g *Gateway) writeStream(
	ctx *fasthttp.RequestCtx,
	events <-chan canonical.StreamEvent,
	cancel context.CancelFunc,
	ident *identity.Identity,
	req *canonical.Request,
	providerModel string,
	reqID string,
	start time.Time,
) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	tap := capture.New(func(resp *canonical.Response, errType string) {
		status := fasthttp.StatusOK
		if errType != "" {
			status = apierr.StatusFor(errType)
		}
		g.record(store.Interaction{
			IdentityID:     ident.ID,
			IdentityKind:   string(ident.Kind),
			CanonicalModel: req.Model,
			ProviderModel:  providerModel,
			Streamed:       true,
			StopReason:     resp.StopReason,
			ResponseText:   resp.Text(),
			InputTokens:    uint32(resp.Usage.InputTokens),
			OutputTokens:   uint32(resp.Usage.OutputTokens),
			LatencyMs:      clampLatency(time.Since(start)),
			Status:         uint16(status),
			ErrorType:      errType,
		}, reqID)
		if g.metrics != nil {
			outcome := "ok"
			if errType != "" {
				outcome = "error"
			}
			g.metrics.RecordStreamCapture(outcome)
			g.metrics.RecordRequest(ident.ID, string(ident.Kind), status, true, time.Since(start))
			g.metrics.AddTokens(ident.ID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
			g.metrics.DecInFlight()
			g.metrics.ObserveHTTP("messages", fasthttp.StatusOK, time.Since(start))
		}
	}, g.log)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer
		defer cancel()
		defer tap.Flush()

		for ev := range events {
			frame, err := ev.EncodeSSE()
			if err != nil {
				g.log.Error("stream_encode_failed", slog.String("error", err.Error()))
				continue
			}
			// The capture taps exactly the bytes forwarded to the client.
			tap.Write(frame) //nolint:errcheck // capture writes never fail
			if _, err := w.Write(frame); err != nil {
				// Client disconnected; the deferred flush persists the
				// partial response and cancel stops the producer.
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
}

// failRequest writes the canonical error envelope for err and records a
// failure interaction. This is the single failure boundary for everything
// raised before a response or stream exists.
func (g *Gateway) failRequest(
	ctx *fasthttp.RequestCtx,
	reqID string,
	ident *identity.Identity,
	req *canonical.Request,
	start time.Time,
	err error,
) {
	status, errType := classify(err)
	apierr.Write(ctx, status, errType, publicMessage(err, errType))
	g.recordFailure(reqID, ident, req, start, req != nil && req.Stream, errType, status)
}

func (g *Gateway) recordFailure(
	reqID string,
	ident *identity.Identity,
	req *canonical.Request,
	start time.Time,
	streamed bool,
	errType string,
	status int,
) {
	entry := store.Interaction{
		Streamed:  streamed,
		LatencyMs: clampLatency(time.Since(start)),
		Status:    uint16(status),
		ErrorType: errType,
	}
	if req != nil {
		entry.CanonicalModel = req.Model
	}
	if ident != nil {
		entry.IdentityID = ident.ID
		entry.IdentityKind = string(ident.Kind)
		if g.metrics != nil {
			g.metrics.RecordRequest(ident.ID, string(ident.Kind), status, streamed, time.Since(start))
		}
	}
	g.record(entry, reqID)
}

// record is the single persistence boundary: it never blocks and never
// fails the request.
func (g *Gateway) record(entry store.Interaction, reqID string) {
	if g.rec == nil {
		return
	}
	if id, err := uuid.Parse(reqID); err == nil {
		entry.ID = id
	} else {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	g.rec.Record(entry)
	if g.metrics != nil {
		g.metrics.SetDroppedRecords(g.rec.Dropped())
	}
}

func clampLatency(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

// publicMessage returns the caller-visible error message. Internal wiring
// details never leave the gateway for server-side failures.
func publicMessage(err error, errType string) string {
	if errType == apierr.TypeAPIError && errors.Is(err, context.DeadlineExceeded) {
		return "upstream provider timed out"
	}
	return err.Error()
}
