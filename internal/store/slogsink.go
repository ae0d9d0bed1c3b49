package store

import (
	"context"
	"log/slog"
	"time"
)

// SlogSink writes interaction records to the structured log. It is the
// default sink when no ClickHouse cluster is configured, so audit records
// are never silently discarded.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.Default()
	}
	return &SlogSink{log: log}
}

func (s *SlogSink) WriteInteractions(ctx context.Context, batch []Interaction) error {
	for _, e := range batch {
		s.log.InfoContext(ctx, "interaction",
			slog.String("id", e.ID.String()),
			slog.String("identity", e.IdentityID),
			slog.String("kind", e.IdentityKind),
			slog.String("canonical_model", e.CanonicalModel),
			slog.String("provider_model", e.ProviderModel),
			slog.Bool("streamed", e.Streamed),
			slog.String("stop_reason", e.StopReason),
			slog.Uint64("input_tokens", uint64(e.InputTokens)),
			slog.Uint64("output_tokens", uint64(e.OutputTokens)),
			slog.Uint64("latency_ms", uint64(e.LatencyMs)),
			slog.Uint64("status", uint64(e.Status)),
			slog.String("error_type", e.ErrorType),
			slog.Time("created_at", normalizeTime(e.CreatedAt)),
		)
	}
	return nil
}

func (s *SlogSink) Close() error { return nil }

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
