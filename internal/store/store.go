// Package store defines the audit-log record for gateway interactions and
// the sinks that persist it.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Interaction is one request/response exchange as recorded for audit. For
// streaming requests the response fields come from the reconstructed capture,
// so the record reflects exactly what was sent to the client.
type Interaction struct {
	ID             uuid.UUID
	IdentityID     string
	IdentityKind   string
	CanonicalModel string
	ProviderModel  string
	Streamed       bool
	StopReason     string
	ResponseText   string
	InputTokens    uint32
	OutputTokens   uint32
	LatencyMs      uint32
	Status         uint16
	ErrorType      string
	CreatedAt      time.Time
}

// Sink persists interaction records. Implementations must tolerate batches of
// any size, including empty.
type Sink interface {
	WriteInteractions(ctx context.Context, batch []Interaction) error
	Close() error
}
