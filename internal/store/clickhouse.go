package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const interactionsDDL = `
CREATE TABLE IF NOT EXISTS interactions (
    id              UUID,
    identity_id     LowCardinality(String),
    identity_kind   LowCardinality(String),
    canonical_model LowCardinality(String),
    provider_model  LowCardinality(String),
    streamed        Bool,
    stop_reason     LowCardinality(String),
    response_text   String,
    input_tokens    UInt32,
    output_tokens   UInt32,
    latency_ms      UInt32,
    status          UInt16,
    error_type      LowCardinality(String),
    created_at      DateTime64(3, 'UTC')
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(created_at)
ORDER BY (identity_id, created_at)
TTL toDateTime(created_at) + INTERVAL 90 DAY
`

// ClickHouseConfig holds connection settings for the analytics cluster.
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
}

// ClickHouseSink writes interaction batches to a ClickHouse table. Inserts
// use the native protocol with batched appends; the table is created on
// startup when missing.
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink connects, verifies the connection with a ping, and
// ensures the interactions table exists.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	if err := conn.Exec(ctx, interactionsDDL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse: ensure schema: %w", err)
	}

	return &ClickHouseSink{conn: conn}, nil
}

func (s *ClickHouseSink) WriteInteractions(ctx context.Context, batch []Interaction) error {
	if len(batch) == 0 {
		return nil
	}

	b, err := s.conn.PrepareBatch(ctx, "INSERT INTO interactions")
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}
	for _, e := range batch {
		if err := b.Append(
			e.ID,
			e.IdentityID,
			e.IdentityKind,
			e.CanonicalModel,
			e.ProviderModel,
			e.Streamed,
			e.StopReason,
			e.ResponseText,
			e.InputTokens,
			e.OutputTokens,
			e.LatencyMs,
			e.Status,
			e.ErrorType,
			e.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("clickhouse: append: %w", err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("clickhouse: send: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
