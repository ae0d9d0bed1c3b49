package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/provider-gateway/internal/auth"
	"github.com/nulpointcorp/provider-gateway/internal/gateway"
	"github.com/nulpointcorp/provider-gateway/internal/identity"
	"github.com/nulpointcorp/provider-gateway/internal/metrics"
	"github.com/nulpointcorp/provider-gateway/internal/ratelimit"
	"github.com/nulpointcorp/provider-gateway/internal/recorder"
	"github.com/nulpointcorp/provider-gateway/internal/registry"
	"github.com/nulpointcorp/provider-gateway/internal/store"
)

// initInfra establishes optional external connections.
// Redis is only required for the redis token store or rate limiting.
func (a *App) initInfra(ctx context.Context) error {
	needsRedis := a.cfg.TokenStore == "redis" || a.cfg.RateLimit.RPMLimit > 0
	if !needsRedis {
		return nil
	}

	a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

	rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	a.log.Info("redis connected")

	return nil
}

// initServices creates the Prometheus registry and the audit pipeline.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	var sink store.Sink
	switch a.cfg.Audit.Mode {
	case "clickhouse":
		ch, err := store.NewClickHouseSink(ctx, store.ClickHouseConfig{
			Addr:     a.cfg.Audit.Addr,
			Database: a.cfg.Audit.Database,
			Username: a.cfg.Audit.Username,
			Password: a.cfg.Audit.Password,
		})
		if err != nil {
			return fmt.Errorf("clickhouse sink: %w", err)
		}
		sink = ch
		a.log.Info("audit sink: clickhouse")

	case "slog":
		sink = store.NewSlogSink(a.log)
		a.log.Info("audit sink: slog")

	case "none":
		a.log.Info("audit sink: disabled")
		return nil
	}

	rec, err := recorder.New(a.baseCtx, sink, a.log)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	a.rec = rec

	return nil
}

// initIdentities builds the identity source, token store, and refresher.
// At least one identity must resolve — enforced by config validation.
func (a *App) initIdentities(_ context.Context) error {
	idents, err := a.cfg.BuildIdentities()
	if err != nil {
		return err
	}

	source, err := identity.NewStaticSource(idents, a.cfg.Fallback)
	if err != nil {
		return err
	}
	a.source = source

	names := make([]string, 0, len(idents))
	for _, id := range idents {
		names = append(names, id.ID)
	}
	if a.cfg.Fallback != nil {
		names = append(names, a.cfg.Fallback.ID+" (fallback)")
	}
	a.log.Info("identities loaded", slog.Any("identities", names))

	if !a.cfg.HasOAuthIdentity() {
		return nil
	}

	var tokens auth.TokenStore
	if a.cfg.TokenStore == "redis" {
		tokens = auth.NewRedisStore(a.rdb)
	} else {
		tokens = auth.NewMemoryStore()
	}
	a.refresher = auth.NewRefresher(tokens, a.log,
		auth.WithRefreshObserver(a.prom.RecordTokenRefresh),
	)

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	a.reg = registry.New(a.source, a.refresher, a.log)

	opts := gateway.Options{
		Logger:      a.log,
		Metrics:     a.prom,
		Recorder:    a.rec,
		CORSOrigins: a.cfg.CORSOrigins,
		Version:     a.version,
	}

	// Rate limiting — only when Redis is available.
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		opts.RateLimiter = ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit)
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	a.gw = gateway.New(a.baseCtx, a.reg, opts)

	a.mgmt = &gateway.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	return nil
}
