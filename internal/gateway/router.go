package gateway

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// that are registered alongside the gateway routes.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// Start starts the HTTP server on addr (e.g. ":8080").
// Pass nil for routes to start without management endpoints.
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	srv := g.Server(mgmt)
	return srv.ListenAndServe(addr)
}

// Server builds the configured fasthttp server without binding it, so tests
// can serve it on an in-memory listener.
func (g *Gateway) Server(mgmt *ManagementRoutes) *fasthttp.Server {
	r := router.New()

	r.POST("/v1/messages", g.handleMessages)
	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)

	return &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

func (g *Gateway) handleMessages(ctx *fasthttp.RequestCtx) {
	g.dispatchMessages(ctx)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	identities := 0
	if list, err := g.registry.Source().ListActive(ctx); err == nil {
		identities = len(list)
	}
	writeJSON(ctx, map[string]any{
		"status":     "ok",
		"version":    g.version,
		"identities": identities,
	})
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	// Ready when at least one identity can be resolved.
	if _, err := g.registry.Source().GetDefault(ctx); err == nil {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
