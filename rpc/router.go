package rpc

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"streampay/gateway/middleware"
)

// RouterConfig carries the middleware collaborators the RPC surface mounts.
// Nil fields disable the corresponding layer.
type RouterConfig struct {
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          *middleware.CORSConfig
}

// NewRouter mounts the JSON-RPC endpoint plus health and metrics routes. The
// server's own method switch decides per-method auth, so the router only
// applies the cross-cutting layers.
func NewRouter(server *Server, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}

	rpcHandler := http.Handler(http.HandlerFunc(server.Handle))
	if cfg.Observability != nil {
		rpcHandler = cfg.Observability.Middleware("rpc")(rpcHandler)
	}
	if cfg.RateLimiter != nil {
		rpcHandler = cfg.RateLimiter.Middleware("rpc")(rpcHandler)
	}
	r.Method(http.MethodPost, "/", rpcHandler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.Observability != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Observability.MetricsHandler())
	}
	return r
}
