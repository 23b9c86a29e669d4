// Package httpapi implements §4.8's request pipeline: chi routing,
// invocation-token parsing, and the thin HTTP<->core translation layer.
// Every route ultimately calls into capability, object, orbit, or index —
// this package owns no domain logic of its own.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kepler.host/kepler/capability"
	"kepler.host/kepler/index"
	"kepler.host/kepler/object"
	"kepler.host/kepler/orbit"
	"kepler.host/kepler/telemetry"
)

// Server wires together the components a request needs to be served
// (§4.8): capability verification, the object service, the orbit handle
// cache, and the index store's capability sub-store for delegation writes.
type Server struct {
	Engine       *capability.Engine
	Capabilities *index.CapabilityStore
	Index        *index.Store
	Objects      *object.Service
	Orbits       *orbit.Manager
	Logger       *zap.Logger
	Metrics      *telemetry.Metrics

	// HostID identifies this host independent of any single orbit, for
	// /hostInfo (§4.8). Callers derive it once at startup, typically via
	// orbit.Secret.DeriveHostKey with a fixed, non-orbit salt.
	HostID string

	// InvocationTimeout bounds each /invoke call (§5 "Invocations set a
	// default wall-clock timeout").
	InvocationTimeout time.Duration
}

// Router builds the chi mux for the request pipeline.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout()))
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/delegate", s.handleDelegate)
	r.Post("/invoke", s.handleInvoke)
	r.Post("/revoke", s.handleRevoke)
	r.Get("/peer/generate", s.handlePeerGenerate)
	r.Get("/hostInfo", s.handleHostInfo)

	// Legacy direct paths route through the same invocation verification
	// as /invoke (spec.md §4.8 "MAY be supported but must route through
	// the same invocation verification"); {cid} is optional so a
	// whole-orbit action (list) and a get_by_cid fetch can share the
	// same handler.
	r.Get("/{orbitID}", s.handleInvoke)
	r.Post("/{orbitID}", s.handleInvoke)
	r.Get("/{orbitID}/{cid}", s.handleInvoke)
	r.Post("/{orbitID}/{cid}", s.handleInvoke)

	return r
}

func (s *Server) timeout() time.Duration {
	if s.InvocationTimeout > 0 {
		return s.InvocationTimeout
	}
	return 30 * time.Second
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
