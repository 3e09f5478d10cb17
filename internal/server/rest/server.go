package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/kaytervn/msa-backend/internal/server/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// Routes collects everything the router mounts.
type Routes struct {
	Keys    *KeyHandler
	Users   *UserHandler
	Socket  http.Handler
	Metrics prometheus.Gatherer

	Ready     func() bool
	Guard     SignatureGuard
	Sessions  SessionVerifier
	Secrets   Secrets
	Collector *metrics.Metrics
}

// NewRouter mounts the key bootstrap and metrics unguarded, and the user
// routes behind readiness and signature checks.
func NewRouter(rt Routes, logger logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	rt.Keys.Register(r)
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.Metrics, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(requireReady(rt.Ready, logger))
		if rt.Socket != nil {
			r.Method(http.MethodGet, "/v1/socket", rt.Socket)
		}

		r.Group(func(r chi.Router) {
			r.Use(requireSignature(rt.Guard, logger, rt.Collector))
			rt.Users.Register(r)

			r.Group(func(r chi.Router) {
				r.Use(requireBasic(rt.Secrets, logger))
				rt.Users.RegisterClient(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(requireBearer(rt.Sessions, logger))
				rt.Users.RegisterSession(r)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Code: "NOT_FOUND", Message: "Not found"})
	})
	return r
}

type Server struct {
	address string
	handler http.Handler
	logger  logging.Logger
}

func NewServer(address string, handler http.Handler, logger logging.Logger) *Server {
	return &Server{address: address, handler: handler, logger: logger.With("module", "http_server")}
}

// Run serves until ctx is cancelled, then shuts down. Request contexts derive
// from ctx, so open websockets end with it.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *Server) serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())
	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-stopped
}
