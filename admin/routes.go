package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/topocorr/cfg"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin routes. metrics may be nil.
func NewRouter(handlers *AdminHandlers, secret string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(secret))
		r.Get("/health", handlers.handleHealth)
		r.Get("/topologies", handlers.handleListTopologies)
		r.Get("/topologies/{name}", handlers.handleTopology)
		r.Get("/topologies/{name}/underlay/{topology}", handlers.handleUnderlay)
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return r
}

// Server runs the admin HTTP endpoint
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on the configured address and serves in the background
func Start(conf cfg.AdminConfiguration, handlers *AdminHandlers, metrics http.Handler) (*Server, error) {
	addr := net.JoinHostPort(conf.Address, fmt.Sprint(conf.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewRouter(handlers, conf.Secret, metrics),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Admin server stopped")
		}
	}()

	log.Info().Str("address", ln.Addr().String()).Msg("Admin endpoints enabled at /admin/topologies")
	return s, nil
}

// Addr returns the bound listen address
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
