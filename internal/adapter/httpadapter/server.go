package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/radar-regrid/internal/config"
	"github.com/couchcryptid/radar-regrid/internal/domain"
)

// ProfileSource supplies the active grid profile.
type ProfileSource interface {
	Current() config.Profile
}

// Server exposes health, readiness, metrics, and active-profile endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /profile routes. profiles may be nil, which disables /profile.
func NewServer(addr string, ready sharedobs.ReadinessChecker, profiles ProfileSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if profiles != nil {
		mux.HandleFunc("GET /profile", s.handleProfile(profiles))
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// profileResponse reports the active profile and the geometry derived from it.
type profileResponse struct {
	Profile     config.Profile    `json:"profile"`
	ScaleRes    int               `json:"scale_res"`
	WorkingSize int               `json:"working_size"`
	SouthWest   domain.PixelIndex `json:"south_west"`
	NorthEast   domain.PixelIndex `json:"north_east"`
}

func (s *Server) handleProfile(profiles ProfileSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		p := profiles.Current()
		rt, err := p.NewTransform()
		if err != nil {
			s.logger.Error("active profile is invalid", "name", p.Name, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		sw, ne := rt.Anchors()
		writeJSON(w, http.StatusOK, profileResponse{
			Profile:     p,
			ScaleRes:    rt.ScaleRes(),
			WorkingSize: rt.WorkingSize(),
			SouthWest:   sw,
			NorthEast:   ne,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
