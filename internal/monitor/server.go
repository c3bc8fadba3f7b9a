// Package monitor serves the debug HTTP interface: pipeline state, block
// charts, stage timings and a top-down preview of the displayed scene.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/banshee-data/blockview/internal/db"
	"github.com/banshee-data/blockview/internal/httputil"
	"github.com/banshee-data/blockview/internal/monitoring"
	"github.com/banshee-data/blockview/internal/pipeline"
	"github.com/banshee-data/blockview/internal/scene"
	"github.com/banshee-data/blockview/internal/viewer"
)

var logf = monitoring.Component("Monitor")

// StateSource reports the pipeline state.
type StateSource interface {
	Snapshot() pipeline.Snapshot
}

// SceneSource reports what is displayed.
type SceneSource interface {
	Current() *scene.Root
	Stats() scene.SurfaceStats
}

// Config contains configuration options for the monitor.
type Config struct {
	Address string
	State   StateSource
	Scene   SceneSource
	// Viewer and DB are optional.
	Viewer *viewer.Publisher
	DB     *db.DB
}

// Server handles the monitoring HTTP interface.
type Server struct {
	config Config
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a server and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	s := &Server{config: cfg, mux: http.NewServeMux()}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logf("starting HTTP server on %s", s.config.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server routine stopped")
	return nil
}

func (s *Server) setupRoutes() error {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/debug/state", s.handleState)
	s.mux.HandleFunc("/debug/blocks", s.handleBlocksChart)
	s.mux.HandleFunc("/debug/stages", s.handleStagesChart)
	s.mux.HandleFunc("/debug/preview.png", s.handlePreview)
	if s.config.DB != nil {
		if err := s.config.DB.AttachAdminRoutes(s.mux); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

// stateResponse is the body of /debug/state.
type stateResponse struct {
	Pipeline *pipeline.Snapshot     `json:"pipeline,omitempty"`
	Surface  *scene.SurfaceStats    `json:"surface,omitempty"`
	Viewer   *viewer.PublisherStats `json:"viewer,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var resp stateResponse
	if s.config.State != nil {
		snap := s.config.State.Snapshot()
		resp.Pipeline = &snap
	}
	if s.config.Scene != nil {
		st := s.config.Scene.Stats()
		resp.Surface = &st
	}
	if s.config.Viewer != nil {
		st := s.config.Viewer.Stats()
		resp.Viewer = &st
	}
	httputil.WriteJSONOK(w, resp)
}

// currentRoot returns the displayed root, writing a 404 when there is none.
func (s *Server) currentRoot(w http.ResponseWriter) *scene.Root {
	if s.config.Scene == nil {
		httputil.NotFound(w, "no scene attached")
		return nil
	}
	root := s.config.Scene.Current()
	if root == nil {
		httputil.NotFound(w, "nothing is displayed")
		return nil
	}
	return root
}
