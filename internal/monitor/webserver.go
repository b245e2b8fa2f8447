// Package monitor serves the live configuration surface and debug views:
// JSON endpoints for the effect, sequencer, theory and voice settings, the
// latest analysis grid and frame, and chart pages for inspecting a run.
package monitor

import (
	"context"
	"errors"
	"image"
	"net"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/scenesynth/internal/compositor"
	"github.com/banshee-data/scenesynth/internal/db"
	"github.com/banshee-data/scenesynth/internal/monitoring"
	"github.com/banshee-data/scenesynth/internal/scene"
	"github.com/banshee-data/scenesynth/internal/sequencer"
	"github.com/banshee-data/scenesynth/internal/theory"
	"github.com/banshee-data/scenesynth/internal/voice"
)

// GridSource exposes the most recent analysis grid. *scene.Analyzer
// satisfies it.
type GridSource interface {
	Last() (scene.Grid, bool)
}

// FrameSource exposes the most recent composited frame.
// *scene.FrameHandoff satisfies it.
type FrameSource interface {
	Frame() (image.Image, bool)
}

// WebServerConfig wires the server to the running engine. Nil components
// leave their routes unregistered.
type WebServerConfig struct {
	Address     string
	Params      *compositor.Params
	Compositor  *compositor.Compositor
	Sequencer   *sequencer.Sequencer
	Transport   *sequencer.Transport
	Quantizer   *theory.Quantizer
	Mixer       *voice.Mixer
	Grid        GridSource
	Frames      FrameSource
	Journal     *db.DB
	SnapshotDir string
}

// WebServer is the monitor HTTP server.
type WebServer struct {
	cfg     WebServerConfig
	server  *http.Server
	started time.Time
}

// NewWebServer builds the server and its routes.
func NewWebServer(cfg WebServerConfig) (*WebServer, error) {
	ws := &WebServer{cfg: cfg, started: time.Now()}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the routed handler, for tests and embedding.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.cfg.Address)
	if err != nil {
		return err
	}
	return ws.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting monitor HTTP server on %s", ln.Addr())
		errc <- ws.server.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down monitor HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("monitor HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("monitor HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("monitor HTTP server stopped")
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	c := ws.cfg

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	if c.Params != nil {
		mux.HandleFunc("/api/params", ws.handleParams)
	}
	if c.Sequencer != nil {
		mux.HandleFunc("/api/sequencer", ws.handleSequencer)
		mux.HandleFunc("/api/sequencer/reset", ws.handleSequencerReset)
	}
	if c.Compositor != nil {
		mux.HandleFunc("/api/compositor/reset", ws.handleCompositorReset)
	}
	if c.Quantizer != nil {
		mux.HandleFunc("/api/theory", ws.handleTheory)
	}
	if c.Mixer != nil {
		mux.HandleFunc("/api/voices", ws.handleVoices)
	}
	if c.Frames != nil {
		mux.HandleFunc("/frame.png", ws.handleFrame)
		if c.SnapshotDir != "" {
			mux.HandleFunc("/api/snapshot", ws.handleSnapshot)
		}
	}

	debug := tsweb.Debugger(mux)
	if c.Grid != nil {
		mux.HandleFunc("/api/grid", ws.handleGrid)
		debug.Handle("grid", "Analysis grid motion heatmap", http.HandlerFunc(ws.handleGridHeatmap))
	}
	if c.Journal != nil {
		mux.HandleFunc("GET /api/sessions", ws.handleSessions)
		mux.HandleFunc("GET /api/sessions/{id}/notes", ws.handleSessionNotes)
		mux.HandleFunc("GET /api/sessions/{id}/score.mid", ws.handleSessionSMF)
		if err := c.Journal.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}
