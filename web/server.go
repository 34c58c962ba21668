package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"pose-engine/fusion"
	"pose-engine/monitoring"
)

// StateSource is the estimator state the web views read. RunID and Err are
// the cheap accessors used by the debug page; Snapshot copies the history.
type StateSource interface {
	Snapshot() fusion.Snapshot
	RunID() string
	Err() error
}

// Resetter is implemented by sources that can start a new run on request.
type Resetter interface {
	Reset()
}

type Server struct {
	Hub   *Hub
	state StateSource
}

func NewServer(state StateSource) *Server {
	return &Server{
		Hub:   NewHub(),
		state: state,
	}
}

// Handler returns the HTTP routes. distDir, when set, is served at "/".
func (s *Server) Handler(distDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /charts/ekf", s.chartHandler(RenderEKF))
	mux.HandleFunc("GET /charts/ensemble", s.chartHandler(RenderEnsemble))

	debug := tsweb.Debugger(mux)
	debug.KVFunc("run", func() any { return s.state.RunID() })
	debug.KVFunc("halted", func() any {
		if err := s.state.Err(); err != nil {
			return err.Error()
		}
		return "no"
	})
	debug.HandleFunc("charts", "EKF and ensemble charts", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/charts/ekf", http.StatusFound)
	})

	if distDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(distDir)))
	}
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int, distDir string) error {
	go s.Hub.Run()
	defer s.Hub.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(distDir),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	monitoring.Logf("HTTP server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.state.Snapshot()); err != nil {
		monitoring.Logf("web: encode state: %v", err)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.state.(Resetter)
	if !ok {
		http.Error(w, "reset not supported", http.StatusNotImplemented)
		return
	}
	rs.Reset()
	snap := s.state.Snapshot()
	if b, err := json.Marshal(map[string]string{"type": "reset", "run_id": snap.RunID}); err == nil {
		s.Hub.Broadcast(b)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"run_id": snap.RunID})
}

func (s *Server) chartHandler(render func(io.Writer, fusion.Snapshot) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := render(&buf, s.state.Snapshot()); err != nil {
			http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}
}
