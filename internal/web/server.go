// Package web provides a read-only HTTP status server for the espresso
// controller daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/sweeney/espresso-controller/internal/status"
)

// Reporter produces a human-readable status report.
type Reporter interface {
	Status() string
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	reporters  []Reporter
}

// New creates a Server that reads state from the given tracker. The
// reporters are concatenated, in order, for /status.txt.
func New(addr string, tracker *status.Tracker, reporters ...Reporter) *Server {
	s := &Server{tracker: tracker, reporters: reporters}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/info/sensors", s.handleSensors)
	mux.HandleFunc("/status.txt", s.handleText)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatSensors(snap))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	parts := make([]string, 0, len(s.reporters))
	for _, rep := range s.reporters {
		parts = append(parts, strings.TrimRight(rep.Status(), "\n"))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(strings.Join(parts, "\n\n") + "\n"))
}
