// Package webserver exposes the terminal manager over HTTP and streams its
// events to websocket clients.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agusx1211/ccplane/internal/childagent"
	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/events"
	"github.com/agusx1211/ccplane/internal/recording"
	"github.com/agusx1211/ccplane/internal/store"
	"github.com/agusx1211/ccplane/internal/stream"
)

// Terminals is the part of the terminal manager the server drives.
type Terminals interface {
	List() []store.Terminal
	Get(id string) (store.Terminal, error)
	Live(id string) bool
	Spawn(ctx context.Context, projectID string) (string, error)
	Send(id string, content stream.Content) error
	Close(id string) error
	Resume(ctx context.Context, id string) error
	Kill(id string) error
	Subscribe(buffer int) (<-chan events.TerminalEvent, func())
	SubscribeChildAgents(buffer int) (<-chan events.ChildAgentEvent, func())
}

// ChildAgents lists the jobs the watcher has seen.
type ChildAgents interface {
	Children() []childagent.Child
}

// Transcripts serves recorded event history.
type Transcripts interface {
	Read(terminalID string, limit int) ([]recording.Entry, error)
	Remove(terminalID string) error
}

// Options configures web server behavior.
type Options struct {
	Host      string
	Port      int
	AuthToken string
	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit   float64
	Terminals   Terminals
	ChildAgents ChildAgents
	Transcripts Transcripts
}

// Server hosts the HTTP API and the websocket event stream.
type Server struct {
	terminals   Terminals
	childAgents ChildAgents
	transcripts Transcripts
	httpServer  *http.Server
	host        string
	port        int
	authToken   string
	rateLimit   float64

	// baseCtx outlives individual requests; spawned sessions inherit it.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New constructs a server. Call Start to begin listening.
func New(opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port < 0 {
		port = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		terminals:   opts.Terminals,
		childAgents: opts.ChildAgents,
		transcripts: opts.Transcripts,
		host:        host,
		port:        port,
		authToken:   strings.TrimSpace(opts.AuthToken),
		rateLimit:   opts.RateLimit,
		baseCtx:     ctx,
		cancel:      cancel,
	}

	mux := http.NewServeMux()
	srv.setupRoutes(mux)

	handler := corsMiddleware(logMiddleware(rateLimitMiddleware(srv.rateLimit, authMiddleware(srv.authToken, mux))))
	srv.httpServer = &http.Server{
		Addr:              srv.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler returns the full middleware-wrapped handler.
func (srv *Server) Handler() http.Handler {
	return srv.httpServer.Handler
}

// Start binds the listener and serves in a background goroutine.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		srv.port = tcpAddr.Port
		srv.httpServer.Addr = srv.Addr()
	}

	go func() {
		if err := srv.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.LogKV("webserver", "server stopped with error", "error", err)
		}
	}()
	debug.LogKV("webserver", "listening", "addr", srv.Addr())
	return nil
}

// Shutdown gracefully stops the HTTP server. Open websocket streams are
// ended through the base context.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.cancel()
	return srv.httpServer.Shutdown(ctx)
}

// Addr returns the bound host:port address.
func (srv *Server) Addr() string {
	return net.JoinHostPort(srv.host, strconv.Itoa(srv.port))
}

// Port returns the bound port, known after Start.
func (srv *Server) Port() int {
	return srv.port
}

// URL returns the base URL clients should use.
func (srv *Server) URL() string {
	return fmt.Sprintf("http://%s", srv.Addr())
}

func (srv *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/terminals", srv.handleListTerminals)
	mux.HandleFunc("POST /api/terminals", srv.handleSpawnTerminal)
	mux.HandleFunc("GET /api/terminals/{id}", srv.handleGetTerminal)
	mux.HandleFunc("DELETE /api/terminals/{id}", srv.handleKillTerminal)
	mux.HandleFunc("POST /api/terminals/{id}/messages", srv.handleSendMessage)
	mux.HandleFunc("POST /api/terminals/{id}/close", srv.handleCloseTerminal)
	mux.HandleFunc("POST /api/terminals/{id}/resume", srv.handleResumeTerminal)
	mux.HandleFunc("GET /api/terminals/{id}/events", srv.handleTerminalHistory)

	mux.HandleFunc("GET /api/child-agents", srv.handleListChildAgents)

	mux.HandleFunc("GET /ws/events", srv.handleEventsWebSocket)

	mux.HandleFunc("/api/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
