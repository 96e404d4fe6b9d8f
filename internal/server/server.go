// Package server exposes the orchestrator over HTTP on a local transport:
// a unix socket, a Windows named pipe, or TCP for remote frontends.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/user"
	"runtime"
	"strings"

	"github.com/codexola/codexola/internal/app"
)

// ErrServerClosed is returned when the server is closed.
var ErrServerClosed = http.ErrServerClosed

// ParseHostURL parses a host URL into a [url.URL].
func ParseHostURL(host string) (*url.URL, error) {
	proto, addr, ok := strings.Cut(host, "://")
	if !ok {
		return nil, fmt.Errorf("invalid host format: %s", host)
	}

	var basePath string
	if proto == "tcp" {
		parsed, err := url.Parse("tcp://" + addr)
		if err != nil {
			return nil, fmt.Errorf("invalid tcp address: %v", err)
		}
		addr = parsed.Host
		basePath = parsed.Path
	}
	return &url.URL{
		Scheme: proto,
		Host:   addr,
		Path:   basePath,
	}, nil
}

// DefaultHost returns the default server host.
func DefaultHost() string {
	sock := "codexola.sock"
	usr, err := user.Current()
	if err == nil && usr.Uid != "" {
		sock = fmt.Sprintf("codexola-%s.sock", usr.Uid)
	}
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("npipe:////./pipe/%s", sock)
	}
	return fmt.Sprintf("unix:///tmp/%s", sock)
}

// Server serves the orchestrator API on a specific address.
type Server struct {
	// Addr can be a TCP address, a Unix socket path, or a Windows named pipe.
	Addr    string
	network string

	h  *http.Server
	ln net.Listener

	app    *app.App
	logger *slog.Logger
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// DefaultServer returns a new [Server] instance with the default address.
func DefaultServer(a *app.App) *Server {
	hostURL, err := ParseHostURL(DefaultHost())
	if err != nil {
		panic("invalid default host")
	}
	return NewServer(a, hostURL.Scheme, hostURL.Host)
}

// NewServer is a helper to create a new [Server] instance with the given
// address. On Windows, if the address is not a "tcp" address, it will be
// converted to a named pipe format.
func NewServer(a *app.App, network, address string) *Server {
	s := new(Server)
	s.Addr = address
	s.network = network
	s.app = a

	var p http.Protocols
	p.SetHTTP1(true)
	p.SetUnencryptedHTTP2(true)
	c := &controllerV1{Server: s}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", c.handleGetHealth)
	mux.HandleFunc("GET /v1/version", c.handleGetVersion)
	mux.HandleFunc("POST /v1/control", c.handlePostControl)
	mux.HandleFunc("GET /v1/events", c.handleGetEvents)
	mux.HandleFunc("GET /v1/settings", c.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", c.handlePutSettings)
	mux.HandleFunc("GET /v1/usage", c.handleGetUsage)
	mux.HandleFunc("POST /v1/usage/refresh", c.handlePostUsageRefresh)
	mux.HandleFunc("GET /v1/prompts", c.handleGetPrompts)
	mux.HandleFunc("GET /v1/binary/inspect", c.handleGetBinaryInspect)
	mux.HandleFunc("POST /v1/binary/validate", c.handlePostBinaryValidate)
	mux.HandleFunc("GET /v1/workspaces", c.handleGetWorkspaces)
	mux.HandleFunc("POST /v1/workspaces", c.handlePostWorkspaces)
	mux.HandleFunc("DELETE /v1/workspaces/{id}", c.handleDeleteWorkspace)
	mux.HandleFunc("POST /v1/workspaces/{id}/connect", c.handlePostWorkspaceConnect)
	mux.HandleFunc("POST /v1/workspaces/{id}/disconnect", c.handlePostWorkspaceDisconnect)
	mux.HandleFunc("GET /v1/workspaces/{id}/git/status", c.handleGetWorkspaceGitStatus)
	mux.HandleFunc("GET /v1/workspaces/{id}/git/diffs", c.handleGetWorkspaceGitDiffs)
	mux.HandleFunc("GET /v1/workspaces/{id}/files", c.handleGetWorkspaceFiles)
	mux.HandleFunc("GET /v1/workspaces/{id}/sessions", c.handleGetWorkspaceSessions)
	mux.HandleFunc("PUT /v1/workspaces/{id}/sessions/{tid}", c.handlePutWorkspaceSession)
	mux.HandleFunc("POST /v1/workspaces/{id}/attachments", c.handlePostWorkspaceAttachments)
	mux.HandleFunc("POST /v1/workspaces/{id}/threads", c.handlePostThreadStart)
	mux.HandleFunc("GET /v1/workspaces/{id}/threads", c.handleGetThreads)
	mux.HandleFunc("POST /v1/workspaces/{id}/threads/{tid}/resume", c.handlePostThreadResume)
	mux.HandleFunc("POST /v1/workspaces/{id}/threads/{tid}/archive", c.handlePostThreadArchive)
	mux.HandleFunc("POST /v1/workspaces/{id}/threads/{tid}/messages", c.handlePostThreadMessage)
	mux.HandleFunc("POST /v1/workspaces/{id}/threads/{tid}/interrupt", c.handlePostThreadInterrupt)
	mux.HandleFunc("POST /v1/workspaces/{id}/threads/{tid}/review", c.handlePostThreadReview)
	mux.HandleFunc("GET /v1/workspaces/{id}/models", c.handleGetModels)
	mux.HandleFunc("GET /v1/workspaces/{id}/skills", c.handleGetSkills)
	mux.HandleFunc("POST /v1/workspaces/{id}/respond", c.handlePostRespond)
	s.h = &http.Server{
		Protocols: &p,
		Handler:   s.loggingHandler(mux),
	}
	if network == "tcp" {
		s.h.Addr = address
	}
	return s
}

// Serve accepts incoming connections on the listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.h.Serve(ln)
}

// ListenAndServe starts the server and begins accepting connections.
func (s *Server) ListenAndServe() error {
	if s.ln != nil {
		return fmt.Errorf("server already started")
	}
	ln, err := listen(s.network, s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) closeListener() {
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
}

// Close force close all listeners and connections.
func (s *Server) Close() error {
	defer func() { s.closeListener() }()
	return s.h.Close()
}

// Shutdown gracefully shuts down the server without interrupting active
// connections. It stops accepting new connections and waits for existing
// connections to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	defer func() { s.closeListener() }()
	return s.h.Shutdown(ctx)
}

func (s *Server) logDebug(r *http.Request, msg string, args ...any) {
	if s.logger != nil {
		s.logger.With(
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
			slog.String("remote_addr", r.RemoteAddr),
		).Debug(msg, args...)
	}
}

func (s *Server) logError(r *http.Request, msg string, args ...any) {
	if s.logger != nil {
		s.logger.With(
			slog.String("method", r.Method),
			slog.String("url", r.URL.String()),
			slog.String("remote_addr", r.RemoteAddr),
		).Error(msg, args...)
	}
}
