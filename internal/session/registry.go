package session

import (
	"context"
	"errors"
	"sync"

	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/pubsub"
)

// ErrNotConnected is returned when no session exists for a workspace.
var ErrNotConnected = errors.New("session: workspace not connected")

// Registry tracks at most one live session per workspace id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// connects serializes Connect per workspace id so two racing connects
	// cannot both spawn a process for the same workspace.
	connects map[string]*sync.Mutex

	events *pubsub.Broker[proto.AgentEvent]
	usage  UsageRecorder
}

// NewRegistry builds a registry publishing agent events to the given
// broker and token usage to the given recorder.
func NewRegistry(events *pubsub.Broker[proto.AgentEvent], usage UsageRecorder) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		connects: make(map[string]*sync.Mutex),
		events:   events,
		usage:    usage,
	}
}

// Connect starts a session for the workspace, tearing down any previous
// one first. Connecting an already connected workspace restarts its
// process rather than failing.
func (r *Registry) Connect(ctx context.Context, entry proto.WorkspaceEntry, settings proto.AppSettings) (*Session, error) {
	lock := r.connectLock(entry.ID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	prev := r.sessions[entry.ID]
	delete(r.sessions, entry.ID)
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	opts := SpawnOptions{
		Dir:      entry.Path,
		CodexBin: entry.CodexBin,
		Settings: settings,
	}
	sess, err := Start(ctx, entry, opts, r.events, r.usage)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[entry.ID] = sess
	r.mu.Unlock()

	// Drop the registry entry once the process dies so Get reports the
	// workspace as disconnected instead of handing out a dead session.
	go func() {
		<-sess.Done()
		r.mu.Lock()
		if r.sessions[entry.ID] == sess {
			delete(r.sessions, entry.ID)
		}
		r.mu.Unlock()
	}()

	return sess, nil
}

// connectLock returns the per-workspace connect mutex, creating it on
// first use. Locks persist for the registry's lifetime; the set is
// bounded by the number of workspaces ever connected.
func (r *Registry) connectLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.connects[id]
	if !ok {
		lock = &sync.Mutex{}
		r.connects[id] = lock
	}
	return lock
}

// Get returns the live session for a workspace.
func (r *Registry) Get(workspaceID string) (*Session, error) {
	r.mu.Lock()
	sess := r.sessions[workspaceID]
	r.mu.Unlock()
	if sess == nil {
		return nil, ErrNotConnected
	}
	return sess, nil
}

// Any returns an arbitrary live session, used when a caller needs a
// connection to the agent server but does not care which workspace.
func (r *Registry) Any() (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		return sess, true
	}
	return nil, false
}

// Connected reports whether a workspace currently has a live session.
func (r *Registry) Connected(workspaceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[workspaceID] != nil
}

// Disconnect closes the workspace's session if one exists.
func (r *Registry) Disconnect(workspaceID string) {
	r.mu.Lock()
	sess := r.sessions[workspaceID]
	delete(r.sessions, workspaceID)
	r.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// CloseAll tears down every session, used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}
