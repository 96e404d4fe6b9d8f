// Package session manages one agent server child process per workspace:
// spawning, the newline-delimited JSON conversation over its pipes, and
// correlation of request ids with responses.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/codexola/codexola/internal/log"
	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/pubsub"
	"github.com/codexola/codexola/internal/version"
	"github.com/codexola/codexola/internal/wire"
)

// UsageRecorder receives token usage observed on the wire. The ledger
// implements it; sessions stay unaware of how samples are aggregated.
type UsageRecorder interface {
	RecordSample(tokens int64)
	RecordRateLimits(limits proto.RateLimitSnapshot)
}

// ErrRequestCanceled is returned by SendRequest when the session shuts
// down while the request is outstanding.
var ErrRequestCanceled = errors.New("session: request canceled")

// RequestError is a failure response from the agent server.
type RequestError struct {
	Method  string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("session: %s failed: %s", e.Method, e.Message)
}

// Session is a live conversation with one agent server process.
type Session struct {
	entry proto.WorkspaceEntry

	enc     *wire.Encoder
	pending *pendingTable
	nextID  atomic.Uint64

	events *pubsub.Broker[proto.AgentEvent]
	usage  UsageRecorder

	cmd       *exec.Cmd
	done      chan struct{}
	closeOnce sync.Once
}

// Start spawns the agent server for a workspace, wires up its pipes, and
// performs the initialize handshake. The returned session is ready for
// requests; its read loops run until the process exits or Close is called.
func Start(ctx context.Context, entry proto.WorkspaceEntry, opts SpawnOptions, events *pubsub.Broker[proto.AgentEvent], usage UsageRecorder) (*Session, error) {
	cmd, err := BuildCommand(opts)
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("session: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("session: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("session: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("session: start %s: %w", cmd.Path, err)
	}

	s := newSession(entry, stdin, stdout, events, usage)
	s.cmd = cmd
	go s.stderrLoop(stderr)
	go func() {
		// Reap the child so it never lingers as a zombie.
		_ = cmd.Wait()
		s.Close()
	}()

	if err := s.initialize(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// newSession builds a session over arbitrary pipes and starts its read
// loop. Process management stays with the caller.
func newSession(entry proto.WorkspaceEntry, stdin io.Writer, stdout io.Reader, events *pubsub.Broker[proto.AgentEvent], usage UsageRecorder) *Session {
	s := &Session{
		entry:   entry,
		enc:     wire.NewEncoder(stdin),
		pending: newPendingTable(),
		events:  events,
		usage:   usage,
		done:    make(chan struct{}),
	}
	go s.readLoop(wire.NewDecoder(stdout))
	return s
}

// Entry returns the workspace this session belongs to.
func (s *Session) Entry() proto.WorkspaceEntry { return s.entry }

// Done is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// initialize performs the startup handshake: an initialize request carrying
// the client identity, then the initialized notification once the server
// answers. A synthetic connected event tells subscribers the workspace is
// live.
func (s *Session) initialize(ctx context.Context) error {
	params := map[string]any{
		"clientInfo": map[string]any{
			"name":    "codexola",
			"title":   "Codexola",
			"version": version.Version,
		},
	}
	if _, err := s.SendRequest(ctx, proto.MethodInitialize, params); err != nil {
		return fmt.Errorf("session: initialize: %w", err)
	}
	if err := s.SendNotification(proto.MethodInitialized, nil); err != nil {
		return err
	}
	s.publish(proto.ConnectedMessage(s.entry.ID))
	return nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("session: marshal params: %w", err)
	}
	return data, nil
}

// SendRequest sends a request and blocks until its response, the context,
// or session teardown. The waiter is removed from the correlation table on
// early exit so a late response cannot leak a slot.
func (s *Session) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id := s.nextID.Add(1)
	msg := proto.NewRequest(id, method, raw)

	ch := s.pending.add(id)
	if err := s.enc.Encode(msg); err != nil {
		s.pending.remove(id)
		return nil, fmt.Errorf("session: write %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrRequestCanceled
		}
		if resp.Error != nil {
			var perr proto.Error
			if err := json.Unmarshal(resp.Error, &perr); err != nil || perr.Message == "" {
				perr.Message = string(resp.Error)
			}
			return nil, &RequestError{Method: method, Message: perr.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		s.pending.remove(id)
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrRequestCanceled
	}
}

// SendNotification sends a fire-and-forget message.
func (s *Session) SendNotification(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	if err := s.enc.Encode(proto.NewNotification(method, raw)); err != nil {
		return fmt.Errorf("session: write %s: %w", method, err)
	}
	return nil
}

// SendResponse answers a server-initiated call, such as an approval
// request surfaced to the user.
func (s *Session) SendResponse(id uint64, result any) error {
	raw, err := marshalParams(result)
	if err != nil {
		return err
	}
	if raw == nil {
		raw = json.RawMessage(`{}`)
	}
	if err := s.enc.Encode(proto.NewResponse(id, raw)); err != nil {
		return fmt.Errorf("session: write response %d: %w", id, err)
	}
	return nil
}

// Close tears the session down: the child process is killed, all pending
// requests are failed, and Done is closed. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.pending.drain()
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	})
}

// readLoop consumes the child's stdout until EOF, routing each message by
// shape. Responses settle pending requests; everything else flows to event
// subscribers, with token usage peeled off along the way.
func (s *Session) readLoop(dec *wire.Decoder) {
	defer log.RecoverPanic("session-read", func() { s.Close() })
	defer s.Close()
	for {
		msg, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("session read failed", "workspace", s.entry.ID, "error", err)
			}
			return
		}
		s.route(msg)
	}
}

func (s *Session) route(msg proto.Message) {
	switch msg.Kind() {
	case proto.KindResponse, proto.KindBareResponse:
		if !s.pending.fulfill(msg) {
			slog.Debug("dropping response with no pending request", "workspace", s.entry.ID, "id", *msg.ID)
		}
	case proto.KindServerCall:
		s.publish(msg)
	case proto.KindNotification:
		s.observeUsage(msg)
		s.publish(msg)
	default:
		slog.Debug("dropping unroutable message", "workspace", s.entry.ID)
	}
}

// observeUsage feeds the usage ledger from notifications before they are
// forwarded. Turn completion events carry cumulative token totals and may
// embed rate limits; dedicated rate limit updates replace the snapshot.
func (s *Session) observeUsage(msg proto.Message) {
	if s.usage == nil {
		return
	}
	switch msg.Method {
	case proto.MethodTokenUsageUpdated:
		if tokens, ok := proto.TokenDeltaFromParams(msg.Params); ok {
			s.usage.RecordSample(tokens)
		}
		if limits := proto.RateLimitsFromJSON(msg.Params); limits != nil {
			s.usage.RecordRateLimits(*limits)
		}
	case proto.MethodRateLimitsUpdated:
		if limits := proto.RateLimitsFromJSON(msg.Params); limits != nil {
			s.usage.RecordRateLimits(*limits)
		}
	}
}

func (s *Session) publish(msg proto.Message) {
	if s.events == nil {
		return
	}
	s.events.Publish(pubsub.CreatedEvent, proto.AgentEvent{
		WorkspaceID: s.entry.ID,
		Message:     msg,
	})
}

// stderrLoop surfaces the child's stderr to subscribers line by line, the
// only place the agent server reports launch failures.
func (s *Session) stderrLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		slog.Debug("agent stderr", "workspace", s.entry.ID, "line", line)
		s.publish(proto.StderrMessage(line))
	}
}
