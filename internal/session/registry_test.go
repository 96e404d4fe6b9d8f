package session

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codexola/codexola/internal/proto"
)

func insertSession(t *testing.T, r *Registry, id string) *Session {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	t.Cleanup(func() {
		stdinR.Close()
		stdoutW.Close()
	})
	sess := newSession(proto.WorkspaceEntry{ID: id}, stdinW, stdoutR, nil, nil)
	t.Cleanup(sess.Close)
	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()
	return sess
}

func TestRegistryGetAndDisconnect(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	_, err := r.Get("ws-1")
	require.ErrorIs(t, err, ErrNotConnected)

	sess := insertSession(t, r, "ws-1")
	got, err := r.Get("ws-1")
	require.NoError(t, err)
	require.Same(t, sess, got)
	require.True(t, r.Connected("ws-1"))

	r.Disconnect("ws-1")
	require.False(t, r.Connected("ws-1"))
	select {
	case <-sess.Done():
	default:
		t.Fatal("disconnect should close the session")
	}
}

func TestRegistryCloseAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	a := insertSession(t, r, "ws-a")
	b := insertSession(t, r, "ws-b")

	r.CloseAll()
	require.False(t, r.Connected("ws-a"))
	require.False(t, r.Connected("ws-b"))
	for _, sess := range []*Session{a, b} {
		select {
		case <-sess.Done():
		default:
			t.Fatal("close all should close every session")
		}
	}
}

func TestRegistryConnectSerializesPerWorkspace(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}

	// A minimal agent server: answer the initialize request, then swallow
	// everything until killed.
	script := filepath.Join(t.TempDir(), "codex")
	// 3>&1 keeps a copy of the stdout pipe open so the session does not
	// see EOF and tear itself down while the test is still looking.
	fixture := "#!/bin/sh\nread line\nprintf '{\"id\":1,\"result\":{}}\\n'\nexec cat 3>&1 >/dev/null\n"
	require.NoError(t, os.WriteFile(script, []byte(fixture), 0o755))

	r := NewRegistry(nil, nil)
	entry := proto.WorkspaceEntry{ID: "ws-race", Path: t.TempDir(), CodexBin: script}

	const attempts = 4
	sessions := make(chan *Session, attempts)
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := r.Connect(context.Background(), entry, proto.AppSettings{})
			if err != nil {
				errs <- err
				return
			}
			sessions <- sess
		}()
	}
	wg.Wait()
	close(sessions)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Racing connects must not leak a process: every session except the
	// registry's current one has to be torn down.
	current, err := r.Get("ws-race")
	require.NoError(t, err)
	open := 0
	for sess := range sessions {
		select {
		case <-sess.Done():
		default:
			open++
			require.Same(t, current, sess)
		}
	}
	require.Equal(t, 1, open)
	r.CloseAll()
}

func TestRegistryAny(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	_, ok := r.Any()
	require.False(t, ok)

	insertSession(t, r, "ws-1")
	sess, ok := r.Any()
	require.True(t, ok)
	require.Equal(t, "ws-1", sess.Entry().ID)
}
