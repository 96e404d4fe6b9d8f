package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/pubsub"
)

// fakeServer drives the far side of a session's pipes in tests.
type fakeServer struct {
	t      *testing.T
	in     *bufio.Scanner // what the session wrote
	out    io.Writer      // what the session will read
	closer func()
}

func newTestSession(t *testing.T, events *pubsub.Broker[proto.AgentEvent], usage UsageRecorder) (*Session, *fakeServer) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	sess := newSession(proto.WorkspaceEntry{ID: "ws-1", Path: t.TempDir()}, stdinW, stdoutR, events, usage)
	srv := &fakeServer{
		t:   t,
		in:  bufio.NewScanner(stdinR),
		out: stdoutW,
		closer: func() {
			stdoutW.Close()
			stdinR.Close()
		},
	}
	t.Cleanup(func() {
		sess.Close()
		srv.closer()
	})
	return sess, srv
}

func (f *fakeServer) readMessage() proto.Message {
	f.t.Helper()
	require.True(f.t, f.in.Scan(), "expected a frame from the session")
	var msg proto.Message
	require.NoError(f.t, json.Unmarshal(f.in.Bytes(), &msg))
	return msg
}

func (f *fakeServer) writeLine(line string) {
	f.t.Helper()
	_, err := io.WriteString(f.out, line+"\n")
	require.NoError(f.t, err)
}

type recordedUsage struct {
	mu      sync.Mutex
	samples []int64
	limits  []proto.RateLimitSnapshot
}

func (r *recordedUsage) RecordSample(tokens int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, tokens)
}

func (r *recordedUsage) RecordRateLimits(limits proto.RateLimitSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits = append(r.limits, limits)
}

func (r *recordedUsage) snapshot() ([]int64, []proto.RateLimitSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.samples...), append([]proto.RateLimitSnapshot(nil), r.limits...)
}

func TestSendRequestAssignsIncreasingIDs(t *testing.T) {
	t.Parallel()

	sess, srv := newTestSession(t, nil, nil)

	go func() {
		for i := 0; i < 3; i++ {
			msg := srv.readMessage()
			srv.writeLine(fmt.Sprintf(`{"id":%d,"result":{}}`, *msg.ID))
		}
	}()

	ctx := context.Background()
	for want := uint64(1); want <= 3; want++ {
		_, err := sess.SendRequest(ctx, "thread/list", nil)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(3), sess.nextID.Load())
}

func TestResponsesMatchOutOfOrder(t *testing.T) {
	t.Parallel()

	sess, srv := newTestSession(t, nil, nil)

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := sess.SendRequest(context.Background(), "thread/start", nil)
			require.NoError(t, err)
			results[i] = string(res)
		}(i)
	}

	first := srv.readMessage()
	second := srv.readMessage()
	// Answer in reverse arrival order.
	srv.writeLine(fmt.Sprintf(`{"id":%d,"result":{"order":"second"}}`, *second.ID))
	srv.writeLine(fmt.Sprintf(`{"id":%d,"result":{"order":"first"}}`, *first.ID))
	wg.Wait()

	require.ElementsMatch(t,
		[]string{`{"order":"second"}`, `{"order":"first"}`},
		results)
}

func TestErrorResponseSurfacesMessage(t *testing.T) {
	t.Parallel()

	sess, srv := newTestSession(t, nil, nil)

	go func() {
		msg := srv.readMessage()
		srv.writeLine(fmt.Sprintf(`{"id":%d,"error":{"message":"thread not found"}}`, *msg.ID))
	}()

	_, err := sess.SendRequest(context.Background(), "thread/resume", nil)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "thread not found", reqErr.Message)
}

func TestCloseCancelsAllPendingRequests(t *testing.T) {
	t.Parallel()

	sess, srv := newTestSession(t, nil, nil)

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := sess.SendRequest(context.Background(), "turn/start", nil)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		srv.readMessage()
	}

	sess.Close()
	for i := 0; i < n; i++ {
		require.ErrorIs(t, <-errs, ErrRequestCanceled)
	}
}

func TestContextCancelRemovesWaiter(t *testing.T) {
	t.Parallel()

	sess, srv := newTestSession(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sess.SendRequest(ctx, "turn/start", nil)
		done <- err
	}()
	srv.readMessage()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// A late response for the abandoned id must be dropped silently and the
	// session must keep working.
	srv.writeLine(`{"id":1,"result":{}}`)
	go func() {
		msg := srv.readMessage()
		srv.writeLine(fmt.Sprintf(`{"id":%d,"result":{}}`, *msg.ID))
	}()
	_, err := sess.SendRequest(context.Background(), "thread/list", nil)
	require.NoError(t, err)
}

func TestNotificationsReachSubscribers(t *testing.T) {
	t.Parallel()

	events := pubsub.NewBroker[proto.AgentEvent]()
	t.Cleanup(events.Shutdown)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sub := events.Subscribe(ctx)

	_, srv := newTestSession(t, events, nil)
	srv.writeLine(`{"method":"thread/started","params":{"threadId":"t1"}}`)

	select {
	case ev := <-sub:
		require.Equal(t, "ws-1", ev.Payload.WorkspaceID)
		require.Equal(t, "thread/started", ev.Payload.Message.Method)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestServerCallForwardedWithID(t *testing.T) {
	t.Parallel()

	events := pubsub.NewBroker[proto.AgentEvent]()
	t.Cleanup(events.Shutdown)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sub := events.Subscribe(ctx)

	sess, srv := newTestSession(t, events, nil)
	srv.writeLine(`{"id":42,"method":"execCommandApproval","params":{"command":"ls"}}`)

	select {
	case ev := <-sub:
		require.NotNil(t, ev.Payload.Message.ID)
		require.Equal(t, uint64(42), *ev.Payload.Message.ID)
		require.Equal(t, proto.KindServerCall, ev.Payload.Message.Kind())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server call")
	}

	// The test pipes are synchronous, so the response must be read
	// concurrently with the write.
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sess.SendResponse(42, map[string]string{"decision": "approved"})
	}()
	reply := srv.readMessage()
	require.NoError(t, <-sendErr)
	require.Equal(t, uint64(42), *reply.ID)
	require.JSONEq(t, `{"decision":"approved"}`, string(reply.Result))
}

func TestMalformedLineBecomesDiagnosticAndStreamSurvives(t *testing.T) {
	t.Parallel()

	events := pubsub.NewBroker[proto.AgentEvent]()
	t.Cleanup(events.Shutdown)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sub := events.Subscribe(ctx)

	_, srv := newTestSession(t, events, nil)
	srv.writeLine(`this is not json`)
	srv.writeLine(`{"method":"thread/started"}`)

	methods := make([]string, 0, 2)
	for len(methods) < 2 {
		select {
		case ev := <-sub:
			methods = append(methods, ev.Payload.Message.Method)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	require.Equal(t, []string{proto.MethodParseError, "thread/started"}, methods)
}

func TestTokenUsageNotificationFeedsLedger(t *testing.T) {
	t.Parallel()

	usage := &recordedUsage{}
	_, srv := newTestSession(t, nil, usage)

	srv.writeLine(`{"method":"thread/tokenUsage/updated","params":{"tokenUsage":{"last":{"totalTokens":120}}}}`)
	srv.writeLine(`{"method":"account/rateLimits/updated","params":{"rateLimits":{"primary":{"usedPercent":40}}}}`)

	require.Eventually(t, func() bool {
		samples, limits := usage.snapshot()
		return len(samples) == 1 && len(limits) == 1
	}, time.Second, 5*time.Millisecond)

	samples, limits := usage.snapshot()
	require.Equal(t, []int64{120}, samples)
	require.NotNil(t, limits[0].Primary)
	require.Equal(t, int64(40), limits[0].Primary.UsedPercent)
}

func TestZeroDeltaIgnored(t *testing.T) {
	t.Parallel()

	usage := &recordedUsage{}
	_, srv := newTestSession(t, nil, usage)

	srv.writeLine(`{"method":"thread/tokenUsage/updated","params":{"tokenUsage":{"last":{"totalTokens":0}}}}`)
	srv.writeLine(`{"method":"thread/tokenUsage/updated","params":{"tokenUsage":{"last":{"totalTokens":60}}}}`)

	require.Eventually(t, func() bool {
		samples, _ := usage.snapshot()
		return len(samples) == 1
	}, time.Second, 5*time.Millisecond)

	samples, _ := usage.snapshot()
	require.Equal(t, []int64{60}, samples)
}
