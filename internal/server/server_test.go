package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codexola/codexola/internal/app"
	"github.com/codexola/codexola/internal/config"
	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/pubsub"
	"github.com/codexola/codexola/internal/vcs"
)

func newTestServer(t *testing.T) *httptest.Server {
	ts, _ := newTestServerWithApp(t)
	return ts
}

func newTestServerWithApp(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	dir := t.TempDir()
	settings := proto.DefaultSettings()
	settings.UsagePollingEnabled = false
	require.NoError(t, config.SaveSettings(config.SettingsPath(dir), settings))

	a, err := app.New(dir)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)

	s := NewServer(a, "tcp", "127.0.0.1:0")
	ts := httptest.NewServer(s.h.Handler)
	t.Cleanup(ts.Close)
	return ts, a
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthAndVersion(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp := getJSON(t, ts, "/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info proto.VersionInfo
	getJSON(t, ts, "/v1/version", &info)
	require.NotEmpty(t, info.Version)
	require.NotEmpty(t, info.GoVersion)
}

func TestWorkspaceEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	var list []proto.WorkspaceInfo
	getJSON(t, ts, "/v1/workspaces", &list)
	require.Empty(t, list)

	var entry proto.WorkspaceEntry
	resp := postJSON(t, ts, "/v1/workspaces", map[string]string{"path": t.TempDir()}, &entry)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, entry.ID)

	getJSON(t, ts, "/v1/workspaces", &list)
	require.Len(t, list, 1)
	require.False(t, list[0].Connected)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/workspaces/"+entry.ID, nil)
	require.NoError(t, err)
	delResp, err := ts.Client().Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	getJSON(t, ts, "/v1/workspaces", &list)
	require.Empty(t, list)
}

func TestAddWorkspaceRequiresPath(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp := postJSON(t, ts, "/v1/workspaces", map[string]string{}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	var settings proto.AppSettings
	getJSON(t, ts, "/v1/settings", &settings)
	require.Equal(t, proto.AccessCurrent, settings.AccessMode)

	settings.AccessMode = proto.AccessReadOnly
	data, err := json.Marshal(settings)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/settings", bytes.NewReader(data))
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getJSON(t, ts, "/v1/settings", &settings)
	require.Equal(t, proto.AccessReadOnly, settings.AccessMode)
}

func TestUsageEndpointStartsEmpty(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var snap proto.UsageSnapshot
	getJSON(t, ts, "/v1/usage", &snap)
	require.Equal(t, proto.UsageSourceNone, snap.Source)
	require.Nil(t, snap.TotalTokens24h)
}

func TestGitStatusOutsideRepository(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var entry proto.WorkspaceEntry
	postJSON(t, ts, "/v1/workspaces", map[string]string{"path": t.TempDir()}, &entry)

	var status vcs.Status
	resp := getJSON(t, ts, "/v1/workspaces/"+entry.ID+"/git/status", &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, status.Changes)
}

func TestThreadOpsRequireConnection(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var entry proto.WorkspaceEntry
	postJSON(t, ts, "/v1/workspaces", map[string]string{"path": t.TempDir()}, &entry)

	resp := postJSON(t, ts, "/v1/workspaces/"+entry.ID+"/threads", map[string]any{}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSessionMetadataEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var entry proto.WorkspaceEntry
	postJSON(t, ts, "/v1/workspaces", map[string]string{"path": t.TempDir()}, &entry)

	meta := proto.SessionMetadata{Name: "spike", NameSource: proto.NameSourceCustom}
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/workspaces/"+entry.ID+"/sessions/t1", bytes.NewReader(data))
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var store proto.WorkspaceSessionStore
	getJSON(t, ts, "/v1/workspaces/"+entry.ID+"/sessions", &store)
	require.Equal(t, "spike", store.Sessions["t1"].Name)
}

func TestAttachmentEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var entry proto.WorkspaceEntry
	postJSON(t, ts, "/v1/workspaces", map[string]string{"path": t.TempDir()}, &entry)

	var result map[string]string
	resp := postJSON(t, ts, "/v1/workspaces/"+entry.ID+"/attachments", map[string]any{
		"name":     "shot.png",
		"mimeType": "image/png",
		"data":     []byte{1, 2, 3},
	}, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, result["path"], ".png")

	empty := postJSON(t, ts, "/v1/workspaces/"+entry.ID+"/attachments", map[string]any{
		"name": "empty.png",
	}, nil)
	require.Equal(t, http.StatusBadRequest, empty.StatusCode)
}

func TestFileSearchEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	dir := t.TempDir()
	var entry proto.WorkspaceEntry
	postJSON(t, ts, "/v1/workspaces", map[string]string{"path": dir}, &entry)

	var matches []string
	getJSON(t, ts, "/v1/workspaces/"+entry.ID+"/files?q=anything", &matches)
	require.Empty(t, matches)
}

func TestParseHostURL(t *testing.T) {
	t.Parallel()

	u, err := ParseHostURL("unix:///tmp/codexola.sock")
	require.NoError(t, err)
	require.Equal(t, "unix", u.Scheme)
	require.Equal(t, "/tmp/codexola.sock", u.Host)

	u, err = ParseHostURL("tcp://127.0.0.1:8080")
	require.NoError(t, err)
	require.Equal(t, "tcp", u.Scheme)
	require.Equal(t, "127.0.0.1:8080", u.Host)

	_, err = ParseHostURL("no-scheme")
	require.Error(t, err)
}

func TestEventStreamCarriesWorkspaceChanges(t *testing.T) {
	t.Parallel()

	ts, a := newTestServerWithApp(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Headers are flushed before the loop starts, so once Do returns the
	// stream's subscriptions are live and this publish cannot be missed.
	entry, err := a.AddWorkspace(t.TempDir(), "")
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		var ev struct {
			Type    pubsub.EventType `json:"type"`
			Payload pubsub.Payload   `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &ev))
		require.Equal(t, pubsub.CreatedEvent, ev.Type)
		require.Equal(t, pubsub.PayloadTypeWorkspace, ev.Payload.Type)

		var info proto.WorkspaceInfo
		require.NoError(t, json.Unmarshal(ev.Payload.Payload, &info))
		require.Equal(t, entry.ID, info.ID)
		require.False(t, info.Connected)
		return
	}
}
