package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"

	"github.com/codexola/codexola/internal/app"
	"github.com/codexola/codexola/internal/config"
	"github.com/codexola/codexola/internal/fsearch"
	"github.com/codexola/codexola/internal/prompt"
	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/session"
	"github.com/codexola/codexola/internal/vcs"
	"github.com/codexola/codexola/internal/version"
	"github.com/codexola/codexola/internal/workspace"
)

type controllerV1 struct {
	*Server
}

func (c *controllerV1) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (c *controllerV1) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, proto.VersionInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	})
}

func (c *controllerV1) handlePostControl(w http.ResponseWriter, r *http.Request) {
	var req proto.ServerControl
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}

	switch req.Command {
	case "shutdown":
		go func() {
			slog.Info("shutting down server...")
			if err := c.Shutdown(context.Background()); err != nil {
				c.logError(r, "failed to shutdown server", "error", err)
			}
		}()
	default:
		c.logError(r, "unknown command", "command", req.Command)
		jsonError(w, http.StatusBadRequest, "unknown command")
		return
	}
}

func (c *controllerV1) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, c.app.Settings())
}

func (c *controllerV1) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	settings := c.app.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		c.logError(r, "failed to decode settings", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode settings")
		return
	}
	if err := c.app.UpdateSettings(settings); err != nil {
		c.logError(r, "failed to save settings", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	jsonEncode(w, settings)
}

func (c *controllerV1) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, c.app.UsageSnapshot())
}

func (c *controllerV1) handlePostUsageRefresh(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, c.app.RefreshUsage(r.Context()))
}

func (c *controllerV1) handleGetPrompts(w http.ResponseWriter, r *http.Request) {
	dir, ok := config.PromptsDir()
	if !ok {
		jsonEncode(w, []prompt.Prompt{})
		return
	}
	prompts, err := prompt.List(dir)
	if err != nil {
		c.logError(r, "failed to list prompts", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list prompts")
		return
	}
	if prompts == nil {
		prompts = []prompt.Prompt{}
	}
	jsonEncode(w, prompts)
}

func (c *controllerV1) handleGetBinaryInspect(w http.ResponseWriter, r *http.Request) {
	insp, err := c.app.InspectBinary(r.URL.Query().Get("workspace"))
	if err != nil {
		c.logError(r, "binary inspection failed", "error", err)
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}
	jsonEncode(w, insp)
}

func (c *controllerV1) handlePostBinaryValidate(w http.ResponseWriter, r *http.Request) {
	if err := c.app.ValidateBinary(r.URL.Query().Get("workspace")); err != nil {
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *controllerV1) handleGetWorkspaces(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, c.app.ListWorkspaces())
}

func (c *controllerV1) handlePostWorkspaces(w http.ResponseWriter, r *http.Request) {
	var args struct {
		Path     string `json:"path"`
		CodexBin string `json:"codex_bin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}
	if args.Path == "" {
		jsonError(w, http.StatusBadRequest, "path is required")
		return
	}
	entry, err := c.app.AddWorkspace(args.Path, args.CodexBin)
	if err != nil {
		c.logError(r, "failed to add workspace", "error", err)
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonEncode(w, entry)
}

func (c *controllerV1) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := c.app.RemoveWorkspace(r.PathValue("id")); err != nil {
		c.workspaceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *controllerV1) handlePostWorkspaceConnect(w http.ResponseWriter, r *http.Request) {
	info, err := c.app.ConnectWorkspace(r.Context(), r.PathValue("id"))
	if err != nil {
		c.logError(r, "failed to connect workspace", "error", err)
		c.workspaceError(w, r, err)
		return
	}
	jsonEncode(w, info)
}

func (c *controllerV1) handlePostWorkspaceDisconnect(w http.ResponseWriter, r *http.Request) {
	c.app.DisconnectWorkspace(r.PathValue("id"))
	w.WriteHeader(http.StatusOK)
}

func (c *controllerV1) handleGetWorkspaceGitStatus(w http.ResponseWriter, r *http.Request) {
	entry, err := c.app.Workspace(r.PathValue("id"))
	if err != nil {
		c.workspaceError(w, r, err)
		return
	}
	status, err := vcs.WorkspaceStatus(entry.Path)
	if err != nil {
		if errors.Is(err, vcs.ErrNotRepository) {
			jsonEncode(w, vcs.Status{Branch: "", Changes: []vcs.FileChange{}})
			return
		}
		c.logError(r, "failed to read git status", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to read git status")
		return
	}
	jsonEncode(w, status)
}

func (c *controllerV1) handleGetWorkspaceGitDiffs(w http.ResponseWriter, r *http.Request) {
	entry, err := c.app.Workspace(r.PathValue("id"))
	if err != nil {
		c.workspaceError(w, r, err)
		return
	}
	diffs, err := vcs.WorkspaceDiffs(entry.Path)
	if err != nil {
		if errors.Is(err, vcs.ErrNotRepository) {
			jsonEncode(w, []vcs.FileDiff{})
			return
		}
		c.logError(r, "failed to compute diffs", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to compute diffs")
		return
	}
	jsonEncode(w, diffs)
}

func (c *controllerV1) handleGetWorkspaceFiles(w http.ResponseWriter, r *http.Request) {
	entry, err := c.app.Workspace(r.PathValue("id"))
	if err != nil {
		c.workspaceError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	matches, err := fsearch.Search(entry.Path, r.URL.Query().Get("q"), limit)
	if err != nil {
		c.logError(r, "file search failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "file search failed")
		return
	}
	if matches == nil {
		matches = []string{}
	}
	jsonEncode(w, matches)
}

func (c *controllerV1) handleGetWorkspaceSessions(w http.ResponseWriter, r *http.Request) {
	entry, err := c.app.Workspace(r.PathValue("id"))
	if err != nil {
		c.workspaceError(w, r, err)
		return
	}
	jsonEncode(w, workspace.LoadSessionStore(entry.Path))
}

func (c *controllerV1) handlePutWorkspaceSession(w http.ResponseWriter, r *http.Request) {
	entry, err := c.app.Workspace(r.PathValue("id"))
	if err != nil {
		c.workspaceError(w, r, err)
		return
	}
	var meta proto.SessionMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}
	err = workspace.UpdateSessionMetadata(entry.Path, r.PathValue("tid"), func(m *proto.SessionMetadata) {
		*m = meta
	})
	if err != nil {
		c.logError(r, "failed to save session metadata", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save session metadata")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *controllerV1) handlePostWorkspaceAttachments(w http.ResponseWriter, r *http.Request) {
	entry, err := c.app.Workspace(r.PathValue("id"))
	if err != nil {
		c.workspaceError(w, r, err)
		return
	}
	var args struct {
		Name     string `json:"name"`
		MimeType string `json:"mimeType"`
		Data     []byte `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}
	path, err := workspace.SaveAttachment(entry.Path, args.Name, args.MimeType, args.Data)
	if err != nil {
		if errors.Is(err, workspace.ErrEmptyAttachment) {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.logError(r, "failed to save attachment", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save attachment")
		return
	}
	jsonEncode(w, map[string]string{"path": path})
}

func (c *controllerV1) handlePostThreadStart(w http.ResponseWriter, r *http.Request) {
	c.proxyResult(w, r)(c.app.StartThread(r.Context(), r.PathValue("id")))
}

func (c *controllerV1) handleGetThreads(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	c.proxyResult(w, r)(c.app.ListThreads(r.Context(), r.PathValue("id"), r.URL.Query().Get("cursor"), limit))
}

func (c *controllerV1) handlePostThreadResume(w http.ResponseWriter, r *http.Request) {
	c.proxyResult(w, r)(c.app.ResumeThread(r.Context(), r.PathValue("id"), r.PathValue("tid")))
}

func (c *controllerV1) handlePostThreadArchive(w http.ResponseWriter, r *http.Request) {
	if err := c.app.ArchiveThread(r.Context(), r.PathValue("id"), r.PathValue("tid")); err != nil {
		c.sessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *controllerV1) handlePostThreadMessage(w http.ResponseWriter, r *http.Request) {
	var args struct {
		Items []app.InputItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}
	result, err := c.app.SendUserMessage(r.Context(), r.PathValue("id"), r.PathValue("tid"), args.Items)
	if err != nil {
		if errors.Is(err, app.ErrEmptyInput) {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.sessionError(w, r, err)
		return
	}
	jsonEncode(w, json.RawMessage(result))
}

func (c *controllerV1) handlePostThreadInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := c.app.InterruptTurn(r.Context(), r.PathValue("id"), r.PathValue("tid")); err != nil {
		c.sessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *controllerV1) handlePostThreadReview(w http.ResponseWriter, r *http.Request) {
	var args struct {
		Prompt string `json:"prompt"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&args)
	}
	c.proxyResult(w, r)(c.app.StartReview(r.Context(), r.PathValue("id"), r.PathValue("tid"), args.Prompt))
}

func (c *controllerV1) handleGetModels(w http.ResponseWriter, r *http.Request) {
	c.proxyResult(w, r)(c.app.ListModels(r.Context(), r.PathValue("id")))
}

func (c *controllerV1) handleGetSkills(w http.ResponseWriter, r *http.Request) {
	c.proxyResult(w, r)(c.app.ListSkills(r.Context(), r.PathValue("id")))
}

func (c *controllerV1) handlePostRespond(w http.ResponseWriter, r *http.Request) {
	var args struct {
		ID     uint64          `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}
	if err := c.app.RespondToServerCall(r.PathValue("id"), args.ID, args.Result); err != nil {
		c.sessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleGetEvents streams every broker over one SSE connection: agent
// events, usage snapshots, settings changes, and workspace changes.
func (c *controllerV1) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	flusher := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	agent := c.app.AgentEvents.Subscribe(r.Context())
	usageEvents := c.app.UsageEvents.Subscribe(r.Context())
	settings := c.app.SettingsEvents.Subscribe(r.Context())
	workspaces := c.app.WorkspaceEvents.Subscribe(r.Context())

	// Flush the headers right away so clients see the stream as open
	// before the first event arrives.
	_ = flusher.Flush()

	send := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			c.logError(r, "failed to marshal event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		_ = flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			c.logDebug(r, "stopping event stream")
			return
		case ev, ok := <-agent:
			if !ok {
				return
			}
			send(ev)
		case ev, ok := <-usageEvents:
			if !ok {
				return
			}
			send(ev)
		case ev, ok := <-settings:
			if !ok {
				return
			}
			send(ev)
		case ev, ok := <-workspaces:
			if !ok {
				return
			}
			send(ev)
		}
	}
}

// proxyResult writes a raw agent-server result, mapping session errors to
// status codes.
func (c *controllerV1) proxyResult(w http.ResponseWriter, r *http.Request) func(json.RawMessage, error) {
	return func(result json.RawMessage, err error) {
		if err != nil {
			c.sessionError(w, r, err)
			return
		}
		if result == nil {
			result = json.RawMessage(`{}`)
		}
		jsonEncode(w, result)
	}
}

func (c *controllerV1) workspaceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, app.ErrWorkspaceNotFound) {
		jsonError(w, http.StatusNotFound, "workspace not found")
		return
	}
	c.logError(r, "workspace operation failed", "error", err)
	jsonError(w, http.StatusInternalServerError, err.Error())
}

func (c *controllerV1) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrWorkspaceNotFound), errors.Is(err, session.ErrNotConnected):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrRequestCanceled):
		jsonError(w, http.StatusBadGateway, err.Error())
	default:
		var reqErr *session.RequestError
		if errors.As(err, &reqErr) {
			jsonError(w, http.StatusBadGateway, reqErr.Message)
			return
		}
		c.logError(r, "agent request failed", "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
	}
}

func jsonEncode(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(proto.Error{Message: message})
}
