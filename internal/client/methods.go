package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/pubsub"
)

// ListWorkspaces retrieves every workspace with its connection state.
func (c *Client) ListWorkspaces(ctx context.Context) ([]proto.WorkspaceInfo, error) {
	var infos []proto.WorkspaceInfo
	if err := c.getJSON(ctx, "workspaces", nil, &infos); err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return infos, nil
}

// AddWorkspace registers a directory as a workspace.
func (c *Client) AddWorkspace(ctx context.Context, path, codexBin string) (*proto.WorkspaceEntry, error) {
	var entry proto.WorkspaceEntry
	err := c.postJSON(ctx, "workspaces", map[string]string{
		"path":      path,
		"codex_bin": codexBin,
	}, &entry)
	if err != nil {
		return nil, fmt.Errorf("failed to add workspace: %w", err)
	}
	return &entry, nil
}

// RemoveWorkspace forgets a workspace.
func (c *Client) RemoveWorkspace(ctx context.Context, id string) error {
	rsp, err := c.delete(ctx, "workspaces/"+id, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	defer rsp.Body.Close()
	return checkStatus(rsp)
}

// ConnectWorkspace spawns the workspace's agent server.
func (c *Client) ConnectWorkspace(ctx context.Context, id string) (*proto.WorkspaceInfo, error) {
	var info proto.WorkspaceInfo
	if err := c.postJSON(ctx, "workspaces/"+id+"/connect", nil, &info); err != nil {
		return nil, fmt.Errorf("failed to connect workspace: %w", err)
	}
	return &info, nil
}

// DisconnectWorkspace tears down the workspace's agent server.
func (c *Client) DisconnectWorkspace(ctx context.Context, id string) error {
	if err := c.postJSON(ctx, "workspaces/"+id+"/disconnect", nil, nil); err != nil {
		return fmt.Errorf("failed to disconnect workspace: %w", err)
	}
	return nil
}

// GetSettings retrieves the settings document.
func (c *Client) GetSettings(ctx context.Context) (*proto.AppSettings, error) {
	var settings proto.AppSettings
	if err := c.getJSON(ctx, "settings", nil, &settings); err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &settings, nil
}

// UpdateSettings replaces the settings document.
func (c *Client) UpdateSettings(ctx context.Context, settings proto.AppSettings) error {
	rsp, err := c.put(ctx, "settings", nil, jsonBody(settings),
		http.Header{"Content-Type": []string{"application/json"}})
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	defer rsp.Body.Close()
	return checkStatus(rsp)
}

// GetUsage retrieves the current usage snapshot.
func (c *Client) GetUsage(ctx context.Context) (*proto.UsageSnapshot, error) {
	var snap proto.UsageSnapshot
	if err := c.getJSON(ctx, "usage", nil, &snap); err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return &snap, nil
}

// RefreshUsage forces a usage refresh and returns the resulting snapshot.
func (c *Client) RefreshUsage(ctx context.Context) (*proto.UsageSnapshot, error) {
	var snap proto.UsageSnapshot
	if err := c.postJSON(ctx, "usage/refresh", nil, &snap); err != nil {
		return nil, fmt.Errorf("failed to refresh usage: %w", err)
	}
	return &snap, nil
}

// StartThread creates a fresh thread in a connected workspace.
func (c *Client) StartThread(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	var result json.RawMessage
	if err := c.postJSON(ctx, "workspaces/"+workspaceID+"/threads", struct{}{}, &result); err != nil {
		return nil, fmt.Errorf("failed to start thread: %w", err)
	}
	return result, nil
}

// ListThreads pages through a workspace's thread history.
func (c *Client) ListThreads(ctx context.Context, workspaceID, cursor string, limit int) (json.RawMessage, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var result json.RawMessage
	if err := c.getJSON(ctx, "workspaces/"+workspaceID+"/threads", query, &result); err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return result, nil
}

// SendUserMessage starts a turn on a thread.
func (c *Client) SendUserMessage(ctx context.Context, workspaceID, threadID, text string) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.postJSON(ctx, "workspaces/"+workspaceID+"/threads/"+threadID+"/messages", map[string]any{
		"items": []map[string]string{{"type": "text", "text": text}},
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return result, nil
}

// InterruptTurn aborts the active turn on a thread.
func (c *Client) InterruptTurn(ctx context.Context, workspaceID, threadID string) error {
	if err := c.postJSON(ctx, "workspaces/"+workspaceID+"/threads/"+threadID+"/interrupt", nil, nil); err != nil {
		return fmt.Errorf("failed to interrupt turn: %w", err)
	}
	return nil
}

// SubscribeEvents subscribes to the server's merged SSE event stream and
// demultiplexes each frame back into its typed payload.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan any, error) {
	events := make(chan any, 100)
	rsp, err := c.get(ctx, "/events", nil, http.Header{
		"Accept":        []string{"text/event-stream"},
		"Cache-Control": []string{"no-cache"},
		"Connection":    []string{"keep-alive"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to subscribe to events: status code %d", rsp.StatusCode)
	}

	go func() {
		defer rsp.Body.Close()

		scr := bufio.NewReader(rsp.Body)
		for {
			line, err := scr.ReadBytes('\n')
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				slog.Error("reading from events stream", "error", err)
				time.Sleep(time.Second * 2)
				continue
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				// End of an event
				continue
			}

			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				slog.Warn("invalid event format", "line", string(line))
				continue
			}

			data = bytes.TrimSpace(data)

			aux := struct {
				Payload json.RawMessage `json:"payload"`
			}{}
			if err := json.Unmarshal(data, &aux); err != nil {
				slog.Error("unmarshaling event", "error", err)
				continue
			}

			var p pubsub.Payload
			if err := json.Unmarshal(aux.Payload, &p); err != nil {
				slog.Error("unmarshaling event payload", "error", err)
				continue
			}

			switch p.Type {
			case pubsub.PayloadTypeAgentEvent:
				var e proto.AgentEvent
				_ = json.Unmarshal(p.Payload, &e)
				sendEvent(ctx, events, e)
			case pubsub.PayloadTypeUsageSnapshot:
				var e proto.UsageSnapshot
				_ = json.Unmarshal(p.Payload, &e)
				sendEvent(ctx, events, e)
			case pubsub.PayloadTypeSettings:
				var e proto.AppSettings
				_ = json.Unmarshal(p.Payload, &e)
				sendEvent(ctx, events, e)
			case pubsub.PayloadTypeWorkspace:
				var e proto.WorkspaceInfo
				_ = json.Unmarshal(p.Payload, &e)
				sendEvent(ctx, events, e)
			default:
				slog.Warn("unknown event type", "type", p.Type)
				continue
			}
		}
	}()

	return events, nil
}

func sendEvent(ctx context.Context, evc chan any, ev any) {
	select {
	case evc <- ev:
	case <-ctx.Done():
		close(evc)
		return
	}
}
