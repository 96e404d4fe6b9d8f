package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/codexola/codexola/internal/proto"
	"github.com/codexola/codexola/internal/workspace"
)

// ErrEmptyInput rejects a turn with neither text nor attachments.
var ErrEmptyInput = errors.New("app: message has no content")

// InputItem is one element of a user turn: text, or a local image path
// produced by SaveAttachment.
type InputItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
}

// sandboxPolicy translates the configured access mode into the shape the
// agent server expects on turn/start.
func sandboxPolicy(settings proto.AppSettings) map[string]any {
	if settings.BypassApprovalsAndSandbox {
		return map[string]any{"mode": "dangerFullAccess"}
	}
	switch settings.AccessMode {
	case proto.AccessReadOnly:
		return map[string]any{"mode": "readOnly"}
	case proto.AccessFullAccess:
		return map[string]any{"mode": "dangerFullAccess"}
	default:
		return map[string]any{
			"mode":          "workspaceWrite",
			"networkAccess": true,
		}
	}
}

func approvalPolicy(settings proto.AppSettings) string {
	if settings.BypassApprovalsAndSandbox || settings.AccessMode == proto.AccessFullAccess {
		return "never"
	}
	return "on-request"
}

// StartThread creates a fresh thread in the workspace's session.
func (a *App) StartThread(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "thread/start", map[string]any{
		"cwd":            sess.Entry().Path,
		"approvalPolicy": approvalPolicy(a.Settings()),
	})
}

// ResumeThread reopens a historical thread.
func (a *App) ResumeThread(ctx context.Context, workspaceID, threadID string) (json.RawMessage, error) {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "thread/resume", map[string]any{
		"threadId": threadID,
		"cwd":      sess.Entry().Path,
	})
}

// ListThreads pages through the workspace's thread history.
func (a *App) ListThreads(ctx context.Context, workspaceID, cursor string, limit int) (json.RawMessage, error) {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	if cursor != "" {
		params["cursor"] = cursor
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return sess.SendRequest(ctx, "thread/list", params)
}

// ArchiveThread archives the thread server-side and mirrors the flag into
// the workspace's metadata store.
func (a *App) ArchiveThread(ctx context.Context, workspaceID, threadID string) error {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return err
	}
	if _, err := sess.SendRequest(ctx, "thread/archive", map[string]any{"threadId": threadID}); err != nil {
		return err
	}
	return workspace.UpdateSessionMetadata(sess.Entry().Path, threadID, func(m *proto.SessionMetadata) {
		m.Archived = true
	})
}

// SendUserMessage starts a turn on a thread with the given input items.
func (a *App) SendUserMessage(ctx context.Context, workspaceID, threadID string, items []InputItem) (json.RawMessage, error) {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return nil, err
	}

	input := make([]map[string]any, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case "text":
			if item.Text == "" {
				continue
			}
			input = append(input, map[string]any{"type": "text", "text": item.Text})
		case "localImage":
			if item.Path == "" {
				continue
			}
			input = append(input, map[string]any{"type": "localImage", "path": item.Path})
		}
	}
	if len(input) == 0 {
		return nil, ErrEmptyInput
	}

	settings := a.Settings()
	return sess.SendRequest(ctx, "turn/start", map[string]any{
		"threadId":       threadID,
		"input":          input,
		"cwd":            sess.Entry().Path,
		"approvalPolicy": approvalPolicy(settings),
		"sandboxPolicy":  sandboxPolicy(settings),
	})
}

// InterruptTurn aborts the active turn on a thread.
func (a *App) InterruptTurn(ctx context.Context, workspaceID, threadID string) error {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return err
	}
	_, err = sess.SendRequest(ctx, "turn/interrupt", map[string]any{"threadId": threadID})
	return err
}

// StartReview asks the agent to review the workspace's current changes.
func (a *App) StartReview(ctx context.Context, workspaceID, threadID, prompt string) (json.RawMessage, error) {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"threadId": threadID,
		"cwd":      sess.Entry().Path,
	}
	if prompt != "" {
		params["prompt"] = prompt
	}
	return sess.SendRequest(ctx, "review/start", params)
}

// ListModels returns the models the agent server offers.
func (a *App) ListModels(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "model/list", nil)
}

// ListSkills returns the skills available in the workspace.
func (a *App) ListSkills(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return nil, err
	}
	return sess.SendRequest(ctx, "skills/list", map[string]any{
		"cwd": sess.Entry().Path,
	})
}

// RespondToServerCall answers a server-initiated call, typically an
// approval decision relayed from the frontend.
func (a *App) RespondToServerCall(workspaceID string, id uint64, result json.RawMessage) error {
	sess, err := a.Session(workspaceID)
	if err != nil {
		return err
	}
	return sess.SendResponse(id, result)
}
