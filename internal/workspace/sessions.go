// Package workspace handles per-workspace files kept inside the project
// directory itself: thread metadata and message attachments.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codexola/codexola/internal/proto"
)

const metadataDirName = ".codexmonitor"

// SessionStorePath returns the path of the thread metadata document inside
// a workspace.
func SessionStorePath(workspacePath string) string {
	return filepath.Join(workspacePath, metadataDirName, "sessions.json")
}

// LoadSessionStore reads a workspace's thread metadata, returning an empty
// normalized store when the file does not exist or cannot be parsed. The
// document is advisory; a corrupt file must never block the workspace.
func LoadSessionStore(workspacePath string) proto.WorkspaceSessionStore {
	var store proto.WorkspaceSessionStore
	data, err := os.ReadFile(SessionStorePath(workspacePath))
	if err == nil {
		_ = json.Unmarshal(data, &store)
	}
	store.Normalize()
	return store
}

// SaveSessionStore writes a workspace's thread metadata, creating the
// metadata directory as needed.
func SaveSessionStore(workspacePath string, store proto.WorkspaceSessionStore) error {
	store.Normalize()
	path := SessionStorePath(workspacePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workspace: create metadata dir: %w", err)
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: marshal session store: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("workspace: write session store: %w", err)
	}
	return nil
}

// UpdateSessionMetadata applies a mutation to one thread's metadata and
// persists the store.
func UpdateSessionMetadata(workspacePath, threadID string, mutate func(*proto.SessionMetadata)) error {
	store := LoadSessionStore(workspacePath)
	meta := store.Sessions[threadID]
	if meta.NameSource == "" {
		meta.NameSource = proto.NameSourceDefault
	}
	mutate(&meta)
	store.Sessions[threadID] = meta
	return SaveSessionStore(workspacePath, store)
}
