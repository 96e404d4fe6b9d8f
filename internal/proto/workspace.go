package proto

// WorkspaceEntry is one persisted workspace: a directory managed by the
// orchestrator, optionally pinned to a specific codex binary.
type WorkspaceEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	CodexBin string `json:"codex_bin,omitempty"`
}

// WorkspaceInfo is a WorkspaceEntry plus its live connection state.
type WorkspaceInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Connected bool   `json:"connected"`
	CodexBin  string `json:"codex_bin,omitempty"`
}

// AgentEvent is a protocol message tagged with the workspace it came from,
// as forwarded to the frontend event stream.
type AgentEvent struct {
	WorkspaceID string  `json:"workspace_id"`
	Message     Message `json:"message"`
}

// BinaryInspection reports what spawning a given codex binary would entail.
type BinaryInspection struct {
	RequiresNode      bool   `json:"requiresNode"`
	SuggestedNodePath string `json:"suggestedNodePath,omitempty"`
	ResolvedPath      string `json:"resolvedPath"`
}
