package proto

// SessionStoreVersion is the current schema version of the per-workspace
// session metadata document.
const SessionStoreVersion = 1

// SessionNameSource records whether a session name is the server default or
// a user rename.
type SessionNameSource string

const (
	NameSourceDefault SessionNameSource = "default"
	NameSourceCustom  SessionNameSource = "custom"
)

// SessionMetadata is the user-facing metadata for one thread.
type SessionMetadata struct {
	Name       string            `json:"name"`
	Archived   bool              `json:"archived"`
	NameSource SessionNameSource `json:"nameSource"`
}

// WorkspaceSessionStore is the versioned per-workspace metadata document,
// keyed by thread id.
type WorkspaceSessionStore struct {
	Version  int                        `json:"version"`
	Sessions map[string]SessionMetadata `json:"sessions"`
}

// Normalize fills defaults on a freshly decoded store: a zero version
// becomes the current version, a nil map becomes empty, and a missing name
// source means default.
func (s *WorkspaceSessionStore) Normalize() {
	if s.Version == 0 {
		s.Version = SessionStoreVersion
	}
	if s.Sessions == nil {
		s.Sessions = make(map[string]SessionMetadata)
	}
	for id, meta := range s.Sessions {
		if meta.NameSource == "" {
			meta.NameSource = NameSourceDefault
			s.Sessions[id] = meta
		}
	}
}
