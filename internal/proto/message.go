package proto

import "encoding/json"

// Protocol methods the orchestrator itself interprets. Everything else is
// passed through opaquely.
const (
	MethodInitialize        = "initialize"
	MethodInitialized       = "initialized"
	MethodTokenUsageUpdated = "thread/tokenUsage/updated"
	MethodRateLimitsUpdated = "account/rateLimits/updated"
	MethodRateLimitsRead    = "account/rateLimits/read"
)

// Synthetic methods injected by this side of the connection. They never
// travel to the child process; they only tag diagnostic events forwarded to
// the frontend.
const (
	MethodParseError = "codex/parseError"
	MethodStderr     = "codex/stderr"
	MethodConnected  = "codex/connected"
)

// Message is one newline-delimited JSON frame exchanged with an app-server
// process. The same shape covers requests, notifications, responses, and
// server-initiated calls; MessageKind tells them apart by field presence.
type Message struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// MessageKind classifies an inbound message.
type MessageKind int

const (
	// KindInvalid is a message with neither an id nor a method.
	KindInvalid MessageKind = iota
	// KindResponse carries an id and a result or error body.
	KindResponse
	// KindServerCall carries an id and a method: the server expects a
	// response from us.
	KindServerCall
	// KindBareResponse carries an id but neither method nor result/error.
	// It is matched against pending requests like a response.
	KindBareResponse
	// KindNotification carries a method but no id.
	KindNotification
)

// Kind classifies m by field presence. The order of the checks matters:
// an id with a result or error body is always a response, even if a method
// field is also present.
func (m Message) Kind() MessageKind {
	hasBody := len(m.Result) > 0 || len(m.Error) > 0
	switch {
	case m.ID != nil && hasBody:
		return KindResponse
	case m.ID != nil && m.Method != "":
		return KindServerCall
	case m.ID != nil:
		return KindBareResponse
	case m.Method != "":
		return KindNotification
	default:
		return KindInvalid
	}
}

// NewRequest builds an outbound request frame.
func NewRequest(id uint64, method string, params json.RawMessage) Message {
	return Message{ID: &id, Method: method, Params: params}
}

// NewNotification builds an outbound notification frame. A nil params is
// omitted entirely, matching the app-server's expectations.
func NewNotification(method string, params json.RawMessage) Message {
	return Message{Method: method, Params: params}
}

// NewResponse builds an outbound response to a server-initiated call.
func NewResponse(id uint64, result json.RawMessage) Message {
	return Message{ID: &id, Result: result}
}

// ParseErrorMessage wraps a line that failed to decode as a synthetic
// diagnostic notification so the stream survives malformed output.
func ParseErrorMessage(raw string, err error) Message {
	params, _ := json.Marshal(map[string]string{
		"error": err.Error(),
		"raw":   raw,
	})
	return Message{Method: MethodParseError, Params: params}
}

// StderrMessage wraps one line of the child's standard error as a
// diagnostic notification.
func StderrMessage(line string) Message {
	params, _ := json.Marshal(map[string]string{"message": line})
	return Message{Method: MethodStderr, Params: params}
}

// ConnectedMessage announces a freshly bootstrapped session.
func ConnectedMessage(workspaceID string) Message {
	params, _ := json.Marshal(map[string]string{"workspaceId": workspaceID})
	return Message{Method: MethodConnected, Params: params}
}

// Error represents an error response from the HTTP API.
type Error struct {
	Message string `json:"message"`
}

// VersionInfo represents the orchestrator's version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// ServerControl is a control command for the running server.
type ServerControl struct {
	Command string `json:"command"`
}
