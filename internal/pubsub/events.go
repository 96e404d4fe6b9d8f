package pubsub

import (
	"encoding/json"
	"fmt"

	"github.com/codexola/codexola/internal/proto"
)

const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
	DeletedEvent EventType = "deleted"
)

type (
	PayloadType = string

	Payload struct {
		Type    PayloadType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	// EventType identifies the type of event
	EventType string

	// Event represents an event in the lifecycle of a resource
	Event[T any] struct {
		Type    EventType `json:"type"`
		Payload T         `json:"payload"`
	}
)

const (
	PayloadTypeAgentEvent    PayloadType = "agent_event"
	PayloadTypeUsageSnapshot PayloadType = "usage_snapshot"
	PayloadTypeSettings      PayloadType = "settings"
	PayloadTypeWorkspace     PayloadType = "workspace"
)

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

func (t *EventType) UnmarshalText(data []byte) error {
	*t = EventType(data)
	return nil
}

func (e Event[T]) MarshalJSON() ([]byte, error) {
	type Alias Event[T]

	var (
		typ string
		bts []byte
		err error
	)
	switch any(e.Payload).(type) {
	case proto.AgentEvent:
		typ = PayloadTypeAgentEvent
		bts, err = json.Marshal(e.Payload)
	case proto.UsageSnapshot:
		typ = PayloadTypeUsageSnapshot
		bts, err = json.Marshal(e.Payload)
	case proto.AppSettings:
		typ = PayloadTypeSettings
		bts, err = json.Marshal(e.Payload)
	case proto.WorkspaceInfo:
		typ = PayloadTypeWorkspace
		bts, err = json.Marshal(e.Payload)
	default:
		return nil, fmt.Errorf("pubsub: unknown payload type: %T", e.Payload)
	}
	if err != nil {
		return nil, err
	}

	p, err := json.Marshal(&Payload{
		Type:    typ,
		Payload: bts,
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(&struct {
		Payload json.RawMessage `json:"payload"`
		*Alias
	}{
		Payload: json.RawMessage(p),
		Alias:   (*Alias)(&e),
	})
}
