package model

import (
	"encoding/json"
	"fmt"
)

// EventType identifies a real-time change notification.
type EventType string

const (
	EventTaskCreated        EventType = "task_created"
	EventTaskUpdated        EventType = "task_updated"
	EventTaskCompleted      EventType = "task_completed"
	EventTaskDeleted        EventType = "task_deleted"
	EventMemberJoined       EventType = "member_joined"
	EventMemberLeft         EventType = "member_left"
	EventLeaderboardUpdated EventType = "leaderboard_updated"
	EventActivity           EventType = "activity"
)

// Known reports whether the event type is one the engine understands.
// Unknown types are dropped by the channel; the periodic pull makes the
// missed change eventually consistent anyway.
func (t EventType) Known() bool {
	switch t {
	case EventTaskCreated, EventTaskUpdated, EventTaskCompleted, EventTaskDeleted,
		EventMemberJoined, EventMemberLeft, EventLeaderboardUpdated, EventActivity:
		return true
	}
	return false
}

// Event is the normalized form of a real-time notification. The wire shape
// varies (flat fields vs a nested payload object, userId vs user.id);
// DecodeEvent folds both into this one type before dispatch.
type Event struct {
	Type        EventType       `json:"type"`
	UserID      string          `json:"userId,omitempty"`   // originating user, for self-echo suppression
	DeviceID    string          `json:"deviceId,omitempty"` // originating device, diagnostics only
	HouseholdID string          `json:"householdId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// rawEvent matches the superset of shapes the server emits. Either the
// event fields sit at the top level next to "type", or they are wrapped in
// a "payload"/"data" object. The originating user is either a userId string
// or a nested user object.
type rawEvent struct {
	Type        string          `json:"type"`
	Event       string          `json:"event"`
	UserID      string          `json:"userId"`
	DeviceID    string          `json:"deviceId"`
	HouseholdID string          `json:"householdId"`
	User        *User           `json:"user"`
	Payload     json.RawMessage `json:"payload"`
	Data        json.RawMessage `json:"data"`
}

// DecodeEvent parses a real-time message into a normalized Event.
//
// It tolerates both the flat and the nested payload shape. An error is
// returned for malformed JSON or a message with no recognizable type; the
// caller treats that as "unknown shape, drop and re-sync".
func DecodeEvent(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}

	typ := raw.Type
	if typ == "" {
		typ = raw.Event
	}
	if typ == "" {
		return Event{}, fmt.Errorf("event has no type field")
	}

	ev := Event{
		Type:        EventType(typ),
		UserID:      raw.UserID,
		DeviceID:    raw.DeviceID,
		HouseholdID: raw.HouseholdID,
		Payload:     raw.Payload,
	}
	if ev.Payload == nil {
		ev.Payload = raw.Data
	}

	// Nested shape: the same envelope fields may live inside the payload.
	if len(ev.Payload) > 0 {
		var inner rawEvent
		if err := json.Unmarshal(ev.Payload, &inner); err == nil {
			if ev.UserID == "" {
				ev.UserID = inner.UserID
			}
			if ev.UserID == "" && inner.User != nil {
				ev.UserID = inner.User.ID
			}
			if ev.DeviceID == "" {
				ev.DeviceID = inner.DeviceID
			}
			if ev.HouseholdID == "" {
				ev.HouseholdID = inner.HouseholdID
			}
		}
	}
	if ev.UserID == "" && raw.User != nil {
		ev.UserID = raw.User.ID
	}

	return ev, nil
}
