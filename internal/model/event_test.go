package model

import "testing"

func TestDecodeEvent_FlatShape(t *testing.T) {
	data := []byte(`{"type":"task_created","userId":"u-1","householdId":"h-1","taskId":"t-1"}`)

	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if ev.Type != EventTaskCreated {
		t.Errorf("expected task_created, got %s", ev.Type)
	}
	if ev.UserID != "u-1" {
		t.Errorf("expected userId u-1, got %q", ev.UserID)
	}
	if ev.HouseholdID != "h-1" {
		t.Errorf("expected householdId h-1, got %q", ev.HouseholdID)
	}
}

func TestDecodeEvent_NestedPayload(t *testing.T) {
	data := []byte(`{"type":"task_updated","payload":{"userId":"u-2","householdId":"h-1","task":{"id":"t-1"}}}`)

	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if ev.Type != EventTaskUpdated {
		t.Errorf("expected task_updated, got %s", ev.Type)
	}
	if ev.UserID != "u-2" {
		t.Errorf("expected userId from nested payload, got %q", ev.UserID)
	}
}

func TestDecodeEvent_NestedUserObject(t *testing.T) {
	data := []byte(`{"event":"member_joined","data":{"user":{"id":"u-3","email":"c@d.io"}}}`)

	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if ev.Type != EventMemberJoined {
		t.Errorf("expected member_joined, got %s", ev.Type)
	}
	if ev.UserID != "u-3" {
		t.Errorf("expected userId from user object, got %q", ev.UserID)
	}
}

func TestDecodeEvent_MissingType(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"userId":"u-1"}`)); err == nil {
		t.Error("expected error for event without type")
	}
}

func TestDecodeEvent_MalformedJSON(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{nope`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestEventType_Known(t *testing.T) {
	if !EventLeaderboardUpdated.Known() {
		t.Error("leaderboard_updated should be known")
	}
	if EventType("task_renamed").Known() {
		t.Error("task_renamed should be unknown")
	}
}
