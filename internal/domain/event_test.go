package domain

import "testing"

func TestNewEventStampsFields(t *testing.T) {
	ev := NewEvent(EventTaskClaimed, TaskID("7"), map[string]any{"holder": "abc"})

	if ev.Type != EventTaskClaimed {
		t.Errorf("Type = %v, want %v", ev.Type, EventTaskClaimed)
	}
	if ev.TaskID != TaskID("7") {
		t.Errorf("TaskID = %v, want 7", ev.TaskID)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected a non-zero timestamp")
	}
	if ev.Payload["holder"] != "abc" {
		t.Errorf("Payload[holder] = %v, want abc", ev.Payload["holder"])
	}
}

func TestEventDedupKeyCollapsesSameTypeAndTask(t *testing.T) {
	a := NewEvent(EventTaskFailed, TaskID("1"), nil)
	b := NewEvent(EventTaskFailed, TaskID("1"), map[string]any{"x": 1})
	if a.dedupKey() != b.dedupKey() {
		t.Errorf("expected identical dedup keys, got %q and %q", a.dedupKey(), b.dedupKey())
	}

	c := NewEvent(EventTaskFailed, TaskID("2"), nil)
	if a.dedupKey() == c.dedupKey() {
		t.Error("expected different task IDs to produce different dedup keys")
	}

	d := NewEvent(EventTaskCompleted, TaskID("1"), nil)
	if a.dedupKey() == d.dedupKey() {
		t.Error("expected different event types to produce different dedup keys")
	}
}
