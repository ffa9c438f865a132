package hive_test

import (
	"errors"
	"testing"

	"hyvve/internal/engine/hive"
)

func TestRouteThresholdInclusive(t *testing.T) {
	cases := []struct {
		confidence float64
		auto       bool
	}{
		{0.849999, false},
		{0.85, true},
		{0.850001, true},
		{0, false},
		{1, true},
	}
	for _, c := range cases {
		r := hive.Route(c.confidence, 0.85)
		if r.AutoSurface != c.auto {
			t.Errorf("Route(%v, 0.85): auto_surface=%v, want %v", c.confidence, r.AutoSurface, c.auto)
		}
		if r.RequiresApprovalQueue == c.auto {
			t.Errorf("Route(%v, 0.85): routing flags must be exclusive", c.confidence)
		}
	}
}

func TestValidatePayload(t *testing.T) {
	cases := []struct {
		name    string
		kind    string
		payload string
		ok      bool
	}{
		{"create ok", hive.ActionCreateWorkItem, `{"type":"feature","title":"Build it"}`, true},
		{"create missing title", hive.ActionCreateWorkItem, `{"type":"feature"}`, false},
		{"create missing type", hive.ActionCreateWorkItem, `{"title":"x"}`, false},
		{"update no fields", hive.ActionUpdateWorkItem, `{"work_item_id":"w1"}`, false},
		{"update ok", hive.ActionUpdateWorkItem, `{"work_item_id":"w1","title":"new"}`, true},
		{"assign ok", hive.ActionAssign, `{"work_item_id":"w1","assignee_id":"u1"}`, true},
		{"assign missing assignee", hive.ActionAssign, `{"work_item_id":"w1"}`, false},
		{"phase unknown", hive.ActionChangePhase, `{"work_item_id":"w1","phase":"shipping"}`, false},
		{"phase ok", hive.ActionChangePhase, `{"work_item_id":"w1","phase":"in_progress"}`, true},
		{"estimate nonpositive", hive.ActionEstimate, `{"work_item_id":"w1","hours":0}`, false},
		{"estimate ok", hive.ActionEstimate, `{"work_item_id":"w1","hours":6.5}`, true},
		{"start timer ok", hive.ActionStartTimer, `{"user_id":"u1","work_item_id":"w1"}`, true},
		{"stop timer missing user", hive.ActionStopTimer, `{}`, false},
		{"unknown kind", "delete_everything", `{}`, false},
		{"malformed json", hive.ActionCreateWorkItem, `{"title":`, false},
		{"empty payload", hive.ActionCreateWorkItem, ``, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := hive.ValidatePayload(c.kind, []byte(c.payload))
			if c.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !c.ok {
				var ve hive.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("want ValidationError, got %v", err)
				}
			}
		})
	}
}

func TestIsConflict(t *testing.T) {
	err := hive.ConflictError{Kind: hive.ConflictTimerActive, Message: "timer running"}
	if !hive.IsConflict(err, hive.ConflictTimerActive) {
		t.Fatalf("expected conflict kind match")
	}
	if hive.IsConflict(err, hive.ConflictAlreadyTerminal) {
		t.Fatalf("unexpected conflict kind match")
	}
	if hive.IsConflict(errors.New("other"), hive.ConflictTimerActive) {
		t.Fatalf("plain error must not match")
	}
}

func TestDependencyErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := hive.DependencyError{Op: "execute action", Retryable: true, Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("expected unwrap to inner error")
	}
}
