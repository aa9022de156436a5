package store

import (
	"testing"

	"qms/dispatch-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   models.Status
		valid  bool
	}{
		{ActionCall, models.StatusWaiting, true},
		{ActionCall, models.StatusCalled, false},
		{ActionCall, models.StatusInService, false},
		{ActionStart, models.StatusCalled, true},
		{ActionStart, models.StatusWaiting, false},
		{ActionComplete, models.StatusInService, true},
		{ActionComplete, models.StatusCalled, false},
		{ActionCancel, models.StatusWaiting, true},
		{ActionCancel, models.StatusCalled, true},
		{ActionCancel, models.StatusInService, true},
		{ActionCancel, models.StatusCompleted, false},
		{ActionCancel, models.StatusNoShow, false},
		{ActionNoShow, models.StatusCalled, true},
		{ActionNoShow, models.StatusWaiting, false},
		{ActionNoShow, models.StatusInService, false},
		{"recall", models.StatusCalled, false},
		{"unknown", models.StatusWaiting, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestNoTransitionLeavesTerminalState(t *testing.T) {
	terminal := []models.Status{models.StatusCompleted, models.StatusCancelled, models.StatusNoShow}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Fatalf("expected %q to be terminal", status)
		}
		for action := range transitionMap {
			if ValidTransition(action, status) {
				t.Fatalf("action %q allowed from terminal status %q", action, status)
			}
		}
	}
}

func TestTargetStatus(t *testing.T) {
	want := map[string]models.Status{
		ActionCall:     models.StatusCalled,
		ActionStart:    models.StatusInService,
		ActionComplete: models.StatusCompleted,
		ActionCancel:   models.StatusCancelled,
		ActionNoShow:   models.StatusNoShow,
	}
	for action, status := range want {
		got, ok := TargetStatus(action)
		if !ok || got != status {
			t.Fatalf("TargetStatus(%q)=%q,%v want %q", action, got, ok, status)
		}
	}
	if _, ok := TargetStatus("recall"); ok {
		t.Fatalf("recall must not have a target status")
	}
}
