package model

import "testing"

func TestTaskState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    TaskState
		terminal bool
	}{
		{TaskStateQueued, false},
		{TaskStateRunning, false},
		{TaskStateSuccess, true},
		{TaskStateFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestTaskState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TaskState
		valid    bool
	}{
		{TaskStateQueued, TaskStateRunning, true},
		{TaskStateQueued, TaskStateFailed, true},
		{TaskStateRunning, TaskStateSuccess, true},
		{TaskStateRunning, TaskStateFailed, true},

		{TaskStateQueued, TaskStateSuccess, false},
		{TaskStateRunning, TaskStateQueued, false},
		{TaskStateSuccess, TaskStateRunning, false},
		{TaskStateFailed, TaskStateQueued, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestParseTaskState(t *testing.T) {
	if st, ok := ParseTaskState("RUNNING"); !ok || st != TaskStateRunning {
		t.Errorf("ParseTaskState(RUNNING) = %q, %v", st, ok)
	}
	if _, ok := ParseTaskState("running"); ok {
		t.Error("state names are case-sensitive")
	}
}
