package model

import "testing"

// TestCanTransition checks the allowed state machine edges.
func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusCancelled},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusCancelled},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("transition %s -> %s should be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusCompleted},
		{StatusPending, StatusFailed},
		{StatusProcessing, StatusPending},
		{StatusCompleted, StatusCancelled},
		{StatusFailed, StatusProcessing},
		{StatusCancelled, StatusPending},
	}
	for _, tr := range denied {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("transition %s -> %s should be rejected", tr.from, tr.to)
		}
	}
}

// TestTerminalStates verifies the terminal predicate.
func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

// TestValidEngine checks the closed engine set.
func TestValidEngine(t *testing.T) {
	for _, name := range []EngineName{EngineEboo, EngineVira, EngineScribe} {
		if !ValidEngine(name) {
			t.Errorf("%s should be a valid engine", name)
		}
	}
	if ValidEngine("whisper") {
		t.Error("unknown engine should be rejected")
	}
}
