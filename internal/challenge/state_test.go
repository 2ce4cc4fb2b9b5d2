package challenge

import (
	"errors"
	"testing"
)

func TestSession_InitialState(t *testing.T) {
	s := NewSession("sess-1", 3)

	if s.State() != StateNotStarted {
		t.Errorf("expected StateNotStarted, got %v", s.State())
	}
	if s.ID() != "sess-1" {
		t.Errorf("expected sess-1, got %v", s.ID())
	}
	if s.MaxRetries() != 3 {
		t.Errorf("expected 3 retries, got %d", s.MaxRetries())
	}
	if s.Passed() || s.Invisible() || s.ActionRequired() {
		t.Error("expected all flags false")
	}
}

func TestSession_HappyPath(t *testing.T) {
	s := NewSession("sess-1", 3)
	path := []State{
		StateDetecting,
		StateCollapsed,
		StateExpanded,
		StateAudioRequired,
		StateAwaitingAudio,
		StateTranscribing,
		StateSubmitting,
		StateAwaitingVerification,
		StateRetryOrFail,
		StateAwaitingAudio,
		StateTranscribing,
		StateSubmitting,
		StateAwaitingVerification,
		StateSolved,
	}
	for _, next := range path {
		if _, err := s.Transition(next); err != nil {
			t.Fatalf("transition to %v: unexpected error: %v", next, err)
		}
	}
	if !s.State().IsTerminal() {
		t.Error("expected terminal state")
	}
}

func TestSession_InvalidTransition(t *testing.T) {
	s := NewSession("sess-1", 3)

	prev, err := s.Transition(StateSubmitting)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if prev != StateNotStarted || s.State() != StateNotStarted {
		t.Errorf("expected state unchanged, got %v", s.State())
	}
}

func TestSession_FailedFromAnyState(t *testing.T) {
	for _, from := range []State{StateDetecting, StateCollapsed, StateAwaitingAudio, StateRetryOrFail} {
		s := &Session{state: from}
		if _, err := s.Transition(StateFailed); err != nil {
			t.Errorf("%v → FAILED: unexpected error: %v", from, err)
		}
	}
}

func TestSession_TerminalRejectsTransitions(t *testing.T) {
	for _, terminal := range []State{StateSolved, StateNotNeeded, StateFailed} {
		s := &Session{state: terminal}
		if _, err := s.Transition(StateFailed); err != ErrSessionFinished {
			t.Errorf("%v: expected ErrSessionFinished, got %v", terminal, err)
		}
	}
}

func TestSession_StartAttempt(t *testing.T) {
	s := NewSession("sess-1", 2)

	for want := 1; want <= 2; want++ {
		n, ok := s.StartAttempt()
		if !ok || n != want {
			t.Errorf("expected attempt %d, got %d ok=%v", want, n, ok)
		}
	}
	if _, ok := s.StartAttempt(); ok {
		t.Error("expected budget exhausted")
	}
	if s.Tries() != 2 {
		t.Errorf("expected 2 tries, got %d", s.Tries())
	}

	zero := NewSession("sess-2", 0)
	if _, ok := zero.StartAttempt(); ok {
		t.Error("expected zero budget to refuse the first attempt")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNotStarted, "NOT_STARTED"},
		{StateAwaitingVerification, "AWAITING_VERIFICATION"},
		{StateRetryOrFail, "RETRY_OR_FAIL"},
		{StateSolved, "SOLVED"},
		{StateNotNeeded, "NOT_NEEDED"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}
