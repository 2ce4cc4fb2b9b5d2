package challenge

import (
	"errors"
	"fmt"
	"sync"
)

// State is a step of the solve lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateDetecting
	// StateCollapsed - challenge popup not rendered yet, anchor must be clicked.
	StateCollapsed
	StateExpanded
	StateAudioRequired
	StateNoActionNeeded
	StateAwaitingAudio
	StateTranscribing
	StateSubmitting
	StateAwaitingVerification
	// StateRetryOrFail - last attempt did not pass, another may follow.
	StateRetryOrFail
	// StateSolved - terminal, verification passed.
	StateSolved
	// StateNotNeeded - terminal, nothing to solve.
	StateNotNeeded
	// StateFailed - terminal, solve returned an error.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateDetecting:
		return "DETECTING"
	case StateCollapsed:
		return "COLLAPSED"
	case StateExpanded:
		return "EXPANDED"
	case StateAudioRequired:
		return "AUDIO_REQUIRED"
	case StateNoActionNeeded:
		return "NO_ACTION_NEEDED"
	case StateAwaitingAudio:
		return "AWAITING_AUDIO"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateSubmitting:
		return "SUBMITTING"
	case StateAwaitingVerification:
		return "AWAITING_VERIFICATION"
	case StateRetryOrFail:
		return "RETRY_OR_FAIL"
	case StateSolved:
		return "SOLVED"
	case StateNotNeeded:
		return "NOT_NEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for SOLVED, NOT_NEEDED and FAILED.
func (s State) IsTerminal() bool {
	return s == StateSolved || s == StateNotNeeded || s == StateFailed
}

// Errors for invalid state transitions.
var (
	ErrSessionFinished   = errors.New("solve session already finished")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// transitions lists the legal successors of each non-terminal state.
// Any non-terminal state may also move to FAILED.
var transitions = map[State][]State{
	StateNotStarted:           {StateDetecting},
	StateDetecting:            {StateCollapsed, StateExpanded},
	StateCollapsed:            {StateExpanded, StateNotNeeded},
	StateExpanded:             {StateAudioRequired, StateNoActionNeeded},
	StateNoActionNeeded:       {StateNotNeeded},
	StateAudioRequired:        {StateAwaitingAudio},
	StateAwaitingAudio:        {StateTranscribing},
	StateTranscribing:         {StateSubmitting, StateRetryOrFail},
	StateSubmitting:           {StateAwaitingVerification},
	StateAwaitingVerification: {StateSolved, StateRetryOrFail},
	StateRetryOrFail:          {StateAwaitingAudio, StateSolved},
}

// Session is one attempt to solve the challenge displayed on a page.
// Thread-safe: the response observer records outcomes while the solve loop
// advances the state.
//
// State transitions:
//
//	NOT_STARTED → DETECTING → [COLLAPSED →] EXPANDED → AUDIO_REQUIRED → AWAITING_AUDIO
//	AWAITING_AUDIO → TRANSCRIBING → SUBMITTING → AWAITING_VERIFICATION → SOLVED
//	                      │                               │
//	                      └──────→ RETRY_OR_FAIL ←────────┘ ──→ AWAITING_AUDIO
//
// Rules:
//   - RETRY_OR_FAIL → SOLVED when a pass verdict arrives after its wait expired
//   - COLLAPSED → NOT_NEEDED for the invisible variant
//   - EXPANDED → NO_ACTION_NEEDED → NOT_NEEDED when the challenge shows its footer
//   - any non-terminal state may move to FAILED
//   - terminal states reject every transition
type Session struct {
	mu             sync.RWMutex
	id             string
	state          State
	invisible      bool
	actionRequired bool
	passed         bool
	tries          int
	maxRetries     int
}

// NewSession creates a session in NOT_STARTED state.
func NewSession(id string, maxRetries int) *Session {
	return &Session{
		id:         id,
		state:      StateNotStarted,
		maxRetries: maxRetries,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transition moves the session to next and returns the previous state.
func (s *Session) Transition(next State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	if prev.IsTerminal() {
		return prev, ErrSessionFinished
	}
	if next == StateFailed {
		s.state = next
		return prev, nil
	}
	for _, allowed := range transitions[prev] {
		if allowed == next {
			s.state = next
			return prev, nil
		}
	}
	return prev, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, prev, next)
}

// SetInvisible records whether the anchor is the invisible variant.
func (s *Session) SetInvisible(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invisible = v
}

// Invisible reports whether the anchor is the invisible variant.
func (s *Session) Invisible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invisible
}

// SetActionRequired records the action check result.
func (s *Session) SetActionRequired(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionRequired = v
}

// ActionRequired reports the action check result.
func (s *Session) ActionRequired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actionRequired
}

// SetPassed records the latest verification outcome.
func (s *Session) SetPassed(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passed = v
}

// Passed reports the latest verification outcome.
func (s *Session) Passed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.passed
}

// Tries returns the number of attempts started.
func (s *Session) Tries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tries
}

// MaxRetries returns the attempt budget.
func (s *Session) MaxRetries() int {
	return s.maxRetries
}

// StartAttempt consumes one attempt from the budget. It returns the attempt
// number, or false when the budget is spent.
func (s *Session) StartAttempt() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tries >= s.maxRetries {
		return s.tries, false
	}
	s.tries++
	return s.tries, true
}
