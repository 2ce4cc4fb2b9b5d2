// Package models defines the data structures for solver outcome events.
package models

// AttemptEvent describes one pass through the submit/verify loop.
type AttemptEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Attempt   int    `json:"attempt"`
	// Outcome is one of "passed", "failed", "unknown", "timeout" or "reloaded".
	Outcome string `json:"outcome"`
	Answer  string `json:"answer,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SolveResult describes a finished solve session.
type SolveResult struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	Timestamp  int64  `json:"timestamp"`
	Solved     bool   `json:"solved"`
	State      string `json:"state"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
}
