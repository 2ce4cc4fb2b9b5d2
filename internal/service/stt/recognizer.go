// Package stt defines the speech recognizer surface and the streaming
// transcriber that drives it.
package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for audio that is not mono PCM WAV.
	ErrUnsupportedFormat = errors.New("audio file must be WAV with mono PCM")
	// ErrNoSpeech is returned when the recognizer produced no text.
	ErrNoSpeech = errors.New("no speech recognized")
)

// Alternative is one recognition hypothesis.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is a final recognition result for one utterance.
type Result struct {
	Alternatives []Alternative `json:"alternatives"`
	// Text is set by engines that were not asked for alternatives.
	Text string `json:"text"`
}

// Best returns the highest-confidence hypothesis text. Ties go to the
// earliest alternative. When there are no alternatives, Text is returned.
func (r Result) Best() string {
	if len(r.Alternatives) == 0 {
		return strings.TrimSpace(r.Text)
	}
	best := 0
	for i := 1; i < len(r.Alternatives); i++ {
		if r.Alternatives[i].Confidence > r.Alternatives[best].Confidence {
			best = i
		}
	}
	return strings.TrimSpace(r.Alternatives[best].Text)
}

// ParseResult decodes an engine result document of the form
// {"alternatives":[{"text":..,"confidence":..}]} or {"text":..}.
func ParseResult(raw string) (Result, error) {
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, fmt.Errorf("parse recognizer result: %w", err)
	}
	return res, nil
}

// RecognizerConfig describes the per-call recognizer.
type RecognizerConfig struct {
	SampleRate      float64
	MaxAlternatives int
	Words           bool // per-word timing
	PartialWords    bool // per-word timing in partial results
}

// Recognizer consumes PCM frames for a single call.
type Recognizer interface {
	// AcceptWaveform feeds one frame. It returns true when an utterance
	// boundary was reached and Result holds a final hypothesis set.
	AcceptWaveform(frame []byte) (bool, error)

	// Result returns the final result of the last completed utterance.
	Result() (Result, error)

	// FinalResult flushes any buffered audio and returns the last result.
	FinalResult() (Result, error)

	// Close releases the recognizer.
	Close() error
}

// Model is a long-lived recognition model shared by all calls.
type Model interface {
	// Name identifies the engine in logs and metrics.
	Name() string

	// NewRecognizer creates a recognizer for one call.
	NewRecognizer(ctx context.Context, cfg RecognizerConfig) (Recognizer, error)

	// Close releases the model.
	Close() error
}
