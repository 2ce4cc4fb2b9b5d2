// Package mock provides a scripted speech model for tests and for running the
// solver without a recognition engine installed.
// Each recognizer emits one final result with several alternatives after a
// fixed number of frames, mimicking utterance boundary detection.
package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"recaptcha-audio-solver/internal/service/stt"
)

// SimulatedUtterance is a scripted recognition outcome.
type SimulatedUtterance struct {
	Alternatives []stt.Alternative
}

// DefaultUtterances are cycled through by models created without a script.
var DefaultUtterances = []SimulatedUtterance{
	{Alternatives: []stt.Alternative{
		{Text: "seven three nine", Confidence: 412.5},
		{Text: "seven three night", Confidence: 390.1},
		{Text: "heaven three nine", Confidence: 201.7},
	}},
	{Alternatives: []stt.Alternative{
		{Text: "four one eight two", Confidence: 350.0},
		{Text: "for one eight two", Confidence: 349.2},
	}},
	{Alternatives: []stt.Alternative{
		{Text: "six six zero", Confidence: 298.4},
	}},
}

// ErrClosed is returned by a recognizer used after Close.
var ErrClosed = errors.New("recognizer closed")

// Model implements stt.Model with scripted results.
type Model struct {
	// BoundaryAfter is the number of frames after which the utterance ends.
	// Zero means the boundary is never signalled and only FinalResult yields text.
	BoundaryAfter int
	// Utterances overrides DefaultUtterances.
	Utterances []SimulatedUtterance
	// CreateErr is returned from NewRecognizer when set.
	CreateErr error

	mu      sync.Mutex
	next    int
	configs []stt.RecognizerConfig
	frames  []int

	created atomic.Int64
	closed  atomic.Int64
}

// New creates a mock model signalling a boundary after two frames.
func New() *Model {
	return &Model{BoundaryAfter: 2}
}

// Name implements stt.Model.
func (m *Model) Name() string { return "mock" }

// NewRecognizer implements stt.Model.
func (m *Model) NewRecognizer(ctx context.Context, cfg stt.RecognizerConfig) (stt.Recognizer, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.mu.Lock()
	script := m.Utterances
	if len(script) == 0 {
		script = DefaultUtterances
	}
	utt := script[m.next%len(script)]
	m.next++
	m.configs = append(m.configs, cfg)
	m.mu.Unlock()

	m.created.Add(1)
	return &Recognizer{model: m, utterance: utt, boundaryAfter: m.BoundaryAfter}, nil
}

// Close implements stt.Model.
func (m *Model) Close() error { return nil }

// Created returns how many recognizers were created.
func (m *Model) Created() int { return int(m.created.Load()) }

// Closed returns how many recognizers were released.
func (m *Model) Closed() int { return int(m.closed.Load()) }

// Configs returns the configurations recognizers were created with.
func (m *Model) Configs() []stt.RecognizerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stt.RecognizerConfig{}, m.configs...)
}

// FrameSizes returns the length of every frame fed to any recognizer.
func (m *Model) FrameSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int{}, m.frames...)
}

func (m *Model) recordFrame(n int) {
	m.mu.Lock()
	m.frames = append(m.frames, n)
	m.mu.Unlock()
}

// Recognizer implements stt.Recognizer for one call.
type Recognizer struct {
	model         *Model
	utterance     SimulatedUtterance
	boundaryAfter int

	frames int
	bytes  int
	final  bool
	closed bool
}

// AcceptWaveform counts frames and signals the boundary once.
func (r *Recognizer) AcceptWaveform(frame []byte) (bool, error) {
	if r.closed {
		return false, ErrClosed
	}
	r.frames++
	r.bytes += len(frame)
	r.model.recordFrame(len(frame))
	if r.boundaryAfter > 0 && !r.final && r.frames >= r.boundaryAfter {
		r.final = true
		return true, nil
	}
	return false, nil
}

// Result returns the scripted alternatives once the boundary was reached.
func (r *Recognizer) Result() (stt.Result, error) {
	if r.closed {
		return stt.Result{}, ErrClosed
	}
	if !r.final {
		return stt.Result{}, nil
	}
	return stt.Result{Alternatives: r.utterance.Alternatives}, nil
}

// FinalResult returns the scripted alternatives if any audio was fed.
func (r *Recognizer) FinalResult() (stt.Result, error) {
	if r.closed {
		return stt.Result{}, ErrClosed
	}
	if r.bytes == 0 {
		return stt.Result{}, nil
	}
	return stt.Result{Alternatives: r.utterance.Alternatives}, nil
}

// Frames returns the number of frames fed so far.
func (r *Recognizer) Frames() int { return r.frames }

// Close releases the recognizer.
func (r *Recognizer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.model.closed.Add(1)
	return nil
}
