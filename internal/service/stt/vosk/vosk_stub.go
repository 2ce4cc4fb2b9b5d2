//go:build !vosk
// +build !vosk

// Package vosk loads an offline Kaldi/Vosk model for challenge transcription.
// This build has no vosk support; rebuild with -tags vosk and libvosk installed.
package vosk

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"recaptcha-audio-solver/internal/service/stt"
)

// ErrNotCompiled is returned when vosk support is missing from the build.
var ErrNotCompiled = errors.New("vosk support not compiled in (build with -tags vosk)")

// Model is a placeholder that cannot produce recognizers.
type Model struct{}

// Load always fails in this build.
func Load(dir string) (*Model, error) {
	log.Warn().
		Str("component", "stt").
		Str("model_dir", dir).
		Msg("Vosk requested but not compiled in; install libvosk and rebuild with: go build -tags vosk")
	return nil, ErrNotCompiled
}

// Name implements stt.Model.
func (m *Model) Name() string { return "vosk" }

// NewRecognizer implements stt.Model.
func (m *Model) NewRecognizer(context.Context, stt.RecognizerConfig) (stt.Recognizer, error) {
	return nil, ErrNotCompiled
}

// Close implements stt.Model.
func (m *Model) Close() error { return nil }

// Available reports whether vosk support was compiled in.
func Available() bool { return false }
