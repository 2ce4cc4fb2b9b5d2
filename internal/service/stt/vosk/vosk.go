//go:build vosk
// +build vosk

// Package vosk loads an offline Kaldi/Vosk model for challenge transcription.
package vosk

import (
	"context"
	"errors"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog/log"

	"recaptcha-audio-solver/internal/service/stt"
)

// ErrAcceptFailed is returned when the engine rejects a frame.
var ErrAcceptFailed = errors.New("vosk: accept waveform failed")

// Model wraps a loaded vosk model. The model is shared, recognizers are not.
type Model struct {
	mu    sync.Mutex
	model *vosk.VoskModel
}

// Load reads the model directory. This is slow and should happen once at startup.
func Load(dir string) (*Model, error) {
	vosk.SetLogLevel(-1)
	m, err := vosk.NewModel(dir)
	if err != nil {
		return nil, err
	}
	log.Info().Str("component", "stt").Str("model_dir", dir).Msg("Vosk model loaded")
	return &Model{model: m}, nil
}

// Name implements stt.Model.
func (m *Model) Name() string { return "vosk" }

// NewRecognizer implements stt.Model.
func (m *Model) NewRecognizer(_ context.Context, cfg stt.RecognizerConfig) (stt.Recognizer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil, errors.New("vosk: model closed")
	}
	rec, err := vosk.NewRecognizer(m.model, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	if cfg.MaxAlternatives > 0 {
		rec.SetMaxAlternatives(cfg.MaxAlternatives)
	}
	rec.SetWords(boolInt(cfg.Words))
	rec.SetPartialWords(boolInt(cfg.PartialWords))
	return &Recognizer{rec: rec}, nil
}

// Close frees the model.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
	return nil
}

// Recognizer adapts a vosk recognizer to stt.Recognizer.
type Recognizer struct {
	rec *vosk.VoskRecognizer
}

// AcceptWaveform implements stt.Recognizer.
func (r *Recognizer) AcceptWaveform(frame []byte) (bool, error) {
	switch r.rec.AcceptWaveform(frame) {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrAcceptFailed
	}
}

// Result implements stt.Recognizer.
func (r *Recognizer) Result() (stt.Result, error) {
	return stt.ParseResult(r.rec.Result())
}

// FinalResult implements stt.Recognizer.
func (r *Recognizer) FinalResult() (stt.Result, error) {
	return stt.ParseResult(r.rec.FinalResult())
}

// Close implements stt.Recognizer.
func (r *Recognizer) Close() error {
	if r.rec != nil {
		r.rec.Free()
		r.rec = nil
	}
	return nil
}

// Available reports whether vosk support was compiled in.
func Available() bool { return true }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
