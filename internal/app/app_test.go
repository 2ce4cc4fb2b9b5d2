package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"recaptcha-audio-solver/internal/challenge"
	"recaptcha-audio-solver/internal/config"
	"recaptcha-audio-solver/internal/service/stt"
	"recaptcha-audio-solver/internal/service/stt/mock"
)

func TestNewModel(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
		wantErr  bool
	}{
		{"", "mock", false},
		{"mock", "mock", false},
		{"MOCK", "mock", false},
		{"whisper", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			m, err := NewModel(context.Background(), config.STTConfig{Provider: tt.provider})
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if err == nil && m.Name() != tt.wantName {
				t.Errorf("expected model %s, got %s", tt.wantName, m.Name())
			}
		})
	}
}

func TestApplication_StartAndShutdown(t *testing.T) {
	cfg := config.Default()
	a := New(cfg)

	if a.Ready() {
		t.Fatal("expected not ready before Start")
	}
	if _, err := a.SolveURL(context.Background(), "https://example.com"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}

	model := mock.New()
	a.newModel = func(context.Context, config.STTConfig) (stt.Model, error) { return model, nil }
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Ready() {
		t.Error("expected ready after Start")
	}
	if a.Solver == nil || a.Publisher == nil || a.Model != model {
		t.Error("expected solver, publisher and model wired")
	}
	if a.StartupTime.IsZero() {
		t.Error("expected startup time recorded")
	}

	a.Shutdown()
	if a.Ready() {
		t.Error("expected not ready after Shutdown")
	}
}

func TestApplication_StartModelError(t *testing.T) {
	a := New(config.Default())
	a.newModel = func(context.Context, config.STTConfig) (stt.Model, error) {
		return nil, errors.New("model directory missing")
	}

	if err := a.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if a.Ready() {
		t.Error("expected not ready after failed Start")
	}
}

func TestApplication_Options(t *testing.T) {
	cfg := config.Default()
	cfg.Solver.Delay = 10 * time.Millisecond
	cfg.Solver.Wait = 2 * time.Second
	cfg.Solver.Retry = 5
	cfg.Solver.TranscodeBinary = "/usr/local/bin/ffmpeg"

	opts := New(cfg).Options()
	if opts.Delay != 10*time.Millisecond || opts.Wait != 2*time.Second || opts.Retry != 5 {
		t.Errorf("expected solver config mapped, got %+v", opts)
	}
	if opts.TranscodeBinary != "/usr/local/bin/ffmpeg" {
		t.Errorf("expected transcode binary mapped, got %s", opts.TranscodeBinary)
	}
	if opts.Selectors.VerifyButton == "" {
		t.Error("expected default selectors")
	}
}

func TestApplication_Options_ExplicitZero(t *testing.T) {
	cfg := config.Default()
	cfg.Solver.Delay = 0
	cfg.Solver.Retry = 0

	opts := New(cfg).Options()
	if opts.Delay != challenge.NoDelay {
		t.Errorf("expected NoDelay, got %v", opts.Delay)
	}
	if opts.Retry != challenge.NoRetry {
		t.Errorf("expected NoRetry, got %d", opts.Retry)
	}
}

func TestApplication_CheckLiveProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"", true},
		{"mock", true},
		{"MOCK", true},
		{"vosk", false},
		{"google", false},
	}
	for _, tt := range tests {
		cfg := config.Default()
		cfg.STT.Provider = tt.provider
		err := New(cfg).CheckLiveProvider()
		if tt.wantErr && !errors.Is(err, ErrMockProvider) {
			t.Errorf("provider %q: expected ErrMockProvider, got %v", tt.provider, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("provider %q: unexpected error: %v", tt.provider, err)
		}
	}
}
