package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"recaptcha-audio-solver/internal/observability/logging"
	"recaptcha-audio-solver/internal/observability/metrics"
)

const (
	// DefaultFrameBytes is the PCM frame size fed per AcceptWaveform call.
	DefaultFrameBytes = 4000
	// DefaultMaxAlternatives is the number of hypotheses requested.
	DefaultMaxAlternatives = 10

	wavFormatPCM = 1
)

// Transcriber turns canonical WAV bytes into text using a shared Model.
type Transcriber struct {
	model           Model
	frameBytes      int
	maxAlternatives int
	metrics         *metrics.Metrics
	logger          zerolog.Logger
}

// TranscriberOption configures a Transcriber.
type TranscriberOption func(*Transcriber)

// WithFrameBytes sets the frame size.
func WithFrameBytes(n int) TranscriberOption {
	return func(t *Transcriber) {
		if n > 0 {
			t.frameBytes = n
		}
	}
}

// WithMaxAlternatives sets the requested hypothesis count.
func WithMaxAlternatives(n int) TranscriberOption {
	return func(t *Transcriber) {
		if n > 0 {
			t.maxAlternatives = n
		}
	}
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) TranscriberOption {
	return func(t *Transcriber) { t.metrics = m }
}

// NewTranscriber creates a transcriber over an already loaded model.
func NewTranscriber(model Model, opts ...TranscriberOption) *Transcriber {
	t := &Transcriber{
		model:           model,
		frameBytes:      DefaultFrameBytes,
		maxAlternatives: DefaultMaxAlternatives,
		metrics:         metrics.DefaultMetrics,
		logger:          logging.WithComponent("transcriber"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Format is the audio format found in a WAV header.
type Format struct {
	AudioFormat uint16
	Channels    uint16
	SampleRate  uint32
	BitDepth    uint16
}

// Transcribe recognizes the speech in a mono PCM WAV buffer and returns the
// highest-confidence hypothesis of the first completed utterance.
func (t *Transcriber) Transcribe(ctx context.Context, wavData []byte) (string, error) {
	start := time.Now()
	text, err := t.transcribe(ctx, wavData)
	if err != nil {
		t.metrics.RecordTranscriptionError(t.model.Name(), errorType(err))
		return "", err
	}
	t.metrics.RecordTranscription(t.model.Name(), time.Since(start).Seconds())
	t.logger.Debug().
		Str("provider", t.model.Name()).
		Str("text", text).
		Dur("took", time.Since(start)).
		Msg("Audio transcribed")
	return text, nil
}

func (t *Transcriber) transcribe(ctx context.Context, wavData []byte) (string, error) {
	dec := wav.NewDecoder(bytes.NewReader(wavData))
	format, err := readFormat(dec)
	if err != nil {
		return "", err
	}
	if err := dec.FwdToPCM(); err != nil {
		return "", fmt.Errorf("%w: locate PCM data: %v", ErrUnsupportedFormat, err)
	}
	pcm := io.LimitReader(dec.PCMChunk, int64(dec.PCMChunk.Size))

	rec, err := t.model.NewRecognizer(ctx, RecognizerConfig{
		SampleRate:      float64(format.SampleRate),
		MaxAlternatives: t.maxAlternatives,
		Words:           true,
		PartialWords:    true,
	})
	if err != nil {
		return "", fmt.Errorf("create recognizer: %w", err)
	}
	defer func() {
		if err := rec.Close(); err != nil {
			t.logger.Warn().Err(err).Msg("Recognizer close failed")
		}
	}()

	frame := make([]byte, alignFrame(t.frameBytes, format))
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, readErr := io.ReadFull(pcm, frame)
		if n > 0 {
			boundary, err := rec.AcceptWaveform(frame[:n])
			if err != nil {
				return "", fmt.Errorf("accept waveform: %w", err)
			}
			if boundary {
				t.metrics.RecordUtterance()
				res, err := rec.Result()
				if err != nil {
					return "", fmt.Errorf("read result: %w", err)
				}
				if text := res.Best(); text != "" {
					return text, nil
				}
				// leading silence closes an empty utterance; keep going
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("read PCM: %w", readErr)
		}
	}

	res, err := rec.FinalResult()
	if err != nil {
		return "", fmt.Errorf("read final result: %w", err)
	}
	if text := res.Best(); text != "" {
		return text, nil
	}
	return "", ErrNoSpeech
}

// readFormat parses the WAV header and rejects anything but mono 16-bit PCM.
func readFormat(dec *wav.Decoder) (Format, error) {
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Format{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	f := Format{
		AudioFormat: dec.WavAudioFormat,
		Channels:    dec.NumChans,
		SampleRate:  dec.SampleRate,
		BitDepth:    dec.BitDepth,
	}
	if f.AudioFormat != wavFormatPCM || f.Channels != 1 || f.BitDepth != 16 || f.SampleRate == 0 {
		return f, fmt.Errorf("%w: format=%d channels=%d bits=%d rate=%d",
			ErrUnsupportedFormat, f.AudioFormat, f.Channels, f.BitDepth, f.SampleRate)
	}
	return f, nil
}

// alignFrame rounds n down to whole sample frames so no sample is split
// across AcceptWaveform calls.
func alignFrame(n int, f Format) int {
	block := int(f.BitDepth/8) * int(f.Channels)
	if block <= 0 {
		return n
	}
	if n < block {
		return block
	}
	return n - n%block
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "format"
	case errors.Is(err, ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "recognizer"
	}
}
