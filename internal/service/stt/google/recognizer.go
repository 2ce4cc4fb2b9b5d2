// Package google provides a Google Cloud Speech-to-Text backed model.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"recaptcha-audio-solver/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode string
	Model        string // e.g. "default", "command_and_search"
}

// DefaultConfig returns the defaults used for challenge audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode: "en-US",
		Model:        "command_and_search",
	}
}

// Model implements stt.Model over a shared speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
type Model struct {
	client *speech.Client
	cfg    Config
}

// New creates the shared client.
func New(ctx context.Context, cfg Config) (*Model, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Model{client: c, cfg: cfg}, nil
}

// Name implements stt.Model.
func (m *Model) Name() string { return "google" }

// Close releases the client.
func (m *Model) Close() error {
	return m.client.Close()
}

// NewRecognizer opens a single-utterance streaming recognition session.
func (m *Model) NewRecognizer(ctx context.Context, cfg stt.RecognizerConfig) (stt.Recognizer, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := m.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig(m.cfg, cfg),
		},
	}); err != nil {
		cancel()
		return nil, err
	}

	r := &Recognizer{
		stream: stream,
		cancel: cancel,
		finals: make(chan stt.Result, 8),
		done:   make(chan struct{}),
	}
	go r.listen()
	return r, nil
}

func streamingConfig(c Config, cfg stt.RecognizerConfig) *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:              speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:       int32(cfg.SampleRate),
			LanguageCode:          c.LanguageCode,
			MaxAlternatives:       int32(cfg.MaxAlternatives),
			EnableWordTimeOffsets: cfg.Words,
			EnableWordConfidence:  cfg.Words,
			Model:                 c.Model,
		},
		SingleUtterance: true,
		InterimResults:  cfg.PartialWords,
	}
}

// Recognizer streams frames to Google and collects final results.
type Recognizer struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	finals chan stt.Result
	done   chan struct{}

	mu      sync.Mutex
	last    stt.Result
	recvErr error
	sendEnd sync.Once
}

// listen receives responses until the stream ends.
func (r *Recognizer) listen() {
	defer close(r.done)
	for {
		resp, err := r.stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.mu.Lock()
				r.recvErr = err
				r.mu.Unlock()
			}
			return
		}
		for _, res := range resp.GetResults() {
			if !res.GetIsFinal() {
				continue
			}
			out := toResult(res.GetAlternatives())
			r.mu.Lock()
			r.last = out
			r.mu.Unlock()
			select {
			case r.finals <- out:
			default:
			}
		}
	}
}

func toResult(alts []*speechpb.SpeechRecognitionAlternative) stt.Result {
	out := stt.Result{Alternatives: make([]stt.Alternative, 0, len(alts))}
	for _, a := range alts {
		out.Alternatives = append(out.Alternatives, stt.Alternative{
			Text:       a.GetTranscript(),
			Confidence: float64(a.GetConfidence()),
		})
	}
	return out
}

// AcceptWaveform sends one frame and reports whether a final result arrived.
func (r *Recognizer) AcceptWaveform(frame []byte) (bool, error) {
	err := r.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: frame,
		},
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	select {
	case <-r.finals:
		return true, nil
	default:
	}
	if err := r.err(); err != nil {
		return false, err
	}
	return false, nil
}

// Result returns the most recent final result.
func (r *Recognizer) Result() (stt.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.recvErr
}

// FinalResult half-closes the stream and waits for remaining results.
func (r *Recognizer) FinalResult() (stt.Result, error) {
	r.closeSend()
	<-r.done
	return r.Result()
}

// Close ends the session.
func (r *Recognizer) Close() error {
	r.closeSend()
	r.cancel()
	<-r.done
	return nil
}

func (r *Recognizer) closeSend() {
	r.sendEnd.Do(func() {
		_ = r.stream.CloseSend()
	})
}

func (r *Recognizer) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recvErr != nil {
		return fmt.Errorf("google stt: %w", r.recvErr)
	}
	return nil
}
