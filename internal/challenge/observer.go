package challenge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"recaptcha-audio-solver/internal/browser"
	"recaptcha-audio-solver/internal/gate"
	"recaptcha-audio-solver/internal/observability/metrics"
)

// observer watches page responses for the session's lifetime. It rebinds
// the pending answer on every audio payload and records verification
// outcomes, signalling the loop through the ready and done gates.
type observer struct {
	ctx      context.Context
	session  *Session
	pipeline Pipeline
	pending  *pendingAnswer
	ready    *gate.Gate
	done     *gate.Gate
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	outcome VerifyOutcome
}

func newObserver(ctx context.Context, session *Session, pipeline Pipeline, logger zerolog.Logger, m *metrics.Metrics) *observer {
	return &observer{
		ctx:      ctx,
		session:  session,
		pipeline: pipeline,
		pending:  newPendingAnswer(),
		ready:    gate.New("ready"),
		done:     gate.New("done"),
		logger:   logger,
		metrics:  m,
	}
}

// handle is registered with Page.OnResponse.
func (o *observer) handle(res browser.Response) {
	switch {
	case isAudio(res.Headers()):
		o.onAudio(res)
	case strings.HasPrefix(res.URL(), VerifyURLPrefix):
		o.onVerify(res)
	}
}

func (o *observer) onAudio(res browser.Response) {
	o.logger.Debug().Str("url", res.URL()).Msg("Audio payload intercepted")

	slot := o.pending.rebind()
	go func() {
		slot.resolve(o.transcribe(res))
	}()
	o.ready.Unlock("get sound")
}

func (o *observer) transcribe(res browser.Response) Answer {
	start := time.Now()
	body, err := res.Body(o.ctx)
	if err != nil {
		return Answer{Err: err}
	}
	o.metrics.RecordAudioPayload(len(body))

	text, err := o.pipeline.Recognize(o.ctx, body)
	if err != nil {
		return Answer{Err: err}
	}
	o.logger.Info().
		Str("answer", text).
		Int("bytes", len(body)).
		Dur("took", time.Since(start)).
		Msg("Audio recognized")
	return Answer{Text: text}
}

func (o *observer) onVerify(res browser.Response) {
	outcome := VerifyUnknown
	body, err := res.Body(o.ctx)
	if err == nil {
		outcome, err = ParseVerification(body)
	}
	if err != nil {
		o.logger.Warn().Err(err).Str("url", res.URL()).Msg("Unreadable verification response")
	} else if outcome == VerifyUnknown {
		o.logger.Warn().Str("body", string(body)).Msg("Unrecognized verification flag, treating as not passed")
	}

	o.mu.Lock()
	o.outcome = outcome
	o.mu.Unlock()
	o.session.SetPassed(outcome.Passed())
	o.metrics.RecordVerification(outcome.String())

	o.done.Unlock("verified")
}

// lastOutcome returns the most recent verification outcome.
func (o *observer) lastOutcome() VerifyOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}

func isAudio(headers map[string]string) bool {
	ct, _, _ := strings.Cut(headers["content-type"], ";")
	return strings.EqualFold(strings.TrimSpace(ct), AudioContentType)
}
