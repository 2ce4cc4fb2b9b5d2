// Package challenge drives the reCAPTCHA audio challenge: it detects and
// expands the widget, switches to the audio variant, intercepts the audio
// payload, submits the recognized answer and retries until verification
// passes or the attempt budget is spent.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recaptcha-audio-solver/internal/browser"
	"recaptcha-audio-solver/internal/gate"
	"recaptcha-audio-solver/internal/media"
	"recaptcha-audio-solver/internal/models"
	"recaptcha-audio-solver/internal/observability/logging"
	"recaptcha-audio-solver/internal/observability/metrics"
)

// Defaults for Options.
const (
	DefaultDelay           = 64 * time.Millisecond
	DefaultWait            = 5 * time.Second
	DefaultRetry           = 3
	DefaultTranscodeBinary = "ffmpeg"

	// DefaultPublishTimeout bounds each outcome event publish.
	DefaultPublishTimeout = 2 * time.Second
)

// NoDelay and NoRetry request an explicit zero for Options.Delay and
// Options.Retry, whose zero values select the defaults.
const (
	NoDelay time.Duration = -1
	NoRetry               = -1
)

// Options tune a single solve. The zero value selects every default.
type Options struct {
	// Delay between typed characters. Zero means DefaultDelay; NoDelay types at once.
	Delay time.Duration
	// Wait bounds every selector and signal wait. Zero means DefaultWait.
	Wait time.Duration
	// Retry is the attempt budget. Zero means DefaultRetry; NoRetry fails
	// right after switching to audio, without submitting.
	Retry int
	// TranscodeBinary names the ffmpeg-compatible binary. Empty means DefaultTranscodeBinary.
	TranscodeBinary string
	// Selectors override individual widget selectors.
	Selectors Selectors
}

// DefaultOptions returns the standard options.
func DefaultOptions() Options {
	return Options{
		Delay:           DefaultDelay,
		Wait:            DefaultWait,
		Retry:           DefaultRetry,
		TranscodeBinary: DefaultTranscodeBinary,
		Selectors:       DefaultSelectors(),
	}
}

func (o Options) withDefaults() Options {
	switch {
	case o.Delay == 0:
		o.Delay = DefaultDelay
	case o.Delay < 0:
		o.Delay = 0
	}
	if o.Wait <= 0 {
		o.Wait = DefaultWait
	}
	switch {
	case o.Retry == 0:
		o.Retry = DefaultRetry
	case o.Retry < 0:
		o.Retry = 0
	}
	if o.TranscodeBinary == "" {
		o.TranscodeBinary = DefaultTranscodeBinary
	}
	o.Selectors = o.Selectors.withDefaults()
	return o
}

// Normalizer converts compressed audio to canonical WAV.
type Normalizer interface {
	Normalize(ctx context.Context, compressed []byte) ([]byte, error)
}

// Transcriber converts canonical WAV to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Pipeline turns an intercepted audio payload into an answer.
type Pipeline interface {
	Recognize(ctx context.Context, audio []byte) (string, error)
}

type audioPipeline struct {
	normalizer  Normalizer
	transcriber Transcriber
}

func (p audioPipeline) Recognize(ctx context.Context, audio []byte) (string, error) {
	wav, err := p.normalizer.Normalize(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("normalize audio: %w", err)
	}
	text, err := p.transcriber.Transcribe(ctx, wav)
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return text, nil
}

// Reporter receives attempt and session outcomes.
type Reporter interface {
	PublishAttempt(ctx context.Context, event models.AttemptEvent) error
	PublishResult(ctx context.Context, event models.SolveResult) error
}

// Result summarizes a finished session.
type Result struct {
	SessionID string
	Solved    bool
	Attempts  int
	State     State
}

// Solver solves challenges with a shared transcriber. Normalizers are
// created lazily per transcoder binary and reused.
type Solver struct {
	transcriber   Transcriber
	newNormalizer func(binary string) Normalizer
	reporter      Reporter
	publishWait   time.Duration
	metrics       *metrics.Metrics
	newID         func() string

	mu          sync.Mutex
	normalizers map[string]Normalizer
}

// SolverOption configures a Solver.
type SolverOption func(*Solver)

// WithNormalizerFactory replaces the ffmpeg normalizer.
func WithNormalizerFactory(fn func(binary string) Normalizer) SolverOption {
	return func(s *Solver) { s.newNormalizer = fn }
}

// WithReporter publishes outcomes through r.
func WithReporter(r Reporter) SolverOption {
	return func(s *Solver) { s.reporter = r }
}

// WithPublishTimeout bounds each reporter call.
func WithPublishTimeout(d time.Duration) SolverOption {
	return func(s *Solver) {
		if d > 0 {
			s.publishWait = d
		}
	}
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) SolverOption {
	return func(s *Solver) { s.metrics = m }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) SolverOption {
	return func(s *Solver) { s.newID = fn }
}

// NewSolver creates a solver around an already loaded transcriber.
func NewSolver(transcriber Transcriber, opts ...SolverOption) *Solver {
	s := &Solver{
		transcriber: transcriber,
		newNormalizer: func(binary string) Normalizer {
			return media.NewNormalizer(binary)
		},
		publishWait: DefaultPublishTimeout,
		metrics:     metrics.DefaultMetrics,
		newID:       uuid.NewString,
		normalizers: make(map[string]Normalizer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Solver) normalizer(binary string) Normalizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.normalizers[binary]
	if !ok {
		n = s.newNormalizer(binary)
		s.normalizers[binary] = n
	}
	return n
}

// Solve solves the challenge on page. It returns true when verification
// passed and false when there was nothing to solve.
func (s *Solver) Solve(ctx context.Context, page browser.Page, opts Options) (bool, error) {
	res, err := s.SolveSession(ctx, page, opts)
	return res.Solved, err
}

// SolveSession is Solve with session details.
func (s *Solver) SolveSession(ctx context.Context, page browser.Page, opts Options) (Result, error) {
	opts = opts.withDefaults()
	session := NewSession(s.newID(), opts.Retry)
	r := &run{
		solver:   s,
		page:     page,
		opts:     opts,
		sel:      opts.Selectors,
		session:  session,
		logger:   logging.WithSession(session.ID()),
		pipeline: audioPipeline{normalizer: s.normalizer(opts.TranscodeBinary), transcriber: s.transcriber},
	}

	start := time.Now()
	s.metrics.RecordSolveStart()
	r.logger.Info().
		Int("retry", opts.Retry).
		Dur("wait", opts.Wait).
		Msg("Solve started")

	solved, err := r.solve(ctx)
	if err != nil {
		r.to(StateFailed)
	}
	elapsed := time.Since(start)

	outcome := strings.ToLower(session.State().String())
	if err != nil {
		outcome = ErrorKind(err)
		r.logger.Warn().Err(err).Int("attempts", session.Tries()).Msg("Solve failed")
	} else {
		r.logger.Info().
			Bool("solved", solved).
			Int("attempts", session.Tries()).
			Dur("took", elapsed).
			Msg("Solve finished")
	}
	s.metrics.RecordSolveEnd(outcome, elapsed.Seconds())

	if s.reporter != nil {
		ev := models.SolveResult{
			SessionID:  session.ID(),
			Timestamp:  time.Now().UnixMilli(),
			Solved:     solved,
			State:      session.State().String(),
			Attempts:   session.Tries(),
			DurationMs: elapsed.Milliseconds(),
			ErrorKind:  ErrorKind(err),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		// Outlives the caller's cancellation so failed solves are reported too.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishWait)
		if perr := s.reporter.PublishResult(pubCtx, ev); perr != nil {
			r.logger.Warn().Err(perr).Msg("Failed to publish solve result")
		}
		cancel()
	}

	return Result{
		SessionID: session.ID(),
		Solved:    solved,
		Attempts:  session.Tries(),
		State:     session.State(),
	}, err
}

// run is the state of one Solve call.
type run struct {
	solver   *Solver
	page     browser.Page
	opts     Options
	sel      Selectors
	session  *Session
	logger   zerolog.Logger
	pipeline Pipeline
}

func (r *run) to(next State) {
	prev, err := r.session.Transition(next)
	if err != nil {
		r.logger.Error().Err(err).Stringer("to", next).Msg("Rejected state transition")
		return
	}
	r.logger.Debug().Stringer("from", prev).Stringer("to", next).Msg("State transition")
}

func (r *run) solve(ctx context.Context) (bool, error) {
	r.to(StateDetecting)
	bframe, err := r.detect(ctx)
	if err != nil {
		return false, err
	}

	loaded, err := bframe.QuerySelector(ctx, r.sel.Challenge)
	if err != nil {
		return false, err
	}
	r.logger.Debug().Bool("loaded", loaded != nil).Msg("Popup frame checked")

	if loaded == nil {
		r.to(StateCollapsed)
		invisible, err := r.expand(ctx, bframe)
		if err != nil {
			return false, err
		}
		if invisible {
			r.to(StateNotNeeded)
			return false, nil
		}
	}
	r.to(StateExpanded)

	challenge, err := bframe.QuerySelector(ctx, r.sel.Challenge)
	if err != nil {
		return false, err
	}
	if challenge == nil {
		return false, notFound(MsgNoChallengeBody, r.sel.Challenge, nil)
	}
	footer, err := challenge.HasClass(ctx, footerClass)
	if err != nil {
		return false, err
	}
	r.session.SetActionRequired(!footer)
	r.logger.Debug().Bool("required", !footer).Msg("Action check")
	if footer {
		r.to(StateNoActionNeeded)
		r.to(StateNotNeeded)
		return false, nil
	}

	r.to(StateAudioRequired)
	return r.solveAudio(ctx, bframe)
}

// detect waits for the popup iframe and resolves its document.
func (r *run) detect(ctx context.Context) (browser.Frame, error) {
	err := r.page.WaitForSelector(ctx, r.sel.BFrame, browser.WaitOptions{State: browser.StateAttached, Timeout: r.opts.Wait})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, notFound(MsgNoChallenge, r.sel.BFrame, err)
	}

	el, err := r.page.QuerySelector(ctx, r.sel.BFrame)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, notFound(MsgNoPopupFrame, r.sel.BFrame, nil)
	}
	frame, err := el.ContentFrame(ctx)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, notFound(MsgNoPopupContent, r.sel.BFrame, nil)
	}
	return frame, nil
}

// expand clicks the anchor label so the popup renders. It reports true for
// the invisible variant, which has no label.
func (r *run) expand(ctx context.Context, bframe browser.Frame) (bool, error) {
	err := r.page.WaitForSelector(ctx, r.sel.MainFrame, browser.WaitOptions{State: browser.StateAttached, Timeout: r.opts.Wait})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, notFound(MsgNoAnchorFrame, r.sel.MainFrame, err)
	}
	iframe, err := r.page.QuerySelector(ctx, r.sel.MainFrame)
	if err != nil {
		return false, err
	}
	if iframe == nil {
		return false, notFound(MsgNoAnchorFrame, r.sel.MainFrame, nil)
	}
	anchor, err := iframe.ContentFrame(ctx)
	if err != nil {
		return false, err
	}
	if anchor == nil {
		return false, notFound(MsgNoAnchorContent, r.sel.MainFrame, nil)
	}

	marker, err := anchor.QuerySelector(ctx, r.sel.Invisible)
	if err != nil {
		return false, err
	}
	r.session.SetInvisible(marker != nil)
	r.logger.Debug().Bool("invisible", marker != nil).Msg("Anchor checked")
	if marker != nil {
		return true, nil
	}

	label, err := anchor.QuerySelector(ctx, r.sel.Label)
	if err != nil {
		return false, err
	}
	if label == nil {
		return false, notFound(MsgNoLabel, r.sel.Label, nil)
	}
	if err := label.Click(ctx); err != nil {
		return false, fmt.Errorf("click anchor label: %w", err)
	}
	err = bframe.WaitForSelector(ctx, r.sel.Challenge, browser.WaitOptions{State: browser.StateVisible, Timeout: r.opts.Wait})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, notFound(MsgNoChallengeBody, r.sel.Challenge, err)
	}
	return false, nil
}

// solveAudio switches to the audio challenge and runs the attempt loop.
func (r *run) solveAudio(ctx context.Context, bframe browser.Frame) (bool, error) {
	err := bframe.WaitForSelector(ctx, r.sel.AudioButton, browser.WaitOptions{State: browser.StateVisible, Timeout: r.opts.Wait})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, notFound(MsgNoAudioButton, r.sel.AudioButton, err)
	}
	button, err := bframe.QuerySelector(ctx, r.sel.AudioButton)
	if err != nil {
		return false, err
	}
	if button == nil {
		return false, notFound(MsgNoAudioButton, r.sel.AudioButton, nil)
	}

	obsCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	obs := newObserver(obsCtx, r.session, r.pipeline, r.logger, r.solver.metrics)
	unsubscribe := r.page.OnResponse(obs.handle)
	defer unsubscribe()

	obs.ready.Reset()
	if err := button.Click(ctx); err != nil {
		return false, fmt.Errorf("click audio button: %w", err)
	}

	for {
		attempt, ok := r.session.StartAttempt()
		if !ok {
			return false, ErrVerificationExhausted
		}
		r.solver.metrics.RecordAttempt()
		logger := logging.WithAttempt(r.session.ID(), attempt)
		r.to(StateAwaitingAudio)

		if err := r.await(ctx, obs.ready, "ready"); err != nil {
			if errors.Is(err, errGateTimeout) {
				r.report(ctx, attempt, "timeout", "", ErrAudioNotFound)
				return false, ErrAudioNotFound
			}
			return false, err
		}

		if err := bframe.WaitForSelector(ctx, r.sel.AudioSource, browser.WaitOptions{State: browser.StateAttached, Timeout: r.opts.Wait}); err != nil {
			return false, fmt.Errorf("wait for audio source: %w", err)
		}
		if err := bframe.WaitForSelector(ctx, r.sel.AnswerInput, browser.WaitOptions{State: browser.StateVisible, Timeout: r.opts.Wait}); err != nil {
			return false, fmt.Errorf("wait for answer input: %w", err)
		}

		r.to(StateTranscribing)
		answer, err := obs.pending.Wait(ctx)
		if err != nil {
			return false, err
		}
		if answer.Empty() {
			r.solver.metrics.RecordEmptyAnswer()
			logger.Warn().Err(answer.Err).Msg("No answer recognized")

			reload, err := bframe.QuerySelector(ctx, r.sel.ReloadButton)
			if err != nil {
				return false, err
			}
			if reload != nil {
				r.to(StateRetryOrFail)
				obs.ready.Reset()
				if err := reload.Click(ctx); err != nil {
					return false, fmt.Errorf("click reload button: %w", err)
				}
				r.report(ctx, attempt, "reloaded", "", answer.Err)
				continue
			}
			logger.Warn().Msg("Reload control missing, submitting blank answer")
		}
		logger.Debug().Str("answer", answer.Text).Msg("Recognized")

		r.to(StateSubmitting)
		input, err := bframe.QuerySelector(ctx, r.sel.AnswerInput)
		if err != nil {
			return false, err
		}
		if input == nil {
			return false, notFound(MsgNoAudioInput, r.sel.AnswerInput, nil)
		}
		if err := input.Type(ctx, answer.Text, r.opts.Delay); err != nil {
			return false, fmt.Errorf("type answer: %w", err)
		}

		verify, err := bframe.QuerySelector(ctx, r.sel.VerifyButton)
		if err != nil {
			return false, err
		}
		if verify == nil {
			return false, notFound(MsgNoVerifyButton, r.sel.VerifyButton, nil)
		}
		obs.done.Reset()
		obs.ready.Reset()
		if err := verify.Click(ctx); err != nil {
			return false, fmt.Errorf("click verify button: %w", err)
		}

		r.to(StateAwaitingVerification)
		if err := r.await(ctx, obs.done, "done"); err != nil {
			if !errors.Is(err, errGateTimeout) {
				return false, err
			}
			logger.Warn().Dur("wait", r.opts.Wait).Msg("No verification response")
			r.to(StateRetryOrFail)

			outcome, seen, err := r.awaitLateVerdict(ctx, obs)
			if err != nil {
				return false, err
			}
			if !seen {
				r.report(ctx, attempt, "timeout", answer.Text, nil)
				continue
			}
			logger.Info().Stringer("outcome", outcome).Msg("Late verification received")
			r.report(ctx, attempt, outcome.String(), answer.Text, nil)
			if outcome.Passed() {
				r.to(StateSolved)
				return true, nil
			}
			continue
		}

		outcome := obs.lastOutcome()
		logger.Info().Stringer("outcome", outcome).Msg("Verification received")
		r.report(ctx, attempt, outcome.String(), answer.Text, nil)
		if outcome.Passed() {
			r.to(StateSolved)
			return true, nil
		}
		r.to(StateRetryOrFail)
	}
}

var errGateTimeout = errors.New("gate wait timed out")

// awaitLateVerdict keeps listening after the verification wait expired,
// until either the verification response or the next audio payload shows
// up. It reports whether a verdict arrived.
func (r *run) awaitLateVerdict(ctx context.Context, obs *observer) (VerifyOutcome, bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, r.opts.Wait)
	defer cancel()
	g, err := gate.LockAny(lockCtx, "late verdict", obs.done, obs.ready)
	if err != nil {
		if ctx.Err() != nil {
			return VerifyUnknown, false, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return VerifyUnknown, false, nil
		}
		return VerifyUnknown, false, err
	}
	if g == obs.ready {
		// Leave the signal for the next attempt's audio wait.
		obs.ready.Unlock("get sound")
		return VerifyUnknown, false, nil
	}
	return obs.lastOutcome(), true, nil
}

// await blocks on g for at most the configured wait.
func (r *run) await(ctx context.Context, g *gate.Gate, tag string) error {
	lockCtx, cancel := context.WithTimeout(ctx, r.opts.Wait)
	defer cancel()
	if err := g.Lock(lockCtx, tag); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			r.solver.metrics.RecordGateTimeout(g.Name())
			return errGateTimeout
		}
		return err
	}
	return nil
}

func (r *run) report(ctx context.Context, attempt int, outcome, answer string, err error) {
	if r.solver.reporter == nil {
		return
	}
	ev := models.AttemptEvent{
		SessionID: r.session.ID(),
		Timestamp: time.Now().UnixMilli(),
		Attempt:   attempt,
		Outcome:   outcome,
		Answer:    answer,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	pubCtx, cancel := context.WithTimeout(ctx, r.solver.publishWait)
	defer cancel()
	if perr := r.solver.reporter.PublishAttempt(pubCtx, ev); perr != nil {
		r.logger.Warn().Err(perr).Msg("Failed to publish attempt")
	}
}
