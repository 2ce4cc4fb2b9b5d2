package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"recaptcha-audio-solver/internal/browser/chrome"
	"recaptcha-audio-solver/internal/challenge"
	"recaptcha-audio-solver/internal/config"
	"recaptcha-audio-solver/internal/events"
	"recaptcha-audio-solver/internal/media"
	"recaptcha-audio-solver/internal/observability/logging"
	"recaptcha-audio-solver/internal/service/stt"
	"recaptcha-audio-solver/internal/service/stt/google"
	"recaptcha-audio-solver/internal/service/stt/mock"
	"recaptcha-audio-solver/internal/service/stt/vosk"
)

var (
	// ErrNotStarted is returned by Solve before Start succeeded.
	ErrNotStarted = errors.New("application not started")
	// ErrMockProvider is returned by CheckLiveProvider for the scripted recognizer.
	ErrMockProvider = errors.New("STT provider is the scripted mock; set STT_PROVIDER to vosk or google")
)

// Application holds process-wide state for the solver: the speech model,
// the solver built on it, the event publisher and the browser.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Model     stt.Model
	Solver    *challenge.Solver
	Publisher *events.Publisher

	// newModel selects the recognizer backend; replaced in tests.
	newModel func(ctx context.Context, cfg config.STTConfig) (stt.Model, error)

	browserMu     sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	a := &Application{
		Cfg:      cfg,
		newModel: NewModel,
	}
	a.setupLogger()

	a.Logger.Info().
		Str("method", "New").
		Str("sttProvider", cfg.STT.Provider).
		Msg("reCAPTCHA solver application created")
	return a
}

// setupLogger configures zerolog for the process. ZEROLOG_LOG_LEVEL overrides
// the configured level and ENV=dev forces console output.
func (a *Application) setupLogger() {
	lc := logging.Config{
		Level:  a.Cfg.Observability.LogLevel,
		Format: a.Cfg.Observability.LogFormat,
	}
	if envLevel := os.Getenv("ZEROLOG_LOG_LEVEL"); envLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(envLevel)); err == nil {
			lc.Level = strings.ToLower(envLevel)
		}
	}
	if os.Getenv("ENV") == "dev" {
		lc.Format = "console"
	}
	logging.Init(lc)

	a.Logger = logging.Logger().With().
		Str("service", a.Cfg.Service.Principal).
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// NewModel loads the configured speech model. Loading happens once per process.
func NewModel(ctx context.Context, cfg config.STTConfig) (stt.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		return mock.New(), nil
	case "vosk":
		m, err := vosk.Load(cfg.ModelDir)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "google":
		gc := google.DefaultConfig()
		if cfg.LanguageCode != "" {
			gc.LanguageCode = cfg.LanguageCode
		}
		m, err := google.New(ctx, gc)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

// CheckLiveProvider rejects the scripted mock recognizer, which would type
// canned answers into a real challenge.
func (a *Application) CheckLiveProvider() error {
	switch strings.ToLower(a.Cfg.STT.Provider) {
	case "", "mock":
		return ErrMockProvider
	}
	return nil
}

// Start loads the speech model and wires the solver. The browser is started
// on the first solve.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	model, err := a.newModel(ctx, a.Cfg.STT)
	if err != nil {
		return fmt.Errorf("load %s model: %w", a.Cfg.STT.Provider, err)
	}
	a.Model = model

	principal := a.Cfg.Kafka.Principal
	if principal == "" {
		principal = a.Cfg.Service.Principal
	}
	a.Publisher = events.New(&events.Config{
		Enabled:       a.Cfg.Kafka.Enabled,
		Brokers:       a.Cfg.Kafka.Brokers,
		TopicAttempts: a.Cfg.Kafka.TopicAttempts,
		TopicResults:  a.Cfg.Kafka.TopicResults,
		Principal:     principal,
	})

	transcriber := stt.NewTranscriber(model,
		stt.WithFrameBytes(a.Cfg.STT.FrameBytes),
		stt.WithMaxAlternatives(a.Cfg.STT.MaxAlternatives),
	)
	a.Solver = challenge.NewSolver(transcriber,
		challenge.WithReporter(a.Publisher),
		challenge.WithNormalizerFactory(func(binary string) challenge.Normalizer {
			return media.NewNormalizer(binary, media.WithProgress(func(p media.Progress) {
				a.Logger.Debug().
					Dur("outTime", p.OutTime).
					Bool("done", p.Done).
					Msg("Transcode progress")
			}))
		}),
	)

	if model.Name() == "mock" {
		startLogger.Warn().Msg("Using the scripted mock recognizer; answers are canned and will not solve real challenges")
	}

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("model", model.Name()).
		Msg("reCAPTCHA solver starting")
	return nil
}

// Ready reports whether Start completed.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Options returns the solver options from configuration. The configuration
// carries its defaults, so a configured zero delay or retry is taken literally.
func (a *Application) Options() challenge.Options {
	opts := challenge.DefaultOptions()
	opts.Delay = a.Cfg.Solver.Delay
	if opts.Delay == 0 {
		opts.Delay = challenge.NoDelay
	}
	opts.Wait = a.Cfg.Solver.Wait
	opts.Retry = a.Cfg.Solver.Retry
	if opts.Retry == 0 {
		opts.Retry = challenge.NoRetry
	}
	opts.TranscodeBinary = a.Cfg.Solver.TranscodeBinary
	return opts
}

// browser returns the shared browser context, starting it on first use.
func (a *Application) browser() context.Context {
	a.browserMu.Lock()
	defer a.browserMu.Unlock()
	if a.browserCtx == nil {
		a.browserCtx, a.browserCancel = chrome.NewBrowser(context.Background(), chrome.Options{
			ExecPath:  a.Cfg.Browser.ExecPath,
			Headless:  a.Cfg.Browser.Headless,
			UserAgent: a.Cfg.Browser.UserAgent,
		})
	}
	return a.browserCtx
}

// SolveURL opens url in a new tab and solves the challenge on it.
func (a *Application) SolveURL(ctx context.Context, url string) (challenge.Result, error) {
	if !a.Ready() {
		return challenge.Result{}, ErrNotStarted
	}
	page, closeTab, err := chrome.NewTab(a.browser())
	if err != nil {
		return challenge.Result{}, fmt.Errorf("open tab: %w", err)
	}
	defer closeTab()

	if err := page.Navigate(ctx, url); err != nil {
		return challenge.Result{}, fmt.Errorf("navigate to %s: %w", url, err)
	}
	return a.Solver.SolveSession(ctx, page, a.Options())
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	shutdownLogger.Info().Msg("reCAPTCHA solver shutting down")

	a.browserMu.Lock()
	if a.browserCancel != nil {
		a.browserCancel()
		a.browserCtx, a.browserCancel = nil, nil
	}
	a.browserMu.Unlock()

	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Publisher close failed")
		}
	}
	if a.Model != nil {
		if err := a.Model.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Model close failed")
		}
	}
}
