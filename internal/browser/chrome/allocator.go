package chrome

import (
	"context"

	"github.com/chromedp/chromedp"

	"recaptcha-audio-solver/internal/observability/logging"
)

// Options configures the browser process.
type Options struct {
	ExecPath  string
	Headless  bool
	UserAgent string
}

// AllocatorOptions builds the exec allocator flags for opts.
func AllocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.WindowSize(1280, 900),
	)
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	return out
}

// NewBrowser starts a browser process and returns its root tab context.
// Cancelling the returned func stops the browser.
func NewBrowser(parent context.Context, opts Options) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, AllocatorOptions(opts)...)
	logger := logging.WithComponent("chromedp")
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug().Msgf(format, args...)
		}),
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			logger.Warn().Msgf(format, args...)
		}),
	)
	return ctx, func() {
		cancel()
		allocCancel()
	}
}

// NewTab opens a new tab in the browser started by NewBrowser.
func NewTab(browserCtx context.Context) (*Page, context.CancelFunc, error) {
	ctx, cancel := chromedp.NewContext(browserCtx)
	p, err := NewPage(ctx)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return p, cancel, nil
}
