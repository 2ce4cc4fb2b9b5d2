// Package chrome implements browser.Page on top of the Chrome DevTools
// Protocol using chromedp.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"recaptcha-audio-solver/internal/browser"
	"recaptcha-audio-solver/internal/observability/logging"
)

const responseQueueSize = 64

// Page is a chromedp tab. All actions run against the tab context the page
// was created with; caller contexts only bound them.
type Page struct {
	ctx    context.Context
	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[int]func(browser.Response)
	nextID   int
	pending  map[network.RequestID]*network.Response

	queue chan *response
}

// NewPage enables network events on the tab in ctx and starts dispatching
// completed responses. ctx must come from chromedp.NewContext.
func NewPage(ctx context.Context) (*Page, error) {
	p := &Page{
		ctx:      ctx,
		logger:   logging.WithComponent("browser"),
		handlers: make(map[int]func(browser.Response)),
		pending:  make(map[network.RequestID]*network.Response),
		queue:    make(chan *response, responseQueueSize),
	}
	chromedp.ListenTarget(ctx, p.onEvent)
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		return nil, fmt.Errorf("enable network events: %w", err)
	}
	go p.dispatch()
	return p, nil
}

// Navigate loads url in the tab.
func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, 0, chromedp.Navigate(url))
}

// OnResponse implements browser.Page.
func (p *Page) OnResponse(fn func(browser.Response)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.handlers, id)
			p.mu.Unlock()
		})
	}
}

// WaitForSelector implements browser.Frame.
func (p *Page) WaitForSelector(ctx context.Context, sel string, opts browser.WaitOptions) error {
	return waitFor(ctx, p, nil, sel, opts)
}

// QuerySelector implements browser.Frame.
func (p *Page) QuerySelector(ctx context.Context, sel string) (browser.Element, error) {
	return query(ctx, p, nil, sel)
}

// onEvent runs on the chromedp event goroutine and must not block.
func (p *Page) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		p.mu.Lock()
		p.pending[e.RequestID] = e.Response
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		p.mu.Lock()
		resp, ok := p.pending[e.RequestID]
		delete(p.pending, e.RequestID)
		p.mu.Unlock()
		if !ok {
			return
		}
		select {
		case p.queue <- &response{page: p, id: e.RequestID, url: resp.URL, headers: normalizeHeaders(resp.Headers)}:
		default:
			p.logger.Warn().Str("url", resp.URL).Msg("Response queue full, dropping response")
		}
	case *network.EventLoadingFailed:
		p.mu.Lock()
		delete(p.pending, e.RequestID)
		p.mu.Unlock()
	}
}

// dispatch delivers responses to handlers in arrival order.
func (p *Page) dispatch() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case r := <-p.queue:
			p.mu.Lock()
			fns := make([]func(browser.Response), 0, len(p.handlers))
			for _, fn := range p.handlers {
				fns = append(fns, fn)
			}
			p.mu.Unlock()
			for _, fn := range fns {
				fn(r)
			}
		}
	}
}

// run executes actions on the tab, bounded by ctx and an optional timeout.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func waitFor(ctx context.Context, p *Page, root *cdp.Node, sel string, opts browser.WaitOptions) error {
	qopts := queryOptions(root)
	var action chromedp.QueryAction
	switch opts.State {
	case browser.StateVisible:
		action = chromedp.WaitVisible(sel, qopts...)
	default:
		action = chromedp.WaitReady(sel, qopts...)
	}
	err := p.run(ctx, opts.Timeout, action)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", browser.ErrTimeout, sel, opts.Timeout)
	}
	return err
}

func query(ctx context.Context, p *Page, root *cdp.Node, sel string) (browser.Element, error) {
	var nodes []*cdp.Node
	qopts := append(queryOptions(root), chromedp.AtLeast(0))
	if err := p.run(ctx, 0, chromedp.Nodes(sel, &nodes, qopts...)); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &element{page: p, node: nodes[0]}, nil
}

func queryOptions(root *cdp.Node) []chromedp.QueryOption {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if root != nil {
		opts = append(opts, chromedp.FromNode(root))
	}
	return opts
}

// normalizeHeaders lower-cases header names and stringifies values.
func normalizeHeaders(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return out
}
