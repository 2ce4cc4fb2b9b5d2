package chrome

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"recaptcha-audio-solver/internal/browser"
)

// element is a DOM node handle within a tab.
type element struct {
	page *Page
	node *cdp.Node
}

// ContentFrame returns the iframe's document, or nil for other elements.
func (e *element) ContentFrame(context.Context) (browser.Frame, error) {
	if !strings.EqualFold(e.node.NodeName, "iframe") {
		return nil, nil
	}
	return &frame{page: e.page, root: e.node}, nil
}

func (e *element) Click(ctx context.Context) error {
	return e.page.run(ctx, 0, chromedp.MouseClickNode(e.node))
}

func (e *element) Type(ctx context.Context, text string, delay time.Duration) error {
	for i, r := range text {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := e.page.run(ctx, 0, chromedp.KeyEventNode(e.node, string(r))); err != nil {
			return err
		}
	}
	return nil
}

func (e *element) HasClass(_ context.Context, class string) (bool, error) {
	return hasClass(e.node.AttributeValue("class"), class), nil
}

func hasClass(attr, class string) bool {
	for _, c := range strings.Fields(attr) {
		if c == class {
			return true
		}
	}
	return false
}

// frame scopes queries to an iframe's document.
type frame struct {
	page *Page
	root *cdp.Node
}

func (f *frame) WaitForSelector(ctx context.Context, sel string, opts browser.WaitOptions) error {
	return waitFor(ctx, f.page, f.root, sel, opts)
}

func (f *frame) QuerySelector(ctx context.Context, sel string) (browser.Element, error) {
	return query(ctx, f.page, f.root, sel)
}

// response is a completed network response whose body is fetched on demand.
type response struct {
	page    *Page
	id      network.RequestID
	url     string
	headers map[string]string
}

func (r *response) URL() string                { return r.url }
func (r *response) Headers() map[string]string { return r.headers }

func (r *response) Body(ctx context.Context) ([]byte, error) {
	var body []byte
	err := r.page.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(r.id).Do(ctx)
		return err
	}))
	return body, err
}
