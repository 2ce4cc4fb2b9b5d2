package chrome

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/rs/zerolog"

	"recaptcha-audio-solver/internal/browser"
)

func newTestPage(ctx context.Context) *Page {
	return &Page{
		ctx:      ctx,
		logger:   zerolog.Nop(),
		handlers: make(map[int]func(browser.Response)),
		pending:  make(map[network.RequestID]*network.Response),
		queue:    make(chan *response, responseQueueSize),
	}
}

func TestPage_DispatchesFinishedResponsesInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newTestPage(ctx)
	go p.dispatch()

	got := make(chan browser.Response, 4)
	unsubscribe := p.OnResponse(func(r browser.Response) { got <- r })
	defer unsubscribe()

	p.onEvent(&network.EventResponseReceived{
		RequestID: "1",
		Response: &network.Response{
			URL:     "https://www.google.com/recaptcha/api2/payload",
			Headers: network.Headers{"Content-Type": "audio/mp3"},
		},
	})
	p.onEvent(&network.EventResponseReceived{
		RequestID: "2",
		Response:  &network.Response{URL: "https://www.google.com/recaptcha/api2/userverify"},
	})
	p.onEvent(&network.EventResponseReceived{
		RequestID: "3",
		Response:  &network.Response{URL: "https://example.com/failed"},
	})
	p.onEvent(&network.EventLoadingFailed{RequestID: "3"})
	p.onEvent(&network.EventLoadingFinished{RequestID: "1"})
	p.onEvent(&network.EventLoadingFinished{RequestID: "2"})
	p.onEvent(&network.EventLoadingFinished{RequestID: "3"})

	var urls []string
	for i := 0; i < 2; i++ {
		select {
		case r := <-got:
			urls = append(urls, r.URL())
			if i == 0 && r.Headers()["content-type"] != "audio/mp3" {
				t.Errorf("expected lower-cased content-type header, got %v", r.Headers())
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for response dispatch")
		}
	}
	if urls[0] != "https://www.google.com/recaptcha/api2/payload" || urls[1] != "https://www.google.com/recaptcha/api2/userverify" {
		t.Errorf("expected responses in finish order, got %v", urls)
	}
	select {
	case r := <-got:
		t.Errorf("expected failed request not to be dispatched, got %s", r.URL())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPage_UnsubscribeStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newTestPage(ctx)
	go p.dispatch()

	got := make(chan browser.Response, 1)
	unsubscribe := p.OnResponse(func(r browser.Response) { got <- r })
	unsubscribe()
	unsubscribe()

	p.onEvent(&network.EventResponseReceived{RequestID: "1", Response: &network.Response{URL: "https://example.com"}})
	p.onEvent(&network.EventLoadingFinished{RequestID: "1"})

	select {
	case r := <-got:
		t.Errorf("expected no delivery after unsubscribe, got %s", r.URL())
	case <-time.After(50 * time.Millisecond):
	}
	if len(p.handlers) != 0 {
		t.Errorf("expected no handlers, got %d", len(p.handlers))
	}
}

func TestHasClass(t *testing.T) {
	tests := []struct {
		attr  string
		class string
		want  bool
	}{
		{"rc-footer", "rc-footer", true},
		{"rc-anchor rc-anchor-invisible", "rc-anchor-invisible", true},
		{"rc-footer-extra", "rc-footer", false},
		{"", "rc-footer", false},
	}
	for _, tt := range tests {
		if got := hasClass(tt.attr, tt.class); got != tt.want {
			t.Errorf("hasClass(%q, %q): expected %v, got %v", tt.attr, tt.class, tt.want, got)
		}
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := len(AllocatorOptions(Options{Headless: true}))
	full := len(AllocatorOptions(Options{Headless: true, ExecPath: "/usr/bin/chromium", UserAgent: "test"}))
	if full != base+2 {
		t.Errorf("expected exec path and user agent options added, got %d vs %d", full, base)
	}
}
