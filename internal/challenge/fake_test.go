package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"recaptcha-audio-solver/internal/browser"
	"recaptcha-audio-solver/internal/models"
)

// fakeResponse is a canned network response.
type fakeResponse struct {
	url     string
	headers map[string]string
	body    []byte
	bodyErr error
}

func (r *fakeResponse) URL() string                { return r.url }
func (r *fakeResponse) Headers() map[string]string { return r.headers }
func (r *fakeResponse) Body(context.Context) ([]byte, error) {
	return r.body, r.bodyErr
}

func audioResponse() *fakeResponse {
	return &fakeResponse{
		url:     "https://www.google.com/recaptcha/api2/payload?p=audio",
		headers: map[string]string{"content-type": "audio/mp3"},
		body:    []byte("ID3 compressed audio"),
	}
}

func verifyResponse(body string) *fakeResponse {
	return &fakeResponse{
		url:     VerifyURLPrefix + "?k=site-key",
		headers: map[string]string{"content-type": "application/json; charset=utf-8"},
		body:    []byte(body),
	}
}

// fakeElement records interactions.
type fakeElement struct {
	mu      sync.Mutex
	classes []string
	content *fakeFrame
	onClick func()

	clicks int
	typed  []string
	delays []time.Duration
}

func (e *fakeElement) ContentFrame(context.Context) (browser.Frame, error) {
	if e.content == nil {
		return nil, nil
	}
	return e.content, nil
}

func (e *fakeElement) Click(context.Context) error {
	e.mu.Lock()
	e.clicks++
	fn := e.onClick
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (e *fakeElement) Type(_ context.Context, text string, delay time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typed = append(e.typed, text)
	e.delays = append(e.delays, delay)
	return nil
}

func (e *fakeElement) HasClass(_ context.Context, class string) (bool, error) {
	for _, c := range e.classes {
		if c == class {
			return true, nil
		}
	}
	return false, nil
}

func (e *fakeElement) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *fakeElement) Typed() ([]string, []time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.typed...), append([]time.Duration{}, e.delays...)
}

// fakeFrame resolves selectors from a map. Waits succeed immediately when the
// selector is present and time out immediately otherwise.
type fakeFrame struct {
	mu       sync.Mutex
	elements map[string]*fakeElement
	waits    []string
}

func newFakeFrame() *fakeFrame {
	return &fakeFrame{elements: make(map[string]*fakeElement)}
}

func (f *fakeFrame) set(sel string, el *fakeElement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements[sel] = el
}

func (f *fakeFrame) WaitForSelector(_ context.Context, sel string, opts browser.WaitOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, sel)
	if _, ok := f.elements[sel]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s after %s", browser.ErrTimeout, sel, opts.Timeout)
}

func (f *fakeFrame) QuerySelector(_ context.Context, sel string) (browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[sel]
	if !ok {
		return nil, nil
	}
	return el, nil
}

// fakePage delivers emitted responses to subscribers on a separate goroutine,
// in emission order.
type fakePage struct {
	*fakeFrame

	mu          sync.Mutex
	handlers    map[int]func(browser.Response)
	nextID      int
	subscribed  int
	unsubscribe int
	emitted     sync.WaitGroup
}

func newFakePage() *fakePage {
	return &fakePage{
		fakeFrame: newFakeFrame(),
		handlers:  make(map[int]func(browser.Response)),
	}
}

func (p *fakePage) OnResponse(fn func(browser.Response)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = fn
	p.subscribed++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.handlers, id)
			p.unsubscribe++
			p.mu.Unlock()
		})
	}
}

// emit delivers responses asynchronously, one after another.
func (p *fakePage) emit(responses ...browser.Response) {
	p.emitted.Add(1)
	go func() {
		defer p.emitted.Done()
		for _, r := range responses {
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
	}()
}

func (p *fakePage) Subscriptions() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribed, p.unsubscribe
}

// widget is a scripted reCAPTCHA embedded in a fakePage.
type widget struct {
	page   *fakePage
	bframe *fakeFrame
	anchor *fakeFrame

	challenge   *fakeElement
	audioButton *fakeElement
	input       *fakeElement
	verify      *fakeElement
	reload      *fakeElement
	label       *fakeElement

	mu       sync.Mutex
	verdicts []string
}

// newWidget builds an expanded challenge. Each verify click answers with the
// next verdict body, failing once the script runs out. An empty verdict sends
// no verification response. Anything but a pass is followed by a fresh audio
// payload.
func newWidget(verdicts ...string) *widget {
	w := &widget{
		page:     newFakePage(),
		bframe:   newFakeFrame(),
		anchor:   newFakeFrame(),
		verdicts: verdicts,
	}
	sel := DefaultSelectors()

	w.page.set(sel.BFrame, &fakeElement{content: w.bframe})
	w.page.set(sel.MainFrame, &fakeElement{content: w.anchor})

	w.challenge = &fakeElement{}
	w.audioButton = &fakeElement{onClick: func() { w.page.emit(audioResponse()) }}
	w.input = &fakeElement{}
	w.verify = &fakeElement{onClick: w.onVerify}
	w.label = &fakeElement{onClick: func() { w.bframe.set(sel.Challenge, w.challenge) }}

	w.bframe.set(sel.Challenge, w.challenge)
	w.bframe.set(sel.AudioButton, w.audioButton)
	w.bframe.set(sel.AudioSource, &fakeElement{})
	w.bframe.set(sel.AnswerInput, w.input)
	w.bframe.set(sel.VerifyButton, w.verify)
	w.anchor.set(sel.Label, w.label)
	return w
}

func (w *widget) onVerify() {
	w.mu.Lock()
	verdict := failBody
	if len(w.verdicts) > 0 {
		verdict = w.verdicts[0]
		w.verdicts = w.verdicts[1:]
	}
	w.mu.Unlock()

	if verdict == passBody {
		w.page.emit(verifyResponse(verdict))
		return
	}
	if verdict == "" {
		w.page.emit(audioResponse())
		return
	}
	w.page.emit(verifyResponse(verdict), audioResponse())
}

// collapse removes the rendered challenge so the label must be clicked.
func (w *widget) collapse() {
	w.bframe.mu.Lock()
	delete(w.bframe.elements, DefaultSelectors().Challenge)
	w.bframe.mu.Unlock()
}

// withReload adds a reload control that serves a fresh audio payload.
func (w *widget) withReload() {
	w.reload = &fakeElement{onClick: func() { w.page.emit(audioResponse()) }}
	w.bframe.set(DefaultSelectors().ReloadButton, w.reload)
}

const (
	passBody = ")]}'\n[0,0,1]"
	failBody = ")]}'\n[0,0,0]"
)

// passthroughNormalizer returns its input.
type passthroughNormalizer struct {
	mu    sync.Mutex
	calls int
}

func (n *passthroughNormalizer) Normalize(_ context.Context, b []byte) ([]byte, error) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return b, nil
}

// scriptedTranscriber returns scripted answers in call order, repeating the last.
type scriptedTranscriber struct {
	mu      sync.Mutex
	answers []Answer
	calls   int
}

var errNoSpeech = errors.New("no speech recognized")

func (t *scriptedTranscriber) Transcribe(context.Context, []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := Answer{Text: "seven three nine"}
	if len(t.answers) > 0 {
		i := t.calls
		if i >= len(t.answers) {
			i = len(t.answers) - 1
		}
		a = t.answers[i]
	}
	t.calls++
	return a.Text, a.Err
}

// recordingReporter keeps published events.
type recordingReporter struct {
	mu       sync.Mutex
	attempts []models.AttemptEvent
	results  []models.SolveResult
}

func (r *recordingReporter) PublishAttempt(_ context.Context, ev models.AttemptEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, ev)
	return nil
}

func (r *recordingReporter) PublishResult(_ context.Context, ev models.SolveResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, ev)
	return nil
}

func (r *recordingReporter) Attempts() []models.AttemptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AttemptEvent{}, r.attempts...)
}

func (r *recordingReporter) Results() []models.SolveResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SolveResult{}, r.results...)
}

// stalledReporter blocks every publish until its context ends.
type stalledReporter struct {
	mu        sync.Mutex
	deadlines int
	calls     int
}

func (r *stalledReporter) wait(ctx context.Context) error {
	r.mu.Lock()
	r.calls++
	if _, ok := ctx.Deadline(); ok {
		r.deadlines++
	}
	r.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (r *stalledReporter) PublishAttempt(ctx context.Context, _ models.AttemptEvent) error {
	return r.wait(ctx)
}

func (r *stalledReporter) PublishResult(ctx context.Context, _ models.SolveResult) error {
	return r.wait(ctx)
}
