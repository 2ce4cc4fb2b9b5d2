// Package browser defines the narrow automation surface the challenge solver
// drives: selector waits, element lookup, frame resolution, interaction and
// network response subscription.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a selector wait expires.
var ErrTimeout = errors.New("timed out waiting for selector")

// WaitState is the element state a selector wait is satisfied by.
type WaitState string

const (
	StateAttached WaitState = "attached"
	StateVisible  WaitState = "visible"
)

// WaitOptions bounds a selector wait.
type WaitOptions struct {
	State   WaitState
	Timeout time.Duration
}

// Frame is a document context: the top-level page or an iframe's content.
type Frame interface {
	// WaitForSelector blocks until sel reaches opts.State or returns an error
	// wrapping ErrTimeout.
	WaitForSelector(ctx context.Context, sel string, opts WaitOptions) error
	// QuerySelector returns the first match, or nil when nothing matches.
	QuerySelector(ctx context.Context, sel string) (Element, error)
}

// Page is a top-level tab.
type Page interface {
	Frame
	// OnResponse registers fn for every completed network response and
	// returns a function that removes it.
	OnResponse(fn func(Response)) (unsubscribe func())
}

// Element is a handle to a DOM node.
type Element interface {
	// ContentFrame returns the document of an iframe element, or nil.
	ContentFrame(ctx context.Context) (Frame, error)
	Click(ctx context.Context) error
	// Type sends text one character at a time, pausing delay between keys.
	Type(ctx context.Context, text string, delay time.Duration) error
	HasClass(ctx context.Context, class string) (bool, error)
}

// Response is a completed network response.
type Response interface {
	URL() string
	// Headers are keyed by lower-case header name.
	Headers() map[string]string
	Body(ctx context.Context) ([]byte, error)
}
