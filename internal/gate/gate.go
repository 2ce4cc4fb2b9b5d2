// Package gate provides a binary latch used to hand a signal from an event
// callback to a goroutine running a linear control flow.
package gate

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrBusy is returned by Lock when another caller is already waiting.
var ErrBusy = errors.New("gate already has a waiter")

// Gate is a single-waiter binary latch.
//
// Unlock wakes the outstanding Lock call, or, when nobody is waiting, leaves
// the gate open so the next Lock returns immediately. A second Unlock on an
// already open gate is a no-op. A Lock abandoned through its context is
// removed from the gate and never resumed later.
//
// Reset closes the gate again and discards any signal recorded so far. Call it
// before triggering the action whose signal the next Lock waits for.
type Gate struct {
	name   string
	logger zerolog.Logger

	mu     sync.Mutex
	open   bool
	waiter chan struct{}
}

// New creates a closed gate. The name is used for diagnostics only.
func New(name string) *Gate {
	return &Gate{
		name: name,
		logger: log.With().
			Str("component", "gate").
			Str("gate", name).
			Logger(),
	}
}

// Name returns the gate name.
func (g *Gate) Name() string {
	return g.name
}

// Lock blocks until the gate is unlocked or ctx is done. The tag labels the
// waiter in logs. It returns ctx.Err() when the wait was abandoned and
// ErrBusy when another Lock is outstanding.
func (g *Gate) Lock(ctx context.Context, tag string) error {
	g.mu.Lock()
	if g.open {
		g.open = false
		g.mu.Unlock()
		g.logger.Debug().Str("tag", tag).Msg("gate already open")
		return nil
	}
	if g.waiter != nil {
		g.mu.Unlock()
		return ErrBusy
	}
	ch := make(chan struct{})
	g.waiter = ch
	g.mu.Unlock()

	g.logger.Debug().Str("tag", tag).Msg("waiting on gate")

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.waiter == ch {
			g.waiter = nil
			g.logger.Debug().Str("tag", tag).Msg("gate wait abandoned")
			return ctx.Err()
		}
		// Unlock won the race and already handed us the signal.
		return nil
	}
}

// Unlock opens the gate. It reports whether the call changed anything; false
// means the gate was already open.
func (g *Gate) Unlock(tag string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.waiter != nil {
		close(g.waiter)
		g.waiter = nil
		g.logger.Debug().Str("tag", tag).Msg("gate released waiter")
		return true
	}
	if g.open {
		g.logger.Debug().Str("tag", tag).Msg("gate already open, unlock ignored")
		return false
	}
	g.open = true
	g.logger.Debug().Str("tag", tag).Msg("gate opened")
	return true
}

// Reset closes the gate and drops any recorded signal.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = false
}

// IsOpen reports whether an unconsumed signal is recorded.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// LockAny waits on several gates at once and returns the first one to open.
// A signal that another gate delivered while the winner was being picked is
// put back, so a later Lock on that gate still sees it.
func LockAny(ctx context.Context, tag string, gates ...*Gate) (*Gate, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		gate *Gate
		err  error
	}
	results := make(chan result, len(gates))
	for _, g := range gates {
		go func(g *Gate) {
			results <- result{gate: g, err: g.Lock(ctx, tag)}
		}(g)
	}

	var winner *Gate
	var firstErr error
	for range gates {
		r := <-results
		switch {
		case r.err != nil:
			if firstErr == nil {
				firstErr = r.err
			}
		case winner == nil:
			winner = r.gate
			cancel()
		default:
			r.gate.Unlock("restore")
		}
	}
	if winner != nil {
		return winner, nil
	}
	return nil, firstErr
}
