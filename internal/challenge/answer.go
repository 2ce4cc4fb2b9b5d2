package challenge

import (
	"context"
	"sync"
)

// Answer is the outcome of transcribing one audio payload.
type Answer struct {
	Text string
	Err  error
}

// Empty reports whether there is nothing worth submitting.
func (a Answer) Empty() bool {
	return a.Err != nil || a.Text == ""
}

// answerSlot is one bound transcription.
type answerSlot struct {
	done       chan struct{}
	superseded chan struct{}
	once       sync.Once
	answer     Answer
}

func newAnswerSlot() *answerSlot {
	return &answerSlot{
		done:       make(chan struct{}),
		superseded: make(chan struct{}),
	}
}

func (s *answerSlot) resolve(a Answer) {
	s.once.Do(func() {
		s.answer = a
		close(s.done)
	})
}

// pendingAnswer is a single-slot, overwrite-on-send holder of the latest
// transcription. A rebind supersedes the previous slot; results of a
// superseded slot are never returned by Wait.
type pendingAnswer struct {
	mu  sync.Mutex
	cur *answerSlot
}

// newPendingAnswer starts with an already resolved empty answer.
func newPendingAnswer() *pendingAnswer {
	s := newAnswerSlot()
	s.resolve(Answer{})
	return &pendingAnswer{cur: s}
}

// rebind installs a fresh unresolved slot and returns it.
func (p *pendingAnswer) rebind() *answerSlot {
	s := newAnswerSlot()
	p.mu.Lock()
	prev := p.cur
	p.cur = s
	p.mu.Unlock()
	close(prev.superseded)
	return s
}

// Wait blocks until the current slot resolves, following rebinds.
func (p *pendingAnswer) Wait(ctx context.Context) (Answer, error) {
	for {
		p.mu.Lock()
		s := p.cur
		p.mu.Unlock()

		select {
		case <-s.done:
			select {
			case <-s.superseded:
				continue
			default:
				return s.answer, nil
			}
		case <-s.superseded:
		case <-ctx.Done():
			return Answer{}, ctx.Err()
		}
	}
}
