package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGate_UnlockBeforeLock_ResolvesImmediately(t *testing.T) {
	g := New("ready")

	if !g.Unlock("audio") {
		t.Fatal("expected first unlock to open the gate")
	}
	if !g.IsOpen() {
		t.Error("expected gate to remember the open state")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := g.Lock(ctx, "ready"); err != nil {
		t.Fatalf("expected immediate lock, got %v", err)
	}
	if g.IsOpen() {
		t.Error("expected lock to consume the open state")
	}
}

func TestGate_LockBeforeUnlock_WaitsForSignal(t *testing.T) {
	g := New("done")

	released := make(chan error, 1)
	go func() {
		released <- g.Lock(context.Background(), "done")
	}()

	select {
	case err := <-released:
		t.Fatalf("lock resolved before unlock: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	g.Unlock("verified")

	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("lock did not resolve after unlock")
	}
}

func TestGate_DoubleUnlock_IsNoop(t *testing.T) {
	g := New("ready")

	g.Unlock("first")
	if g.Unlock("second") {
		t.Error("expected second unlock on open gate to report no change")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Lock(ctx, "one"); err != nil {
		t.Fatalf("expected first lock to pass: %v", err)
	}

	// Only one signal was recorded; the second waiter must block.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if err := g.Lock(ctx2, "two"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded for second lock, got %v", err)
	}
}

func TestGate_TimeoutWins_NoStaleResume(t *testing.T) {
	g := New("ready")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Lock(ctx, "iteration-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// The abandoned waiter must not be resumed by a late signal.
	g.Unlock("late audio")

	// The next iteration resets before triggering its own action.
	g.Reset()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if err := g.Lock(ctx2, "iteration-2"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected next lock to block after reset, got %v", err)
	}
}

func TestGate_AbandonedWaiterIsRemoved(t *testing.T) {
	g := New("ready")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- g.Lock(ctx, "abandoned") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}

	// A fresh waiter must be accepted, not rejected as busy.
	errc2 := make(chan error, 1)
	go func() { errc2 <- g.Lock(context.Background(), "fresh") }()
	time.Sleep(20 * time.Millisecond)
	g.Unlock("signal")

	select {
	case err := <-errc2:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("fresh waiter never resumed")
	}
}

func TestGate_SecondWaiterIsBusy(t *testing.T) {
	g := New("done")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Lock(context.Background(), "first")
	}()
	time.Sleep(20 * time.Millisecond)

	if err := g.Lock(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	g.Unlock("release")
	wg.Wait()
}

func TestGate_Reset_DropsSignal(t *testing.T) {
	g := New("ready")
	g.Unlock("stale")
	g.Reset()

	if g.IsOpen() {
		t.Error("expected reset gate to be closed")
	}
}

func TestLockAny_ReturnsGateThatOpens(t *testing.T) {
	ready, done := New("ready"), New("done")

	go func() {
		time.Sleep(20 * time.Millisecond)
		done.Unlock("verified")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g, err := LockAny(ctx, "retry", ready, done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g != done {
		t.Errorf("expected done gate, got %s", g.Name())
	}

	// The losing waiter was withdrawn, so ready accepts a new Lock.
	ready.Unlock("audio")
	if err := ready.Lock(ctx, "next"); err != nil {
		t.Errorf("expected ready usable after LockAny, got %v", err)
	}
}

func TestLockAny_KeepsLosingSignal(t *testing.T) {
	ready, done := New("ready"), New("done")
	ready.Unlock("audio")
	done.Unlock("verified")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g, err := LockAny(ctx, "retry", ready, done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := ready
	if g == ready {
		other = done
	}
	if !other.IsOpen() {
		t.Errorf("expected %s signal kept for a later Lock", other.Name())
	}
	if g.IsOpen() {
		t.Errorf("expected %s signal consumed", g.Name())
	}
}

func TestLockAny_Timeout(t *testing.T) {
	ready, done := New("ready"), New("done")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	g, err := LockAny(ctx, "retry", ready, done)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if g != nil {
		t.Errorf("expected no gate, got %s", g.Name())
	}

	// Neither gate may be left with a stale waiter.
	ready.Unlock("late audio")
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if err := ready.Lock(ctx2, "next"); err != nil {
		t.Errorf("expected late signal to be recorded, got %v", err)
	}
}
