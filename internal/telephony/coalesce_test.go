package telephony

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescerReentrantCallRepeats(t *testing.T) {
	var s coalescer
	runs := 0

	var fn func()
	fn = func() {
		runs++
		if runs == 1 {
			s.run(fn)
			s.run(fn)
		}
	}
	s.run(fn)

	if runs != 2 {
		t.Errorf("expected reentrant calls to coalesce into one repeat, got %d runs", runs)
	}
}

func TestCoalescerNoOverlap(t *testing.T) {
	var s coalescer
	var inFlight, maxInFlight, runs atomic.Int32

	fn := func() {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		inFlight.Add(-1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(fn)
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("expected at most one invocation in flight, saw %d", maxInFlight.Load())
	}
	if runs.Load() < 1 {
		t.Error("expected at least one run")
	}
}

func TestCoalescerRunAndWaitWaitsForRepeat(t *testing.T) {
	var s coalescer
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func() {
		if runs.Add(1) == 1 {
			close(started)
			<-release
		}
	}

	go s.run(fn)
	<-started

	done := make(chan int32)
	go func() {
		s.runAndWait(fn)
		done <- runs.Load()
	}()

	select {
	case <-done:
		t.Fatal("runAndWait returned while the first pass was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case n := <-done:
		if n < 2 {
			t.Errorf("expected the repeat pass to finish first, saw %d runs", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runAndWait never returned")
	}
}

func TestCoalescerRunAndWaitIdle(t *testing.T) {
	var s coalescer
	runs := 0
	s.runAndWait(func() { runs++ })
	s.runAndWait(func() { runs++ })
	if runs != 2 {
		t.Errorf("expected 2 runs, got %d", runs)
	}
}
