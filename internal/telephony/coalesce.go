package telephony

import "sync"

// coalescer runs a function with at most one invocation in flight. A call
// that arrives while the function is running, from the same goroutine or
// another one, does not block: it marks the running invocation dirty and
// returns, and the running invocation repeats once it finishes.
type coalescer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	dirty   bool
	passes  uint64
}

func (s *coalescer) run(fn func()) {
	s.mu.Lock()
	if s.running {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.loop(fn)
}

// runAndWait is run, except that a call arriving while another goroutine is
// running fn waits until the repeat pass has finished. It deadlocks if
// called from fn.
func (s *coalescer) runAndWait(fn func()) {
	s.mu.Lock()
	if !s.running {
		s.loop(fn)
		return
	}
	s.dirty = true
	// The pass in flight ends at passes+1; the repeat it owes us at +2.
	want := s.passes + 2
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
	for s.passes < want {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// loop is entered with mu held and returns with it released.
func (s *coalescer) loop(fn func()) {
	s.running = true
	for {
		s.dirty = false
		s.mu.Unlock()

		fn()

		s.mu.Lock()
		s.passes++
		if s.cond != nil {
			s.cond.Broadcast()
		}
		if !s.dirty {
			s.running = false
			s.mu.Unlock()
			return
		}
	}
}
