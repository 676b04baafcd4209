// Package emergency powers on a voice stack's radio so an emergency call can
// be placed while the device is in airplane mode.
package emergency

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flowpbx/telephony/internal/phone"
)

const (
	// DefaultTimeout is how long one power-on attempt waits for service.
	DefaultTimeout = 5 * time.Second
	// DefaultRetries is how many extra power-on attempts follow the first.
	DefaultRetries = 6
)

// Helper runs radio power-on sequences. At most one sequence runs per voice
// stack; starting another replaces it.
type Helper struct {
	timeout time.Duration
	retries int
	logger  *slog.Logger

	mu     sync.Mutex
	active map[int]*sequence
}

type sequence struct {
	callback func(ready bool)
	once     sync.Once
	cancel   chan struct{}
}

func (s *sequence) finish(ready bool) bool {
	fired := false
	s.once.Do(func() {
		fired = true
		s.callback(ready)
	})
	return fired
}

// NewHelper creates a sequencer. A zero timeout or negative retry count
// selects the default.
func NewHelper(timeout time.Duration, retries int, logger *slog.Logger) *Helper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retries < 0 {
		retries = DefaultRetries
	}
	return &Helper{
		timeout: timeout,
		retries: retries,
		logger:  logger.With("subsystem", "emergency_radio"),
		active:  make(map[int]*sequence),
	}
}

// StartTurnOnRadioSequence turns on p's radio and calls callback exactly
// once, from another goroutine, with whether the stack came into service.
// A sequence already running for p is abandoned with false.
func (h *Helper) StartTurnOnRadioSequence(p phone.Phone, callback func(ready bool)) {
	seq := &sequence{
		callback: callback,
		cancel:   make(chan struct{}),
	}

	h.mu.Lock()
	prev := h.active[p.ID()]
	h.active[p.ID()] = seq
	h.mu.Unlock()

	if prev != nil {
		close(prev.cancel)
		if prev.finish(false) {
			h.logger.Info("radio sequence replaced", "phone_id", p.ID())
		}
	}

	go h.run(p, seq)
}

// Running reports whether a sequence is in progress for the phone.
func (h *Helper) Running(phoneID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.active[phoneID]
	return ok
}

func (h *Helper) run(p phone.Phone, seq *sequence) {
	logger := h.logger.With("phone_id", p.ID())

	changed := make(chan struct{}, 1)
	unsubscribe := p.SubscribeServiceState(func(phone.ServiceState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()
	defer h.release(p.ID(), seq)

	for attempt := 0; attempt <= h.retries; attempt++ {
		if isReady(p.ServiceState()) {
			h.complete(logger, seq, true, attempt)
			return
		}

		logger.Info("turning on radio", "attempt", attempt+1)
		p.SetRadioPower(true)

		if h.await(p, seq, changed) {
			h.complete(logger, seq, true, attempt+1)
			return
		}
		select {
		case <-seq.cancel:
			return
		default:
		}
	}

	logger.Warn("radio did not come into service",
		"attempts", h.retries+1,
		"state", p.ServiceState().String(),
	)
	seq.finish(false)
}

// await waits one attempt's timeout for the stack to become ready.
func (h *Helper) await(p phone.Phone, seq *sequence, changed <-chan struct{}) bool {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	for {
		if isReady(p.ServiceState()) {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			return isReady(p.ServiceState())
		case <-seq.cancel:
			return false
		}
	}
}

func (h *Helper) complete(logger *slog.Logger, seq *sequence, ready bool, attempts int) {
	if seq.finish(ready) {
		logger.Info("radio ready for emergency call", "attempts", attempts)
	}
}

func (h *Helper) release(phoneID int, seq *sequence) {
	h.mu.Lock()
	if h.active[phoneID] == seq {
		delete(h.active, phoneID)
	}
	h.mu.Unlock()
}

func isReady(s phone.ServiceState) bool {
	return s == phone.StateInService || s == phone.StateEmergencyOnly
}
