package telephony

import (
	"log/slog"
	"sync"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
)

// AnswerAndReleaseHandler answers an incoming session once every other
// managed session and conference has gone away. It is a one-shot job:
// CheckAndAnswer asks each live session and conference to disconnect and
// tracks it until it reports disconnected (sessions) or destroyed
// (conferences). When nothing is tracked the incoming session is answered,
// if it is still ringing, and the OnAnswered listeners run. That happens
// exactly once; later events and calls have no effect.
type AnswerAndReleaseHandler struct {
	incoming   telecom.Connection
	videoState phone.VideoState
	logger     *slog.Logger

	// mu guards the tracked collections, the in-progress check count and
	// the completion flag together so completion is decided atomically.
	mu          sync.Mutex
	connections map[*Connection]func()
	conferences map[*Conference]func()
	checking    int
	completed   bool
	done        chan struct{}

	listenersMu sync.Mutex
	nextID      uint64
	listeners   map[uint64]func()
}

// NewAnswerAndReleaseHandler creates a job that answers incoming with
// videoState.
func NewAnswerAndReleaseHandler(incoming telecom.Connection, videoState phone.VideoState, logger *slog.Logger) *AnswerAndReleaseHandler {
	return &AnswerAndReleaseHandler{
		incoming:    incoming,
		videoState:  videoState,
		logger:      logger.With("subsystem", "answer_release", "connection_id", incoming.ID()),
		connections: make(map[*Connection]func()),
		conferences: make(map[*Conference]func()),
		done:        make(chan struct{}),
		listeners:   make(map[uint64]func()),
	}
}

// OnAnswered registers fn to run once the job completes. If it already has,
// fn runs immediately.
func (h *AnswerAndReleaseHandler) OnAnswered(fn func()) (unsubscribe func()) {
	h.mu.Lock()
	completed := h.completed
	h.mu.Unlock()
	if completed {
		fn()
		return func() {}
	}

	h.listenersMu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.listenersMu.Unlock()

	// Completion may have happened while registering; the listener map is
	// drained by notifyAnswered, so a listener still present now has not run.
	h.mu.Lock()
	completed = h.completed
	h.mu.Unlock()
	if completed {
		h.listenersMu.Lock()
		_, pending := h.listeners[id]
		delete(h.listeners, id)
		h.listenersMu.Unlock()
		if pending {
			fn()
		}
	}

	return func() {
		h.listenersMu.Lock()
		delete(h.listeners, id)
		h.listenersMu.Unlock()
	}
}

// Done is closed when the job completes.
func (h *AnswerAndReleaseHandler) Done() <-chan struct{} { return h.done }

// Pending returns the number of sessions and conferences still awaited.
func (h *AnswerAndReleaseHandler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections) + len(h.conferences)
}

// CheckAndAnswer asks every live managed session and conference among the
// candidates to disconnect, then answers if nothing is left to wait for.
// Ringing and disconnected sessions, disconnected conferences, the incoming
// session itself and anything not created by this package are skipped.
// Candidates already tracked by an earlier call are not disconnected again.
func (h *AnswerAndReleaseHandler) CheckAndAnswer(conns []telecom.Connection, confs []telecom.Conference) {
	h.mu.Lock()
	if h.completed {
		h.mu.Unlock()
		return
	}
	h.checking++

	// Track and subscribe to everything before disconnecting anything, so
	// a disconnect reported synchronously cannot complete the job while
	// other candidates are still unprocessed.
	var newConns []*Connection
	for _, c := range conns {
		mc, ok := c.(*Connection)
		if !ok || c == h.incoming {
			continue
		}
		switch mc.State() {
		case telecom.StateRinging, telecom.StateDisconnected:
			continue
		}
		if _, tracked := h.connections[mc]; tracked {
			continue
		}
		h.connections[mc] = mc.OnDisconnected(func(telecom.DisconnectCause) { h.removeConnection(mc) })
		newConns = append(newConns, mc)
	}

	var newConfs []*Conference
	for _, c := range confs {
		mc, ok := c.(*Conference)
		if !ok || mc.State() == telecom.StateDisconnected {
			continue
		}
		if _, tracked := h.conferences[mc]; tracked {
			continue
		}
		h.conferences[mc] = mc.OnDestroyed(func() { h.removeConference(mc) })
		newConfs = append(newConfs, mc)
	}
	h.mu.Unlock()

	// A candidate that ended between the state check and the subscription
	// will never report again.
	for _, c := range newConns {
		if c.State() == telecom.StateDisconnected {
			h.removeConnection(c)
		}
	}
	for _, c := range newConfs {
		if c.IsDestroyed() {
			h.removeConference(c)
		}
	}

	if len(newConns) > 0 || len(newConfs) > 0 {
		h.logger.Info("releasing calls before answer",
			"connections", len(newConns),
			"conferences", len(newConfs),
		)
	}
	for _, c := range newConns {
		c.Disconnect()
	}
	for _, c := range newConfs {
		c.Disconnect()
	}

	h.mu.Lock()
	h.checking--
	h.mu.Unlock()

	h.maybeAnswer()
}

func (h *AnswerAndReleaseHandler) removeConnection(c *Connection) {
	h.mu.Lock()
	unsubscribe, ok := h.connections[c]
	delete(h.connections, c)
	h.mu.Unlock()

	if !ok {
		return
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	h.maybeAnswer()
}

func (h *AnswerAndReleaseHandler) removeConference(c *Conference) {
	h.mu.Lock()
	unsubscribe, ok := h.conferences[c]
	delete(h.conferences, c)
	h.mu.Unlock()

	if !ok {
		return
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	h.maybeAnswer()
}

func (h *AnswerAndReleaseHandler) maybeAnswer() {
	h.mu.Lock()
	if h.completed || h.checking > 0 || len(h.connections) > 0 || len(h.conferences) > 0 {
		h.mu.Unlock()
		return
	}
	h.completed = true
	h.mu.Unlock()

	if h.incoming.State() == telecom.StateRinging {
		h.logger.Info("answering after release")
		h.incoming.Answer(h.videoState)
	} else {
		h.logger.Info("incoming connection no longer ringing, not answering", "state", h.incoming.State().String())
	}

	h.notifyAnswered()
	close(h.done)
}

func (h *AnswerAndReleaseHandler) notifyAnswered() {
	h.listenersMu.Lock()
	fns := make([]func(), 0, len(h.listeners))
	for id, fn := range h.listeners {
		fns = append(fns, fn)
		delete(h.listeners, id)
	}
	h.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
