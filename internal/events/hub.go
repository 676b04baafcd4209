// Package events fans out session, conference and MMI events to live
// subscribers over WebSocket.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
)

// Event types.
const (
	TypeConnectionAdded   = "connection_added"
	TypeConnectionState   = "connection_state"
	TypeConnectionRemoved = "connection_removed"
	TypeConferenceAdded   = "conference_added"
	TypeConferenceState   = "conference_state"
	TypeConferenceRemoved = "conference_removed"
	TypeMMI               = "mmi"
	TypeServiceState      = "service_state"
	TypeSettingChanged    = "setting_changed"
)

// Event is one message delivered to subscribers.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// MMIData is the payload of an mmi event.
type MMIData struct {
	PhoneID    int    `json:"phone_id"`
	DialString string `json:"dial_string"`
}

// ServiceStateData is the payload of a service_state event.
type ServiceStateData struct {
	PhoneID int    `json:"phone_id"`
	State   string `json:"state"`
}

const clientBuffer = 64

// Hub delivers every published event to every subscriber. Slow subscribers
// lose events instead of blocking the publisher.
type Hub struct {
	logger *slog.Logger
	nextID atomic.Int64

	mu      sync.RWMutex
	clients map[chan Event]struct{}

	watchMu sync.Mutex
	watches map[string]func()
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With("subsystem", "events"),
		clients: make(map[chan Event]struct{}),
		watches: make(map[string]func()),
	}
}

// Subscribe returns a channel of future events and a func that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, clientBuffer)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends an event of the given type to all subscribers.
func (h *Hub) Publish(typ string, data any) {
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: typ,
		Time: time.Now(),
		Data: data,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("subscriber too slow, dropping event", "event_id", ev.ID, "type", typ)
		}
	}
}

// LaunchMMI publishes the dial string the radio consumed as an MMI code.
func (h *Hub) LaunchMMI(p phone.Phone, dialString string) {
	h.logger.Info("mmi code dialed", "phone_id", p.ID())
	h.Publish(TypeMMI, MMIData{PhoneID: p.ID(), DialString: dialString})
}

// Attach publishes registry changes and the state changes of every
// registered connection and conference. It returns a func that detaches.
func (h *Hub) Attach(registry *telecom.Registry) func() {
	return registry.Subscribe(h.handleRegistry)
}

// WatchPhones publishes service state changes of each phone.
func (h *Hub) WatchPhones(phones []phone.Phone) func() {
	unsubs := make([]func(), 0, len(phones))
	for _, p := range phones {
		id := p.ID()
		unsubs = append(unsubs, p.SubscribeServiceState(func(s phone.ServiceState) {
			h.Publish(TypeServiceState, ServiceStateData{PhoneID: id, State: s.String()})
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (h *Hub) handleRegistry(ev telecom.Event) {
	switch ev.Kind {
	case telecom.EventConnectionAdded:
		c := ev.Connection
		h.watch(c.ID(), c.OnStateChange(func(_, _ telecom.State) {
			h.Publish(TypeConnectionState, telecom.SnapshotConnection(c))
		}))
		h.Publish(TypeConnectionAdded, telecom.SnapshotConnection(c))
	case telecom.EventConnectionRemoved:
		h.unwatch(ev.Connection.ID())
		h.Publish(TypeConnectionRemoved, telecom.SnapshotConnection(ev.Connection))
	case telecom.EventConferenceAdded:
		c := ev.Conference
		h.watch(c.ID(), c.OnStateChange(func(_, _ telecom.State) {
			h.Publish(TypeConferenceState, telecom.SnapshotConference(c))
		}))
		h.Publish(TypeConferenceAdded, telecom.SnapshotConference(c))
	case telecom.EventConferenceRemoved:
		h.unwatch(ev.Conference.ID())
		h.Publish(TypeConferenceRemoved, telecom.SnapshotConference(ev.Conference))
	}
}

func (h *Hub) watch(id string, unsubscribe func()) {
	h.watchMu.Lock()
	h.watches[id] = unsubscribe
	h.watchMu.Unlock()
}

func (h *Hub) unwatch(id string) {
	h.watchMu.Lock()
	unsubscribe := h.watches[id]
	delete(h.watches, id)
	h.watchMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
