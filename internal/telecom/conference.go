package telecom

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conference is a merge of two or more connections into one logical call.
type Conference interface {
	ID() string
	State() State
	Connections() []Connection
	DisconnectCause() DisconnectCause
	CreatedAt() time.Time

	OnStateChange(fn func(old, new State)) (unsubscribe func())
	// OnDestroyed fires once, when the conference is torn down.
	OnDestroyed(fn func()) (unsubscribe func())
	IsDestroyed() bool

	Disconnect()
	Hold()
	Unhold()
	Destroy()
}

type conferenceMember interface {
	SetConference(Conference)
}

// ConferenceBase carries the lifecycle shared by Conference
// implementations. Call Init before use.
type ConferenceBase struct {
	mu          sync.RWMutex
	id          string
	createdAt   time.Time
	state       State
	cause       DisconnectCause
	connections []Connection
	destroyed   bool
	self        Conference

	listeners listeners
}

// Init assigns an id. self is the embedding Conference; it is what member
// connections report from their Conference method.
func (b *ConferenceBase) Init(self Conference) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = "conf-" + uuid.New().String()
	b.createdAt = time.Now()
	b.state = StateNew
	b.self = self
}

func (b *ConferenceBase) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

func (b *ConferenceBase) CreatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.createdAt
}

func (b *ConferenceBase) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *ConferenceBase) DisconnectCause() DisconnectCause {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cause
}

// Connections returns a snapshot of the member connections.
func (b *ConferenceBase) Connections() []Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Connection(nil), b.connections...)
}

// HasConnection reports whether c is a member.
func (b *ConferenceBase) HasConnection(c Connection) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, existing := range b.connections {
		if existing == c {
			return true
		}
	}
	return false
}

// AddConnection adds c as a member. Returns false if it already was one.
func (b *ConferenceBase) AddConnection(c Connection) bool {
	b.mu.Lock()
	for _, existing := range b.connections {
		if existing == c {
			b.mu.Unlock()
			return false
		}
	}
	b.connections = append(b.connections, c)
	self := b.self
	b.mu.Unlock()

	if m, ok := c.(conferenceMember); ok {
		m.SetConference(self)
	}
	return true
}

// RemoveConnection drops c and returns the number of remaining members.
func (b *ConferenceBase) RemoveConnection(c Connection) int {
	b.mu.Lock()
	removed := false
	for i, existing := range b.connections {
		if existing == c {
			b.connections = append(b.connections[:i], b.connections[i+1:]...)
			removed = true
			break
		}
	}
	remaining := len(b.connections)
	b.mu.Unlock()

	if removed {
		if m, ok := c.(conferenceMember); ok {
			m.SetConference(nil)
		}
	}
	return remaining
}

func (b *ConferenceBase) SetActive() { b.setState(StateActive) }
func (b *ConferenceBase) SetOnHold() { b.setState(StateHolding) }

// SetDisconnected moves the conference to its terminal state.
func (b *ConferenceBase) SetDisconnected(cause DisconnectCause) {
	b.mu.Lock()
	if b.state == StateDisconnected {
		b.mu.Unlock()
		return
	}
	old := b.state
	b.state = StateDisconnected
	b.cause = cause
	b.mu.Unlock()

	b.listeners.fireState(old, StateDisconnected)
}

// Destroy detaches all members and notifies OnDestroyed listeners once.
func (b *ConferenceBase) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	members := b.connections
	b.connections = nil
	b.mu.Unlock()

	for _, c := range members {
		if m, ok := c.(conferenceMember); ok {
			m.SetConference(nil)
		}
	}
	b.listeners.fireDestroyed()
}

// IsDestroyed reports whether Destroy has run.
func (b *ConferenceBase) IsDestroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

func (b *ConferenceBase) OnStateChange(fn func(old, new State)) func() {
	return b.listeners.addState(fn)
}

func (b *ConferenceBase) OnDestroyed(fn func()) func() {
	return b.listeners.addDestroyed(fn)
}

func (b *ConferenceBase) setState(s State) {
	b.mu.Lock()
	if b.state == s || b.state == StateDisconnected {
		b.mu.Unlock()
		return
	}
	old := b.state
	b.state = s
	b.mu.Unlock()

	b.listeners.fireState(old, s)
}
