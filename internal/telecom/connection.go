package telecom

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowpbx/telephony/internal/phone"
)

// Connection is one call session as seen by callers of the telephony core.
//
// The call-control methods (Answer, Reject, Disconnect, Hold, Unhold) are
// requests: their effect is observed later through state changes. All
// methods are safe for concurrent use.
type Connection interface {
	ID() string
	State() State
	Direction() Direction
	Address() Address
	Presentation() Presentation
	VideoState() phone.VideoState
	Capabilities() Capability
	DisconnectCause() DisconnectCause
	Conference() Conference
	CreatedAt() time.Time

	OnStateChange(fn func(old, new State)) (unsubscribe func())
	// OnDisconnected fires at most once per connection.
	OnDisconnected(fn func(cause DisconnectCause)) (unsubscribe func())
	// OnDestroyed fires at most once, when the connection is released.
	OnDestroyed(fn func()) (unsubscribe func())
	IsDestroyed() bool

	Answer(videoState phone.VideoState)
	Reject()
	Disconnect()
	Hold()
	Unhold()
	Destroy()
}

// Base carries the lifecycle shared by every Connection implementation:
// identity, state, attributes and listener fan-out. Concrete connections
// embed it and add call control. Call Init before use.
type Base struct {
	mu           sync.RWMutex
	id           string
	createdAt    time.Time
	state        State
	direction    Direction
	address      Address
	presentation Presentation
	video        phone.VideoState
	caps         Capability
	cause        DisconnectCause
	conference   Conference
	destroyed    bool

	listeners listeners
}

// Init assigns a fresh id and puts the connection in StateNew.
func (b *Base) Init(direction Direction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = "conn-" + uuid.New().String()
	b.createdAt = time.Now()
	b.state = StateNew
	b.direction = direction
	b.presentation = PresentationAllowed
}

func (b *Base) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

func (b *Base) CreatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.createdAt
}

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) Direction() Direction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.direction
}

func (b *Base) Address() Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.address
}

func (b *Base) Presentation() Presentation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.presentation
}

func (b *Base) VideoState() phone.VideoState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.video
}

func (b *Base) Capabilities() Capability {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caps
}

func (b *Base) DisconnectCause() DisconnectCause {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cause
}

func (b *Base) Conference() Conference {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conference
}

func (b *Base) SetAddress(addr Address, presentation Presentation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.address = addr
	b.presentation = presentation
}

func (b *Base) SetVideoState(v phone.VideoState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.video = v
}

func (b *Base) SetCapabilities(c Capability) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caps = c
}

// SetConference records the conference this connection is part of, or nil.
func (b *Base) SetConference(c Conference) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conference = c
}

func (b *Base) SetInitializing() { b.setState(StateInitializing) }

// SetInitialized moves an initializing connection to StateNew.
func (b *Base) SetInitialized() {
	b.mu.Lock()
	if b.state != StateInitializing {
		b.mu.Unlock()
		return
	}
	b.state = StateNew
	b.mu.Unlock()

	b.listeners.fireState(StateInitializing, StateNew)
}

func (b *Base) SetRinging() { b.setState(StateRinging) }
func (b *Base) SetDialing() { b.setState(StateDialing) }
func (b *Base) SetActive()  { b.setState(StateActive) }
func (b *Base) SetOnHold()  { b.setState(StateHolding) }

// SetDisconnected moves the connection to its terminal state with cause.
// Only the first call has any effect.
func (b *Base) SetDisconnected(cause DisconnectCause) {
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
	b.listeners.fireDisconnected(cause)
}

// Destroy releases the connection. Listeners registered with OnDestroyed
// run once; later calls are no-ops.
func (b *Base) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.mu.Unlock()

	b.listeners.fireDestroyed()
}

// IsDestroyed reports whether Destroy has run.
func (b *Base) IsDestroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

func (b *Base) OnStateChange(fn func(old, new State)) func() {
	return b.listeners.addState(fn)
}

func (b *Base) OnDisconnected(fn func(cause DisconnectCause)) func() {
	return b.listeners.addDisconnected(fn)
}

func (b *Base) OnDestroyed(fn func()) func() {
	return b.listeners.addDestroyed(fn)
}

func (b *Base) setState(s State) {
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

// resultConnection is a connection that was never placed: the failed or
// canceled outcome of a creation request. It starts disconnected and
// ignores call control.
type resultConnection struct {
	Base
}

// NewFailedConnection returns a disconnected connection carrying cause.
func NewFailedConnection(cause DisconnectCause) Connection {
	c := &resultConnection{}
	c.Init(DirectionUnknown)
	c.SetDisconnected(cause)
	return c
}

// NewCanceledConnection returns a disconnected connection with the
// canceled cause. It signals "nothing to do" rather than a fault.
func NewCanceledConnection() Connection {
	return NewFailedConnection(Canceled)
}

// IsCanceled reports whether c is a canceled creation result.
func IsCanceled(c Connection) bool {
	return c.State() == StateDisconnected && c.DisconnectCause().Code == CodeCanceled
}

func (c *resultConnection) Answer(phone.VideoState) {}
func (c *resultConnection) Reject()                 {}
func (c *resultConnection) Disconnect()             {}
func (c *resultConnection) Hold()                   {}
func (c *resultConnection) Unhold()                 {}

var _ Connection = (*resultConnection)(nil)
