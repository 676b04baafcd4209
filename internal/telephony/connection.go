package telephony

import (
	"log/slog"
	"sync"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
)

// Connection is a session managed by the telephony core. It wraps a
// low-level call leg once the radio assigns one and mirrors the leg's state
// on every call-state event of its phone. Technology-specific behavior lives
// in the technology strategy chosen by the factory.
type Connection struct {
	telecom.Base

	phone  phone.Phone
	tech   technology
	logger *slog.Logger

	mu             sync.Mutex
	original       phone.Connection
	unsubscribe    func()
	conferenceable bool

	updates coalescer
}

func newConnection(p phone.Phone, tech technology, direction telecom.Direction, logger *slog.Logger) *Connection {
	c := &Connection{
		phone: p,
		tech:  tech,
	}
	c.Init(direction)
	c.logger = logger.With("connection_id", c.ID(), "technology", tech.phoneType().String())

	c.OnStateChange(func(_, state telecom.State) {
		c.tech.stateChanged(c, state)
		c.updateCapabilities()
	})
	c.updateCapabilities()
	return c
}

// Phone returns the voice stack carrying this session.
func (c *Connection) Phone() phone.Phone { return c.phone }

// Technology returns the radio technology of the session.
func (c *Connection) Technology() phone.Type { return c.tech.phoneType() }

// IsMuteAllowed reports whether the session may be muted.
func (c *Connection) IsMuteAllowed() bool { return c.tech.muteAllowed() }

// OriginalConnection returns the wrapped low-level leg, or nil before the
// radio has assigned one.
func (c *Connection) OriginalConnection() phone.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.original
}

// SetOriginalConnection attaches the low-level leg and starts mirroring it.
func (c *Connection) SetOriginalConnection(orig phone.Connection) {
	c.setOriginal(orig)
	c.attach()
}

// adopt records orig as the wrapped leg without touching the address or
// firing listeners.
func (c *Connection) adopt(orig phone.Connection) {
	c.mu.Lock()
	c.original = orig
	c.mu.Unlock()
}

func (c *Connection) setOriginal(orig phone.Connection) {
	c.adopt(orig)

	if c.Address().IsZero() {
		presentation := telecom.PresentationAllowed
		if orig.Address() == "" {
			presentation = telecom.PresentationUnknown
		}
		c.SetAddress(telecom.TelAddress(orig.Address()), presentation)
	}
}

// attach subscribes to the phone's call-state events and reads the leg's
// current state so that nothing raised before the subscription is lost.
func (c *Connection) attach() {
	if c.IsDestroyed() {
		return
	}
	c.mu.Lock()
	if c.unsubscribe == nil && c.phone != nil {
		c.unsubscribe = c.phone.SubscribeCallState(c.UpdateState)
	}
	c.mu.Unlock()

	c.UpdateState()
}

// UpdateState re-reads the wrapped leg and mirrors its state, video state
// and disconnect cause. A leg that has ended disconnects and releases the
// session.
func (c *Connection) UpdateState() {
	c.updates.run(c.applyState)
}

// refreshState is UpdateState that, when another goroutine is mirroring the
// leg, waits for a pass that started after the call. It must not be called
// from a state listener of c.
func (c *Connection) refreshState() {
	c.updates.runAndWait(c.applyState)
}

func (c *Connection) applyState() {
	orig := c.OriginalConnection()
	if orig == nil || c.State() == telecom.StateDisconnected {
		return
	}

	c.SetVideoState(orig.VideoState())

	switch orig.State() {
	case phone.CallIncoming, phone.CallWaiting:
		c.SetRinging()
	case phone.CallDialing, phone.CallAlerting:
		c.SetDialing()
	case phone.CallActive:
		c.SetActive()
	case phone.CallHolding:
		c.SetOnHold()
	case phone.CallDisconnected, phone.CallDisconnecting:
		cause := ToDisconnectCause(orig.DisconnectCause(), "")
		c.logger.Info("connection disconnected", "cause", cause.TelephonyCause.String())
		c.SetDisconnected(cause)
		c.Destroy()
	}
}

// Answer accepts a ringing session.
func (c *Connection) Answer(videoState phone.VideoState) {
	if c.State() != telecom.StateRinging {
		c.logger.Debug("answer ignored, connection not ringing", "state", c.State().String())
		return
	}
	if err := c.phone.AcceptCall(videoState); err != nil {
		c.logger.Error("failed to accept call", "error", err)
	}
}

// Reject declines a ringing session.
func (c *Connection) Reject() {
	if c.State() != telecom.StateRinging {
		return
	}
	if err := c.phone.RejectCall(); err != nil {
		c.logger.Error("failed to reject call", "error", err)
	}
	c.UpdateState()
}

// Disconnect hangs up the session. A session the radio never saw is
// disconnected locally.
func (c *Connection) Disconnect() {
	orig := c.OriginalConnection()
	if orig == nil {
		if c.State() == telecom.StateDisconnected {
			return
		}
		c.SetDisconnected(ToDisconnectCause(phone.CauseLocal, "disconnected before dial"))
		c.Destroy()
		return
	}
	if err := orig.Hangup(); err != nil {
		c.logger.Error("failed to hang up", "error", err)
	}
	c.UpdateState()
}

// Hold puts an active session on hold where the technology supports it.
func (c *Connection) Hold() {
	if c.State() != telecom.StateActive || !c.Capabilities().Has(telecom.CapabilityHold) {
		return
	}
	if err := c.phone.SwitchHoldingAndActive(); err != nil {
		c.logger.Error("failed to hold", "error", err)
	}
}

// Unhold resumes a held session.
func (c *Connection) Unhold() {
	if c.State() != telecom.StateHolding {
		return
	}
	if err := c.phone.SwitchHoldingAndActive(); err != nil {
		c.logger.Error("failed to unhold", "error", err)
	}
}

// PerformConference asks the radio to merge this session's call with
// other's. Both must share a phone and technology.
func (c *Connection) PerformConference(other *Connection) error {
	if other.Technology() != c.Technology() || other.phone != c.phone {
		return ErrTechnologyMismatch
	}
	if err := c.phone.Conference(); err != nil {
		return err
	}
	c.logger.Info("conference requested", "other_connection_id", other.ID())
	return nil
}

// Destroy stops mirroring the leg and releases the session.
func (c *Connection) Destroy() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.tech.release(c)
	c.Base.Destroy()
}

func (c *Connection) setConferenceable(ok bool) {
	c.mu.Lock()
	changed := c.conferenceable != ok
	c.conferenceable = ok
	c.mu.Unlock()

	if changed {
		c.updateCapabilities()
	}
}

func (c *Connection) updateCapabilities() {
	caps := c.tech.capabilities(c.State())

	c.mu.Lock()
	if c.conferenceable {
		caps |= telecom.CapabilityMergeConference
	}
	c.mu.Unlock()

	c.SetCapabilities(caps)
}

var _ telecom.Connection = (*Connection)(nil)
