// Package sim provides a simulated modem voice stack. It implements
// phone.Phone with an in-memory call model and exposes network-side controls
// (ring, remote answer, remote hangup, service state changes) so the daemon
// and tests can drive the telephony core without a radio.
package sim

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flowpbx/telephony/internal/phone"
)

// Option configures a simulated phone.
type Option func(*Phone)

// WithServiceState sets the initial service state.
func WithServiceState(s phone.ServiceState) Option {
	return func(p *Phone) { p.service = s }
}

// WithVoiceMailNumber sets the configured voicemail number.
func WithVoiceMailNumber(number string) Option {
	return func(p *Phone) { p.voicemail = number }
}

// WithEmergencyCallbackMode starts the phone in emergency callback mode.
func WithEmergencyCallbackMode(on bool) Option {
	return func(p *Phone) { p.ecm = on }
}

// WithRadioOnDelay sets how long a power-on request takes to bring the
// radio into service. Zero completes synchronously.
func WithRadioOnDelay(d time.Duration) Option {
	return func(p *Phone) { p.radioOnDelay = d }
}

// WithRadioFailure makes power-on requests never reach service.
func WithRadioFailure() Option {
	return func(p *Phone) { p.radioFails = true }
}

// WithAutoAnswer makes the far end answer outgoing calls after d.
func WithAutoAnswer(d time.Duration) Option {
	return func(p *Phone) { p.autoAnswer = d }
}

// WithAsyncEvents delivers all events from a dedicated goroutine in order,
// the way a modem notification thread would. Call Close to stop it.
func WithAsyncEvents() Option {
	return func(p *Phone) { p.events = make(chan func(), 256) }
}

// Phone is a simulated voice stack for one slot.
type Phone struct {
	id     int
	typ    phone.Type
	logger *slog.Logger

	radioOnDelay time.Duration
	radioFails   bool
	autoAnswer   time.Duration

	mu         sync.Mutex
	service    phone.ServiceState
	voicemail  string
	ecm        bool
	dialErr    error
	ringing    *Call
	foreground *Call
	background *Call
	callSubs   map[uint64]func()
	svcSubs    map[uint64]func(phone.ServiceState)
	nextSub    uint64

	events    chan func()
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a simulated phone in the given slot.
func New(id int, typ phone.Type, logger *slog.Logger, opts ...Option) *Phone {
	p := &Phone{
		id:       id,
		typ:      typ,
		logger:   logger.With("subsystem", "sim_phone", "phone_id", id),
		service:  phone.StateInService,
		callSubs: make(map[uint64]func()),
		svcSubs:  make(map[uint64]func(phone.ServiceState)),
		done:     make(chan struct{}),
	}
	p.ringing = &Call{phone: p, kind: "ringing"}
	p.foreground = &Call{phone: p, kind: "foreground"}
	p.background = &Call{phone: p, kind: "background"}

	for _, opt := range opts {
		opt(p)
	}

	if p.events != nil {
		go p.eventLoop()
	}
	return p
}

// Close stops the async event goroutine, if any.
func (p *Phone) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *Phone) eventLoop() {
	for {
		select {
		case fn := <-p.events:
			fn()
		case <-p.done:
			return
		}
	}
}

func (p *Phone) ID() int         { return p.id }
func (p *Phone) Type() phone.Type { return p.typ }

func (p *Phone) ServiceState() phone.ServiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.service
}

func (p *Phone) VoiceMailNumber() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voicemail
}

func (p *Phone) IsInEmergencyCallbackMode() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typ == phone.TypeCDMA && p.ecm
}

func (p *Phone) RingingCall() phone.Call    { return p.ringing }
func (p *Phone) ForegroundCall() phone.Call { return p.foreground }
func (p *Phone) BackgroundCall() phone.Call { return p.background }

// SetEmergencyCallbackMode toggles ECM.
func (p *Phone) SetEmergencyCallbackMode(on bool) {
	p.mu.Lock()
	p.ecm = on
	p.mu.Unlock()
}

// SetVoiceMailNumber replaces the configured voicemail number.
func (p *Phone) SetVoiceMailNumber(number string) {
	p.mu.Lock()
	p.voicemail = number
	p.mu.Unlock()
}

// FailNextDial makes the next Dial return err.
func (p *Phone) FailNextDial(err error) {
	p.mu.Lock()
	p.dialErr = err
	p.mu.Unlock()
}

// isMMI reports whether a dial string is a supplementary service code.
func isMMI(number string) bool {
	if number == "" {
		return false
	}
	if strings.HasSuffix(number, "#") {
		return true
	}
	return strings.HasPrefix(number, "*") || strings.HasPrefix(number, "#")
}

func (p *Phone) Dial(number string, videoState phone.VideoState) (phone.Connection, error) {
	p.mu.Lock()

	if err := p.dialErr; err != nil {
		p.dialErr = nil
		p.mu.Unlock()
		return nil, err
	}
	if p.service == phone.StatePowerOff {
		p.mu.Unlock()
		return nil, &phone.CallStateError{Op: "dial", Reason: "radio is off"}
	}
	if isMMI(number) {
		p.mu.Unlock()
		p.logger.Info("dial string handled as mmi code", "number", number)
		return nil, nil
	}
	if p.foreground.aliveLocked() && p.background.aliveLocked() {
		p.mu.Unlock()
		return nil, &phone.CallStateError{Op: "dial", Reason: "cannot dial in current state"}
	}
	if p.ringing.aliveLocked() {
		p.mu.Unlock()
		return nil, &phone.CallStateError{Op: "dial", Reason: "cannot dial while ringing"}
	}

	if p.foreground.aliveLocked() {
		p.swapLocked()
	}

	c := &Connection{
		phone:    p,
		address:  number,
		incoming: false,
		state:    phone.CallDialing,
		video:    videoState,
	}
	p.foreground.addLocked(c)
	p.foreground.state = phone.CallDialing
	autoAnswer := p.autoAnswer
	p.mu.Unlock()

	p.logger.Info("dialing", "number", number, "video_state", int(videoState))
	p.notifyCallState()

	if autoAnswer > 0 {
		time.AfterFunc(autoAnswer, func() { p.RemoteAnswer(c) })
	}
	return c, nil
}

func (p *Phone) AcceptCall(videoState phone.VideoState) error {
	p.mu.Lock()
	if !p.ringing.state.IsRinging() {
		p.mu.Unlock()
		return &phone.CallStateError{Op: "accept", Reason: "phone not ringing"}
	}
	if p.foreground.aliveLocked() {
		if p.background.aliveLocked() {
			p.mu.Unlock()
			return &phone.CallStateError{Op: "accept", Reason: "no room to hold active call"}
		}
		p.swapLocked()
	}
	for _, c := range p.ringing.conns {
		c.state = phone.CallActive
		c.video = videoState
		p.foreground.addLocked(c)
	}
	p.ringing.conns = nil
	p.ringing.state = phone.CallIdle
	p.foreground.state = phone.CallActive
	p.mu.Unlock()

	p.notifyCallState()
	return nil
}

func (p *Phone) RejectCall() error {
	p.mu.Lock()
	if !p.ringing.state.IsRinging() {
		p.mu.Unlock()
		return &phone.CallStateError{Op: "reject", Reason: "phone not ringing"}
	}
	for _, c := range p.ringing.conns {
		c.state = phone.CallDisconnected
		c.cause = phone.CauseIncomingRejected
	}
	p.ringing.conns = nil
	p.ringing.state = phone.CallIdle
	p.mu.Unlock()

	p.notifyCallState()
	return nil
}

func (p *Phone) SwitchHoldingAndActive() error {
	p.mu.Lock()
	if !p.foreground.aliveLocked() && !p.background.aliveLocked() {
		p.mu.Unlock()
		return phone.ErrNoSuchCall
	}
	p.swapLocked()
	p.mu.Unlock()

	p.notifyCallState()
	return nil
}

func (p *Phone) Conference() error {
	p.mu.Lock()
	if !p.foreground.aliveLocked() || !p.background.aliveLocked() {
		p.mu.Unlock()
		return &phone.CallStateError{Op: "conference", Reason: "need an active and a held call"}
	}
	for _, c := range p.background.conns {
		c.state = phone.CallActive
		p.foreground.addLocked(c)
	}
	p.background.conns = nil
	p.background.state = phone.CallIdle
	for _, c := range p.foreground.conns {
		c.state = phone.CallActive
	}
	p.foreground.state = phone.CallActive
	p.mu.Unlock()

	p.logger.Info("calls merged into conference")
	p.notifyCallState()
	return nil
}

func (p *Phone) SetRadioPower(on bool) {
	if !on {
		p.SetServiceState(phone.StatePowerOff)
		return
	}

	p.mu.Lock()
	off := p.service == phone.StatePowerOff
	fails := p.radioFails
	delay := p.radioOnDelay
	p.mu.Unlock()

	if !off || fails {
		return
	}

	p.logger.Info("radio power on requested", "delay", delay)
	if delay <= 0 {
		p.SetServiceState(phone.StateInService)
		return
	}
	time.AfterFunc(delay, func() { p.SetServiceState(phone.StateInService) })
}

// SetServiceState changes the service state and notifies subscribers.
func (p *Phone) SetServiceState(s phone.ServiceState) {
	p.mu.Lock()
	if p.service == s {
		p.mu.Unlock()
		return
	}
	p.service = s
	subs := make([]func(phone.ServiceState), 0, len(p.svcSubs))
	for _, fn := range p.svcSubs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	p.logger.Info("service state changed", "state", s)
	p.deliver(func() {
		for _, fn := range subs {
			fn(s)
		}
	})
}

// Ring delivers a new incoming call from number. If another call is in
// progress the ringing call is in the waiting state.
func (p *Phone) Ring(number string) phone.Connection {
	p.mu.Lock()
	c := &Connection{
		phone:    p,
		address:  number,
		incoming: true,
		state:    phone.CallIncoming,
	}
	if p.foreground.aliveLocked() || p.background.aliveLocked() {
		c.state = phone.CallWaiting
	}
	p.ringing.addLocked(c)
	p.ringing.state = c.state
	p.mu.Unlock()

	p.logger.Info("incoming call", "number", number, "state", c.state)
	p.notifyCallState()
	return c
}

// RemoteAlert moves an outgoing leg from dialing to alerting.
func (p *Phone) RemoteAlert(conn phone.Connection) {
	c, ok := conn.(*Connection)
	if !ok {
		return
	}
	p.mu.Lock()
	if c.state != phone.CallDialing {
		p.mu.Unlock()
		return
	}
	c.state = phone.CallAlerting
	if c.call != nil {
		c.call.state = phone.CallAlerting
	}
	p.mu.Unlock()

	p.notifyCallState()
}

// RemoteAnswer marks an outgoing leg as answered by the far end.
func (p *Phone) RemoteAnswer(conn phone.Connection) {
	c, ok := conn.(*Connection)
	if !ok {
		return
	}
	p.mu.Lock()
	if !c.state.IsDialing() {
		p.mu.Unlock()
		return
	}
	c.state = phone.CallActive
	if c.call != nil {
		c.call.state = phone.CallActive
	}
	p.mu.Unlock()

	p.logger.Info("remote answered", "number", c.address)
	p.notifyCallState()
}

// RemoteHangup ends a leg from the network side with the given cause.
func (p *Phone) RemoteHangup(conn phone.Connection, cause phone.DisconnectCause) {
	c, ok := conn.(*Connection)
	if !ok {
		return
	}
	if p.disconnect(c, cause) {
		p.notifyCallState()
	}
}

// FindConnection returns the first live leg with the given address.
func (p *Phone) FindConnection(address string) phone.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, call := range []*Call{p.ringing, p.foreground, p.background} {
		for _, c := range call.conns {
			if c.address == address {
				return c
			}
		}
	}
	return nil
}

func (p *Phone) SubscribeCallState(fn func()) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.callSubs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.callSubs, id)
		p.mu.Unlock()
	}
}

func (p *Phone) SubscribeServiceState(fn func(phone.ServiceState)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.svcSubs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.svcSubs, id)
		p.mu.Unlock()
	}
}

// disconnect ends c with cause. Returns false if it had already ended.
func (p *Phone) disconnect(c *Connection, cause phone.DisconnectCause) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !c.state.IsAlive() {
		return false
	}
	c.state = phone.CallDisconnected
	c.cause = cause
	if c.call != nil {
		c.call.removeLocked(c)
	}

	// A held call is not resumed automatically; an empty foreground with a
	// held background stays that way until the user switches.
	return true
}

// swapLocked exchanges the foreground and background call contents.
func (p *Phone) swapLocked() {
	fg, bg := p.foreground, p.background
	fg.conns, bg.conns = bg.conns, fg.conns
	for _, c := range fg.conns {
		c.call = fg
		if c.state == phone.CallHolding {
			c.state = phone.CallActive
		}
	}
	for _, c := range bg.conns {
		c.call = bg
		if c.state == phone.CallActive {
			c.state = phone.CallHolding
		}
	}
	fg.state, bg.state = phone.CallIdle, phone.CallIdle
	if len(fg.conns) > 0 {
		fg.state = phone.CallActive
	}
	if len(bg.conns) > 0 {
		bg.state = phone.CallHolding
	}
}

func (p *Phone) notifyCallState() {
	p.mu.Lock()
	subs := make([]func(), 0, len(p.callSubs))
	for _, fn := range p.callSubs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	p.deliver(func() {
		for _, fn := range subs {
			fn()
		}
	})
}

func (p *Phone) deliver(fn func()) {
	if p.events == nil {
		fn()
		return
	}
	select {
	case p.events <- fn:
	case <-p.done:
	}
}

var _ phone.Phone = (*Phone)(nil)
