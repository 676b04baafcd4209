// Package phone defines the voice stack contracts consumed by the telephony
// core: a Phone is one radio/modem instance (one SIM slot), a Call groups the
// low-level call legs in one of its ringing, foreground or background sets,
// and a Connection is a single low-level call leg.
//
// The core never implements a voice stack itself; production deployments
// plug in a modem driver, the daemon and the tests use the sim package.
package phone

import (
	"errors"
	"fmt"
)

// Type is the radio technology of a voice stack.
type Type int

const (
	TypeNone Type = iota
	TypeGSM
	TypeCDMA
	TypeSIP
)

func (t Type) String() string {
	switch t {
	case TypeGSM:
		return "gsm"
	case TypeCDMA:
		return "cdma"
	case TypeSIP:
		return "sip"
	default:
		return "none"
	}
}

// ParseType parses a technology name as written in the slot inventory.
func ParseType(s string) (Type, error) {
	switch s {
	case "gsm", "GSM":
		return TypeGSM, nil
	case "cdma", "CDMA":
		return TypeCDMA, nil
	case "sip", "SIP":
		return TypeSIP, nil
	case "none", "":
		return TypeNone, nil
	default:
		return TypeNone, fmt.Errorf("unknown phone type %q", s)
	}
}

// ServiceState is the registration state reported by the radio.
type ServiceState int

const (
	StateInService ServiceState = iota
	StateOutOfService
	StateEmergencyOnly
	StatePowerOff
)

func (s ServiceState) String() string {
	switch s {
	case StateInService:
		return "in_service"
	case StateOutOfService:
		return "out_of_service"
	case StateEmergencyOnly:
		return "emergency_only"
	case StatePowerOff:
		return "power_off"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseServiceState parses the string form produced by ServiceState.String.
func ParseServiceState(s string) (ServiceState, error) {
	switch s {
	case "in_service":
		return StateInService, nil
	case "out_of_service":
		return StateOutOfService, nil
	case "emergency_only":
		return StateEmergencyOnly, nil
	case "power_off":
		return StatePowerOff, nil
	default:
		return 0, fmt.Errorf("unknown service state %q", s)
	}
}

// CallState is the radio-level state of a call or call leg.
type CallState int

const (
	CallIdle CallState = iota
	CallActive
	CallHolding
	CallDialing
	CallAlerting
	CallIncoming
	CallWaiting
	CallDisconnected
	CallDisconnecting
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallActive:
		return "active"
	case CallHolding:
		return "holding"
	case CallDialing:
		return "dialing"
	case CallAlerting:
		return "alerting"
	case CallIncoming:
		return "incoming"
	case CallWaiting:
		return "waiting"
	case CallDisconnected:
		return "disconnected"
	case CallDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsRinging reports whether the state is an unanswered incoming state.
func (s CallState) IsRinging() bool {
	return s == CallIncoming || s == CallWaiting
}

// IsDialing reports whether the state is an outgoing pre-answer state.
func (s CallState) IsDialing() bool {
	return s == CallDialing || s == CallAlerting
}

// IsAlive reports whether the call has not ended.
func (s CallState) IsAlive() bool {
	return s != CallIdle && s != CallDisconnected && s != CallDisconnecting
}

// VideoState is a bitmask describing the video direction of a call.
// Zero means audio only.
type VideoState int

const (
	VideoAudioOnly     VideoState = 0
	VideoTransmit      VideoState = 1 << 0
	VideoReceive       VideoState = 1 << 1
	VideoBidirectional            = VideoTransmit | VideoReceive
	VideoPaused        VideoState = 1 << 2
)

// Connection is one low-level call leg owned by the radio. Implementations
// must be comparable by pointer identity; the telephony core uses == to
// decide whether a leg is already wrapped by a session.
type Connection interface {
	// Address is the remote party number for this leg.
	Address() string
	IsIncoming() bool
	State() CallState
	VideoState() VideoState
	// DisconnectCause is NotDisconnected until the leg has ended.
	DisconnectCause() DisconnectCause
	// Call returns the call set the leg currently belongs to.
	Call() Call
	// Hangup asks the radio to release this leg. The resulting state change
	// arrives asynchronously as a call-state event.
	Hangup() error
}

// Call is one of the three call sets of a phone (ringing, foreground,
// background). A multiparty call holds more than one live leg.
type Call interface {
	State() CallState
	// Connections returns a snapshot of the legs in the call.
	Connections() []Connection
	EarliestConnection() Connection
	LatestConnection() Connection
	IsMultiparty() bool
	Hangup() error
}

// Phone is one radio/modem instance. All methods are safe for concurrent use.
// Event subscriptions deliver on the voice stack's own goroutine.
type Phone interface {
	ID() int
	Type() Type
	ServiceState() ServiceState
	VoiceMailNumber() string

	RingingCall() Call
	ForegroundCall() Call
	BackgroundCall() Call

	// Dial places a call. A nil Connection with a nil error means the radio
	// consumed the string as a signalling (MMI) code. Failures caused by the
	// current call state are reported as *CallStateError.
	Dial(number string, videoState VideoState) (Connection, error)
	AcceptCall(videoState VideoState) error
	RejectCall() error
	SwitchHoldingAndActive() error
	// Conference merges the background call into the foreground call.
	Conference() error

	// IsInEmergencyCallbackMode is only meaningful for CDMA stacks.
	IsInEmergencyCallbackMode() bool
	SetRadioPower(on bool)

	// SubscribeCallState registers fn for every precise call state change.
	// The returned func unregisters it.
	SubscribeCallState(fn func()) (unsubscribe func())
	// SubscribeServiceState registers fn for service state changes.
	SubscribeServiceState(fn func(ServiceState)) (unsubscribe func())
}

// CallStateError is returned by Dial and the other call control operations
// when the radio's current call state does not permit the operation.
type CallStateError struct {
	Op     string
	Reason string
}

func (e *CallStateError) Error() string {
	if e.Op == "" {
		return e.Reason
	}
	return e.Op + ": " + e.Reason
}

// ErrNoSuchCall is returned by call control operations with no call to act on.
var ErrNoSuchCall = errors.New("no such call")
