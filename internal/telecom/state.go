// Package telecom is the normalized call-session model exposed by the
// telephony core: connections (one call leg each), conferences (merged
// connections), their lifecycle states, normalized disconnect causes and the
// registry of everything currently active.
package telecom

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a Connection or Conference.
type State int

const (
	// StateInitializing means the connection exists but cannot be dialed yet,
	// e.g. while the radio is being powered on for an emergency call.
	StateInitializing State = iota
	StateNew
	StateRinging
	StateDialing
	StateActive
	StateHolding
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateNew:
		return "new"
	case StateRinging:
		return "ringing"
	case StateDialing:
		return "dialing"
	case StateActive:
		return "active"
	case StateHolding:
		return "holding"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s == StateDisconnected
}

// Direction tells who originated a connection.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionIncoming
	DirectionOutgoing
)

func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Presentation controls whether the address may be shown to the user.
type Presentation int

const (
	PresentationAllowed Presentation = iota + 1
	PresentationRestricted
	PresentationUnknown
	PresentationPayphone
)

// Address schemes accepted for outgoing calls.
const (
	SchemeTel       = "tel"
	SchemeVoicemail = "voicemail"
	SchemeSIP       = "sip"
)

// Address is a scheme-qualified call address such as "tel:+15551234".
type Address struct {
	Scheme string `json:"scheme"`
	Number string `json:"number"`
}

// ParseAddress splits "scheme:number". Input without a scheme yields an
// Address with an empty Scheme.
func ParseAddress(s string) Address {
	scheme, number, ok := strings.Cut(s, ":")
	if !ok {
		return Address{Number: s}
	}
	return Address{Scheme: strings.ToLower(scheme), Number: number}
}

// TelAddress builds a tel: address.
func TelAddress(number string) Address {
	return Address{Scheme: SchemeTel, Number: number}
}

func (a Address) String() string {
	if a.Scheme == "" {
		return a.Number
	}
	return a.Scheme + ":" + a.Number
}

// IsZero reports whether no address was supplied.
func (a Address) IsZero() bool {
	return a.Scheme == "" && a.Number == ""
}

// Capability is a bitmask of operations a connection currently supports.
type Capability int

const (
	CapabilityHold Capability = 1 << iota
	CapabilitySupportHold
	CapabilityMergeConference
	CapabilitySwapConference
	CapabilityMute
	CapabilityManageConference
)

// Has reports whether all bits of other are set.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}
