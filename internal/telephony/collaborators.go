package telephony

import (
	"context"

	"github.com/flowpbx/telephony/internal/phone"
)

// Selector resolves the voice stack that should carry a call on an account.
// It returns nil when nothing matches.
type Selector interface {
	Resolve(ctx context.Context, account phone.AccountHandle, isEmergency bool) phone.Phone
}

// RadioSequencer powers on a voice stack's radio for an emergency call. The
// callback runs exactly once, on any goroutine, with whether the radio is
// ready to place calls.
type RadioSequencer interface {
	StartTurnOnRadioSequence(p phone.Phone, callback func(ready bool))
}

// NumberClassifier decides whether a dialed number may be an emergency
// number under the local numbering plan.
type NumberClassifier interface {
	IsPotentialEmergencyNumber(number string) bool
}

// MMILauncher hands a dial string the radio consumed as a supplementary
// service code to whatever surface reports MMI results.
type MMILauncher interface {
	LaunchMMI(p phone.Phone, dialString string)
}

// TonePlayer plays the emergency tone of a CDMA session.
type TonePlayer interface {
	Start() error
	Stop()
}

// ToneFactory returns a player for a new CDMA emergency session, or nil
// when emergency tones are disabled.
type ToneFactory func() TonePlayer
