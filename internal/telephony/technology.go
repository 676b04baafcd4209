package telephony

import (
	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
)

// technology holds the behavior that differs between GSM and CDMA sessions.
// One instance belongs to exactly one Connection.
type technology interface {
	phoneType() phone.Type
	muteAllowed() bool
	capabilities(state telecom.State) telecom.Capability
	stateChanged(c *Connection, state telecom.State)
	release(c *Connection)
}

type gsmTechnology struct{}

func (gsmTechnology) phoneType() phone.Type { return phone.TypeGSM }
func (gsmTechnology) muteAllowed() bool     { return true }

func (gsmTechnology) capabilities(state telecom.State) telecom.Capability {
	caps := telecom.CapabilitySupportHold | telecom.CapabilityMute
	if state == telecom.StateActive || state == telecom.StateHolding {
		caps |= telecom.CapabilityHold
	}
	return caps
}

func (gsmTechnology) stateChanged(*Connection, telecom.State) {}
func (gsmTechnology) release(*Connection)                     {}

// cdmaTechnology carries the mute policy fixed at construction and, for
// emergency sessions, the tone played while the call is active.
type cdmaTechnology struct {
	allowMute bool
	tone      TonePlayer
}

// newCDMATechnology disallows mute while the phone is in emergency
// callback mode.
func newCDMATechnology(p phone.Phone, tone TonePlayer) *cdmaTechnology {
	return &cdmaTechnology{
		allowMute: !p.IsInEmergencyCallbackMode(),
		tone:      tone,
	}
}

func (t *cdmaTechnology) phoneType() phone.Type { return phone.TypeCDMA }
func (t *cdmaTechnology) muteAllowed() bool     { return t.allowMute }

func (t *cdmaTechnology) capabilities(telecom.State) telecom.Capability {
	if t.allowMute {
		return telecom.CapabilityMute
	}
	return 0
}

func (t *cdmaTechnology) stateChanged(c *Connection, state telecom.State) {
	if t.tone == nil {
		return
	}
	switch state {
	case telecom.StateActive:
		if err := t.tone.Start(); err != nil {
			c.logger.Warn("failed to start emergency tone", "error", err)
		}
	case telecom.StateDisconnected:
		t.tone.Stop()
	}
}

func (t *cdmaTechnology) release(*Connection) {
	if t.tone != nil {
		t.tone.Stop()
	}
}
