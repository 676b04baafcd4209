package telecom

import (
	"time"

	"github.com/flowpbx/telephony/internal/phone"
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapabilityHold, "hold"},
	{CapabilitySupportHold, "support_hold"},
	{CapabilityMergeConference, "merge_conference"},
	{CapabilitySwapConference, "swap_conference"},
	{CapabilityMute, "mute"},
	{CapabilityManageConference, "manage_conference"},
}

// Names lists the set capabilities in bit order.
func (c Capability) Names() []string {
	names := []string{}
	for _, n := range capabilityNames {
		if c.Has(n.cap) {
			names = append(names, n.name)
		}
	}
	return names
}

// ConnectionSnapshot is a point-in-time JSON view of a connection.
type ConnectionSnapshot struct {
	ID              string           `json:"id"`
	State           State            `json:"state"`
	Direction       Direction        `json:"direction"`
	Address         string           `json:"address"`
	VideoState      phone.VideoState `json:"video_state"`
	Capabilities    []string         `json:"capabilities"`
	ConferenceID    string           `json:"conference_id,omitempty"`
	DisconnectCause *DisconnectCause `json:"disconnect_cause,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// SnapshotConnection captures c. The address is withheld unless its
// presentation is allowed.
func SnapshotConnection(c Connection) ConnectionSnapshot {
	s := ConnectionSnapshot{
		ID:           c.ID(),
		State:        c.State(),
		Direction:    c.Direction(),
		VideoState:   c.VideoState(),
		Capabilities: c.Capabilities().Names(),
		CreatedAt:    c.CreatedAt(),
	}
	if c.Presentation() == PresentationAllowed {
		s.Address = c.Address().String()
	}
	if conf := c.Conference(); conf != nil {
		s.ConferenceID = conf.ID()
	}
	if s.State == StateDisconnected {
		cause := c.DisconnectCause()
		s.DisconnectCause = &cause
	}
	return s
}

// ConferenceSnapshot is a point-in-time JSON view of a conference.
type ConferenceSnapshot struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	ConnectionIDs []string  `json:"connection_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// SnapshotConference captures c.
func SnapshotConference(c Conference) ConferenceSnapshot {
	members := c.Connections()
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID())
	}
	return ConferenceSnapshot{
		ID:            c.ID(),
		State:         c.State(),
		ConnectionIDs: ids,
		CreatedAt:     c.CreatedAt(),
	}
}
