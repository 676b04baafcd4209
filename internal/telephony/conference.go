package telephony

import (
	"log/slog"
	"sync"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
)

// Conference is a merge of sessions of one technology on one phone.
type Conference struct {
	telecom.ConferenceBase

	tech   phone.Type
	phone  phone.Phone
	logger *slog.Logger
}

func newConference(p phone.Phone, tech phone.Type, logger *slog.Logger) *Conference {
	c := &Conference{
		tech:  tech,
		phone: p,
	}
	c.Init(c)
	c.logger = logger.With("conference_id", c.ID())
	return c
}

// Technology returns the technology of every member.
func (c *Conference) Technology() phone.Type { return c.tech }

// Phone returns the voice stack carrying the merged call.
func (c *Conference) Phone() phone.Phone { return c.phone }

// Disconnect hangs up the merged call. If the radio has no call left to
// hang up the conference is torn down directly.
func (c *Conference) Disconnect() {
	call := c.call()
	if call == nil {
		c.SetDisconnected(ToDisconnectCause(phone.CauseLocal, "conference has no call"))
		c.Destroy()
		return
	}
	if err := call.Hangup(); err != nil {
		c.logger.Warn("failed to hang up conference call", "error", err)
		c.SetDisconnected(ToDisconnectCause(phone.CauseLocal, err.Error()))
		c.Destroy()
	}
}

func (c *Conference) Hold() {
	if c.State() != telecom.StateActive {
		return
	}
	if err := c.phone.SwitchHoldingAndActive(); err != nil {
		c.logger.Error("failed to hold conference", "error", err)
	}
}

func (c *Conference) Unhold() {
	if c.State() != telecom.StateHolding {
		return
	}
	if err := c.phone.SwitchHoldingAndActive(); err != nil {
		c.logger.Error("failed to unhold conference", "error", err)
	}
}

// call returns the radio call the members currently belong to.
func (c *Conference) call() phone.Call {
	for _, m := range c.Connections() {
		mc, ok := m.(*Connection)
		if !ok {
			continue
		}
		if orig := mc.OriginalConnection(); orig != nil {
			if call := orig.Call(); call != nil {
				return call
			}
		}
	}
	return nil
}

var _ telecom.Conference = (*Conference)(nil)

// ConferenceController tracks the sessions of one technology, marks which
// of them can be merged, and mirrors the radio's multiparty calls as
// Conferences in the registry.
type ConferenceController struct {
	tech     phone.Type
	registry *telecom.Registry
	logger   *slog.Logger

	mu          sync.Mutex
	connections []*Connection
	unsubs      map[*Connection][]func()
	conferences map[phone.Phone]*Conference

	recalc coalescer
}

// NewConferenceController creates the controller for one technology.
func NewConferenceController(tech phone.Type, registry *telecom.Registry, logger *slog.Logger) *ConferenceController {
	return &ConferenceController{
		tech:        tech,
		registry:    registry,
		logger:      logger.With("subsystem", "conference_controller", "technology", tech.String()),
		unsubs:      make(map[*Connection][]func()),
		conferences: make(map[phone.Phone]*Conference),
	}
}

// Add starts tracking c until it is destroyed.
func (cc *ConferenceController) Add(c *Connection) {
	cc.mu.Lock()
	if _, ok := cc.unsubs[c]; ok {
		cc.mu.Unlock()
		return
	}
	cc.connections = append(cc.connections, c)
	cc.unsubs[c] = nil
	cc.mu.Unlock()

	unsubState := c.OnStateChange(func(_, _ telecom.State) { cc.recalculate() })
	unsubDestroyed := c.OnDestroyed(func() { cc.remove(c) })

	cc.mu.Lock()
	if _, ok := cc.unsubs[c]; ok {
		cc.unsubs[c] = []func(){unsubState, unsubDestroyed}
		cc.mu.Unlock()
	} else {
		cc.mu.Unlock()
		unsubState()
		unsubDestroyed()
	}

	if c.IsDestroyed() {
		cc.remove(c)
		return
	}
	cc.recalculate()
}

func (cc *ConferenceController) remove(c *Connection) {
	cc.mu.Lock()
	unsubs, ok := cc.unsubs[c]
	if !ok {
		cc.mu.Unlock()
		return
	}
	delete(cc.unsubs, c)
	for i, existing := range cc.connections {
		if existing == c {
			cc.connections = append(cc.connections[:i], cc.connections[i+1:]...)
			break
		}
	}
	cc.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	cc.recalculate()
}

// Connections returns a snapshot of the tracked sessions.
func (cc *ConferenceController) Connections() []*Connection {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return append([]*Connection(nil), cc.connections...)
}

// Conference returns the conference on p, or nil.
func (cc *ConferenceController) Conference(p phone.Phone) *Conference {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.conferences[p]
}

func (cc *ConferenceController) recalculate() {
	cc.recalc.run(cc.recalculateOnce)
}

func (cc *ConferenceController) recalculateOnce() {
	conns := cc.Connections()

	// Active and held sessions on the same phone can be merged.
	live := make(map[phone.Phone][]*Connection)
	for _, c := range conns {
		switch c.State() {
		case telecom.StateActive, telecom.StateHolding:
			live[c.phone] = append(live[c.phone], c)
		}
	}
	for _, c := range conns {
		c.setConferenceable(len(live[c.phone]) > 1 && contains(live[c.phone], c))
	}

	// Sessions whose leg sits in a multiparty call are conference members.
	members := make(map[phone.Phone][]*Connection)
	for p, candidates := range live {
		for _, c := range candidates {
			orig := c.OriginalConnection()
			if orig == nil {
				continue
			}
			if call := orig.Call(); call != nil && call.IsMultiparty() {
				members[p] = append(members[p], c)
			}
		}
	}

	cc.mu.Lock()
	existing := make(map[phone.Phone]*Conference, len(cc.conferences))
	for p, conf := range cc.conferences {
		existing[p] = conf
	}
	cc.mu.Unlock()

	for p, conf := range existing {
		if len(members[p]) >= 2 && !conf.IsDestroyed() {
			continue
		}
		delete(existing, p)
		cc.mu.Lock()
		delete(cc.conferences, p)
		cc.mu.Unlock()

		cc.logger.Info("conference ended", "conference_id", conf.ID())
		conf.SetDisconnected(ToDisconnectCause(phone.CauseNormal, "fewer than two participants"))
		conf.Destroy()
	}

	for p, group := range members {
		if len(group) < 2 {
			continue
		}
		conf := existing[p]
		created := false
		if conf == nil {
			conf = newConference(p, cc.tech, cc.logger)
			created = true
			cc.mu.Lock()
			cc.conferences[p] = conf
			cc.mu.Unlock()
		}

		for _, c := range group {
			conf.AddConnection(c)
		}
		for _, m := range conf.Connections() {
			if mc, ok := m.(*Connection); !ok || !contains(group, mc) {
				conf.RemoveConnection(m)
			}
		}

		if anyInState(group, telecom.StateActive) {
			conf.SetActive()
		} else {
			conf.SetOnHold()
		}

		if created {
			cc.logger.Info("conference started", "conference_id", conf.ID(), "participants", len(group))
			cc.registry.AddConference(conf)
		}
	}
}

func contains(conns []*Connection, c *Connection) bool {
	for _, existing := range conns {
		if existing == c {
			return true
		}
	}
	return false
}

func anyInState(conns []*Connection, state telecom.State) bool {
	for _, c := range conns {
		if c.State() == state {
			return true
		}
	}
	return false
}
