package telephony

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/phone/sim"
	"github.com/flowpbx/telephony/internal/telecom"
)

// fakeCall is a radio call whose hangup is only recorded.
type fakeCall struct {
	hangups atomic.Int32
}

func (c *fakeCall) State() phone.CallState               { return phone.CallActive }
func (c *fakeCall) Connections() []phone.Connection      { return nil }
func (c *fakeCall) EarliestConnection() phone.Connection { return nil }
func (c *fakeCall) LatestConnection() phone.Connection   { return nil }
func (c *fakeCall) IsMultiparty() bool                   { return false }

func (c *fakeCall) Hangup() error {
	c.hangups.Add(1)
	return nil
}

// fakeLeg is a radio call leg the test moves between states by hand.
// Hangup is recorded but has no effect, so a disconnect request stays
// pending until the test reports it.
type fakeLeg struct {
	mu      sync.Mutex
	state   phone.CallState
	cause   phone.DisconnectCause
	call    *fakeCall
	hangups int
}

func newFakeLeg(state phone.CallState) *fakeLeg {
	return &fakeLeg{state: state, call: &fakeCall{}}
}

func (l *fakeLeg) Address() string              { return "5550000" }
func (l *fakeLeg) IsIncoming() bool             { return false }
func (l *fakeLeg) VideoState() phone.VideoState { return phone.VideoAudioOnly }
func (l *fakeLeg) Call() phone.Call             { return l.call }

func (l *fakeLeg) State() phone.CallState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeLeg) DisconnectCause() phone.DisconnectCause {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cause
}

func (l *fakeLeg) Hangup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hangups++
	return nil
}

func (l *fakeLeg) hangupCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hangups
}

func (l *fakeLeg) end(cause phone.DisconnectCause) {
	l.mu.Lock()
	l.state = phone.CallDisconnected
	l.cause = cause
	l.mu.Unlock()
}

// ringingConnection is an incoming session that records answers.
type ringingConnection struct {
	telecom.Base
	answers atomic.Int32
}

func newRingingConnection() *ringingConnection {
	c := &ringingConnection{}
	c.Init(telecom.DirectionIncoming)
	c.SetRinging()
	return c
}

func (c *ringingConnection) Answer(phone.VideoState) { c.answers.Add(1) }
func (c *ringingConnection) Reject()                 {}
func (c *ringingConnection) Disconnect()             {}
func (c *ringingConnection) Hold()                   {}
func (c *ringingConnection) Unhold()                 {}

type releaseFixture struct {
	phone *sim.Phone
}

func newReleaseFixture(t *testing.T) *releaseFixture {
	t.Helper()
	p := sim.New(0, phone.TypeGSM, testLogger())
	t.Cleanup(p.Close)
	return &releaseFixture{phone: p}
}

// active returns a managed session wrapping a fake leg in the active state.
func (f *releaseFixture) active(t *testing.T) (*Connection, *fakeLeg) {
	t.Helper()
	leg := newFakeLeg(phone.CallActive)
	c := newConnection(f.phone, gsmTechnology{}, telecom.DirectionOutgoing, testLogger())
	c.SetOriginalConnection(leg)
	if c.State() != telecom.StateActive {
		t.Fatalf("expected active fixture connection, got %s", c.State())
	}
	return c, leg
}

func report(c *Connection, leg *fakeLeg) {
	leg.end(phone.CauseLocal)
	c.UpdateState()
}

func TestAnswerAndReleaseWaitsForAllConnections(t *testing.T) {
	f := newReleaseFixture(t)
	a, legA := f.active(t)
	b, legB := f.active(t)
	incoming := newRingingConnection()

	h := NewAnswerAndReleaseHandler(incoming, phone.VideoBidirectional, testLogger())
	var answered atomic.Int32
	h.OnAnswered(func() { answered.Add(1) })

	h.CheckAndAnswer([]telecom.Connection{incoming, a, b}, nil)

	if legA.hangupCount() != 1 || legB.hangupCount() != 1 {
		t.Fatalf("expected one disconnect request each, got %d and %d", legA.hangupCount(), legB.hangupCount())
	}
	if h.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", h.Pending())
	}
	if incoming.answers.Load() != 0 || answered.Load() != 0 {
		t.Fatal("answered before other connections disconnected")
	}

	report(a, legA)
	if incoming.answers.Load() != 0 || answered.Load() != 0 {
		t.Fatal("answered with one connection still pending")
	}

	report(b, legB)
	if got := incoming.answers.Load(); got != 1 {
		t.Errorf("expected exactly one answer, got %d", got)
	}
	if got := answered.Load(); got != 1 {
		t.Errorf("expected listener to fire once, got %d", got)
	}

	// The job does not re-arm.
	c, _ := f.active(t)
	h.CheckAndAnswer([]telecom.Connection{c}, nil)
	report(a, legA)
	if incoming.answers.Load() != 1 || answered.Load() != 1 {
		t.Error("completed job reacted to later events")
	}
	if c.State() != telecom.StateActive {
		t.Error("completed job disconnected a new connection")
	}
}

func TestAnswerAndReleaseIncomingDisconnectsFirst(t *testing.T) {
	f := newReleaseFixture(t)
	a, legA := f.active(t)
	b, legB := f.active(t)
	incoming := newRingingConnection()

	h := NewAnswerAndReleaseHandler(incoming, phone.VideoAudioOnly, testLogger())
	var answered atomic.Int32
	h.OnAnswered(func() { answered.Add(1) })

	h.CheckAndAnswer([]telecom.Connection{incoming, a, b}, nil)
	incoming.SetDisconnected(ToDisconnectCause(phone.CauseIncomingMissed, ""))

	report(a, legA)
	report(b, legB)

	if got := answered.Load(); got != 1 {
		t.Errorf("expected listener to fire once, got %d", got)
	}
	if got := incoming.answers.Load(); got != 0 {
		t.Errorf("expected no answer for a disconnected incoming call, got %d", got)
	}
}

func TestAnswerAndReleaseNothingToRelease(t *testing.T) {
	incoming := newRingingConnection()
	h := NewAnswerAndReleaseHandler(incoming, phone.VideoAudioOnly, testLogger())

	h.CheckAndAnswer([]telecom.Connection{incoming}, nil)

	if got := incoming.answers.Load(); got != 1 {
		t.Errorf("expected immediate answer, got %d", got)
	}
	select {
	case <-h.Done():
	default:
		t.Error("expected job to be done")
	}

	// Late listeners still hear about completion.
	called := false
	h.OnAnswered(func() { called = true })
	if !called {
		t.Error("listener added after completion did not run")
	}
}

func TestAnswerAndReleaseSkipsIneligibleConnections(t *testing.T) {
	f := newReleaseFixture(t)
	incoming := newRingingConnection()

	foreign := newForeignConnection()

	ringing := newConnection(f.phone, gsmTechnology{}, telecom.DirectionIncoming, testLogger())
	ringLeg := newFakeLeg(phone.CallWaiting)
	ringing.SetOriginalConnection(ringLeg)

	ended, endedLeg := f.active(t)
	report(ended, endedLeg)

	h := NewAnswerAndReleaseHandler(incoming, phone.VideoAudioOnly, testLogger())
	h.CheckAndAnswer([]telecom.Connection{foreign, ringing, ended, incoming}, nil)

	if ringLeg.hangupCount() != 0 {
		t.Error("ringing connection should not be released")
	}
	if foreign.State() != telecom.StateActive {
		t.Error("unmanaged connection should be left alone")
	}
	if got := incoming.answers.Load(); got != 1 {
		t.Errorf("expected answer with nothing to wait for, got %d", got)
	}
}

func TestAnswerAndReleaseWaitsForConference(t *testing.T) {
	f := newReleaseFixture(t)
	a, legA := f.active(t)
	b, _ := f.active(t)

	conf := newConference(f.phone, phone.TypeGSM, testLogger())
	conf.AddConnection(a)
	conf.AddConnection(b)
	conf.SetActive()

	incoming := newRingingConnection()
	h := NewAnswerAndReleaseHandler(incoming, phone.VideoAudioOnly, testLogger())
	h.CheckAndAnswer(nil, []telecom.Conference{conf})

	if got := legA.call.hangups.Load(); got != 1 {
		t.Fatalf("expected conference call hangup, got %d", got)
	}
	if incoming.answers.Load() != 0 {
		t.Fatal("answered before the conference was destroyed")
	}

	// A disconnected but not yet destroyed conference still blocks.
	conf.SetDisconnected(ToDisconnectCause(phone.CauseLocal, ""))
	if incoming.answers.Load() != 0 {
		t.Fatal("answered before the conference was destroyed")
	}

	conf.Destroy()
	if got := incoming.answers.Load(); got != 1 {
		t.Errorf("expected one answer after conference destroyed, got %d", got)
	}
}

func TestAnswerAndReleaseConcurrentOverlappingChecks(t *testing.T) {
	f := newReleaseFixture(t)
	const sessions = 4
	conns := make([]*Connection, sessions)
	legs := make([]*fakeLeg, sessions)
	candidates := make([]telecom.Connection, sessions)
	for i := range conns {
		conns[i], legs[i] = f.active(t)
		candidates[i] = conns[i]
	}

	incoming := newRingingConnection()
	h := NewAnswerAndReleaseHandler(incoming, phone.VideoAudioOnly, testLogger())
	var answered atomic.Int32
	h.OnAnswered(func() { answered.Add(1) })

	const workers = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Each worker sees an overlapping, rotated candidate set.
			rotated := append(append([]telecom.Connection(nil), candidates[i%sessions:]...), candidates[:i%sessions]...)
			h.CheckAndAnswer(rotated, nil)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, leg := range legs {
		if got := leg.hangupCount(); got != 1 {
			t.Errorf("session %d: expected exactly one disconnect request, got %d", i, got)
		}
	}
	if incoming.answers.Load() != 0 {
		t.Fatal("answered while sessions were still pending")
	}

	var reporters sync.WaitGroup
	for i := range conns {
		reporters.Add(1)
		go func(i int) {
			defer reporters.Done()
			report(conns[i], legs[i])
		}(i)
	}
	reporters.Wait()

	if got := incoming.answers.Load(); got != 1 {
		t.Errorf("expected exactly one answer, got %d", got)
	}
	if got := answered.Load(); got != 1 {
		t.Errorf("expected listener to fire once, got %d", got)
	}
}

func TestAnswerAndReleaseListenerUnsubscribe(t *testing.T) {
	f := newReleaseFixture(t)
	a, legA := f.active(t)
	incoming := newRingingConnection()

	h := NewAnswerAndReleaseHandler(incoming, phone.VideoAudioOnly, testLogger())
	var answered atomic.Int32
	unsubscribe := h.OnAnswered(func() { answered.Add(1) })
	h.CheckAndAnswer([]telecom.Connection{a}, nil)
	unsubscribe()

	report(a, legA)
	if answered.Load() != 0 {
		t.Error("unsubscribed listener was called")
	}
	if incoming.answers.Load() != 1 {
		t.Error("expected the incoming call to be answered")
	}
}
