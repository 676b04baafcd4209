package telephony

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/phone/sim"
	"github.com/flowpbx/telephony/internal/telecom"
)

const testComponent = "telephony"

var testAccount = phone.AccountHandle{ComponentName: testComponent, ID: "1"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mapSubscriptions maps subscription ids to slots.
type mapSubscriptions map[int64]int

func (m mapSubscriptions) PhoneIDForSubscription(_ context.Context, subID int64) (int, error) {
	if id, ok := m[subID]; ok {
		return id, nil
	}
	return 0, phone.ErrSubscriptionNotFound
}

// setClassifier treats the listed numbers as emergency numbers.
type setClassifier map[string]bool

func (s setClassifier) IsPotentialEmergencyNumber(number string) bool { return s[number] }

// manualSequencer holds the radio callback until the test completes it.
type manualSequencer struct {
	mu       sync.Mutex
	phones   []phone.Phone
	callback func(bool)
}

func (m *manualSequencer) StartTurnOnRadioSequence(p phone.Phone, callback func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phones = append(m.phones, p)
	m.callback = callback
}

func (m *manualSequencer) complete(ready bool) {
	m.mu.Lock()
	cb := m.callback
	m.callback = nil
	m.mu.Unlock()
	if cb != nil {
		cb(ready)
	}
}

type recordingMMI struct {
	mu      sync.Mutex
	numbers []string
}

func (r *recordingMMI) LaunchMMI(_ phone.Phone, dialString string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numbers = append(r.numbers, dialString)
}

func (r *recordingMMI) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.numbers)
}

type recordingTone struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (r *recordingTone) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return nil
}

func (r *recordingTone) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
}

func (r *recordingTone) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.stopped
}

type harness struct {
	svc       *Service
	phone     *sim.Phone
	sequencer *manualSequencer
	mmi       *recordingMMI
	tone      *recordingTone
}

// newHarness builds a service over one simulated phone in slot 0 reachable
// through testAccount. 911 and 112 are emergency numbers.
func newHarness(t *testing.T, typ phone.Type, opts ...sim.Option) *harness {
	t.Helper()
	logger := testLogger()

	p := sim.New(0, typ, logger, opts...)
	t.Cleanup(p.Close)

	phones := phone.NewRegistry(testComponent, mapSubscriptions{1: 0}, logger)
	phones.Add(p)
	phones.SetDefault(0)

	h := &harness{
		phone:     p,
		sequencer: &manualSequencer{},
		mmi:       &recordingMMI{},
		tone:      &recordingTone{},
	}
	h.svc = NewService(Options{
		Selector:   phones,
		Sequencer:  h.sequencer,
		Classifier: setClassifier{"911": true, "112": true},
		MMI:        h.mmi,
		Tones:      func() TonePlayer { return h.tone },
		Logger:     logger,
	})
	return h
}

func (h *harness) dial(t *testing.T, number string) *Connection {
	t.Helper()
	c := h.svc.CreateOutgoing(context.Background(), testAccount, OutgoingRequest{Address: telecom.TelAddress(number)})
	mc, ok := c.(*Connection)
	if !ok {
		t.Fatalf("expected managed connection for %s, got cause %v", number, c.DisconnectCause())
	}
	return mc
}

func assertCause(t *testing.T, c telecom.Connection, want phone.DisconnectCause) {
	t.Helper()
	if c.State() != telecom.StateDisconnected {
		t.Fatalf("expected disconnected connection, got state %s", c.State())
	}
	if got := c.DisconnectCause().TelephonyCause; got != want {
		t.Errorf("expected cause %s, got %s", want, got)
	}
}

func TestCreateOutgoingNoAddress(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	c := h.svc.CreateOutgoing(context.Background(), testAccount, OutgoingRequest{})
	assertCause(t, c, phone.CauseNoPhoneNumberSupplied)
}

func TestCreateOutgoingVoicemailNumberMissing(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	c := h.svc.CreateOutgoing(context.Background(), testAccount, OutgoingRequest{
		Address: telecom.ParseAddress("voicemail:1"),
	})
	assertCause(t, c, phone.CauseVoicemailNumberMissing)
	if c.DisconnectCause().Code != telecom.CodeError {
		t.Errorf("expected error code, got %s", c.DisconnectCause().Code)
	}
}

func TestCreateOutgoingVoicemailDialsConfiguredNumber(t *testing.T) {
	h := newHarness(t, phone.TypeGSM, sim.WithVoiceMailNumber("+61400000123"))
	c := h.svc.CreateOutgoing(context.Background(), testAccount, OutgoingRequest{
		Address: telecom.ParseAddress("voicemail:1"),
	})
	if c.State() != telecom.StateDialing {
		t.Fatalf("expected dialing, got %s (%v)", c.State(), c.DisconnectCause())
	}
	if got := c.Address().String(); got != "tel:+61400000123" {
		t.Errorf("expected voicemail number address, got %q", got)
	}
	if h.phone.FindConnection("+61400000123") == nil {
		t.Error("expected radio to dial the voicemail number")
	}
}

func TestCreateOutgoingInvalidScheme(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	for _, addr := range []string{"sip:alice@example.com", "mailto:bob", "5551234", "tel:"} {
		t.Run(addr, func(t *testing.T) {
			c := h.svc.CreateOutgoing(context.Background(), testAccount, OutgoingRequest{
				Address: telecom.ParseAddress(addr),
			})
			assertCause(t, c, phone.CauseInvalidNumber)
		})
	}
}

func TestCreateOutgoingServiceStateGate(t *testing.T) {
	tests := []struct {
		state phone.ServiceState
		want  phone.DisconnectCause
	}{
		{phone.StateOutOfService, phone.CauseOutOfService},
		{phone.StatePowerOff, phone.CausePowerOff},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := newHarness(t, phone.TypeGSM, sim.WithServiceState(tt.state))
			c := h.svc.CreateOutgoing(context.Background(), testAccount, OutgoingRequest{
				Address: telecom.TelAddress("5551234"),
			})
			assertCause(t, c, tt.want)
			if n := len(h.svc.Registry().Connections()); n != 0 {
				t.Errorf("expected no registered connections, got %d", n)
			}
		})
	}
}

func TestCreateOutgoingEmergencyOnlyAllowed(t *testing.T) {
	h := newHarness(t, phone.TypeGSM, sim.WithServiceState(phone.StateEmergencyOnly))
	c := h.dial(t, "5551234")
	if c.State() != telecom.StateDialing {
		t.Errorf("expected dialing, got %s", c.State())
	}
}

func TestCreateOutgoingEmergencyBypassesServiceGate(t *testing.T) {
	h := newHarness(t, phone.TypeGSM, sim.WithServiceState(phone.StateOutOfService))
	c := h.svc.CreateOutgoing(context.Background(), testAccount, OutgoingRequest{
		Address: telecom.TelAddress("911"),
	})
	if c.DisconnectCause().TelephonyCause == phone.CauseOutOfService {
		t.Fatal("emergency call must not fail with out of service")
	}
	if c.State() != telecom.StateDialing {
		t.Errorf("expected dialing, got %s", c.State())
	}
	if len(h.sequencer.phones) != 0 {
		t.Error("radio sequencer should not run when the radio is on")
	}
}

func TestCreateOutgoingEmergencyUsesDefaultPhone(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	// An account that resolves to nothing for normal calls.
	account := phone.AccountHandle{ComponentName: "other", ID: "9"}

	c := h.svc.CreateOutgoing(context.Background(), account, OutgoingRequest{Address: telecom.TelAddress("5551234")})
	assertCause(t, c, phone.CauseOutgoingFailure)

	c = h.svc.CreateOutgoing(context.Background(), account, OutgoingRequest{Address: telecom.TelAddress("112")})
	if c.State() != telecom.StateDialing {
		t.Errorf("expected emergency call on default phone, got %s (%v)", c.State(), c.DisconnectCause())
	}
}

func TestCreateOutgoingEmergencyRadioOn(t *testing.T) {
	h := newHarness(t, phone.TypeGSM, sim.WithServiceState(phone.StatePowerOff))

	c := h.dial(t, "911")
	if c.State() != telecom.StateInitializing {
		t.Fatalf("expected initializing while radio powers on, got %s", c.State())
	}
	if h.phone.FindConnection("911") != nil {
		t.Fatal("must not dial before the radio is ready")
	}
	if h.svc.Registry().Connection(c.ID()) == nil {
		t.Error("initializing connection should be registered")
	}

	h.phone.SetServiceState(phone.StateInService)
	h.sequencer.complete(true)

	if c.State() != telecom.StateDialing {
		t.Errorf("expected dialing after radio on, got %s", c.State())
	}
	if h.phone.FindConnection("911") == nil {
		t.Error("expected the emergency number to be dialed")
	}
}

func TestCreateOutgoingEmergencyRadioOnFailure(t *testing.T) {
	h := newHarness(t, phone.TypeGSM, sim.WithServiceState(phone.StatePowerOff))

	c := h.dial(t, "911")
	h.sequencer.complete(false)

	assertCause(t, c, phone.CausePowerOff)
	if c.DisconnectCause().Reason != "failed to turn on radio" {
		t.Errorf("unexpected reason %q", c.DisconnectCause().Reason)
	}
	if !c.IsDestroyed() {
		t.Error("expected connection to be released")
	}
	if h.svc.Registry().Connection(c.ID()) != nil {
		t.Error("released connection still registered")
	}
}

func TestCreateOutgoingDisconnectedWhileRadioPowersOn(t *testing.T) {
	h := newHarness(t, phone.TypeGSM, sim.WithServiceState(phone.StatePowerOff))

	c := h.dial(t, "911")
	c.Disconnect()
	assertCause(t, c, phone.CauseLocal)

	h.phone.SetServiceState(phone.StateInService)
	h.sequencer.complete(true)

	if h.phone.FindConnection("911") != nil {
		t.Error("disconnected connection must not be dialed")
	}
	if c.DisconnectCause().TelephonyCause != phone.CauseLocal {
		t.Errorf("cause changed to %s", c.DisconnectCause().TelephonyCause)
	}
}

func TestDialReturningNoCall(t *testing.T) {
	tests := []struct {
		typ     phone.Type
		want    phone.DisconnectCause
		wantMMI int
	}{
		{phone.TypeGSM, phone.CauseDialedMMI, 1},
		{phone.TypeCDMA, phone.CauseOutgoingFailure, 0},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			h := newHarness(t, tt.typ)
			c := h.dial(t, "*#06#")
			assertCause(t, c, tt.want)
			if got := h.mmi.count(); got != tt.wantMMI {
				t.Errorf("expected %d mmi launches, got %d", tt.wantMMI, got)
			}
		})
	}
}

func TestDialCallStateError(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	h.phone.FailNextDial(&phone.CallStateError{Op: "dial", Reason: "modem busy"})

	c := h.dial(t, "5551234")
	assertCause(t, c, phone.CauseOutgoingFailure)
	if got := c.DisconnectCause().Reason; got != "dial: modem busy" {
		t.Errorf("expected exception message as reason, got %q", got)
	}
}

func TestCreateOutgoingUnsupportedTechnology(t *testing.T) {
	h := newHarness(t, phone.TypeSIP)
	c := h.svc.CreateOutgoing(context.Background(), testAccount, OutgoingRequest{Address: telecom.TelAddress("5551234")})
	assertCause(t, c, phone.CauseOutgoingFailure)
}

func TestOutgoingStateMirroring(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	c := h.dial(t, "5551234")
	leg := c.OriginalConnection()
	if leg == nil {
		t.Fatal("expected original connection after dial")
	}

	h.phone.RemoteAlert(leg)
	if c.State() != telecom.StateDialing {
		t.Errorf("expected dialing while alerting, got %s", c.State())
	}

	h.phone.RemoteAnswer(leg)
	if c.State() != telecom.StateActive {
		t.Fatalf("expected active, got %s", c.State())
	}
	if !c.Capabilities().Has(telecom.CapabilityHold | telecom.CapabilityMute) {
		t.Errorf("expected hold and mute capabilities, got %b", c.Capabilities())
	}

	var causes []telecom.DisconnectCause
	c.OnDisconnected(func(cause telecom.DisconnectCause) { causes = append(causes, cause) })

	h.phone.RemoteHangup(leg, phone.CauseNormal)
	assertCause(t, c, phone.CauseNormal)
	if c.DisconnectCause().Code != telecom.CodeRemote {
		t.Errorf("expected remote code, got %s", c.DisconnectCause().Code)
	}
	if len(causes) != 1 {
		t.Errorf("expected one disconnect notification, got %d", len(causes))
	}
	if h.svc.Registry().Connection(c.ID()) != nil {
		t.Error("disconnected connection still registered")
	}
}

func TestHoldAndUnhold(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	c := h.dial(t, "5551234")
	h.phone.RemoteAnswer(c.OriginalConnection())

	c.Hold()
	if c.State() != telecom.StateHolding {
		t.Fatalf("expected holding, got %s", c.State())
	}
	c.Unhold()
	if c.State() != telecom.StateActive {
		t.Errorf("expected active, got %s", c.State())
	}
}

func TestCreateIncomingNoRingingCall(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	c := h.svc.CreateIncoming(context.Background(), testAccount)
	assertCause(t, c, phone.CauseIncomingMissed)
	if c.DisconnectCause().Code != telecom.CodeMissed {
		t.Errorf("expected missed code, got %s", c.DisconnectCause().Code)
	}
}

func TestCreateIncomingNoPhone(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	c := h.svc.CreateIncoming(context.Background(), phone.AccountHandle{ComponentName: testComponent, ID: "7"})
	assertCause(t, c, phone.CauseErrorUnspecified)

	c = h.svc.CreateUnknown(context.Background(), phone.AccountHandle{ComponentName: testComponent, ID: "not-a-number"})
	assertCause(t, c, phone.CauseErrorUnspecified)
}

func TestCreateIncomingIsIdempotent(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	h.phone.Ring("0298765432")

	first := h.svc.CreateIncoming(context.Background(), testAccount)
	if first.State() != telecom.StateRinging {
		t.Fatalf("expected ringing session, got %s (%v)", first.State(), first.DisconnectCause())
	}
	if first.Direction() != telecom.DirectionIncoming {
		t.Errorf("expected incoming direction, got %s", first.Direction())
	}
	if got := first.Address().Number; got != "0298765432" {
		t.Errorf("expected caller number, got %q", got)
	}

	second := h.svc.CreateIncoming(context.Background(), testAccount)
	if !telecom.IsCanceled(second) {
		t.Fatalf("expected canceled result, got %s (%v)", second.State(), second.DisconnectCause())
	}

	// The unknown path must not wrap the same leg either.
	third := h.svc.CreateUnknown(context.Background(), testAccount)
	if !telecom.IsCanceled(third) {
		t.Errorf("expected canceled unknown result, got %s", third.State())
	}
	if n := len(h.svc.Registry().Connections()); n != 1 {
		t.Errorf("expected 1 registered connection, got %d", n)
	}
}

func TestCreateIncomingConcurrentNotifications(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	h.phone.Ring("0298765432")

	const workers = 8
	results := make([]telecom.Connection, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.svc.CreateIncoming(context.Background(), testAccount)
		}(i)
	}
	wg.Wait()

	real := 0
	for _, r := range results {
		if _, ok := r.(*Connection); ok {
			real++
		} else if !telecom.IsCanceled(r) {
			t.Errorf("expected canceled result, got %v", r.DisconnectCause())
		}
	}
	if real != 1 {
		t.Errorf("expected exactly one session for the leg, got %d", real)
	}
}

func TestCreateIncomingCallWaitingPicksLatestLeg(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	out := h.dial(t, "5551234")
	h.phone.RemoteAnswer(out.OriginalConnection())

	h.phone.Ring("111")
	h.phone.Ring("222")

	c := h.svc.CreateIncoming(context.Background(), testAccount)
	if got := c.Address().Number; got != "222" {
		t.Errorf("expected most recent waiting leg, got %q", got)
	}
}

func TestCreateIncomingPicksEarliestLeg(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	h.phone.Ring("111")
	h.phone.Ring("222")

	c := h.svc.CreateIncoming(context.Background(), testAccount)
	if got := c.Address().Number; got != "111" {
		t.Errorf("expected earliest leg, got %q", got)
	}
}

func TestCreateUnknownIsIdempotent(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	if _, err := h.phone.Dial("5551234", phone.VideoAudioOnly); err != nil {
		t.Fatalf("dial: %v", err)
	}

	first := h.svc.CreateUnknown(context.Background(), testAccount)
	if first.State() != telecom.StateDialing {
		t.Fatalf("expected dialing session, got %s (%v)", first.State(), first.DisconnectCause())
	}
	if first.Direction() != telecom.DirectionOutgoing {
		t.Errorf("expected outgoing direction, got %s", first.Direction())
	}

	second := h.svc.CreateUnknown(context.Background(), testAccount)
	if !telecom.IsCanceled(second) {
		t.Errorf("expected canceled result, got %s", second.State())
	}
}

func TestCreateUnknownNothingToWrap(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	c := h.svc.CreateUnknown(context.Background(), testAccount)
	if !telecom.IsCanceled(c) {
		t.Errorf("expected canceled result, got %s", c.State())
	}
}

// foreignConnection is a session implementation the service did not create.
type foreignConnection struct {
	telecom.Base
}

// createDuringDial places an outgoing call and runs create from the first
// call-state event the dial raises.
func createDuringDial(t *testing.T, h *harness, create func() telecom.Connection) (*Connection, telecom.Connection) {
	t.Helper()
	results := make(chan telecom.Connection, 1)
	var once sync.Once
	unsubscribe := h.phone.SubscribeCallState(func() {
		once.Do(func() { results <- create() })
	})
	defer unsubscribe()

	out := h.dial(t, "5551234")
	select {
	case other := <-results:
		return out, other
	case <-time.After(2 * time.Second):
		t.Fatal("dial raised no call-state event")
		return nil, nil
	}
}

func TestCreateDuringOutgoingDial(t *testing.T) {
	tests := []struct {
		name   string
		opts   []sim.Option
		create func(*Service) telecom.Connection
	}{
		{
			name: "unknown",
			create: func(s *Service) telecom.Connection {
				return s.CreateUnknown(context.Background(), testAccount)
			},
		},
		{
			name: "unknown async events",
			opts: []sim.Option{sim.WithAsyncEvents()},
			create: func(s *Service) telecom.Connection {
				return s.CreateUnknown(context.Background(), testAccount)
			},
		},
		{
			name: "incoming",
			create: func(s *Service) telecom.Connection {
				return s.CreateIncoming(context.Background(), testAccount)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, phone.TypeGSM, tt.opts...)
			out, other := createDuringDial(t, h, func() telecom.Connection { return tt.create(h.svc) })

			if _, ok := other.(*Connection); ok {
				t.Fatalf("second session created for the dialed leg: %s and %s", out.ID(), other.ID())
			}
			if other.State() != telecom.StateDisconnected {
				t.Errorf("expected disconnected result, got %s", other.State())
			}
			if out.OriginalConnection() == nil {
				t.Fatal("outgoing session did not adopt its leg")
			}
			if out.IsDestroyed() {
				t.Errorf("outgoing session destroyed: %v", out.DisconnectCause())
			}
			if n := len(h.svc.Registry().Connections()); n != 1 {
				t.Errorf("expected 1 registered connection, got %d", n)
			}
		})
	}
}

func TestCreateUnknownRacingOutgoingDial(t *testing.T) {
	h := newHarness(t, phone.TypeGSM, sim.WithAsyncEvents())

	stop := make(chan struct{})
	var (
		mu      sync.Mutex
		wrapped []telecom.Connection
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c := h.svc.CreateUnknown(context.Background(), testAccount)
				if _, ok := c.(*Connection); ok {
					mu.Lock()
					wrapped = append(wrapped, c)
					mu.Unlock()
				}
			}
		}()
	}

	out := h.dial(t, "5551234")
	close(stop)
	wg.Wait()

	if len(wrapped) != 0 {
		t.Fatalf("dialed leg wrapped again by %d unknown sessions", len(wrapped))
	}
	if out.OriginalConnection() == nil || out.IsDestroyed() {
		t.Fatalf("outgoing session lost its leg: %v", out.DisconnectCause())
	}
	if n := len(h.svc.Registry().Connections()); n != 1 {
		t.Errorf("expected 1 registered connection, got %d", n)
	}
}

func newForeignConnection() *foreignConnection {
	c := &foreignConnection{}
	c.Init(telecom.DirectionOutgoing)
	c.SetActive()
	return c
}

func (c *foreignConnection) Answer(phone.VideoState) {}
func (c *foreignConnection) Reject()                 {}
func (c *foreignConnection) Disconnect()             {}
func (c *foreignConnection) Hold()                   {}
func (c *foreignConnection) Unhold()                 {}

func TestMergeIgnoresUnmanagedConnections(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)
	managed := h.dial(t, "5551234")

	if err := h.svc.Merge(newForeignConnection(), managed); !errors.Is(err, ErrNotManaged) {
		t.Errorf("expected ErrNotManaged, got %v", err)
	}
	if err := h.svc.Merge(managed, newForeignConnection()); !errors.Is(err, ErrNotManaged) {
		t.Errorf("expected ErrNotManaged, got %v", err)
	}
	if n := len(h.svc.Registry().Conferences()); n != 0 {
		t.Errorf("expected no conferences, got %d", n)
	}
}

func TestMergeCreatesConference(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)

	a := h.dial(t, "111")
	h.phone.RemoteAnswer(a.OriginalConnection())
	b := h.dial(t, "222")
	h.phone.RemoteAnswer(b.OriginalConnection())

	if a.State() != telecom.StateHolding || b.State() != telecom.StateActive {
		t.Fatalf("expected a held and b active, got %s and %s", a.State(), b.State())
	}
	if !a.Capabilities().Has(telecom.CapabilityMergeConference) || !b.Capabilities().Has(telecom.CapabilityMergeConference) {
		t.Error("expected both connections to be conferenceable")
	}

	if err := h.svc.Merge(a, b); err != nil {
		t.Fatalf("merge: %v", err)
	}

	confs := h.svc.Registry().Conferences()
	if len(confs) != 1 {
		t.Fatalf("expected 1 conference, got %d", len(confs))
	}
	conf := confs[0]
	if conf.State() != telecom.StateActive {
		t.Errorf("expected active conference, got %s", conf.State())
	}
	if n := len(conf.Connections()); n != 2 {
		t.Errorf("expected 2 participants, got %d", n)
	}
	if a.Conference() != conf || b.Conference() != conf {
		t.Error("participants should report their conference")
	}

	h.phone.RemoteHangup(b.OriginalConnection(), phone.CauseNormal)

	if n := len(h.svc.Registry().Conferences()); n != 0 {
		t.Errorf("expected conference to end with one participant left, got %d", n)
	}
	if a.Conference() != nil {
		t.Error("remaining participant still attached to the ended conference")
	}
}

func TestMuteAllowedPolicy(t *testing.T) {
	tests := []struct {
		name string
		typ  phone.Type
		ecm  bool
		want bool
	}{
		{"gsm", phone.TypeGSM, false, true},
		{"cdma", phone.TypeCDMA, false, true},
		{"cdma in ecm", phone.TypeCDMA, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.typ, sim.WithEmergencyCallbackMode(tt.ecm))
			c := h.dial(t, "5551234")
			if got := c.IsMuteAllowed(); got != tt.want {
				t.Errorf("IsMuteAllowed = %v, want %v", got, tt.want)
			}
			if got := c.Capabilities().Has(telecom.CapabilityMute); got != tt.want {
				t.Errorf("mute capability = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCDMAEmergencyTone(t *testing.T) {
	h := newHarness(t, phone.TypeCDMA)
	c := h.dial(t, "911")

	if started, _ := h.tone.counts(); started != 0 {
		t.Fatalf("tone started before the call is active")
	}
	h.phone.RemoteAnswer(c.OriginalConnection())
	if started, _ := h.tone.counts(); started != 1 {
		t.Errorf("expected tone to start once, got %d", started)
	}

	h.phone.RemoteHangup(c.OriginalConnection(), phone.CauseNormal)
	if _, stopped := h.tone.counts(); stopped == 0 {
		t.Error("expected tone to stop on disconnect")
	}
}

func TestCDMANonEmergencyHasNoTone(t *testing.T) {
	h := newHarness(t, phone.TypeCDMA)
	c := h.dial(t, "5551234")
	h.phone.RemoteAnswer(c.OriginalConnection())
	if started, _ := h.tone.counts(); started != 0 {
		t.Errorf("expected no tone for a normal call, got %d starts", started)
	}
}

func TestServiceAnswerAndRelease(t *testing.T) {
	h := newHarness(t, phone.TypeGSM)

	active := h.dial(t, "5551234")
	h.phone.RemoteAnswer(active.OriginalConnection())
	h.phone.Ring("0298765432")
	incoming := h.svc.CreateIncoming(context.Background(), testAccount)

	job, err := h.svc.AnswerAndRelease(incoming.ID(), phone.VideoAudioOnly)
	if err != nil {
		t.Fatalf("answer and release: %v", err)
	}

	select {
	case <-job.Done():
	default:
		t.Fatal("expected job to complete once the active call was released")
	}
	if active.State() != telecom.StateDisconnected {
		t.Errorf("expected active call released, got %s", active.State())
	}
	if incoming.State() != telecom.StateActive {
		t.Errorf("expected incoming call answered, got %s", incoming.State())
	}

	if _, err := h.svc.AnswerAndRelease("conn-missing", phone.VideoAudioOnly); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
