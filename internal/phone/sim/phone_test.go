package sim

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/flowpbx/telephony/internal/phone"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDialAnswerAndHangup(t *testing.T) {
	p := New(0, phone.TypeGSM, testLogger())

	events := 0
	p.SubscribeCallState(func() { events++ })

	conn, err := p.Dial("5551234", phone.VideoAudioOnly)
	if err != nil || conn == nil {
		t.Fatalf("dial: %v, %v", conn, err)
	}
	if conn.State() != phone.CallDialing || p.ForegroundCall().State() != phone.CallDialing {
		t.Fatalf("expected dialing, got %s", conn.State())
	}

	p.RemoteAlert(conn)
	if conn.State() != phone.CallAlerting {
		t.Fatalf("expected alerting, got %s", conn.State())
	}
	p.RemoteAnswer(conn)
	if conn.State() != phone.CallActive {
		t.Fatalf("expected active, got %s", conn.State())
	}

	p.RemoteHangup(conn, phone.CauseBusy)
	p.RemoteHangup(conn, phone.CauseNormal)
	if conn.State() != phone.CallDisconnected || conn.DisconnectCause() != phone.CauseBusy {
		t.Errorf("expected disconnected with busy, got %s %s", conn.State(), conn.DisconnectCause())
	}
	if events != 4 {
		t.Errorf("expected 4 call state events, got %d", events)
	}
}

func TestDialSwapsActiveCall(t *testing.T) {
	p := New(0, phone.TypeGSM, testLogger())

	first, _ := p.Dial("111", phone.VideoAudioOnly)
	p.RemoteAnswer(first)
	second, _ := p.Dial("222", phone.VideoAudioOnly)

	if first.State() != phone.CallHolding || first.Call() != p.BackgroundCall() {
		t.Fatalf("expected first call held in background, got %s", first.State())
	}
	if second.Call() != p.ForegroundCall() {
		t.Fatal("expected second call in foreground")
	}

	if _, err := p.Dial("333", phone.VideoAudioOnly); err == nil {
		t.Fatal("expected error dialing with active and held calls")
	}

	p.RemoteAnswer(second)
	if err := p.Conference(); err != nil {
		t.Fatalf("conference: %v", err)
	}
	if !p.ForegroundCall().IsMultiparty() {
		t.Error("expected multiparty foreground call")
	}
	if first.State() != phone.CallActive || p.BackgroundCall().State() != phone.CallIdle {
		t.Errorf("expected merged active call, got %s", first.State())
	}
}

func TestDialErrors(t *testing.T) {
	p := New(0, phone.TypeGSM, testLogger(), WithServiceState(phone.StatePowerOff))

	_, err := p.Dial("5551234", phone.VideoAudioOnly)
	var cse *phone.CallStateError
	if !errors.As(err, &cse) {
		t.Fatalf("expected CallStateError with radio off, got %v", err)
	}

	p.SetServiceState(phone.StateInService)
	injected := errors.New("modem reset")
	p.FailNextDial(injected)
	if _, err := p.Dial("5551234", phone.VideoAudioOnly); !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	conn, err := p.Dial("*#06#", phone.VideoAudioOnly)
	if conn != nil || err != nil {
		t.Errorf("expected MMI dial to return nothing, got %v, %v", conn, err)
	}
}

func TestRingAcceptAndReject(t *testing.T) {
	p := New(0, phone.TypeGSM, testLogger())

	conn := p.Ring("5550001")
	if conn.State() != phone.CallIncoming || !conn.IsIncoming() {
		t.Fatalf("expected incoming, got %s", conn.State())
	}
	if p.FindConnection("5550001") != conn {
		t.Fatal("FindConnection did not find the ringing leg")
	}
	if err := p.AcceptCall(phone.VideoAudioOnly); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if conn.State() != phone.CallActive || conn.Call() != p.ForegroundCall() {
		t.Fatalf("expected accepted call in foreground, got %s", conn.State())
	}

	waiting := p.Ring("5550002")
	if waiting.State() != phone.CallWaiting {
		t.Fatalf("expected waiting, got %s", waiting.State())
	}
	if err := p.RejectCall(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if waiting.DisconnectCause() != phone.CauseIncomingRejected {
		t.Errorf("expected rejected cause, got %s", waiting.DisconnectCause())
	}
	if err := p.RejectCall(); err == nil {
		t.Error("expected error rejecting with nothing ringing")
	}
}

func TestCallHangup(t *testing.T) {
	p := New(0, phone.TypeGSM, testLogger())

	if err := p.ForegroundCall().Hangup(); !errors.Is(err, phone.ErrNoSuchCall) {
		t.Fatalf("expected ErrNoSuchCall on idle call, got %v", err)
	}

	conn, _ := p.Dial("5551234", phone.VideoAudioOnly)
	if err := p.ForegroundCall().Hangup(); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if conn.DisconnectCause() != phone.CauseLocal {
		t.Errorf("expected local cause, got %s", conn.DisconnectCause())
	}
}

func TestRadioPower(t *testing.T) {
	p := New(0, phone.TypeCDMA, testLogger(), WithServiceState(phone.StatePowerOff))

	states := make(chan phone.ServiceState, 4)
	p.SubscribeServiceState(func(s phone.ServiceState) { states <- s })

	p.SetRadioPower(true)
	if p.ServiceState() != phone.StateInService {
		t.Fatalf("expected in service, got %s", p.ServiceState())
	}
	p.SetRadioPower(false)
	if p.ServiceState() != phone.StatePowerOff {
		t.Fatalf("expected power off, got %s", p.ServiceState())
	}
	if len(states) != 2 {
		t.Errorf("expected 2 service state events, got %d", len(states))
	}

	failing := New(1, phone.TypeGSM, testLogger(), WithServiceState(phone.StatePowerOff), WithRadioFailure())
	failing.SetRadioPower(true)
	if failing.ServiceState() != phone.StatePowerOff {
		t.Errorf("expected radio failure to keep power off, got %s", failing.ServiceState())
	}
}

func TestAsyncEventsAndAutoAnswer(t *testing.T) {
	p := New(0, phone.TypeGSM, testLogger(), WithAsyncEvents(), WithAutoAnswer(10*time.Millisecond))
	defer p.Close()

	changed := make(chan struct{}, 8)
	p.SubscribeCallState(func() { changed <- struct{}{} })

	conn, err := p.Dial("5551234", phone.VideoAudioOnly)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for conn.State() != phone.CallActive {
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("call not auto-answered, state %s", conn.State())
		}
	}
}
