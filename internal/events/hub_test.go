package events

import (
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/phone/sim"
	"github.com/flowpbx/telephony/internal/telecom"
)

type testConnection struct {
	telecom.Base
}

func (c *testConnection) Answer(phone.VideoState) {}
func (c *testConnection) Reject()                 {}
func (c *testConnection) Disconnect()             {}
func (c *testConnection) Hold()                   {}
func (c *testConnection) Unhold()                 {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestPublishAndUnsubscribe(t *testing.T) {
	hub := NewHub(testLogger())
	ch, unsubscribe := hub.Subscribe()

	hub.Publish("custom", "hello")
	ev := next(t, ch)
	if ev.Type != "custom" || ev.Data != "hello" || ev.ID != 1 {
		t.Errorf("unexpected event %+v", ev)
	}

	unsubscribe()
	unsubscribe()
	if hub.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", hub.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}

	// Publishing with no subscribers is harmless.
	hub.Publish("custom", nil)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub(testLogger())
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for i := 0; i < clientBuffer+10; i++ {
		hub.Publish("tick", i)
	}
	if len(ch) != clientBuffer {
		t.Errorf("expected buffer to hold %d events, got %d", clientBuffer, len(ch))
	}
}

func TestAttachPublishesRegistryChanges(t *testing.T) {
	hub := NewHub(testLogger())
	registry := telecom.NewRegistry(testLogger())
	defer hub.Attach(registry)()

	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	c := &testConnection{}
	c.Init(telecom.DirectionOutgoing)
	c.SetAddress(telecom.TelAddress("5551234"), telecom.PresentationAllowed)
	registry.AddConnection(c)

	ev := next(t, ch)
	if ev.Type != TypeConnectionAdded {
		t.Fatalf("expected %s, got %s", TypeConnectionAdded, ev.Type)
	}
	snap := ev.Data.(telecom.ConnectionSnapshot)
	if snap.ID != c.ID() || snap.Address != "tel:5551234" {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	c.SetDialing()
	ev = next(t, ch)
	if ev.Type != TypeConnectionState || ev.Data.(telecom.ConnectionSnapshot).State != telecom.StateDialing {
		t.Errorf("expected dialing state event, got %+v", ev)
	}

	c.SetDisconnected(telecom.DisconnectCause{Code: telecom.CodeLocal})
	ev = next(t, ch)
	if ev.Type != TypeConnectionState {
		t.Fatalf("expected state event, got %s", ev.Type)
	}
	if cause := ev.Data.(telecom.ConnectionSnapshot).DisconnectCause; cause == nil || cause.Code != telecom.CodeLocal {
		t.Errorf("expected local disconnect cause, got %+v", cause)
	}

	c.Destroy()
	ev = next(t, ch)
	if ev.Type != TypeConnectionRemoved {
		t.Fatalf("expected %s, got %s", TypeConnectionRemoved, ev.Type)
	}

	hub.watchMu.Lock()
	watches := len(hub.watches)
	hub.watchMu.Unlock()
	if watches != 0 {
		t.Errorf("expected watches to be released, got %d", watches)
	}
}

func TestLaunchMMIAndServiceState(t *testing.T) {
	hub := NewHub(testLogger())
	p := sim.New(2, phone.TypeGSM, testLogger())
	defer hub.WatchPhones([]phone.Phone{p})()

	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.LaunchMMI(p, "*#06#")
	ev := next(t, ch)
	data, ok := ev.Data.(MMIData)
	if ev.Type != TypeMMI || !ok || data.PhoneID != 2 || data.DialString != "*#06#" {
		t.Errorf("unexpected mmi event %+v", ev)
	}

	p.SetServiceState(phone.StateOutOfService)
	ev = next(t, ch)
	state, ok := ev.Data.(ServiceStateData)
	if ev.Type != TypeServiceState || !ok || state.State != "out_of_service" {
		t.Errorf("unexpected service state event %+v", ev)
	}
}

func TestWebSocketStream(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	hub.Publish(TypeMMI, MMIData{PhoneID: 0, DialString: "*21#"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type string  `json:"type"`
		Data MMIData `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != TypeMMI || got.Data.DialString != "*21#" {
		t.Errorf("unexpected frame %+v", got)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream did not unsubscribe after close")
		}
		time.Sleep(time.Millisecond)
	}
}
