package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

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

func newTestConnection() *testConnection {
	c := &testConnection{}
	c.Init(telecom.DirectionOutgoing)
	return c
}

type phoneList []phone.Phone

func (l phoneList) Phones() []phone.Phone { return l }

type fixedSubscribers int

func (n fixedSubscribers) Subscribers() int { return int(n) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	h, err := c.Handler()
	if err != nil {
		t.Fatalf("Handler() error: %v", err)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	return string(body)
}

func expectLine(t *testing.T, body, line string) {
	t.Helper()
	for _, l := range strings.Split(body, "\n") {
		if l == line {
			return
		}
	}
	t.Errorf("missing metric line %q", line)
}

func TestCollector(t *testing.T) {
	registry := telecom.NewRegistry(testLogger())
	p := sim.New(1, phone.TypeGSM, testLogger(), sim.WithServiceState(phone.StateEmergencyOnly))
	defer p.Close()

	c := NewCollector(registry, phoneList{p}, fixedSubscribers(2), time.Now().Add(-time.Minute))
	defer c.Attach(registry)()

	active := newTestConnection()
	registry.AddConnection(active)
	active.SetActive()

	ringing := newTestConnection()
	registry.AddConnection(ringing)
	ringing.SetRinging()

	for i := 0; i < 2; i++ {
		ended := newTestConnection()
		registry.AddConnection(ended)
		ended.SetDisconnected(telecom.DisconnectCause{Code: telecom.CodeBusy})
		ended.Destroy()
	}

	body := scrape(t, c)
	expectLine(t, body, `telephony_active_connections{state="active"} 1`)
	expectLine(t, body, `telephony_active_connections{state="ringing"} 1`)
	expectLine(t, body, `telephony_active_connections{state="holding"} 0`)
	expectLine(t, body, `telephony_active_conferences 0`)
	expectLine(t, body, `telephony_disconnects_total{cause="busy"} 2`)
	expectLine(t, body, `telephony_phone_service_state{phone_id="1",state="emergency_only"} 1`)
	expectLine(t, body, `telephony_phone_service_state{phone_id="1",state="in_service"} 0`)
	expectLine(t, body, `telephony_event_stream_clients 2`)
	if !strings.Contains(body, "telephony_uptime_seconds ") {
		t.Error("expected uptime metric")
	}
	if !strings.Contains(body, "go_goroutines ") {
		t.Error("expected Go runtime metrics")
	}
}

func TestCollectorIgnoresUndisconnectedRemovals(t *testing.T) {
	registry := telecom.NewRegistry(testLogger())
	c := NewCollector(registry, nil, nil, time.Now())
	defer c.Attach(registry)()

	conn := newTestConnection()
	registry.AddConnection(conn)
	conn.Destroy()

	body := scrape(t, c)
	if strings.Contains(body, "telephony_disconnects_total{") {
		t.Errorf("expected no disconnect samples, got:\n%s", body)
	}
	if strings.Contains(body, "telephony_event_stream_clients") {
		t.Error("stream clients reported without a counter")
	}
}
