// Package metrics exposes telephony state to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
)

// liveStates are reported by telephony_active_connections even at zero.
var liveStates = []telecom.State{
	telecom.StateInitializing,
	telecom.StateNew,
	telecom.StateRinging,
	telecom.StateDialing,
	telecom.StateActive,
	telecom.StateHolding,
}

var serviceStates = []phone.ServiceState{
	phone.StateInService,
	phone.StateOutOfService,
	phone.StateEmergencyOnly,
	phone.StatePowerOff,
}

// PhoneLister returns the registered voice stacks.
type PhoneLister interface {
	Phones() []phone.Phone
}

// SubscriberCounter reports the number of live event stream clients.
type SubscriberCounter interface {
	Subscribers() int
}

// Collector is a prometheus.Collector that reads session and voice stack
// state at scrape time. Disconnect causes are counted as connections leave
// the registry.
type Collector struct {
	registry *telecom.Registry
	phones   PhoneLister
	streams  SubscriberCounter
	start    time.Time

	mu          sync.Mutex
	disconnects map[telecom.Code]uint64

	activeConnectionsDesc *prometheus.Desc
	activeConferencesDesc *prometheus.Desc
	disconnectsDesc       *prometheus.Desc
	serviceStateDesc      *prometheus.Desc
	streamClientsDesc     *prometheus.Desc
	uptimeDesc            *prometheus.Desc
}

// NewCollector creates a collector. phones and streams may be nil.
func NewCollector(registry *telecom.Registry, phones PhoneLister, streams SubscriberCounter, start time.Time) *Collector {
	return &Collector{
		registry:    registry,
		phones:      phones,
		streams:     streams,
		start:       start,
		disconnects: make(map[telecom.Code]uint64),

		activeConnectionsDesc: prometheus.NewDesc(
			"telephony_active_connections",
			"Number of live connections by state",
			[]string{"state"}, nil,
		),
		activeConferencesDesc: prometheus.NewDesc(
			"telephony_active_conferences",
			"Number of live conferences",
			nil, nil,
		),
		disconnectsDesc: prometheus.NewDesc(
			"telephony_disconnects_total",
			"Connections ended, by normalized disconnect cause",
			[]string{"cause"}, nil,
		),
		serviceStateDesc: prometheus.NewDesc(
			"telephony_phone_service_state",
			"Voice stack service state (1 for the current state)",
			[]string{"phone_id", "state"}, nil,
		),
		streamClientsDesc: prometheus.NewDesc(
			"telephony_event_stream_clients",
			"Number of connected event stream clients",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"telephony_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Attach starts counting disconnects from the registry. Call the returned
// function to stop.
func (c *Collector) Attach(registry *telecom.Registry) func() {
	return registry.Subscribe(func(ev telecom.Event) {
		if ev.Kind != telecom.EventConnectionRemoved || ev.Connection == nil {
			return
		}
		if ev.Connection.State() != telecom.StateDisconnected {
			return
		}
		code := ev.Connection.DisconnectCause().Code
		c.mu.Lock()
		c.disconnects[code]++
		c.mu.Unlock()
	})
}

// Handler returns an HTTP handler serving this collector together with the
// Go runtime and process collectors.
func (c *Collector) Handler() (http.Handler, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeConnectionsDesc
	ch <- c.activeConferencesDesc
	ch <- c.disconnectsDesc
	ch <- c.serviceStateDesc
	ch <- c.streamClientsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counts := c.registry.ConnectionCountByState()
	for _, s := range liveStates {
		ch <- prometheus.MustNewConstMetric(
			c.activeConnectionsDesc, prometheus.GaugeValue,
			float64(counts[s]), s.String(),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.activeConferencesDesc, prometheus.GaugeValue,
		float64(len(c.registry.Conferences())),
	)

	c.mu.Lock()
	for code, n := range c.disconnects {
		ch <- prometheus.MustNewConstMetric(
			c.disconnectsDesc, prometheus.CounterValue,
			float64(n), code.String(),
		)
	}
	c.mu.Unlock()

	if c.phones != nil {
		for _, p := range c.phones.Phones() {
			current := p.ServiceState()
			id := strconv.Itoa(p.ID())
			for _, s := range serviceStates {
				val := 0.0
				if s == current {
					val = 1.0
				}
				ch <- prometheus.MustNewConstMetric(
					c.serviceStateDesc, prometheus.GaugeValue, val,
					id, s.String(),
				)
			}
		}
	}

	if c.streams != nil {
		ch <- prometheus.MustNewConstMetric(
			c.streamClientsDesc, prometheus.GaugeValue,
			float64(c.streams.Subscribers()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.start).Seconds(),
	)
}
