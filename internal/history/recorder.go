// Package history writes a connection record for every released session.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowpbx/telephony/internal/database"
	"github.com/flowpbx/telephony/internal/database/models"
	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
)

const writeTimeout = 5 * time.Second

// phoneOwner is implemented by sessions bound to a voice stack.
type phoneOwner interface {
	Phone() phone.Phone
}

// Recorder follows the connection registry and persists a record when a
// connection leaves it. Writes happen on a worker goroutine so event
// delivery never waits on the database.
type Recorder struct {
	records database.ConnectionRecordRepository
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	connected map[string]time.Time
	unsubs    map[string]func()

	queue chan *models.ConnectionRecord
}

// NewRecorder creates a recorder writing to records.
func NewRecorder(records database.ConnectionRecordRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		records:   records,
		logger:    logger.With("subsystem", "history"),
		now:       time.Now,
		connected: make(map[string]time.Time),
		unsubs:    make(map[string]func()),
		queue:     make(chan *models.ConnectionRecord, 256),
	}
}

// Attach subscribes to registry events and returns the unsubscribe func.
func (r *Recorder) Attach(registry *telecom.Registry) func() {
	return registry.Subscribe(r.handle)
}

// Run writes queued records until ctx is cancelled, then drains the queue.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.queue:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(ev telecom.Event) {
	switch ev.Kind {
	case telecom.EventConnectionAdded:
		r.track(ev.Connection)
	case telecom.EventConnectionRemoved:
		r.finish(ev.Connection)
	}
}

func (r *Recorder) track(c telecom.Connection) {
	id := c.ID()
	unsubscribe := c.OnStateChange(func(_, state telecom.State) {
		if state != telecom.StateActive {
			return
		}
		r.mu.Lock()
		if _, ok := r.connected[id]; !ok {
			r.connected[id] = r.now()
		}
		r.mu.Unlock()
	})

	r.mu.Lock()
	r.unsubs[id] = unsubscribe
	if c.State() == telecom.StateActive {
		r.connected[id] = r.now()
	}
	r.mu.Unlock()
}

func (r *Recorder) finish(c telecom.Connection) {
	id := c.ID()

	r.mu.Lock()
	connectedAt, answered := r.connected[id]
	unsubscribe := r.unsubs[id]
	delete(r.connected, id)
	delete(r.unsubs, id)
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	end := r.now()
	cause := c.DisconnectCause()
	rec := &models.ConnectionRecord{
		ConnectionID:   id,
		Direction:      c.Direction().String(),
		Address:        c.Address().String(),
		StartTime:      c.CreatedAt(),
		EndTime:        end,
		Cause:          cause.Code.String(),
		TelephonyCause: cause.TelephonyCause.String(),
		Reason:         cause.Reason,
	}
	if answered {
		rec.ConnectTime = &connectedAt
		rec.Duration = int(end.Sub(connectedAt).Seconds())
	}
	if owner, ok := c.(phoneOwner); ok && owner.Phone() != nil {
		phoneID := owner.Phone().ID()
		rec.PhoneID = &phoneID
	}

	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("history queue full, dropping record", "connection_id", id)
	}
}

func (r *Recorder) write(rec *models.ConnectionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.records.Create(ctx, rec); err != nil {
		r.logger.Error("failed to write connection record",
			"connection_id", rec.ConnectionID,
			"error", err,
		)
		return
	}
	r.logger.Debug("connection record written",
		"connection_id", rec.ConnectionID,
		"cause", rec.Cause,
		"duration", rec.Duration,
	)
}
