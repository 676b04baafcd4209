package telecom

import (
	"log/slog"
	"sync"
)

// EventKind names a registry change.
type EventKind string

const (
	EventConnectionAdded   EventKind = "connection_added"
	EventConnectionRemoved EventKind = "connection_removed"
	EventConferenceAdded   EventKind = "conference_added"
	EventConferenceRemoved EventKind = "conference_removed"
)

// Event describes one registry change. Exactly one of Connection and
// Conference is set.
type Event struct {
	Kind       EventKind
	Connection Connection
	Conference Conference
}

// Registry tracks the connections and conferences that are currently
// active. Connections and conferences are guarded by separate locks so
// unrelated calls do not serialize on each other. Entries remove themselves
// when destroyed, and a removed event is never published before the added
// event of the same entry.
type Registry struct {
	logger *slog.Logger

	connections entries[Connection]
	conferences entries[Conference]

	subMu   sync.Mutex
	subNext uint64
	subs    map[uint64]func(Event)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("subsystem", "registry"),
		subs:   make(map[uint64]func(Event)),
	}
}

// AddConnection registers c until it is destroyed. A connection that is
// already destroyed is not registered.
func (r *Registry) AddConnection(c Connection) {
	unsubscribe := c.OnDestroyed(func() { r.RemoveConnection(c) })
	e := r.connections.add(c, c.IsDestroyed)
	if e == nil {
		unsubscribe()
		return
	}

	r.logger.Debug("connection registered", "connection_id", c.ID())
	r.publish(Event{Kind: EventConnectionAdded, Connection: c})
	if r.connections.announce(e) {
		r.logger.Debug("connection unregistered", "connection_id", c.ID())
		r.publish(Event{Kind: EventConnectionRemoved, Connection: c})
	}
}

// RemoveConnection unregisters c. Returns false if it was not registered.
func (r *Registry) RemoveConnection(c Connection) bool {
	removed, publish := r.connections.remove(c)
	if publish {
		r.logger.Debug("connection unregistered", "connection_id", c.ID())
		r.publish(Event{Kind: EventConnectionRemoved, Connection: c})
	}
	return removed
}

// Connection looks up a registered connection by id.
func (r *Registry) Connection(id string) Connection {
	for _, c := range r.Connections() {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// Connections returns a snapshot in registration order. The slice is a
// copy safe for iteration without holding the lock.
func (r *Registry) Connections() []Connection {
	return r.connections.snapshot()
}

// AddConference registers c until it is destroyed.
func (r *Registry) AddConference(c Conference) {
	unsubscribe := c.OnDestroyed(func() { r.RemoveConference(c) })
	e := r.conferences.add(c, c.IsDestroyed)
	if e == nil {
		unsubscribe()
		return
	}

	r.logger.Debug("conference registered", "conference_id", c.ID())
	r.publish(Event{Kind: EventConferenceAdded, Conference: c})
	if r.conferences.announce(e) {
		r.logger.Debug("conference unregistered", "conference_id", c.ID())
		r.publish(Event{Kind: EventConferenceRemoved, Conference: c})
	}
}

// RemoveConference unregisters c. Returns false if it was not registered.
func (r *Registry) RemoveConference(c Conference) bool {
	removed, publish := r.conferences.remove(c)
	if publish {
		r.logger.Debug("conference unregistered", "conference_id", c.ID())
		r.publish(Event{Kind: EventConferenceRemoved, Conference: c})
	}
	return removed
}

// Conference looks up a registered conference by id.
func (r *Registry) Conference(id string) Conference {
	for _, c := range r.Conferences() {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// Conferences returns a snapshot in registration order.
func (r *Registry) Conferences() []Conference {
	return r.conferences.snapshot()
}

// ConnectionCountByState returns the number of registered connections in
// each state.
func (r *Registry) ConnectionCountByState() map[State]int {
	counts := make(map[State]int)
	for _, c := range r.Connections() {
		counts[c.State()]++
	}
	return counts
}

// Subscribe registers fn for every registry change.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.subNext
	r.subNext++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) publish(ev Event) {
	r.subMu.Lock()
	fns := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// entry is one registered item. announced is set once its added event has
// been published; a removal seen before that is left for announce to
// publish.
type entry[T comparable] struct {
	item      T
	announced bool
	removed   bool
}

type entries[T comparable] struct {
	mu    sync.RWMutex
	items []*entry[T]
}

// add appends item unless it is already present or destroyed reports true.
// destroyed is checked under the lock, so a concurrent destroy either
// prevents the add or finds the entry to remove.
func (s *entries[T]) add(item T, destroyed func() bool) *entry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		if e.item == item {
			return nil
		}
	}
	if destroyed() {
		return nil
	}
	e := &entry[T]{item: item}
	s.items = append(s.items, e)
	return e
}

// announce marks e's added event as published and reports whether e was
// removed in the meantime.
func (s *entries[T]) announce(e *entry[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.announced = true
	return e.removed
}

// remove drops item. publish is true when the caller should publish the
// removal now.
func (s *entries[T]) remove(item T) (removed, publish bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.items {
		if e.item == item {
			s.items = append(s.items[:i], s.items[i+1:]...)
			e.removed = true
			return true, e.announced
		}
	}
	return false, false
}

func (s *entries[T]) snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.items))
	for _, e := range s.items {
		out = append(out, e.item)
	}
	return out
}
