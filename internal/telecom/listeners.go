package telecom

import "sync"

// listeners holds subscriber callbacks. Callbacks are copied out under the
// lock and invoked without it, so a callback may subscribe, unsubscribe or
// call back into the owner.
type listeners struct {
	mu         sync.Mutex
	next       uint64
	state      map[uint64]func(old, new State)
	disconnect map[uint64]func(DisconnectCause)
	destroyed  map[uint64]func()
}

func (l *listeners) addState(fn func(old, new State)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		l.state = make(map[uint64]func(old, new State))
	}
	id := l.next
	l.next++
	l.state[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.state, id)
		l.mu.Unlock()
	}
}

func (l *listeners) addDisconnected(fn func(DisconnectCause)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disconnect == nil {
		l.disconnect = make(map[uint64]func(DisconnectCause))
	}
	id := l.next
	l.next++
	l.disconnect[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.disconnect, id)
		l.mu.Unlock()
	}
}

func (l *listeners) addDestroyed(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed == nil {
		l.destroyed = make(map[uint64]func())
	}
	id := l.next
	l.next++
	l.destroyed[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.destroyed, id)
		l.mu.Unlock()
	}
}

func (l *listeners) fireState(old, new State) {
	l.mu.Lock()
	fns := make([]func(old, new State), 0, len(l.state))
	for _, fn := range l.state {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(old, new)
	}
}

func (l *listeners) fireDisconnected(cause DisconnectCause) {
	l.mu.Lock()
	fns := make([]func(DisconnectCause), 0, len(l.disconnect))
	for _, fn := range l.disconnect {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(cause)
	}
}

func (l *listeners) fireDestroyed() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.destroyed))
	for _, fn := range l.destroyed {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
