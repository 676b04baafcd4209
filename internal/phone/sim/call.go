package sim

import "github.com/flowpbx/telephony/internal/phone"

// Call is one of the simulated phone's three call sets. All state is guarded
// by the owning phone's mutex.
type Call struct {
	phone *Phone
	kind  string
	state phone.CallState
	conns []*Connection
}

func (c *Call) State() phone.CallState {
	c.phone.mu.Lock()
	defer c.phone.mu.Unlock()
	return c.state
}

func (c *Call) Connections() []phone.Connection {
	c.phone.mu.Lock()
	defer c.phone.mu.Unlock()

	out := make([]phone.Connection, len(c.conns))
	for i, conn := range c.conns {
		out[i] = conn
	}
	return out
}

func (c *Call) EarliestConnection() phone.Connection {
	c.phone.mu.Lock()
	defer c.phone.mu.Unlock()
	if len(c.conns) == 0 {
		return nil
	}
	return c.conns[0]
}

func (c *Call) LatestConnection() phone.Connection {
	c.phone.mu.Lock()
	defer c.phone.mu.Unlock()
	if len(c.conns) == 0 {
		return nil
	}
	return c.conns[len(c.conns)-1]
}

func (c *Call) IsMultiparty() bool {
	c.phone.mu.Lock()
	defer c.phone.mu.Unlock()
	return len(c.conns) > 1
}

func (c *Call) Hangup() error {
	c.phone.mu.Lock()
	conns := append([]*Connection(nil), c.conns...)
	c.phone.mu.Unlock()

	if len(conns) == 0 {
		return phone.ErrNoSuchCall
	}

	cause := phone.CauseLocal
	if c.kind == "ringing" {
		cause = phone.CauseIncomingRejected
	}
	changed := false
	for _, conn := range conns {
		if c.phone.disconnect(conn, cause) {
			changed = true
		}
	}
	if changed {
		c.phone.notifyCallState()
	}
	return nil
}

// String names the call set, for logging.
func (c *Call) String() string { return c.kind }

func (c *Call) aliveLocked() bool {
	return len(c.conns) > 0 && c.state.IsAlive()
}

func (c *Call) addLocked(conn *Connection) {
	conn.call = c
	c.conns = append(c.conns, conn)
}

func (c *Call) removeLocked(conn *Connection) {
	for i, existing := range c.conns {
		if existing == conn {
			c.conns = append(c.conns[:i], c.conns[i+1:]...)
			break
		}
	}
	if len(c.conns) == 0 {
		c.state = phone.CallIdle
	}
}

// Connection is a simulated low-level call leg.
type Connection struct {
	phone    *Phone
	address  string
	incoming bool
	state    phone.CallState
	video    phone.VideoState
	cause    phone.DisconnectCause
	call     *Call
}

func (c *Connection) Address() string  { return c.address }
func (c *Connection) IsIncoming() bool { return c.incoming }

func (c *Connection) State() phone.CallState {
	c.phone.mu.Lock()
	defer c.phone.mu.Unlock()
	return c.state
}

func (c *Connection) VideoState() phone.VideoState {
	c.phone.mu.Lock()
	defer c.phone.mu.Unlock()
	return c.video
}

func (c *Connection) DisconnectCause() phone.DisconnectCause {
	c.phone.mu.Lock()
	defer c.phone.mu.Unlock()
	return c.cause
}

func (c *Connection) Call() phone.Call {
	c.phone.mu.Lock()
	defer c.phone.mu.Unlock()
	if c.call == nil {
		return nil
	}
	return c.call
}

func (c *Connection) Hangup() error {
	if c.phone.disconnect(c, phone.CauseLocal) {
		c.phone.notifyCallState()
	}
	return nil
}

var (
	_ phone.Call       = (*Call)(nil)
	_ phone.Connection = (*Connection)(nil)
)
