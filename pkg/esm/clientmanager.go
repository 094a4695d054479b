package esm

import (
	"time"

	"github.com/rs/zerolog"
)

// Default liveness timings, overridable via Config. A client is pinged once
// it's been quiet for PingAfter, and dropped once it's been quiet for
// DisconnectAfter.
const (
	DefaultPingAfter       = 5 * time.Second
	DefaultDisconnectAfter = 10 * time.Second
)

// ClientManager owns the set of Clients, indexed by network address and by
// server_id. All mutation happens on the router task; nothing else may hold
// a reference to it, which is what lets alive_check and the send path reason
// about one consistent snapshot without locks.
type ClientManager struct {
	log zerolog.Logger

	byAddr map[string]*Client
	byID   map[string]*Client

	pingAfter       time.Duration
	disconnectAfter time.Duration

	clock func() time.Time
}

// NewClientManager constructs an empty ClientManager with the given liveness
// timings. A zero duration selects the package default. Ping failures are
// silently swallowed until SetLogger is called.
func NewClientManager(pingAfter, disconnectAfter time.Duration) *ClientManager {
	if pingAfter <= 0 {
		pingAfter = DefaultPingAfter
	}
	if disconnectAfter <= 0 {
		disconnectAfter = DefaultDisconnectAfter
	}
	return &ClientManager{
		log:             zerolog.Nop(),
		byAddr:          make(map[string]*Client),
		byID:            make(map[string]*Client),
		pingAfter:       pingAfter,
		disconnectAfter: disconnectAfter,
		clock:           time.Now,
	}
}

// SetLogger wires a logger for diagnostics that have no other caller to
// surface them to, e.g. a ping write failing during AliveCheck.
func (m *ClientManager) SetLogger(l zerolog.Logger) {
	m.log = l.With().Str("component", "clientmanager").Logger()
}

// Add inserts a new lobby client for the given connection and address.
func (m *ClientManager) Add(conn *frameConn, addr string, resourceID uint32) *Client {
	c := newClient(conn, addr, resourceID, m.clock())
	m.byAddr[addr] = c
	return c
}

// Get looks up a client by network address.
func (m *ClientManager) Get(addr string) (*Client, bool) {
	c, ok := m.byAddr[addr]
	return c, ok
}

// GetByID looks up a client by server_id. At most one client is ever
// associated with a given server_id at a time; Associate enforces this by
// evicting any prior holder.
func (m *ClientManager) GetByID(serverID []byte) (*Client, bool) {
	c, ok := m.byID[string(serverID)]
	return c, ok
}

// Associate records a client's identity (reported at the identify step, no
// key yet) in the secondary index, evicting and disconnecting any client
// already holding that server_id so the injective mapping is preserved.
func (m *ClientManager) Associate(c *Client, serverID []byte) {
	if prev, ok := m.byID[string(serverID)]; ok && prev != c {
		prev.Disconnect()
		delete(m.byAddr, prev.addr)
	}
	c.associate(serverID)
	m.byID[string(serverID)] = c
}

// Remove evicts a client from both indices without closing its connection
// (the caller is expected to have already done so, or to be responding to an
// already-closed endpoint).
func (m *ClientManager) Remove(addr string) {
	c, ok := m.byAddr[addr]
	if !ok {
		return
	}
	delete(m.byAddr, addr)
	if c.Identified() {
		if cur, ok := m.byID[string(c.serverID)]; ok && cur == c {
			delete(m.byID, string(c.serverID))
		}
	}
}

// DisconnectAll closes every client and clears both indices.
func (m *ClientManager) DisconnectAll() {
	for _, c := range m.byAddr {
		c.Disconnect()
	}
	m.byAddr = make(map[string]*Client)
	m.byID = make(map[string]*Client)
}

// Len reports the number of connected clients, lobby and identified.
func (m *ClientManager) Len() int {
	return len(m.byAddr)
}

// AliveCheck runs the per-client liveness rule engine against now: a client
// with connected==false is removed immediately; a client quiet past
// DisconnectAfter is disconnected and removed; a client quiet past PingAfter
// (but not yet past DisconnectAfter) with pong_received still true is
// pinged.
func (m *ClientManager) AliveCheck(now time.Time) {
	var dead []string
	for addr, c := range m.byAddr {
		if !c.connected {
			dead = append(dead, addr)
			continue
		}
		elapsed := now.Sub(c.lastCheckedAt)
		if elapsed > m.disconnectAfter {
			c.Disconnect()
			dead = append(dead, addr)
			continue
		}
		if c.pongReceived && elapsed > m.pingAfter {
			// A ping failure is logged here and the client is left to the
			// disconnect timer; it is not removed on a failed ping alone.
			if err := c.Ping(); err != nil {
				m.log.Warn().Err(err).Str("addr", addr).Msg("ping failed")
			}
		}
	}
	for _, addr := range dead {
		m.Remove(addr)
	}
}
