package esm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Client is the state for one TCP endpoint admitted past the lobby. It owns
// its endpoint and is the only object permitted to emit bytes to it.
type Client struct {
	conn       *frameConn
	addr       string // network address; the index key in ClientManager
	resourceID uint32

	serverID    []byte
	serverKey   []byte
	initialized bool

	lastCheckedAt time.Time
	pongReceived  bool
	connected     bool
}

func newClient(conn *frameConn, addr string, resourceID uint32, now time.Time) *Client {
	return &Client{
		conn:          conn,
		addr:          addr,
		resourceID:    resourceID,
		lastCheckedAt: now,
		pongReceived:  true,
		connected:     true,
	}
}

// Addr returns the client's network address, the key it is indexed by in
// ClientManager.
func (c *Client) Addr() string { return c.addr }

// ServerID returns the client's identity, or nil while still in the lobby.
func (c *Client) ServerID() []byte { return c.serverID }

// Identified reports whether the client has completed the identify step.
func (c *Client) Identified() bool { return len(c.serverID) > 0 }

// Keyed reports whether the client's symmetric key has been resolved yet.
// It is false between identify and the first "m" frame, during which no
// credential-store lookup has happened.
func (c *Client) Keyed() bool { return len(c.serverKey) > 0 }

// Initialized reports whether the client has completed the init step and
// moved from "identified" to "live".
func (c *Client) Initialized() bool { return c.initialized }

// markInitialized transitions the client to live after a passing Init
// message.
func (c *Client) markInitialized() { c.initialized = true }

// associate records the identity reported by a client at the identify step,
// moving it out of the lobby. No key is known yet; that is resolved later,
// from the credential store, against the first "m" frame.
func (c *Client) associate(serverID []byte) {
	c.serverID = append([]byte(nil), serverID...)
}

// setKey records the client's symmetric key once resolved via the
// credential store.
func (c *Client) setKey(serverKey []byte) {
	c.serverKey = append([]byte(nil), serverKey...)
}

// Send encrypts message with the client's own key and writes one framed "m"
// control frame. Failure modes (encryption error, transport unavailable) are
// returned for the router to surface to the bot.
func (c *Client) Send(m *Message) error {
	if len(m.ServerID) == 0 {
		m.ServerID = c.serverID
	}
	packet, err := Encode(m, c.serverKey)
	if err != nil {
		return fmt.Errorf("esm: encode outbound message: %w", err)
	}
	frame, err := encodeControlFrame(ctrlMessage, packet)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	if err := c.conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

// Ping sends a Ping message and marks the pong latch unreceived. Spacing is
// controlled by ClientManager's alive_check sweep, not by Client itself.
func (c *Client) Ping() error {
	c.pongReceived = false
	return c.Send(&Message{ID: uuid.NewString(), Type: MessagePing, ServerID: c.serverID, Data: Content{Type: ContentPing}})
}

// Pong updates the liveness latch in response to an observed Pong from this
// endpoint.
func (c *Client) Pong(now time.Time) {
	c.lastCheckedAt = now
	c.pongReceived = true
}

// Parse decodes an "m" frame's packet bytes via the codec. If the decoded
// message is a Pong it updates liveness and reports noForward=true;
// otherwise the message is returned for the router to forward.
func (c *Client) Parse(packet []byte, now time.Time) (msg *Message, noForward bool, err error) {
	m, err := Decode(packet, c.serverKey)
	if err != nil {
		return nil, false, err
	}
	if m.Type == MessagePong {
		c.Pong(now)
		return nil, true, nil
	}
	return m, false, nil
}

// RequestIdentity sends the plaintext control frame soliciting the client's
// server_id.
func (c *Client) RequestIdentity() error {
	frame, err := encodeControlFrame(ctrlIdentify, nil)
	if err != nil {
		return err
	}
	if err := c.conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

// RequestInit sends the plaintext control frame soliciting the first
// encrypted Init message.
func (c *Client) RequestInit() error {
	frame, err := encodeControlFrame(ctrlInit, nil)
	if err != nil {
		return err
	}
	if err := c.conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

// Disconnect closes the underlying endpoint.
func (c *Client) Disconnect() {
	c.connected = false
	c.conn.Close()
}
