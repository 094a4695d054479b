package esm

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxFrameSize bounds a single length-prefixed frame read from a client
// connection. A frame larger than this is rejected, on read and on write,
// with an error wrapping ErrTransportUnavailable.
const maxFrameSize = 1 << 20

// frameConn adds length-prefixed framing on top of a stream connection so
// that a single TCP connection carries a sequence of whole control frames
// instead of an undifferentiated byte stream. Each frame is a 4-byte
// big-endian length header followed by the payload.
type frameConn struct {
	net.Conn
	wmu sync.Mutex
}

func newFrameConn(c net.Conn) *frameConn {
	return &frameConn{Conn: c}
}

// ReadFrame blocks until one full frame is available and returns its
// payload.
func (c *frameConn) ReadFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.Conn, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrTransportUnavailable, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.Conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame sends p as a single frame. It is safe for concurrent use
// alongside other WriteFrame calls on the same connection.
func (c *frameConn) WriteFrame(p []byte) error {
	if len(p) > maxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrTransportUnavailable, len(p))
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
	if _, err := c.Conn.Write(hdr[:]); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	_, err := c.Conn.Write(p)
	return err
}
