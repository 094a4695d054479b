package esm

import (
	"net"
	"testing"
	"time"
)

func newTestClient(t *testing.T, m *ClientManager, addr string) *Client {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := b.Read(buf); err != nil {
				return
			}
		}
	}()
	return m.Add(newFrameConn(a), addr, 0)
}

func TestClientManagerAssociateEvictsPriorHolder(t *testing.T) {
	m := NewClientManager(0, 0)
	c1 := newTestClient(t, m, "addr-1")
	c2 := newTestClient(t, m, "addr-2")

	m.Associate(c1, []byte("srv"))
	c1.setKey(testKey(0x01))
	if _, ok := m.GetByID([]byte("srv")); !ok {
		t.Fatal("GetByID after first associate: not found")
	}

	m.Associate(c2, []byte("srv"))
	c2.setKey(testKey(0x02))

	got, ok := m.GetByID([]byte("srv"))
	if !ok || got != c2 {
		t.Fatalf("GetByID after second associate = %v, %v; want c2", got, ok)
	}
	if c1.connected {
		t.Error("prior holder c1 still marked connected after eviction")
	}
	if _, ok := m.Get("addr-1"); ok {
		t.Error("prior holder c1 still indexed by address after eviction")
	}
}

func TestClientManagerAliveCheckPingsThenDisconnects(t *testing.T) {
	m := NewClientManager(5*time.Second, 10*time.Second)
	c := newTestClient(t, m, "addr-1")

	now := time.Now()
	c.lastCheckedAt = now

	// Well within ping_after: nothing happens.
	m.AliveCheck(now.Add(2 * time.Second))
	if _, ok := m.Get("addr-1"); !ok {
		t.Fatal("client removed before ping_after elapsed")
	}
	if !c.pongReceived {
		t.Error("pongReceived flipped before ping_after elapsed")
	}

	// Past ping_after but not disconnect_after: client is pinged.
	m.AliveCheck(now.Add(6 * time.Second))
	if _, ok := m.Get("addr-1"); !ok {
		t.Fatal("client removed after ping_after but before disconnect_after")
	}
	if c.pongReceived {
		t.Error("pongReceived should be false after a ping was sent")
	}

	// Past disconnect_after with no pong: client is dropped.
	m.AliveCheck(now.Add(11 * time.Second))
	if _, ok := m.Get("addr-1"); ok {
		t.Fatal("client not removed after disconnect_after elapsed")
	}
}

func TestClientManagerRemoveClearsBothIndices(t *testing.T) {
	m := NewClientManager(0, 0)
	c := newTestClient(t, m, "addr-1")
	m.Associate(c, []byte("srv"))
	c.setKey(testKey(0x03))

	m.Remove("addr-1")

	if _, ok := m.Get("addr-1"); ok {
		t.Error("client still indexed by address after Remove")
	}
	if _, ok := m.GetByID([]byte("srv")); ok {
		t.Error("client still indexed by server_id after Remove")
	}
}

func TestClientManagerDisconnectAll(t *testing.T) {
	m := NewClientManager(0, 0)
	newTestClient(t, m, "addr-1")
	newTestClient(t, m, "addr-2")

	m.DisconnectAll()

	if m.Len() != 0 {
		t.Errorf("Len after DisconnectAll = %d, want 0", m.Len())
	}
}
