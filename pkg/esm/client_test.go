package esm

import (
	"testing"
	"time"
)

func TestClientParsePongUpdatesLivenessAndStops(t *testing.T) {
	m := NewClientManager(0, 0)
	c := newTestClient(t, m, "addr-1")

	key := testKey(0x12)
	m.Associate(c, []byte("srv"))
	c.setKey(key)

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if c.pongReceived {
		t.Fatal("pongReceived still true after Ping")
	}

	packet, err := Encode(&Message{ID: "pong-1", Type: MessagePong, ServerID: []byte("srv"), Data: Content{Type: ContentPong}}, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	now := time.Now()
	msg, noForward, err := c.Parse(packet, now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !noForward {
		t.Error("Parse of a Pong should report no-forward")
	}
	if msg != nil {
		t.Errorf("Parse of a Pong returned a message: %+v", msg)
	}
	if !c.pongReceived {
		t.Error("pongReceived not set after Pong")
	}
	if !c.lastCheckedAt.Equal(now) {
		t.Errorf("lastCheckedAt = %v, want %v", c.lastCheckedAt, now)
	}
}

func TestClientParseForwardsApplicationMessage(t *testing.T) {
	m := NewClientManager(0, 0)
	c := newTestClient(t, m, "addr-1")

	key := testKey(0x34)
	m.Associate(c, []byte("srv"))
	c.setKey(key)

	packet, err := Encode(&Message{ID: "ev-1", Type: MessageType("custom_event"), ServerID: []byte("srv")}, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	msg, noForward, err := c.Parse(packet, time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if noForward {
		t.Error("application message reported no-forward")
	}
	if msg == nil || msg.ID != "ev-1" {
		t.Errorf("Parse = %+v, want id ev-1", msg)
	}
}
