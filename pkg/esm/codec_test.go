package esm

import (
	"bytes"
	"errors"
	"testing"
)

func testKey(b byte) []byte {
	k := make([]byte, codecKeySize)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestCodecRoundTrip(t *testing.T) {
	key := testKey(0x11)
	m := &Message{ID: "m1", Type: MessageType("custom_event"), ServerID: []byte("abc")}

	packet, err := Encode(m, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(packet, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != m.ID || got.Type != m.Type {
		t.Errorf("Decode = %+v, want id/type from %+v", got, m)
	}
	if !bytes.Equal(got.ServerID, m.ServerID) {
		t.Errorf("ServerID = %v, want %v", got.ServerID, m.ServerID)
	}
}

func TestCodecHeaderParseableWithoutKey(t *testing.T) {
	key := testKey(0x22)
	m := &Message{ID: "m1", Type: MessageType("t"), ServerID: []byte("srv-1")}

	packet, err := Encode(m, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	serverID, err := ParseHeader(packet)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !bytes.Equal(serverID, m.ServerID) {
		t.Errorf("ParseHeader = %v, want %v", serverID, m.ServerID)
	}
	if got := packet[1+int(packet[0])]; got != 12 {
		t.Errorf("nonce length field = %d, want 12", got)
	}
}

func TestCodecNonceIsUnique(t *testing.T) {
	key := testKey(0x33)
	m := &Message{ID: "m1", Type: MessageType("t"), ServerID: []byte("abc")}

	p1, err := Encode(m, key)
	if err != nil {
		t.Fatalf("Encode 1: %v", err)
	}
	p2, err := Encode(m, key)
	if err != nil {
		t.Fatalf("Encode 2: %v", err)
	}
	if bytes.Equal(p1, p2) {
		t.Error("two encodings of the same message produced identical packets (nonce reuse)")
	}
}

func TestCodecWrongKeyFails(t *testing.T) {
	m := &Message{ID: "m1", Type: MessageType("t"), ServerID: []byte("abc")}
	packet, err := Encode(m, testKey(0x44))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(packet, testKey(0x55)); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decode with wrong key: err = %v, want ErrDecrypt", err)
	}
}

func TestCodecTamperedCiphertextFails(t *testing.T) {
	key := testKey(0x66)
	m := &Message{ID: "m1", Type: MessageType("t"), ServerID: []byte("abc")}
	packet, err := Encode(m, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	packet[len(packet)-1] ^= 0xFF
	if _, err := Decode(packet, key); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decode tampered packet: err = %v, want ErrDecrypt", err)
	}
}

func TestCodecMissingServerIDFails(t *testing.T) {
	m := &Message{ID: "m1", Type: MessageType("t")}
	if _, err := Encode(m, testKey(0x77)); !errors.Is(err, ErrFrameMalformed) {
		t.Errorf("Encode with no server_id: err = %v, want ErrFrameMalformed", err)
	}
}
