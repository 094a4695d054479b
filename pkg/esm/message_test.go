package esm

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestMessageBinaryRoundTrip(t *testing.T) {
	rid := uint32(7)
	orig := Message{
		ID:         "req-1",
		Type:       MessageType("custom_event"),
		ServerID:   []byte("abc"),
		ResourceID: &rid,
		Data:       Content{Type: ContentApplication, Raw: json.RawMessage(`{"hello":"world"}`)},
		Metadata:   Content{Type: ContentApplication, Raw: json.RawMessage(`{"version":"1.2.3"}`)},
		Errors: []MessageErrorEntry{
			{Kind: ErrorKindCode, Text: "client_not_connected"},
			{Kind: ErrorKindMessage, Text: "boom"},
		},
	}

	b, err := orig.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Message
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}

	if got.ID != orig.ID {
		t.Errorf("ID = %q, want %q", got.ID, orig.ID)
	}
	if got.Type != orig.Type {
		t.Errorf("Type = %q, want %q", got.Type, orig.Type)
	}
	if !bytes.Equal(got.ServerID, orig.ServerID) {
		t.Errorf("ServerID = %v, want %v", got.ServerID, orig.ServerID)
	}
	if got.ResourceID == nil || *got.ResourceID != rid {
		t.Errorf("ResourceID = %v, want %d", got.ResourceID, rid)
	}
	if !bytes.Equal(got.Data.Raw, orig.Data.Raw) {
		t.Errorf("Data.Raw = %s, want %s", got.Data.Raw, orig.Data.Raw)
	}
	if !bytes.Equal(got.Metadata.Raw, orig.Metadata.Raw) {
		t.Errorf("Metadata.Raw = %s, want %s", got.Metadata.Raw, orig.Metadata.Raw)
	}
	if len(got.Errors) != len(orig.Errors) {
		t.Fatalf("Errors len = %d, want %d", len(got.Errors), len(orig.Errors))
	}
	for i := range orig.Errors {
		if got.Errors[i] != orig.Errors[i] {
			t.Errorf("Errors[%d] = %+v, want %+v", i, got.Errors[i], orig.Errors[i])
		}
	}
}

func TestMessageBinaryRoundTripEmptyContent(t *testing.T) {
	orig := Message{
		ID:   "ping-1",
		Type: MessagePing,
		Data: Content{Type: ContentPing},
	}
	b, err := orig.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got Message
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.Data.Type != ContentPing {
		t.Errorf("Data.Type = %v, want ContentPing", got.Data.Type)
	}
	if len(got.ServerID) != 0 {
		t.Errorf("ServerID = %v, want empty", got.ServerID)
	}
	if got.ResourceID != nil {
		t.Errorf("ResourceID = %v, want nil", got.ResourceID)
	}
}

func TestIsSystemType(t *testing.T) {
	for _, typ := range []MessageType{MessageConnect, MessageDisconnect, MessagePing, MessagePong, MessageTest, MessageResume, MessagePause} {
		if !IsSystemType(typ) {
			t.Errorf("IsSystemType(%q) = false, want true", typ)
		}
	}
	for _, typ := range []MessageType{MessageInit, MessageError, MessageType("custom_event")} {
		if IsSystemType(typ) {
			t.Errorf("IsSystemType(%q) = true, want false", typ)
		}
	}
}

func TestMessageAsError(t *testing.T) {
	orig := Message{ID: "m1", Type: MessageType("custom_event")}
	errd := orig.AsError(ErrorKindCode, clientNotConnectedCode)

	if errd.ID != "m1" {
		t.Errorf("ID = %q, want m1", errd.ID)
	}
	if errd.Type != MessageError {
		t.Errorf("Type = %q, want %q", errd.Type, MessageError)
	}
	if len(errd.Errors) != 1 || errd.Errors[0].Text != clientNotConnectedCode {
		t.Errorf("Errors = %+v", errd.Errors)
	}
	if len(orig.Errors) != 0 {
		t.Errorf("AsError mutated the original message's Errors slice")
	}
}
