package esm

import (
	"encoding/json"
	"fmt"
)

// The bot queue protocol: a tagged envelope with a "type" field and a
// "content" payload, snake_case tags. BotRequest travels both directions
// (server_outbound carries it as traffic the server emits to the bot;
// server_inbound carries it as traffic the bot emits to the server); which
// tags are meaningful depends on the direction, exactly as the bot channel's
// three named lists are themselves direction-specific.
type botWireTag string

const (
	botWireServerRequest botWireTag = "server_request"
	botWirePing          botWireTag = "ping"
	botWirePong          botWireTag = "pong"
	botWireSendToClient  botWireTag = "send_to_client"
	botWireSend          botWireTag = "send"
	botWireDisconnected  botWireTag = "disconnected"
)

type serverWireTag string

const (
	serverWireDisconnect serverWireTag = "disconnect"
	serverWireResume     serverWireTag = "resume"
	serverWirePause      serverWireTag = "pause"
	serverWireSend       serverWireTag = "send"
)

type wireEnvelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

type sendToClientPayload struct {
	ServerID byteArray `json:"server_id"`
	Message  *Message  `json:"message"`
}

type serverSendPayload struct {
	ServerID byteArray `json:"server_id"`
	Message  *Message  `json:"message"`
}

type disconnectPayload struct {
	ServerID byteArray `json:"server_id,omitempty"`
}

// marshalBotRequest encodes an internal botRequest into the wire envelope
// pushed onto server_outbound.
func marshalBotRequest(r botRequest) ([]byte, error) {
	switch v := r.(type) {
	case brPing:
		return json.Marshal(wireEnvelope{Type: string(botWirePing)})
	case brSend:
		c, err := json.Marshal(v.Message)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireEnvelope{Type: string(botWireSend), Content: c})
	case brDisconnected:
		c, err := json.Marshal(byteArray(v.ServerID))
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireEnvelope{Type: string(botWireDisconnected), Content: c})
	default:
		return nil, fmt.Errorf("esm: unknown bot request type %T", r)
	}
}

// unmarshalBotWire decodes one envelope read from server_inbound. ok is
// false for the "anything else → log and drop" case; it is not an error.
func unmarshalBotWire(b []byte) (req serverRequest, pong bool, ok bool, err error) {
	var env wireEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, false, false, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	switch botWireTag(env.Type) {
	case botWireServerRequest:
		sr, err := unmarshalServerWire(env.Content)
		if err != nil {
			return nil, false, false, err
		}
		return sr, false, true, nil
	case botWirePong:
		return nil, true, true, nil
	case botWireSendToClient:
		var p sendToClientPayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return nil, false, false, fmt.Errorf("%w: %v", ErrDeserialize, err)
		}
		return srSend{ServerID: p.ServerID, Message: p.Message}, false, true, nil
	default:
		return nil, false, false, nil
	}
}

func unmarshalServerWire(b []byte) (serverRequest, error) {
	var env wireEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	switch serverWireTag(env.Type) {
	case serverWireResume:
		return srResume{}, nil
	case serverWirePause:
		return srPause{}, nil
	case serverWireDisconnect:
		var p disconnectPayload
		if len(env.Content) > 0 {
			if err := json.Unmarshal(env.Content, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
			}
		}
		return srDisconnect{ServerID: p.ServerID}, nil
	case serverWireSend:
		var p serverSendPayload
		if err := json.Unmarshal(env.Content, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
		}
		return srSend{ServerID: p.ServerID, Message: p.Message}, nil
	default:
		return nil, fmt.Errorf("esm: unknown server request type %q", env.Type)
	}
}
