package protocol

import (
	"encoding/json"
	"fmt"
)

// envelope is the JSON frame on the wire: {"event": "...", "data": {...}}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}

// EncodeClient frames a client message for the wire.
func EncodeClient(m ClientMessage) ([]byte, error) {
	return encode(m.Event(), m)
}

// EncodeServer frames a server message for the wire.
func EncodeServer(m ServerMessage) ([]byte, error) {
	return encode(m.Event(), m)
}

// DecodeClient parses a frame received by the server. Unknown events are
// rejected so the union stays closed.
func DecodeClient(raw []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Event {
	case JoinGame{}.Event():
		var m JoinGame
		return m, json.Unmarshal(env.Data, &m)
	case JoinLobby{}.Event():
		var m JoinLobby
		return m, json.Unmarshal(env.Data, &m)
	case LeaveLobby{}.Event():
		var m LeaveLobby
		return m, json.Unmarshal(env.Data, &m)
	case Action{}.Event():
		var m Action
		return m, json.Unmarshal(env.Data, &m)
	default:
		return nil, fmt.Errorf("unknown client event %q", env.Event)
	}
}

// DecodeServer parses a frame received by a client.
func DecodeServer(raw []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Event {
	case StateInit{}.Event():
		var m StateInit
		return m, json.Unmarshal(env.Data, &m)
	case StatePatch{}.Event():
		var m StatePatch
		return m, json.Unmarshal(env.Data, &m)
	case TurnChange{}.Event():
		var m TurnChange
		return m, json.Unmarshal(env.Data, &m)
	case PresenceUpdate{}.Event():
		var m PresenceUpdate
		return m, json.Unmarshal(env.Data, &m)
	case LobbyUpdated{}.Event():
		var m LobbyUpdated
		return m, json.Unmarshal(env.Data, &m)
	case GameStarted{}.Event():
		var m GameStarted
		return m, json.Unmarshal(env.Data, &m)
	case Chat{}.Event():
		var m Chat
		return m, json.Unmarshal(env.Data, &m)
	case ErrorReply{}.Event():
		var m ErrorReply
		return m, json.Unmarshal(env.Data, &m)
	default:
		return nil, fmt.Errorf("unknown server event %q", env.Event)
	}
}
