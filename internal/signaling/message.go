package signaling

import (
	"encoding/json"
	"fmt"
)

// Message represents all WebSocket messages between peers and the relay.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	TargetID string          `json:"target_id,omitempty"`
	SenderID string          `json:"sender_id,omitempty"`
}

// Message type constants.
const (
	// client to server
	MessageTypeJoin = "join"

	// routed between peers
	MessageTypeOffer        = "offer"
	MessageTypeAnswer       = "answer"
	MessageTypeICECandidate = "ice_candidate"

	// server to client
	MessageTypeJoined     = "joined"
	MessageTypePeerJoined = "peer_joined"
	MessageTypePeerLeft   = "peer_left"
	MessageTypeError      = "error"
)

// IsSignal reports whether msgType is relayed from one peer to another.
func IsSignal(msgType string) bool {
	switch msgType {
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		return true
	}
	return false
}

// PeerInfo describes a peer visible on the relay.
type PeerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ClientType string `json:"client_type,omitempty"`
}

// JoinPayload is sent by a client to enter its network scope.
type JoinPayload struct {
	ClientType string `json:"client_type,omitempty"`
}

// JoinedPayload answers a join with the caller's identity and the peers
// already present.
type JoinedPayload struct {
	Self  PeerInfo   `json:"self"`
	Peers []PeerInfo `json:"peers"`
}

// PeerLeftPayload names a peer that disconnected.
type PeerLeftPayload struct {
	ID string `json:"id"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage encodes payload into a message of type t addressed to target.
func NewMessage(t string, payload any, target string) (*Message, error) {
	msg := &Message{Type: t, TargetID: target}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		msg.Payload = b
	}
	return msg, nil
}

// ErrorMessage builds the relay's error reply.
func ErrorMessage(text string) *Message {
	msg, _ := NewMessage(MessageTypeError, ErrorPayload{Error: text}, "")
	return msg
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
