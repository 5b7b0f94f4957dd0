package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned for payloads that cannot be decoded into a Message.
var ErrMalformed = errors.New("malformed message")

// Message type constants.
const (
	TypeJoin  = "join"
	TypeLeave = "leave"

	TypeJoined     = "joined"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeRoomFull   = "room-full"

	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "ice-candidate"

	TypeChat = "chat"
)

// PeerInfo identifies a room member.
type PeerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message represents every websocket message exchanged between clients and
// the relay. Only the fields relevant to Type are set.
type Message struct {
	Type string `json:"type"`

	RoomID   string     `json:"roomId,omitempty"`
	Name     string     `json:"name,omitempty"`
	ClientID string     `json:"clientId,omitempty"`
	Peers    []PeerInfo `json:"peers,omitempty"`
	Peer     *PeerInfo  `json:"peer,omitempty"`
	ID       string     `json:"id,omitempty"`

	// To is used for routing only and is removed by the relay.
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`

	// SDP and Candidate are forwarded verbatim by the relay.
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	Text  string `json:"text,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// MarshalJSON always emits the peers array on joined messages, even when the
// room was empty.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if m.Type != TypeJoined {
		return json.Marshal(plain(m))
	}
	peers := m.Peers
	if peers == nil {
		peers = []PeerInfo{}
	}
	return json.Marshal(struct {
		plain
		Peers []PeerInfo `json:"peers"`
	}{plain(m), peers})
}

// Decode parses a single websocket frame. Frames that are not JSON objects
// or carry no type are reported as ErrMalformed.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &msg, nil
}

// IsAddressed reports whether the message type is routed to a single
// recipient rather than broadcast.
func (m *Message) IsAddressed() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	}
	return false
}

// Join builds a client join request.
func Join(roomID, name string) *Message {
	return &Message{Type: TypeJoin, RoomID: roomID, Name: name}
}

// Leave builds an explicit leave request.
func Leave() *Message {
	return &Message{Type: TypeLeave}
}

// Chat builds an outbound chat message.
func Chat(text string) *Message {
	return &Message{Type: TypeChat, Text: text}
}

// Offer builds an addressed session offer. sdp is the JSON encoding of the
// session description.
func Offer(to string, sdp json.RawMessage) *Message {
	return &Message{Type: TypeOffer, To: to, SDP: sdp}
}

// Answer builds an addressed session answer.
func Answer(to string, sdp json.RawMessage) *Message {
	return &Message{Type: TypeAnswer, To: to, SDP: sdp}
}

// Candidate builds an addressed connectivity candidate.
func Candidate(to string, candidate json.RawMessage) *Message {
	return &Message{Type: TypeCandidate, To: to, Candidate: candidate}
}
