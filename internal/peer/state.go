package peer

import "errors"

var (
	// ErrUnexpectedAnswer is reported when an answer arrives with no local
	// offer outstanding.
	ErrUnexpectedAnswer = errors.New("answer without pending offer")

	// ErrLinkClosed is returned for input posted to a terminated link.
	ErrLinkClosed = errors.New("link closed")

	// ErrUnknownPeer is returned for addressed signals from a peer with no link.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Role is the part a link played in its initial handshake.
type Role int

const (
	// RoleOfferer sends the first offer. The newcomer in a room always
	// takes this role toward every existing member.
	RoleOfferer Role = iota

	// RoleAnswerer waits for the remote offer.
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// State is the lifecycle state of a Link.
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
