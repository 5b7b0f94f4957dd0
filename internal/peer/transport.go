package peer

import (
	"github.com/pion/webrtc/v4"
)

// Transport is the real-time transport underneath a single Link. Every method
// is called from the link goroutine only.
type Transport interface {
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)

	// CreateAnswer creates an answer to the applied remote offer and applies
	// it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)

	SetRemoteDescription(desc webrtc.SessionDescription) error

	// Rollback discards a local offer that has not been answered.
	Rollback() error

	AddICECandidate(candidate webrtc.ICECandidateInit) error

	AddTrack(track webrtc.TrackLocal) error
	RemoveTrack(track webrtc.TrackLocal) error

	// Send writes to the data side-channel.
	Send(data []byte) error

	Close() error
}

// Handler receives transport callbacks. Callbacks may run on any goroutine;
// the link turns each into an inbox input.
type Handler struct {
	OnCandidate   func(candidate webrtc.ICECandidateInit)
	OnStateChange func(state webrtc.PeerConnectionState)
	OnDataOpen    func()
	OnData        func(data []byte)
	OnTrack       func(track RemoteTrack)
}

// TransportFactory builds the transport for a new link.
type TransportFactory func(role Role, h Handler) (Transport, error)

// RemoteTrack describes media received from a peer.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType

	// Level reports the most recent linear audio level in [0, 1].
	// It is nil for video tracks.
	Level func() float64
}

// MediaState is what a participant currently publishes. It travels on the
// data side-channel and only drives indicators.
type MediaState struct {
	Audio  bool `msgpack:"audio"`
	Video  bool `msgpack:"video"`
	Screen bool `msgpack:"screen"`
}

const dataTypeMediaState = "media-state"

// dataMessage is the msgpack envelope used on the data side-channel.
type dataMessage struct {
	Type  string      `msgpack:"type"`
	Media *MediaState `msgpack:"media,omitempty"`
}
