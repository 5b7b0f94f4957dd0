package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/Siddharth-777/ECHO/internal/logging"
	"github.com/Siddharth-777/ECHO/internal/signaling"
)

// fakeTransport records every call made by a link.
type fakeTransport struct {
	role Role
	h    Handler

	mu     sync.Mutex
	calls  []string
	sent   [][]byte
	offers int
	closed bool
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("create-offer")
	f.mu.Lock()
	f.offers++
	n := f.offers
	f.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", n)}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.record("remote-" + desc.Type.String())
	return nil
}

func (f *fakeTransport) Rollback() error {
	f.record("rollback")
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.record("candidate:" + c.Candidate)
	return nil
}

func (f *fakeTransport) AddTrack(t webrtc.TrackLocal) error {
	f.record("add:" + t.ID())
	return nil
}

func (f *fakeTransport) RemoveTrack(t webrtc.TrackLocal) error {
	f.record("remove:" + t.ID())
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// harness wires a Manager to fake transports and a recording relay.
type harness struct {
	t *testing.T
	m *Manager

	mu         sync.Mutex
	transports map[Role][]*fakeTransport
	sent       []*signaling.Message
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, transports: make(map[Role][]*fakeTransport)}
	h.m = NewManager(context.Background(), Config{
		NewTransport: func(role Role, handler Handler) (Transport, error) {
			ft := &fakeTransport{role: role, h: handler}
			h.mu.Lock()
			h.transports[role] = append(h.transports[role], ft)
			h.mu.Unlock()
			return ft, nil
		},
		Send: func(msg *signaling.Message) error {
			h.mu.Lock()
			h.sent = append(h.sent, msg)
			h.mu.Unlock()
			return nil
		},
		Logger: logging.Discard(),
	})
	t.Cleanup(h.m.Close)
	return h
}

// transport returns the most recent transport created for remote's link.
func (h *harness) transport(remote string) *fakeTransport {
	l := h.m.Link(remote)
	require.NotNil(h.t, l, "no link to %s", remote)
	return l.transport.(*fakeTransport)
}

// sentTo returns the messages of typ sent to remote so far.
func (h *harness) sentTo(remote, typ string) []*signaling.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*signaling.Message
	for _, msg := range h.sent {
		if msg.To == remote && msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func (h *harness) waitSent(remote, typ string, n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.sentTo(remote, typ)) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d %s to %s", n, typ, remote)
}

func (h *harness) waitState(remote string, s State) {
	h.t.Helper()
	l := h.m.Link(remote)
	require.NotNil(h.t, l)
	require.Eventually(h.t, func() bool {
		return l.State() == s
	}, 2*time.Second, 5*time.Millisecond, "link %s never reached %s", remote, s)
}

func (h *harness) waitCalls(remote string, want ...string) {
	h.t.Helper()
	ft := h.transport(remote)
	require.Eventually(h.t, func() bool {
		return len(ft.Calls()) >= len(want)
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(h.t, want, ft.Calls()[:len(want)])
}

// nextEvent handles events until one matches.
func (h *harness) nextEvent(match func(Event) bool) Event {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.m.Events():
			h.m.Handle(ev)
			if match(ev) {
				return ev
			}
		case <-timeout:
			h.t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func sdpOf(typ, body string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"type": typ, "sdp": body})
	return raw
}

func candidateOf(c string) json.RawMessage {
	raw, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: c})
	return raw
}

func offerFrom(from string) *signaling.Message {
	return &signaling.Message{Type: signaling.TypeOffer, From: from, Name: "Bob", SDP: sdpOf("offer", "v=0 remote")}
}

func answerFrom(from string) *signaling.Message {
	return &signaling.Message{Type: signaling.TypeAnswer, From: from, SDP: sdpOf("answer", "v=0 remote")}
}

func candidateFrom(from, c string) *signaling.Message {
	return &signaling.Message{Type: signaling.TypeCandidate, From: from, Candidate: candidateOf(c)}
}

func peerJoined(id, name string) *signaling.Message {
	return &signaling.Message{Type: signaling.TypePeerJoined, Peer: &signaling.PeerInfo{ID: id, Name: name}}
}

func newAudioTrack(t *testing.T, id string) webrtc.TrackLocal {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, "local")
	require.NoError(t, err)
	return track
}
