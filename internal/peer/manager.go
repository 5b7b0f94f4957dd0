package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/Siddharth-777/ECHO/internal/signaling"
)

// EventKind identifies what a link is reporting.
type EventKind int

const (
	// EventState reports a lifecycle transition.
	EventState EventKind = iota

	// EventTrack reports a new remote track.
	EventTrack

	// EventMedia reports the remote participant's media state.
	EventMedia
)

// Event is a notification from a link to the session goroutine.
type Event struct {
	Link  *Link
	Kind  EventKind
	State State
	Err   error
	Track RemoteTrack
	Media MediaState
}

// Remote returns the id of the participant the event is about.
func (e Event) Remote() string {
	return e.Link.Remote()
}

// LinkInfo is a point-in-time view of a link.
type LinkInfo struct {
	Remote  string
	Name    string
	Role    Role
	State   State
	Started time.Time
	Ended   time.Time
}

// Duration is how long the link lived, or has lived so far.
func (i LinkInfo) Duration() time.Duration {
	if i.Ended.IsZero() {
		return time.Since(i.Started)
	}
	return i.Ended.Sub(i.Started)
}

// Config configures a Manager.
type Config struct {
	// NewTransport builds the transport for each link.
	NewTransport TransportFactory

	// Send delivers a signaling message to the relay.
	Send func(*signaling.Message) error

	Logger *logrus.Entry
}

// Manager owns one Link per remote participant. It is not safe for
// concurrent use: the room session goroutine is its only caller.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	logger *logrus.Entry

	localID   string
	links     map[string]*Link
	history   []*Link
	published []webrtc.TrackLocal
	media     MediaState

	events chan Event
	wg     sync.WaitGroup
}

// NewManager creates a Manager whose links live until ctx ends or Close is called.
func NewManager(ctx context.Context, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger,
		links:  make(map[string]*Link),
		events: make(chan Event, 64),
	}
}

// Events returns the link notification channel. Every event must be passed
// to Handle.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// LocalID returns the id assigned by the relay, empty before joining.
func (m *Manager) LocalID() string {
	return m.localID
}

// HandleSignal applies a relayed message. Messages that concern links
// (joined, peer-joined, peer-left, offer, answer, ice-candidate) are
// consumed; anything else is ignored.
func (m *Manager) HandleSignal(msg *signaling.Message) error {
	switch msg.Type {
	case signaling.TypeJoined:
		m.localID = msg.ClientID
		// One bad entry must not cost the links to everyone else.
		var errs []error
		for _, p := range msg.Peers {
			if _, err := m.open(p.ID, p.Name, RoleOfferer); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	case signaling.TypePeerJoined:
		if msg.Peer == nil {
			return fmt.Errorf("%w: peer-joined without peer", signaling.ErrMalformed)
		}
		// Existing members wait for the newcomer's offer.
		if _, err := m.open(msg.Peer.ID, msg.Peer.Name, RoleAnswerer); err != nil {
			return err
		}

	case signaling.TypePeerLeft:
		m.Remove(msg.ID)

	case signaling.TypeOffer:
		desc, err := decodeDescription(msg.SDP)
		if err != nil {
			return err
		}
		l, ok := m.links[msg.From]
		if !ok {
			if msg.From == "" {
				return fmt.Errorf("%w: offer without sender", signaling.ErrMalformed)
			}
			if l, err = m.open(msg.From, msg.Name, RoleAnswerer); err != nil {
				return err
			}
		}
		return l.post(remoteOffer{desc})

	case signaling.TypeAnswer:
		desc, err := decodeDescription(msg.SDP)
		if err != nil {
			return err
		}
		l, ok := m.links[msg.From]
		if !ok {
			return fmt.Errorf("%w: answer from %q", ErrUnknownPeer, msg.From)
		}
		return l.post(remoteAnswer{desc})

	case signaling.TypeCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Candidate, &init); err != nil {
			return fmt.Errorf("%w: candidate: %v", signaling.ErrMalformed, err)
		}
		l, ok := m.links[msg.From]
		if !ok {
			return fmt.Errorf("%w: candidate from %q", ErrUnknownPeer, msg.From)
		}
		return l.post(remoteCandidate{init})
	}
	return nil
}

func decodeDescription(raw json.RawMessage) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, fmt.Errorf("%w: sdp: %v", signaling.ErrMalformed, err)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("%w: empty sdp", signaling.ErrMalformed)
	}
	return desc, nil
}

// open creates and starts a link, replacing any previous link to remote.
func (m *Manager) open(remote, name string, role Role) (*Link, error) {
	if remote == "" {
		return nil, fmt.Errorf("%w: empty peer id", signaling.ErrMalformed)
	}
	if remote == m.localID {
		return nil, fmt.Errorf("refusing link to self %q", remote)
	}
	if _, ok := m.links[remote]; ok {
		m.Remove(remote)
	}
	if name == "" {
		name = remote
	}

	l := newLink(m.ctx, remote, name, role, m.cfg.Send, m.events, m.logger)
	t, err := m.cfg.NewTransport(role, l.handler())
	if err != nil {
		l.cancel()
		return nil, fmt.Errorf("create transport for %s: %w", remote, err)
	}
	l.transport = t

	m.links[remote] = l
	m.history = append(m.history, l)

	initial := append([]webrtc.TrackLocal(nil), m.published...)
	media := m.media
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		l.run(initial, media)
	}()

	l.logger.Debug("Link opened")
	return l, nil
}

// Remove tears down the link to remote and waits for it to stop.
func (m *Manager) Remove(remote string) {
	l, ok := m.links[remote]
	if !ok {
		return
	}
	delete(m.links, remote)
	l.cancel()
	<-l.done
	l.logger.Debug("Link removed")
}

// Handle applies bookkeeping for ev. Terminal links are dropped from the
// table; other links are unaffected.
func (m *Manager) Handle(ev Event) {
	if ev.Kind != EventState || !ev.State.Terminal() {
		return
	}
	if cur, ok := m.links[ev.Link.remote]; ok && cur == ev.Link {
		delete(m.links, ev.Link.remote)
	}
	ev.Link.cancel()
}

// Publish attaches tracks to every live link and to links created later.
// Each link renegotiates.
func (m *Manager) Publish(tracks ...webrtc.TrackLocal) {
	for _, t := range tracks {
		if m.indexOf(t) >= 0 {
			continue
		}
		m.published = append(m.published, t)
		for _, l := range m.links {
			_ = l.post(addTrack{t})
		}
	}
}

// Unpublish detaches tracks from every link. Each link renegotiates.
func (m *Manager) Unpublish(tracks ...webrtc.TrackLocal) {
	for _, t := range tracks {
		i := m.indexOf(t)
		if i < 0 {
			continue
		}
		m.published = append(m.published[:i], m.published[i+1:]...)
		for _, l := range m.links {
			_ = l.post(removeTrack{t})
		}
	}
}

func (m *Manager) indexOf(t webrtc.TrackLocal) int {
	for i, p := range m.published {
		if p.ID() == t.ID() {
			return i
		}
	}
	return -1
}

// SetMediaState announces the local media state to every peer.
func (m *Manager) SetMediaState(s MediaState) {
	m.media = s
	for _, l := range m.links {
		_ = l.post(setMedia{s})
	}
}

// Link returns the live link to remote, or nil.
func (m *Manager) Link(remote string) *Link {
	return m.links[remote]
}

// Links returns the live links ordered by creation.
func (m *Manager) Links() []LinkInfo {
	infos := make([]LinkInfo, 0, len(m.links))
	for _, l := range m.links {
		infos = append(infos, l.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Started.Before(infos[j].Started)
	})
	return infos
}

// Summary returns every link opened during the session, live or ended.
func (m *Manager) Summary() []LinkInfo {
	infos := make([]LinkInfo, len(m.history))
	for i, l := range m.history {
		infos[i] = l.Info()
	}
	return infos
}

// Close tears down every link and waits for all link goroutines.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
	m.links = make(map[string]*Link)
}
