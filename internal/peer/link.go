package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Siddharth-777/ECHO/internal/signaling"
)

// Link inputs. Each is applied by the link goroutine in arrival order.
type (
	remoteOffer     struct{ desc webrtc.SessionDescription }
	remoteAnswer    struct{ desc webrtc.SessionDescription }
	remoteCandidate struct{ init webrtc.ICECandidateInit }
	localCandidate  struct{ init webrtc.ICECandidateInit }
	transportState  struct{ state webrtc.PeerConnectionState }
	addTrack        struct{ track webrtc.TrackLocal }
	removeTrack     struct{ track webrtc.TrackLocal }
	setMedia        struct{ media MediaState }
	dataPayload     struct{ data []byte }
	gotTrack        struct{ track RemoteTrack }
	negotiateNow    struct{}
	dataOpened      struct{}
)

// inbox is an unbounded FIFO. Posting never blocks, so neither the session
// goroutine nor transport callbacks can stall on a busy link.
type inbox struct {
	mu     sync.Mutex
	items  []any
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (b *inbox) post(in any) {
	b.mu.Lock()
	b.items = append(b.items, in)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []any {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.mu.Unlock()
	return items
}

// Link is the session between the local participant and one remote
// participant. All negotiation happens on the link's own goroutine, so no two
// steps for the same link ever overlap.
type Link struct {
	remote string
	name   string
	role   Role
	state  atomic.Int32

	transport Transport
	send      func(*signaling.Message) error
	events    chan<- Event
	logger    *logrus.Entry

	inbox  *inbox
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started time.Time
	ended   atomic.Int64

	// Owned by the link goroutine.
	pending      []webrtc.ICECandidateInit
	remoteSet    bool
	offerPending bool
	renegotiate  bool
	dataOpen     bool
	media        MediaState
	tracks       map[string]webrtc.TrackLocal
	err          error
}

func newLink(ctx context.Context, remote, name string, role Role, send func(*signaling.Message) error, events chan<- Event, logger *logrus.Entry) *Link {
	ctx, cancel := context.WithCancel(ctx)
	return &Link{
		remote:  remote,
		name:    name,
		role:    role,
		send:    send,
		events:  events,
		logger:  logger.WithFields(logrus.Fields{"remote": remote, "role": role.String()}),
		inbox:   newInbox(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
		tracks:  make(map[string]webrtc.TrackLocal),
	}
}

// handler converts transport callbacks into inbox inputs.
func (l *Link) handler() Handler {
	return Handler{
		OnCandidate:   func(c webrtc.ICECandidateInit) { l.inbox.post(localCandidate{c}) },
		OnStateChange: func(s webrtc.PeerConnectionState) { l.inbox.post(transportState{s}) },
		OnDataOpen:    func() { l.inbox.post(dataOpened{}) },
		OnData:        func(data []byte) { l.inbox.post(dataPayload{data}) },
		OnTrack:       func(t RemoteTrack) { l.inbox.post(gotTrack{t}) },
	}
}

// Remote returns the remote participant id.
func (l *Link) Remote() string { return l.remote }

// Name returns the remote display name.
func (l *Link) Name() string { return l.name }

// Role returns the role taken for the initial handshake.
func (l *Link) Role() Role { return l.role }

// State returns the current lifecycle state. Safe from any goroutine.
func (l *Link) State() State { return State(l.state.Load()) }

// Done is closed once the link goroutine has exited.
func (l *Link) Done() <-chan struct{} { return l.done }

// Info returns a snapshot for display.
func (l *Link) Info() LinkInfo {
	info := LinkInfo{
		Remote:  l.remote,
		Name:    l.name,
		Role:    l.role,
		State:   l.State(),
		Started: l.started,
	}
	if ns := l.ended.Load(); ns != 0 {
		info.Ended = time.Unix(0, ns)
	}
	return info
}

func (l *Link) post(in any) error {
	if l.State().Terminal() || l.ctx.Err() != nil {
		return ErrLinkClosed
	}
	l.inbox.post(in)
	return nil
}

// run drives the link until it reaches a terminal state or its context ends.
func (l *Link) run(initial []webrtc.TrackLocal, media MediaState) {
	defer close(l.done)
	defer l.transport.Close()

	l.media = media
	for _, t := range initial {
		l.attach(t)
	}
	if l.role == RoleOfferer {
		l.negotiate()
	}

	for !l.State().Terminal() {
		select {
		case <-l.ctx.Done():
			l.setState(StateClosed)
			return

		case <-l.inbox.notify:
			for _, in := range l.inbox.drain() {
				if l.ctx.Err() != nil || l.State().Terminal() {
					break
				}
				l.apply(in)
			}
		}
	}
}

func (l *Link) apply(in any) {
	switch in := in.(type) {
	case remoteOffer:
		l.onOffer(in.desc)
	case remoteAnswer:
		l.onAnswer(in.desc)
	case remoteCandidate:
		l.onRemoteCandidate(in.init)
	case localCandidate:
		l.signal(signaling.Candidate, in.init)
	case transportState:
		l.onTransportState(in.state)
	case addTrack:
		if l.attach(in.track) {
			l.requestNegotiation()
		}
	case removeTrack:
		if l.detach(in.track) {
			l.requestNegotiation()
		}
	case negotiateNow:
		l.requestNegotiation()
	case setMedia:
		l.media = in.media
		l.sendMedia()
	case dataOpened:
		l.dataOpen = true
		l.sendMedia()
	case dataPayload:
		l.onData(in.data)
	case gotTrack:
		l.emit(Event{Kind: EventTrack, Track: in.track})
	default:
		l.logger.Warnf("Ignoring unknown link input %T", in)
	}
}

// negotiate starts a local offer. Callers make sure no offer is pending.
func (l *Link) negotiate() {
	l.renegotiate = false

	offer, err := l.transport.CreateOffer()
	if err != nil {
		l.logger.WithError(err).Error("Failed to create offer")
		l.terminate(StateFailed, err)
		return
	}

	l.offerPending = true
	l.setState(StateNegotiating)
	l.signal(signaling.Offer, offer)
}

// requestNegotiation offers now when the link is settled, otherwise once it
// next reaches Connected.
func (l *Link) requestNegotiation() {
	if l.State() == StateConnected && !l.offerPending {
		l.negotiate()
		return
	}
	l.renegotiate = true
}

func (l *Link) onOffer(desc webrtc.SessionDescription) {
	if l.offerPending {
		// Glare during renegotiation. The initial answerer yields.
		if l.role == RoleOfferer {
			l.logger.Debug("Ignoring colliding offer")
			return
		}
		if err := l.transport.Rollback(); err != nil {
			l.logger.WithError(err).Error("Failed to roll back local offer")
			l.terminate(StateFailed, err)
			return
		}
		l.offerPending = false
		l.renegotiate = true
	}

	if err := l.applyRemote(desc); err != nil {
		return
	}

	answer, err := l.transport.CreateAnswer()
	if err != nil {
		l.logger.WithError(err).Error("Failed to create answer")
		l.terminate(StateFailed, err)
		return
	}
	l.signal(signaling.Answer, answer)
	l.connected()
}

func (l *Link) onAnswer(desc webrtc.SessionDescription) {
	if !l.offerPending {
		l.logger.WithError(ErrUnexpectedAnswer).Warn("Dropping answer")
		return
	}
	l.offerPending = false

	if err := l.applyRemote(desc); err != nil {
		return
	}
	l.connected()
}

// applyRemote sets the remote description and then flushes every buffered
// candidate in arrival order.
func (l *Link) applyRemote(desc webrtc.SessionDescription) error {
	if err := l.transport.SetRemoteDescription(desc); err != nil {
		l.logger.WithError(err).Errorf("Failed to apply remote %s", desc.Type)
		l.terminate(StateFailed, err)
		return err
	}
	l.remoteSet = true

	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		l.addCandidate(c)
	}
	return nil
}

func (l *Link) onRemoteCandidate(c webrtc.ICECandidateInit) {
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return
	}
	l.addCandidate(c)
}

func (l *Link) addCandidate(c webrtc.ICECandidateInit) {
	if err := l.transport.AddICECandidate(c); err != nil {
		l.logger.WithError(err).Warn("Failed to add ICE candidate")
	}
}

func (l *Link) connected() {
	l.setState(StateConnected)
	if l.renegotiate {
		l.negotiate()
	}
}

func (l *Link) onTransportState(s webrtc.PeerConnectionState) {
	l.logger.WithField("transport", s.String()).Debug("Transport state changed")
	switch s {
	case webrtc.PeerConnectionStateFailed:
		l.terminate(StateFailed, fmt.Errorf("transport %s", s))
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		l.terminate(StateClosed, nil)
	}
}

func (l *Link) attach(t webrtc.TrackLocal) bool {
	if _, ok := l.tracks[t.ID()]; ok {
		return false
	}
	if err := l.transport.AddTrack(t); err != nil {
		l.logger.WithError(err).WithField("track", t.ID()).Error("Failed to add track")
		return false
	}
	l.tracks[t.ID()] = t
	return true
}

func (l *Link) detach(t webrtc.TrackLocal) bool {
	if _, ok := l.tracks[t.ID()]; !ok {
		return false
	}
	delete(l.tracks, t.ID())
	if err := l.transport.RemoveTrack(t); err != nil {
		l.logger.WithError(err).WithField("track", t.ID()).Error("Failed to remove track")
	}
	return true
}

func (l *Link) sendMedia() {
	if !l.dataOpen {
		return
	}
	media := l.media
	data, err := msgpack.Marshal(dataMessage{Type: dataTypeMediaState, Media: &media})
	if err != nil {
		l.logger.WithError(err).Error("Failed to encode media state")
		return
	}
	if err := l.transport.Send(data); err != nil {
		l.logger.WithError(err).Debug("Failed to send media state")
	}
}

func (l *Link) onData(data []byte) {
	var msg dataMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		l.logger.WithError(err).Debug("Dropping data message")
		return
	}
	if msg.Type == dataTypeMediaState && msg.Media != nil {
		l.emit(Event{Kind: EventMedia, Media: *msg.Media})
	}
}

// signal encodes v and sends it to the remote peer through the relay.
func (l *Link) signal(build func(to string, raw json.RawMessage) *signaling.Message, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		l.logger.WithError(err).Error("Failed to encode signal")
		return
	}
	if err := l.send(build(l.remote, raw)); err != nil {
		l.logger.WithError(err).Warn("Failed to send signal")
	}
}

func (l *Link) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	if s.Terminal() {
		l.ended.Store(time.Now().UnixNano())
	}
	l.emit(Event{Kind: EventState, State: s})
}

func (l *Link) terminate(s State, err error) {
	if l.State().Terminal() {
		return
	}
	if err != nil {
		l.logger.WithError(err).Warn("Link terminated")
	}
	l.err = err
	l.setState(s)
}

// emit delivers ev unless the link has been cancelled.
func (l *Link) emit(ev Event) {
	ev.Link = l
	if ev.Kind == EventState {
		ev.Err = l.err
	}
	select {
	case l.events <- ev:
	case <-l.ctx.Done():
	}
}
