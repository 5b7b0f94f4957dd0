package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Siddharth-777/ECHO/internal/config"
	"github.com/Siddharth-777/ECHO/internal/media"
	"github.com/Siddharth-777/ECHO/internal/peer"
	"github.com/Siddharth-777/ECHO/internal/signaling"
)

// Channel is the persistent message channel to the relay.
type Channel interface {
	Send(msg *signaling.Message) error
	Incoming() <-chan *signaling.Message
	Close() error
}

// Status is the coarse, user-visible session state.
type Status int

const (
	StatusStarting Status = iota
	StatusConnecting
	StatusJoined
	StatusLeft
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusConnecting:
		return "connecting"
	case StatusJoined:
		return "joined"
	case StatusLeft:
		return "left"
	case StatusDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// localKey identifies the local participant in the speaker monitor.
const localKey = "local"

// Participant is one row of the room view.
type Participant struct {
	ID       string
	Name     string
	Local    bool
	Role     peer.Role
	State    peer.State
	Media    peer.MediaState
	Speaking bool
}

// ChatLine is a chat message received from the relay.
type ChatLine struct {
	From string
	Name string
	Text string
	At   time.Time
	Self bool
}

// Update is a snapshot published whenever something visible changes.
type Update struct {
	Status       Status
	Room         string
	Self         string
	Participants []Participant
	Chat         *ChatLine
	Notice       string
}

// Options configures a Session.
type Options struct {
	Room string
	Name string

	// Dial opens the channel to the relay. It is only called once local
	// media has been acquired.
	Dial func(ctx context.Context) (Channel, error)

	Provider     media.CaptureProvider
	NewTransport peer.TransportFactory

	// SpeakerInterval overrides the active-speaker sampling period.
	SpeakerInterval time.Duration

	Logger *logrus.Entry
}

// Session is one participant's stay in a room. Run owns all state; other
// goroutines interact through Do and Updates.
type Session struct {
	opts   Options
	logger *logrus.Entry

	commands chan Command
	updates  chan Update
	done     chan struct{}

	// Owned by Run.
	ctx         context.Context
	name        string
	ch          Channel
	manager     *peer.Manager
	media       *media.Controller
	monitor     *media.SpeakerMonitor
	status      Status
	localID     string
	speaking    map[string]bool
	remoteMedia map[string]peer.MediaState
	summary     []peer.LinkInfo
}

// New creates a Session. Call Run to start it.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	name := opts.Name
	if name == "" {
		name = config.DefaultName
	}
	return &Session{
		opts:        opts,
		logger:      logger.WithField("room", opts.Room),
		commands:    make(chan Command, 16),
		updates:     make(chan Update, 256),
		done:        make(chan struct{}),
		name:        name,
		monitor:     media.NewSpeakerMonitor(opts.SpeakerInterval),
		speaking:    make(map[string]bool),
		remoteMedia: make(map[string]peer.MediaState),
	}
}

// Updates returns the snapshot stream. It is closed when Run returns.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Do delivers cmd to the running session. It reports false once the session
// has ended.
func (s *Session) Do(cmd Command) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.commands <- cmd:
		return true
	case <-s.done:
		return false
	}
}

// Summary returns every link of the session. Valid after Run returns.
func (s *Session) Summary() []peer.LinkInfo {
	return s.summary
}

// Run acquires local media, connects, joins the room and processes events
// until the user leaves, the channel closes or ctx ends. Every peer link and
// capture stream is released before it returns.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer close(s.updates)

	if s.opts.Room == "" {
		return NewError("join", ErrNoRoom)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	s.manager = peer.NewManager(ctx, peer.Config{
		NewTransport: s.opts.NewTransport,
		Send:         s.sendSignal,
		Logger:       s.logger.WithField("prefix", "peer"),
	})
	s.media = media.NewController(s.opts.Provider, s.manager, s.logger.WithField("prefix", "media"))

	// No partial session: without local media nothing is connected.
	if err := s.media.Start(ctx); err != nil {
		s.manager.Close()
		return NewError("start media", err)
	}
	defer s.teardown()

	s.setStatus(StatusConnecting)
	ch, err := s.opts.Dial(ctx)
	if err != nil {
		return NewError("connect", err)
	}
	s.ch = ch

	s.manager.SetMediaState(peer.MediaState(s.media.State()))
	if err := ch.Send(signaling.Join(s.opts.Room, s.name)); err != nil {
		return NewError("join", err)
	}

	go s.monitor.Run(ctx)
	if t := s.media.LocalAudio(); t != nil {
		s.monitor.Add(localKey, t.Level)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch.Incoming():
			if !ok {
				s.status = StatusDisconnected
				return NewError("signaling", ErrDisconnected)
			}
			if err := s.handleSignal(msg); err != nil {
				return err
			}

		case ev := <-s.manager.Events():
			s.manager.Handle(ev)
			s.handleLink(ev)

		case <-s.media.ScreenEnded():
			s.media.StopScreenShare()
			s.announceMedia()
			s.notice("Screen share ended")

		case sp := <-s.monitor.Changes():
			if s.speaking[sp.ID] != sp.Speaking {
				s.speaking[sp.ID] = sp.Speaking
				s.publish(Update{})
			}

		case cmd := <-s.commands:
			if s.handleCommand(cmd) {
				return nil
			}
		}
	}
}

func (s *Session) teardown() {
	s.manager.Close()
	s.summary = s.manager.Summary()
	s.media.Stop()
	if s.ch != nil {
		s.ch.Close()
	}
	if s.status != StatusDisconnected {
		s.status = StatusLeft
	}
	s.publish(Update{})
	s.logger.WithField("links", len(s.summary)).Info("Left room")
}

func (s *Session) sendSignal(msg *signaling.Message) error {
	return s.ch.Send(msg)
}

func (s *Session) handleSignal(msg *signaling.Message) error {
	switch msg.Type {
	case signaling.TypeJoined:
		s.localID = msg.ClientID
		if msg.Name != "" {
			s.name = msg.Name
		}
		s.status = StatusJoined
		if err := s.manager.HandleSignal(msg); err != nil {
			s.logger.WithError(err).Warn("Failed to open peer links")
		}
		s.logger.WithFields(logrus.Fields{
			"client": s.localID,
			"peers":  len(msg.Peers),
		}).Info("Joined room")
		s.notice(fmt.Sprintf("Joined %s as %s with %d peer(s)", s.opts.Room, s.name, len(msg.Peers)))

	case signaling.TypeRoomFull:
		return WrapError("join", ErrRoomFull, fmt.Sprintf("limit %d", msg.Limit))

	case signaling.TypePeerJoined:
		if err := s.manager.HandleSignal(msg); err != nil {
			s.logger.WithError(err).Warn("Dropping peer-joined")
			return nil
		}
		s.notice(fmt.Sprintf("%s joined", msg.Peer.Name))

	case signaling.TypePeerLeft:
		name := msg.ID
		if l := s.manager.Link(msg.ID); l != nil {
			name = l.Name()
		}
		s.manager.HandleSignal(msg)
		s.forget(msg.ID)
		s.notice(fmt.Sprintf("%s left", name))

	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeCandidate:
		if err := s.manager.HandleSignal(msg); err != nil {
			s.logger.WithError(err).WithField("type", msg.Type).Debug("Dropping signal")
		}

	case signaling.TypeChat:
		s.publish(Update{Chat: &ChatLine{
			From: msg.From,
			Name: msg.Name,
			Text: msg.Text,
			At:   time.Now(),
			Self: msg.From != "" && msg.From == s.localID,
		}})

	default:
		s.logger.WithField("type", msg.Type).Debug("Ignoring message")
	}
	return nil
}

func (s *Session) handleLink(ev peer.Event) {
	remote := ev.Remote()
	switch ev.Kind {
	case peer.EventState:
		s.logger.WithFields(logrus.Fields{
			"remote": remote,
			"state":  ev.State.String(),
		}).Debug("Link state changed")
		if ev.State.Terminal() {
			s.forget(remote)
		}
		s.publish(Update{})

	case peer.EventTrack:
		if ev.Track.Level != nil {
			s.monitor.Add(remote, ev.Track.Level)
		}

	case peer.EventMedia:
		s.remoteMedia[remote] = ev.Media
		s.publish(Update{})
	}
}

func (s *Session) forget(remote string) {
	s.monitor.Remove(remote)
	delete(s.speaking, remote)
	delete(s.remoteMedia, remote)
}

// handleCommand applies cmd and reports whether the session should end.
func (s *Session) handleCommand(cmd Command) bool {
	switch cmd.Kind {
	case CommandChat:
		if cmd.Text == "" {
			return false
		}
		if err := s.ch.Send(signaling.Chat(cmd.Text)); err != nil {
			s.notice(fmt.Sprintf("Chat not sent: %v", err))
		}

	case CommandMic:
		on, err := s.media.ToggleMic()
		if err != nil {
			s.notice(err.Error())
			return false
		}
		s.announceMedia()
		s.notice("Microphone " + onOff(on))

	case CommandCamera:
		on, err := s.media.ToggleCamera()
		if err != nil {
			s.notice(err.Error())
			return false
		}
		s.announceMedia()
		s.notice("Camera " + onOff(on))

	case CommandScreen:
		if s.media.Sharing() {
			s.media.StopScreenShare()
			s.announceMedia()
			s.notice("Screen share stopped")
			return false
		}
		if err := s.media.StartScreenShare(s.ctx); err != nil {
			if errors.Is(err, media.ErrPermissionDenied) {
				s.notice("Screen share unavailable")
			} else {
				s.notice(fmt.Sprintf("Screen share failed: %v", err))
			}
			s.logger.WithError(err).Warn("Screen share failed")
			return false
		}
		s.announceMedia()
		s.notice("Screen share started")

	case CommandPeers:
		links := s.manager.Links()
		if len(links) == 0 {
			s.notice("No peers in the room")
			return false
		}
		parts := make([]string, len(links))
		for i, l := range links {
			parts[i] = fmt.Sprintf("%s (%s)", l.Name, l.State)
		}
		s.notice("Peers: " + strings.Join(parts, ", "))

	case CommandLeave:
		if err := s.ch.Send(signaling.Leave()); err != nil {
			s.logger.WithError(err).Debug("Leave not sent")
		}
		return true
	}
	return false
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (s *Session) announceMedia() {
	s.manager.SetMediaState(peer.MediaState(s.media.State()))
	s.publish(Update{})
}

func (s *Session) setStatus(st Status) {
	s.status = st
	s.publish(Update{})
}

func (s *Session) notice(text string) {
	s.publish(Update{Notice: text})
}

// publish fills in the current snapshot and hands u to the reader.
func (s *Session) publish(u Update) {
	u.Status = s.status
	u.Room = s.opts.Room
	u.Self = s.localID
	u.Participants = s.participants()

	select {
	case s.updates <- u:
	case <-s.ctx.Done():
	}
}

func (s *Session) participants() []Participant {
	list := []Participant{{
		ID:       s.localID,
		Name:     s.name,
		Local:    true,
		State:    peer.StateConnected,
		Media:    peer.MediaState(s.media.State()),
		Speaking: s.speaking[localKey],
	}}
	for _, info := range s.manager.Links() {
		list = append(list, Participant{
			ID:       info.Remote,
			Name:     info.Name,
			Role:     info.Role,
			State:    info.State,
			Media:    s.remoteMedia[info.Remote],
			Speaking: s.speaking[info.Remote],
		})
	}
	return list
}
