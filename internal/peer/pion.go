package peer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// DataChannelLabel is the label of the side-channel created by the offerer.
const DataChannelLabel = "echo"

// ICEConfig describes the ICE servers available to every link.
type ICEConfig struct {
	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
}

// NewPionFactory returns a TransportFactory backed by pion/webrtc. The API,
// media engine and interceptors are shared by every link.
func NewPionFactory(cfg ICEConfig, logger *logrus.Entry) (TransportFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry))

	iceServers := []webrtc.ICEServer{}
	if len(cfg.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}
	if len(cfg.TURNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       cfg.TURNServers,
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if len(cfg.TURNServers) > 0 && (cfg.ForceRelay || ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
		logger.Debug("Using relay-only ICE policy")
	}

	pcConfig := webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}

	return func(role Role, h Handler) (Transport, error) {
		pc, err := api.NewPeerConnection(pcConfig)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		t := &pionTransport{
			pc:      pc,
			senders: make(map[string]*webrtc.RTPSender),
			logger:  logger,
		}
		t.bind(role, h)
		if role == RoleOfferer {
			dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("create data channel: %w", err)
			}
			t.bindData(dc, h)
		}
		return t, nil
	}, nil
}

// pionTransport adapts a PeerConnection to Transport.
type pionTransport struct {
	pc      *webrtc.PeerConnection
	senders map[string]*webrtc.RTPSender
	logger  *logrus.Entry

	mu sync.Mutex
	dc *webrtc.DataChannel
}

func (t *pionTransport) bind(role Role, h Handler) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		h.OnCandidate(c.ToJSON())
	})

	t.pc.OnConnectionStateChange(h.OnStateChange)

	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		rt := RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind(),
		}
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			meter := &levelMeter{}
			rt.Level = meter.Level
			go meter.read(track, audioLevelID(receiver))
		} else {
			go drain(track)
		}
		h.OnTrack(rt)
	})

	if role == RoleAnswerer {
		t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != DataChannelLabel {
				return
			}
			t.bindData(dc, h)
		})
	}
}

func (t *pionTransport) bindData(dc *webrtc.DataChannel, h Handler) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(h.OnDataOpen)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		h.OnData(msg.Data)
	})
}

func (t *pionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return offer, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return offer, fmt.Errorf("set local description: %w", err)
	}
	return *t.pc.LocalDescription(), nil
}

func (t *pionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return answer, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return answer, fmt.Errorf("set local description: %w", err)
	}
	return *t.pc.LocalDescription(), nil
}

func (t *pionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

// Rollback discards the pending local offer. pion needs the SDP being
// rolled back; an empty rollback description is rejected.
func (t *pionTransport) Rollback() error {
	pending := t.pc.PendingLocalDescription()
	if pending == nil || pending.Type != webrtc.SDPTypeOffer {
		return errors.New("no local offer to roll back")
	}
	return t.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeRollback,
		SDP:  pending.SDP,
	})
}

func (t *pionTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

func (t *pionTransport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}
	t.senders[track.ID()] = sender

	// Read incoming RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *pionTransport) RemoveTrack(track webrtc.TrackLocal) error {
	sender, ok := t.senders[track.ID()]
	if !ok {
		return fmt.Errorf("track %s not attached", track.ID())
	}
	delete(t.senders, track.ID())
	return t.pc.RemoveTrack(sender)
}

func (t *pionTransport) Send(data []byte) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errors.New("data channel not open")
	}
	return dc.Send(data)
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

// audioLevelID returns the negotiated header extension id for audio levels,
// or 0 when the remote did not agree to send them.
func audioLevelID(receiver *webrtc.RTPReceiver) uint8 {
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

// levelMeter tracks the latest audio level of a remote track.
type levelMeter struct {
	bits atomic.Uint64
}

// Level returns the most recent linear level.
func (m *levelMeter) Level() float64 {
	return math.Float64frombits(m.bits.Load())
}

func (m *levelMeter) read(track *webrtc.TrackRemote, extID uint8) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if extID == 0 {
			continue
		}
		raw := pkt.GetExtension(extID)
		if raw == nil {
			continue
		}
		var ext rtp.AudioLevelExtension
		if err := ext.Unmarshal(raw); err != nil {
			continue
		}
		m.bits.Store(math.Float64bits(LinearLevel(ext.Level)))
	}
}

// LinearLevel converts an RFC 6464 level (0 to 127, in -dBov) to a linear
// amplitude in [0, 1].
func LinearLevel(dBov uint8) float64 {
	if dBov >= 127 {
		return 0
	}
	return math.Pow(10, -float64(dBov)/20)
}

func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
