package media

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Source names the capture a track comes from.
type Source string

const (
	SourceMic    Source = "mic"
	SourceCamera Source = "camera"
	SourceScreen Source = "screen"
)

// Opus packets this small carry comfort noise or DTX silence.
const dtxPacketSize = 3

// The local level is estimated from the instantaneous Opus bitrate: VBR
// frames of background noise stay near quietBitrate while loud speech
// approaches loudBitrate.
const (
	quietBitrate = 12_000
	loudBitrate  = 64_000
	opusFrame    = 20 * time.Millisecond
)

// opusLevel maps an encoded frame to a linear level in [0, 1].
func opusLevel(size int, d time.Duration) float64 {
	if size <= dtxPacketSize {
		return 0
	}
	if d <= 0 {
		d = opusFrame
	}
	bitrate := float64(size*8) / d.Seconds()
	level := (bitrate - quietBitrate) / (loudBitrate - quietBitrate)
	return math.Max(0, math.Min(1, level))
}

// Track is a published local track. Disabling it drops samples without
// touching the session.
type Track struct {
	*webrtc.TrackLocalStaticSample

	source  Source
	enabled atomic.Bool
	level   atomic.Uint64
}

// NewTrack creates an enabled track for source.
func NewTrack(source Source, streamID string) (*Track, error) {
	var capability webrtc.RTPCodecCapability
	switch source {
	case SourceMic:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	default:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	local, err := webrtc.NewTrackLocalStaticSample(capability, string(source), streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{TrackLocalStaticSample: local, source: source}
	t.enabled.Store(true)
	return t, nil
}

// Source returns where the track is captured from.
func (t *Track) Source() Source { return t.source }

// Enabled reports whether samples are being sent.
func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled flips the track on or off.
func (t *Track) SetEnabled(on bool) {
	t.enabled.Store(on)
	if !on {
		t.setLevel(0)
	}
}

// WriteSample sends s unless the track is disabled.
func (t *Track) WriteSample(s media.Sample) error {
	if !t.Enabled() {
		return nil
	}
	if t.Kind() == webrtc.RTPCodecTypeAudio {
		t.setLevel(opusLevel(len(s.Data), s.Duration))
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}

// Level returns the estimated linear level of the last sample.
func (t *Track) Level() float64 {
	return math.Float64frombits(t.level.Load())
}

func (t *Track) setLevel(v float64) {
	t.level.Store(math.Float64bits(v))
}

// Stream is a set of tracks acquired together. Ended is closed when the
// stream is stopped or its source runs out.
type Stream struct {
	ID     string
	Tracks []*Track

	stop  func()
	once  sync.Once
	ended chan struct{}
}

// NewStream groups tracks into a stream. Stop only closes Ended unless a
// provider installs its own release.
func NewStream(id string, tracks ...*Track) *Stream {
	return &Stream{ID: id, Tracks: tracks, stop: func() {}, ended: make(chan struct{})}
}

// Ended is closed once the stream is over.
func (s *Stream) Ended() <-chan struct{} {
	return s.ended
}

// Stop releases the capture and closes Ended. It is idempotent.
func (s *Stream) Stop() {
	s.once.Do(func() {
		s.stop()
		for _, t := range s.Tracks {
			t.setLevel(0)
		}
		close(s.ended)
	})
}

// Track returns the stream's track from source, or nil.
func (s *Stream) Track(source Source) *Track {
	for _, t := range s.Tracks {
		if t.source == source {
			return t
		}
	}
	return nil
}

// Locals returns the tracks as pion local tracks.
func (s *Stream) Locals() []webrtc.TrackLocal {
	locals := make([]webrtc.TrackLocal, len(s.Tracks))
	for i, t := range s.Tracks {
		locals[i] = t
	}
	return locals
}
