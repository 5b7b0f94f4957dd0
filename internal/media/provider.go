package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/sirupsen/logrus"
)

// ErrPermissionDenied is returned when a capture source cannot be opened.
var ErrPermissionDenied = errors.New("media permission denied")

// CaptureProvider yields local media.
type CaptureProvider interface {
	// UserMedia acquires the microphone and camera.
	UserMedia(ctx context.Context) (*Stream, error)

	// DisplayMedia acquires a screen capture. Its Ended channel closes when
	// the share ends on the source side.
	DisplayMedia(ctx context.Context) (*Stream, error)
}

// oggPageDuration is the pacing used for Opus pages.
const oggPageDuration = 20 * time.Millisecond

// FileProvider plays IVF (VP8) and Ogg (Opus) files as capture sources.
// With no files configured the user media tracks are published but silent.
type FileProvider struct {
	AudioFile  string
	VideoFile  string
	ScreenFile string

	Logger *logrus.Entry
}

func (p *FileProvider) logger() *logrus.Entry {
	if p.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return p.Logger
}

func checkSource(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return nil
}

// UserMedia implements CaptureProvider.
func (p *FileProvider) UserMedia(ctx context.Context) (*Stream, error) {
	if err := checkSource(p.AudioFile); err != nil {
		return nil, err
	}
	if err := checkSource(p.VideoFile); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	mic, err := NewTrack(SourceMic, id)
	if err != nil {
		return nil, err
	}
	cam, err := NewTrack(SourceCamera, id)
	if err != nil {
		return nil, err
	}

	s := NewStream(id, mic, cam)
	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel

	if p.AudioFile != "" {
		go p.loop(ctx, func() error { return playOgg(ctx, p.AudioFile, mic) })
	}
	if p.VideoFile != "" {
		go p.loop(ctx, func() error { return playIVF(ctx, p.VideoFile, cam) })
	}
	return s, nil
}

// DisplayMedia implements CaptureProvider. The share ends when the screen
// file has been played once.
func (p *FileProvider) DisplayMedia(ctx context.Context) (*Stream, error) {
	if p.ScreenFile == "" {
		return nil, fmt.Errorf("%w: no screen source configured", ErrPermissionDenied)
	}
	if err := checkSource(p.ScreenFile); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	screen, err := NewTrack(SourceScreen, id)
	if err != nil {
		return nil, err
	}

	s := NewStream(id, screen)
	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel

	go func() {
		if err := playIVF(ctx, p.ScreenFile, screen); err != nil && !errors.Is(err, context.Canceled) {
			p.logger().WithError(err).Warn("Screen source failed")
		}
		s.Stop()
	}()
	return s, nil
}

// loop replays a source until ctx ends.
func (p *FileProvider) loop(ctx context.Context, play func() error) {
	for ctx.Err() == nil {
		if err := play(); err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger().WithError(err).Warn("Capture source failed")
			}
			return
		}
	}
}

// playIVF writes every frame of an IVF file to track, paced by the file's
// timebase. It returns nil at end of file.
func playIVF(ctx context.Context, path string, track *Track) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}

	interval := time.Second / 30
	if header.TimebaseDenominator > 0 {
		interval = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
			return err
		}
	}
}

// playOgg writes every Opus page of an Ogg file to track.
func playOgg(ctx context.Context, path string, track *Track) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ogg page: %w", err)
		}

		// Granule positions count 48kHz samples.
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
