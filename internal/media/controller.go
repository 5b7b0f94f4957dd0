package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// ErrNotStarted is returned by toggles before Start succeeded.
var ErrNotStarted = errors.New("media not started")

// Publisher attaches local tracks to every peer link.
type Publisher interface {
	Publish(tracks ...webrtc.TrackLocal)
	Unpublish(tracks ...webrtc.TrackLocal)
}

// State is what the local participant currently sends.
type State struct {
	Audio  bool
	Video  bool
	Screen bool
}

// Controller owns the local capture streams. It is driven from the room
// session goroutine only.
type Controller struct {
	provider  CaptureProvider
	publisher Publisher
	logger    *logrus.Entry

	user   *Stream
	screen *Stream
}

// NewController creates a Controller publishing through publisher.
func NewController(provider CaptureProvider, publisher Publisher, logger *logrus.Entry) *Controller {
	return &Controller{provider: provider, publisher: publisher, logger: logger}
}

// Start acquires the microphone and camera once and publishes them.
// ErrPermissionDenied is returned unchanged so callers can abort the session.
func (c *Controller) Start(ctx context.Context) error {
	if c.user != nil {
		return nil
	}
	stream, err := c.provider.UserMedia(ctx)
	if err != nil {
		return fmt.Errorf("acquire user media: %w", err)
	}
	c.user = stream
	c.publisher.Publish(stream.Locals()...)
	c.logger.WithField("stream", stream.ID).Debug("User media started")
	return nil
}

// ToggleMic flips the microphone and returns its new state. No
// renegotiation happens.
func (c *Controller) ToggleMic() (bool, error) {
	return c.toggle(SourceMic)
}

// ToggleCamera flips the camera and returns its new state.
func (c *Controller) ToggleCamera() (bool, error) {
	return c.toggle(SourceCamera)
}

func (c *Controller) toggle(source Source) (bool, error) {
	if c.user == nil {
		return false, ErrNotStarted
	}
	t := c.user.Track(source)
	if t == nil {
		return false, fmt.Errorf("no %s track", source)
	}
	t.SetEnabled(!t.Enabled())
	c.logger.WithField("enabled", t.Enabled()).Debugf("Toggled %s", source)
	return t.Enabled(), nil
}

// Sharing reports whether a screen share is active.
func (c *Controller) Sharing() bool {
	return c.screen != nil
}

// StartScreenShare acquires a screen capture and publishes it on every link,
// which renegotiates each of them.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	if c.screen != nil {
		return nil
	}
	stream, err := c.provider.DisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("acquire display media: %w", err)
	}
	c.screen = stream
	c.publisher.Publish(stream.Locals()...)
	c.logger.WithField("stream", stream.ID).Info("Screen share started")
	return nil
}

// StopScreenShare unpublishes and releases the screen capture. It is also
// the handler for ScreenEnded.
func (c *Controller) StopScreenShare() {
	if c.screen == nil {
		return
	}
	stream := c.screen
	c.screen = nil
	c.publisher.Unpublish(stream.Locals()...)
	stream.Stop()
	c.logger.WithField("stream", stream.ID).Info("Screen share stopped")
}

// ScreenEnded is closed when the active share ends on the source side. It
// is nil while not sharing.
func (c *Controller) ScreenEnded() <-chan struct{} {
	if c.screen == nil {
		return nil
	}
	return c.screen.Ended()
}

// LocalAudio returns the microphone track, or nil before Start.
func (c *Controller) LocalAudio() *Track {
	if c.user == nil {
		return nil
	}
	return c.user.Track(SourceMic)
}

// State returns the current local media state.
func (c *Controller) State() State {
	var s State
	if c.user != nil {
		if t := c.user.Track(SourceMic); t != nil {
			s.Audio = t.Enabled()
		}
		if t := c.user.Track(SourceCamera); t != nil {
			s.Video = t.Enabled()
		}
	}
	s.Screen = c.screen != nil
	return s
}

// Stop releases every capture stream.
func (c *Controller) Stop() {
	c.StopScreenShare()
	if c.user != nil {
		c.publisher.Unpublish(c.user.Locals()...)
		c.user.Stop()
		c.user = nil
	}
}
