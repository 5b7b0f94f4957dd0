package media

import (
	"context"
	"sync"
	"time"
)

// Active-speaker defaults.
const (
	SpeakerInterval  = 120 * time.Millisecond
	SpeakerThreshold = 0.02
	SpeakerHold      = 400 * time.Millisecond
)

// SpeakerDetector turns level samples into a debounced speaking flag.
type SpeakerDetector struct {
	Threshold float64
	Hold      time.Duration

	speaking bool
	lastLoud time.Time
}

// NewSpeakerDetector returns a detector with the default threshold and hold.
func NewSpeakerDetector() *SpeakerDetector {
	return &SpeakerDetector{Threshold: SpeakerThreshold, Hold: SpeakerHold}
}

// Observe feeds one sample taken at now. It returns the speaking flag and
// whether it changed.
func (d *SpeakerDetector) Observe(level float64, now time.Time) (speaking, changed bool) {
	was := d.speaking
	if level > d.Threshold {
		d.lastLoud = now
		d.speaking = true
	} else if d.speaking && now.Sub(d.lastLoud) >= d.Hold {
		d.speaking = false
	}
	return d.speaking, d.speaking != was
}

// Speaking reports a change of the speaking flag for one participant.
type Speaking struct {
	ID       string
	Speaking bool
}

type monitored struct {
	level    func() float64
	detector *SpeakerDetector
}

// SpeakerMonitor samples registered level sources on a fixed interval and
// reports speaking changes.
type SpeakerMonitor struct {
	interval time.Duration

	mu      sync.Mutex
	sources map[string]*monitored

	changes chan Speaking
}

// NewSpeakerMonitor creates a monitor sampling every interval.
func NewSpeakerMonitor(interval time.Duration) *SpeakerMonitor {
	if interval <= 0 {
		interval = SpeakerInterval
	}
	return &SpeakerMonitor{
		interval: interval,
		sources:  make(map[string]*monitored),
		changes:  make(chan Speaking, 32),
	}
}

// Changes returns the channel of speaking changes.
func (m *SpeakerMonitor) Changes() <-chan Speaking {
	return m.changes
}

// Add starts watching level under id, replacing any previous source.
func (m *SpeakerMonitor) Add(id string, level func() float64) {
	m.mu.Lock()
	m.sources[id] = &monitored{level: level, detector: NewSpeakerDetector()}
	m.mu.Unlock()
}

// Remove stops watching id.
func (m *SpeakerMonitor) Remove(id string) {
	m.mu.Lock()
	delete(m.sources, id)
	m.mu.Unlock()
}

// Run samples until ctx ends.
func (m *SpeakerMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sample(now)
		}
	}
}

func (m *SpeakerMonitor) sample(now time.Time) {
	m.mu.Lock()
	var changed []Speaking
	for id, src := range m.sources {
		if speaking, ok := src.detector.Observe(src.level(), now); ok {
			changed = append(changed, Speaking{ID: id, Speaking: speaking})
		}
	}
	m.mu.Unlock()

	// Indicators are cosmetic; a slow reader loses updates.
	for _, c := range changed {
		select {
		case m.changes <- c:
		default:
		}
	}
}
