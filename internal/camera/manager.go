// Package camera owns the capture producers. The primary (right) sensor
// runs for the lifetime of the process; the secondary (left) sensor is
// reference-counted and only runs while at least one stereo session
// needs it.
package camera

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"vrcam/internal/capture"
	"vrcam/internal/config"
	"vrcam/internal/motion"
	"vrcam/internal/relay"
)

// Manager hands out relay subscriptions for mono and stereo sessions.
type Manager struct {
	cfg *config.Config
	log zerolog.Logger

	analyzer *motion.Analyzer
	primary  *capture.Producer

	mu         sync.Mutex
	secondary  *capture.Producer
	stereoRefs int
	stopped    bool
}

// NewManager wires the primary producer with the motion analyzer tap.
func NewManager(cfg *config.Config, analyzer *motion.Analyzer, log zerolog.Logger) (*Manager, error) {
	primaryCfg := cfg.Camera
	primaryCfg.Index = cfg.CameraRightIndex

	var tap capture.Tap
	if analyzer != nil {
		tap = analyzer.Offer
	}
	primary, err := capture.New(primaryCfg, relay.New("right"), tap, log)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		log:      log,
		analyzer: analyzer,
		primary:  primary,
	}, nil
}

// Start launches the primary capture.
func (m *Manager) Start() error {
	return m.primary.Start()
}

// Ready reports whether the primary capture has passed its startup
// grace.
func (m *Manager) Ready() bool {
	return m.primary.Ready()
}

// PrimaryRelay exposes the right-sensor fan-out for the MJPEG streamer
// and the recorder.
func (m *Manager) PrimaryRelay() *relay.Relay {
	return m.primary.Relay()
}

// MotionDetected reports the analyzer verdict.
func (m *Manager) MotionDetected() bool {
	if m.analyzer == nil {
		return false
	}
	return m.analyzer.Detected()
}

// Subscriptions returns one subscription for mono sessions or two
// (right, left) for stereo ones. The returned release func must be
// called exactly once when the session ends; it unsubscribes and drops
// the stereo reference if one was taken. release is safe to call twice.
func (m *Manager) Subscriptions(stereo bool) ([]*relay.Subscription, func(), error) {
	subs := []*relay.Subscription{m.primary.Relay().Subscribe()}

	var left *relay.Relay
	if stereo {
		var err error
		left, err = m.acquireStereo()
		if err != nil {
			m.primary.Relay().Unsubscribe(subs[0])
			return nil, nil, err
		}
		subs = append(subs, left.Subscribe())
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.primary.Relay().Unsubscribe(subs[0])
			if stereo {
				if left != nil && len(subs) > 1 {
					left.Unsubscribe(subs[1])
				}
				m.releaseStereo()
			}
		})
	}
	return subs, release, nil
}

// acquireStereo starts the secondary capture on the 0→1 transition.
func (m *Manager) acquireStereo() (*relay.Relay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("camera manager stopped")
	}
	if m.secondary == nil {
		leftCfg := m.cfg.Camera
		leftCfg.Index = m.cfg.CameraLeftIndex
		producer, err := capture.New(leftCfg, relay.New("left"), nil, m.log)
		if err != nil {
			return nil, err
		}
		if err := producer.Start(); err != nil {
			return nil, fmt.Errorf("start secondary capture: %w", err)
		}
		m.secondary = producer
		m.log.Info().Int("camera", m.cfg.CameraLeftIndex).Msg("secondary capture started")
	}
	m.stereoRefs++
	return m.secondary.Relay(), nil
}

// releaseStereo stops the secondary capture on the 1→0 transition.
// Spurious releases clamp at zero.
func (m *Manager) releaseStereo() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stereoRefs == 0 {
		return
	}
	m.stereoRefs--
	if m.stereoRefs == 0 && m.secondary != nil {
		m.secondary.Stop()
		m.secondary = nil
		m.log.Info().Msg("secondary capture stopped")
	}
}

// StereoRefs reports the live stereo reference count.
func (m *Manager) StereoRefs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stereoRefs
}

// StopAll tears down both captures. Safe to call once at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.stopped = true
	secondary := m.secondary
	m.secondary = nil
	m.stereoRefs = 0
	m.mu.Unlock()

	if secondary != nil {
		secondary.Stop()
	}
	m.primary.Stop()
	if m.analyzer != nil {
		m.analyzer.Stop()
	}
}
