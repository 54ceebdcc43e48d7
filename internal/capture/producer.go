// Package capture owns the frame producers. One Producer drives one
// sensor on a dedicated goroutine and publishes converted BGR frames to
// its relay.
package capture

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"vrcam/internal/config"
	"vrcam/internal/frame"
	"vrcam/internal/metrics"
	"vrcam/internal/relay"
)

// startupGrace absorbs auto-exposure and white-balance settling; frames
// captured inside the grace window never leave the relay.
const startupGrace = 2 * time.Second

// Tap receives every published frame. It must not block.
type Tap func(*frame.Frame)

// Producer acquires frames from one sensor and fans them out.
type Producer struct {
	cfg   config.Camera
	log   zerolog.Logger
	relay *relay.Relay
	tap   Tap

	srcFormat frame.PixelFormat
	convert   frame.ConvertMode
	sensor    Sensor

	seq       atomic.Uint64
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopped   atomic.Bool
	startedAt atomic.Int64 // unix nanos, 0 until Start
}

// New builds a producer for cfg. The tap may be nil.
func New(cfg config.Camera, r *relay.Relay, tap Tap, log zerolog.Logger) (*Producer, error) {
	srcFormat, err := frame.ParseFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}

	p := &Producer{
		cfg:       cfg,
		log:       log.With().Int("camera", cfg.Index).Logger(),
		relay:     r,
		tap:       tap,
		srcFormat: srcFormat,
		convert:   convertMode(cfg.ColorConvert),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	return p, nil
}

func convertMode(c config.ColorConvert) frame.ConvertMode {
	switch c {
	case config.ConvertNone:
		return frame.None
	case config.ConvertRGB2BGR:
		return frame.RGBToBGR
	case config.ConvertRGBA2BG:
		return frame.RGBAToBGR
	case config.ConvertBGRA2BG:
		return frame.BGRAToBGR
	case config.ConvertYUV420:
		return frame.YUV420ToBGR
	}
	return frame.Auto
}

// Start opens the sensor and launches the capture loop. A sensor that
// fails to open twice falls back to the test pattern; the failure is
// reported through the error stream but the producer stays usable.
func (p *Producer) Start() error {
	if p.cfg.TestPattern || p.cfg.Backend == config.BackendTest {
		p.sensor = newPatternSensor(p.cfg)
		p.srcFormat = frame.BGR24
		p.convert = frame.None
	} else {
		sensor := newExternalSensor(p.cfg, p.srcFormat)
		if err := sensor.Open(); err != nil {
			p.log.Warn().Err(err).Msg("sensor open failed, retrying")
			if err2 := sensor.Open(); err2 != nil {
				p.log.Error().Err(err2).Msg("sensor open failed twice, falling back to test pattern")
				p.sensor = newPatternSensor(p.cfg)
				p.srcFormat = frame.BGR24
				p.convert = frame.None
			} else {
				p.sensor = sensor
			}
		} else {
			p.sensor = sensor
		}
	}

	p.startedAt.Store(time.Now().UnixNano())
	go p.run()
	return nil
}

// Ready reports whether the startup grace has elapsed, i.e. frames are
// leaving the relay.
func (p *Producer) Ready() bool {
	started := p.startedAt.Load()
	if started == 0 || p.stopped.Load() {
		return false
	}
	return time.Since(time.Unix(0, started)) >= startupGrace
}

// Stop terminates the capture loop and closes the sensor. Idempotent.
func (p *Producer) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopCh)
	<-p.doneCh
	_ = p.sensor.Close()
	p.relay.Close()
}

// Relay returns the fan-out this producer publishes to.
func (p *Producer) Relay() *relay.Relay {
	return p.relay
}

func (p *Producer) run() {
	defer close(p.doneCh)

	label := strconv.Itoa(p.cfg.Index)
	started := time.Now()

	var interval time.Duration
	var next time.Time
	if p.cfg.MaxFPS > 0 {
		interval = time.Duration(float64(time.Second) / p.cfg.MaxFPS)
		next = time.Now()
	}

	frameSize := p.srcFormat.Size(p.cfg.Width, p.cfg.Height)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		raw := &frame.Frame{
			Width:  p.cfg.Width,
			Height: p.cfg.Height,
			Format: p.srcFormat,
			Data:   make([]byte, frameSize),
		}
		if err := p.sensor.ReadFrame(raw.Data); err != nil {
			metrics.CaptureErrors.WithLabelValues(label).Inc()
			p.log.Warn().Err(err).Msg("frame acquisition error")
			select {
			case <-p.stopCh:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		raw.Timestamp = time.Now()
		raw.Seq = p.seq.Add(1)

		out, err := frame.ToBGR(raw, p.convert, p.cfg.SwapRB)
		if err != nil {
			metrics.CaptureErrors.WithLabelValues(label).Inc()
			p.log.Warn().Err(err).Msg("frame conversion error")
			continue
		}
		if out.Width != p.cfg.Width || out.Height != p.cfg.Height {
			out = frame.Resize(out, p.cfg.Width, p.cfg.Height)
		}

		metrics.FramesCaptured.WithLabelValues(label).Inc()

		if p.tap != nil {
			p.tap(out)
		}
		if time.Since(started) >= startupGrace {
			p.relay.Publish(out)
		}

		if interval > 0 {
			// Drift-corrected pacing against the monotonic clock.
			next = next.Add(interval)
			if sleep := time.Until(next); sleep > 0 {
				select {
				case <-p.stopCh:
					return
				case <-time.After(sleep):
				}
			}
		}
	}
}

// Describe reports the configured geometry, for status endpoints.
func (p *Producer) Describe() string {
	return fmt.Sprintf("%dx%d@%g", p.cfg.Width, p.cfg.Height, p.cfg.MaxFPS)
}
