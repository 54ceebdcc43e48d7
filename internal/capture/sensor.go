package capture

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"vrcam/internal/config"
	"vrcam/internal/frame"
)

// Sensor delivers raw frames in a fixed pixel format. Open may block;
// ReadFrame blocks until one full frame is available.
type Sensor interface {
	Open() error
	ReadFrame(buf []byte) error
	Close() error
}

// externalSensor runs a capture subprocess and reads raw frames from its
// stdout. One process per sensor keeps driver latency off the request
// path.
type externalSensor struct {
	cfg    config.Camera
	format frame.PixelFormat

	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func newExternalSensor(cfg config.Camera, format frame.PixelFormat) *externalSensor {
	return &externalSensor{cfg: cfg, format: format}
}

func (s *externalSensor) Open() error {
	device := "/dev/video" + strconv.Itoa(s.cfg.Index)

	pixFmt := "bgr24"
	switch s.format {
	case frame.RGB24:
		pixFmt = "rgb24"
	case frame.RGBA:
		pixFmt = "rgba"
	case frame.BGRA:
		pixFmt = "bgra"
	case frame.YUV420:
		pixFmt = "nv12"
	}

	args := []string{
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
	}
	if s.cfg.MaxFPS > 0 {
		args = append(args, "-framerate", strconv.FormatFloat(s.cfg.MaxFPS, 'f', -1, 64))
	}
	args = append(args,
		"-i", device,
		"-f", "rawvideo",
		"-pix_fmt", pixFmt,
		"-",
	)

	s.cmd = exec.Command("ffmpeg", args...)

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout pipe: %w", err)
	}
	stderr, err := s.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("capture stderr pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start capture process for %s: %w", device, err)
	}
	s.stdout = stdout

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	return nil
}

func (s *externalSensor) ReadFrame(buf []byte) error {
	if s.stdout == nil {
		return fmt.Errorf("sensor not open")
	}
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	return nil
}

func (s *externalSensor) Close() error {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdout = nil
	return nil
}

// patternSensor serves the deterministic color-bar pattern in BGR24. It
// stands in when no sensor can be opened so downstream consumers stay
// defined. A real sensor blocks between frames; without a configured
// FPS cap the pattern paces itself at patternFPS so the producer loop
// cannot spin.
type patternSensor struct {
	bars     *frame.Frame
	interval time.Duration
	next     time.Time
}

const patternFPS = 30

func newPatternSensor(cfg config.Camera) *patternSensor {
	s := &patternSensor{bars: frame.TestPattern(cfg.Width, cfg.Height)}
	if cfg.MaxFPS <= 0 {
		s.interval = time.Second / patternFPS
	}
	return s
}

func (s *patternSensor) Open() error { return nil }

func (s *patternSensor) ReadFrame(buf []byte) error {
	if s.interval > 0 {
		now := time.Now()
		if s.next.IsZero() {
			s.next = now
		}
		if wait := s.next.Sub(now); wait > 0 {
			time.Sleep(wait)
		}
		s.next = s.next.Add(s.interval)
	}
	copy(buf, s.bars.Data)
	return nil
}

func (s *patternSensor) Close() error { return nil }
