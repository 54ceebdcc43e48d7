// Package motion turns the frame stream into a boolean motion signal
// using a blurred frame-difference heuristic.
package motion

import (
	"math"
	"sync"
	"sync/atomic"

	"vrcam/internal/frame"
	"vrcam/internal/metrics"
)

const (
	blurKernel     = 21
	diffThreshold  = 25
	defaultSens    = 40
	defaultPixMult = 1000
)

// Analyzer consumes frames at most as fast as it can process them; the
// producer hands frames to Offer which never blocks.
type Analyzer struct {
	sensitivity float64
	pixMult     float64

	mu       sync.Mutex
	pending  *frame.Frame
	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	prevGray []byte
	prevW    int
	prevH    int

	detected atomic.Bool
	stopped  atomic.Bool
}

// New creates an analyzer. Zero sensitivity or multiplier pick the
// defaults (40 and 1000).
func New(sensitivity, pixMult float64) *Analyzer {
	if sensitivity <= 0 {
		sensitivity = defaultSens
	}
	if pixMult <= 0 {
		pixMult = defaultPixMult
	}
	a := &Analyzer{
		sensitivity: sensitivity,
		pixMult:     pixMult,
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go a.loop()
	return a
}

// Offer hands the latest frame to the analyzer. Non-blocking: if the
// worker is busy the previously pending frame is replaced, so analysis
// lags rather than stalling the producer.
func (a *Analyzer) Offer(fr *frame.Frame) {
	a.mu.Lock()
	a.pending = fr
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Detected reports the latest verdict.
func (a *Analyzer) Detected() bool {
	return a.detected.Load()
}

// Stop terminates the worker. Idempotent.
func (a *Analyzer) Stop() {
	if !a.stopped.CompareAndSwap(false, true) {
		return
	}
	close(a.stopCh)
	<-a.doneCh
}

func (a *Analyzer) loop() {
	defer close(a.doneCh)
	for {
		select {
		case <-a.stopCh:
			return
		case <-a.wake:
		}
		a.mu.Lock()
		fr := a.pending
		a.pending = nil
		a.mu.Unlock()
		if fr != nil {
			a.analyze(fr)
		}
	}
}

func (a *Analyzer) analyze(fr *frame.Frame) {
	gray := fr.Gray()
	blurred := gaussianBlur(gray, fr.Width, fr.Height)

	// First frame (or geometry change) seeds the reference and reports
	// no motion.
	if a.prevGray == nil || a.prevW != fr.Width || a.prevH != fr.Height {
		a.prevGray, a.prevW, a.prevH = blurred, fr.Width, fr.Height
		a.setDetected(false)
		return
	}

	changed := 0
	for i := range blurred {
		d := int(blurred[i]) - int(a.prevGray[i])
		if d < 0 {
			d = -d
		}
		if d > diffThreshold {
			changed++
		}
	}
	a.prevGray = blurred

	a.setDetected(float64(changed) > a.sensitivity*a.pixMult)
}

func (a *Analyzer) setDetected(v bool) {
	a.detected.Store(v)
	if v {
		metrics.MotionDetected.Set(1)
	} else {
		metrics.MotionDetected.Set(0)
	}
}

// gaussianBlur applies a separable 21-tap Gaussian to an 8-bit plane.
func gaussianBlur(src []byte, w, h int) []byte {
	kernel := gaussianKernel(blurKernel)
	radius := blurKernel / 2

	tmp := make([]float64, len(src))
	out := make([]byte, len(src))

	// Horizontal pass, edge pixels clamp to the border.
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				xx := x + k
				if xx < 0 {
					xx = 0
				} else if xx >= w {
					xx = w - 1
				}
				acc += float64(src[row+xx]) * kernel[k+radius]
			}
			tmp[row+x] = acc
		}
	}

	// Vertical pass.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				yy := y + k
				if yy < 0 {
					yy = 0
				} else if yy >= h {
					yy = h - 1
				}
				acc += tmp[yy*w+x] * kernel[k+radius]
			}
			v := int(acc + 0.5)
			if v > 255 {
				v = 255
			}
			out[y*w+x] = uint8(v)
		}
	}
	return out
}

func gaussianKernel(size int) []float64 {
	// Sigma chosen from the kernel size the same way OpenCV derives it
	// when sigma is left at zero.
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	kernel := make([]float64, size)
	radius := size / 2
	var sum float64
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}
