// Package frame defines the in-memory video frame model shared by the
// capture pipeline, the analyzers and the streaming sinks. Frames are
// immutable after publication: producers allocate, consumers only read.
package frame

import (
	"fmt"
	"image"
	"time"
)

// PixelFormat enumerates the closed set of supported pixel layouts.
type PixelFormat int

const (
	// BGR24 is the canonical downstream format; everything the relay
	// publishes is BGR24.
	BGR24 PixelFormat = iota
	RGB24
	RGBA
	BGRA
	// YUV420 is two-plane 4:2:0 (full-size Y plane followed by an
	// interleaved half-size CbCr plane).
	YUV420
)

func (f PixelFormat) String() string {
	switch f {
	case BGR24:
		return "bgr24"
	case RGB24:
		return "rgb24"
	case RGBA:
		return "rgba"
	case BGRA:
		return "bgra"
	case YUV420:
		return "yuv420"
	}
	return fmt.Sprintf("pixelformat(%d)", int(f))
}

// Size returns the byte length of one w×h frame in this format.
func (f PixelFormat) Size(w, h int) int {
	switch f {
	case BGR24, RGB24:
		return w * h * 3
	case RGBA, BGRA:
		return w * h * 4
	case YUV420:
		return w*h + w*h/2
	}
	return 0
}

// ParseFormat maps the CAMERA_PIXEL_FORMAT names onto a PixelFormat.
func ParseFormat(name string) (PixelFormat, error) {
	switch name {
	case "RGB888", "rgb24":
		return RGB24, nil
	case "BGR888", "bgr24":
		return BGR24, nil
	case "XRGB8888", "RGBA8888", "rgba":
		return RGBA, nil
	case "XBGR8888", "BGRA8888", "bgra":
		return BGRA, nil
	case "YUV420", "yuv420", "NV12":
		return YUV420, nil
	}
	return BGR24, fmt.Errorf("unknown pixel format %q", name)
}

// Frame is one captured image. Data length always matches
// Format.Size(Width, Height).
type Frame struct {
	Width, Height int
	Format        PixelFormat
	Timestamp     time.Time // monotonic capture time
	Seq           uint64
	Data          []byte
}

// New allocates a zeroed frame.
func New(w, h int, f PixelFormat) *Frame {
	return &Frame{Width: w, Height: h, Format: f, Data: make([]byte, f.Size(w, h))}
}

// Validate checks the length invariant.
func (fr *Frame) Validate() error {
	if want := fr.Format.Size(fr.Width, fr.Height); len(fr.Data) != want {
		return fmt.Errorf("frame %dx%d %s: have %d bytes, want %d",
			fr.Width, fr.Height, fr.Format, len(fr.Data), want)
	}
	return nil
}

// ToRGBA converts a BGR24 frame into an image for the JPEG encoders.
func (fr *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, fr.Width, fr.Height))
	src := fr.Data
	dst := img.Pix
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
		dst[j] = src[i+2]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i]
		dst[j+3] = 0xff
	}
	return img
}

// Gray converts a BGR24 frame to 8-bit luma using the BT.601 integer
// approximation. The returned slice is w*h bytes.
func (fr *Frame) Gray() []byte {
	out := make([]byte, fr.Width*fr.Height)
	src := fr.Data
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+1 {
		b := int(src[i])
		g := int(src[i+1])
		r := int(src[i+2])
		out[j] = uint8((299*r + 587*g + 114*b) / 1000)
	}
	return out
}
