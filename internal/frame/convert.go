package frame

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// ConvertMode mirrors the CAMERA_COLOR_CONVERT setting. Auto picks the
// conversion from the source pixel format.
type ConvertMode int

const (
	Auto ConvertMode = iota
	None
	RGBToBGR
	RGBAToBGR
	BGRAToBGR
	YUV420ToBGR
)

// ToBGR converts src into a packed BGR24 frame according to mode,
// swapping red/blue afterwards when swapRB is set. The input frame is
// not modified.
func ToBGR(src *Frame, mode ConvertMode, swapRB bool) (*Frame, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if mode == Auto {
		switch src.Format {
		case BGR24:
			mode = None
		case RGB24:
			mode = RGBToBGR
		case RGBA:
			mode = RGBAToBGR
		case BGRA:
			mode = BGRAToBGR
		case YUV420:
			mode = YUV420ToBGR
		}
	}

	dst := New(src.Width, src.Height, BGR24)
	dst.Timestamp = src.Timestamp
	dst.Seq = src.Seq

	switch mode {
	case None:
		if src.Format != BGR24 && src.Format != RGB24 {
			return nil, fmt.Errorf("convert none: source is %s, not packed 24-bit", src.Format)
		}
		copy(dst.Data, src.Data)
	case RGBToBGR:
		swapChannels3(dst.Data, src.Data)
	case RGBAToBGR:
		pack4to3(dst.Data, src.Data, true)
	case BGRAToBGR:
		pack4to3(dst.Data, src.Data, false)
	case YUV420ToBGR:
		if src.Format != YUV420 {
			return nil, fmt.Errorf("convert yuv420: source is %s", src.Format)
		}
		yuv420ToBGR(dst.Data, src.Data, src.Width, src.Height)
	default:
		return nil, fmt.Errorf("unknown convert mode %d", mode)
	}

	if swapRB {
		for i := 0; i+2 < len(dst.Data); i += 3 {
			dst.Data[i], dst.Data[i+2] = dst.Data[i+2], dst.Data[i]
		}
	}
	return dst, nil
}

func swapChannels3(dst, src []byte) {
	for i := 0; i+2 < len(src); i += 3 {
		dst[i] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i]
	}
}

// pack4to3 drops the fourth channel. rgba selects the RGBA-vs-BGRA
// interpretation of the source.
func pack4to3(dst, src []byte, rgba bool) {
	for i, j := 0, 0; i+3 < len(src); i, j = i+4, j+3 {
		if rgba {
			dst[j] = src[i+2]
			dst[j+1] = src[i+1]
			dst[j+2] = src[i]
		} else {
			dst[j] = src[i]
			dst[j+1] = src[i+1]
			dst[j+2] = src[i+2]
		}
	}
}

// yuv420ToBGR converts two-plane 4:2:0 (Y then interleaved CbCr) using
// the BT.601 integer coefficients.
func yuv420ToBGR(dst, src []byte, w, h int) {
	yPlane := src[:w*h]
	cPlane := src[w*h:]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ci := (y/2)*(w/2*2) + (x/2)*2
			yy := int(yPlane[y*w+x])
			cb := int(cPlane[ci]) - 128
			cr := int(cPlane[ci+1]) - 128

			r := yy + (91881*cr)>>16
			g := yy - (22554*cb+46802*cr)>>16
			b := yy + (116130*cb)>>16

			o := (y*w + x) * 3
			dst[o] = clamp8(b)
			dst[o+1] = clamp8(g)
			dst[o+2] = clamp8(r)
		}
	}
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Resize scales a BGR24 frame to w×h. Downscales use bilinear
// interpolation which averages neighbouring source pixels.
func Resize(src *Frame, w, h int) *Frame {
	if src.Width == w && src.Height == h {
		return src
	}
	srcImg := src.ToRGBA()
	dstImg := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dstImg, dstImg.Bounds(), srcImg, srcImg.Bounds(), draw.Src, nil)

	out := New(w, h, BGR24)
	out.Timestamp = src.Timestamp
	out.Seq = src.Seq
	pix := dstImg.Pix
	for i, j := 0, 0; i+3 < len(pix); i, j = i+4, j+3 {
		out.Data[j] = pix[i+2]
		out.Data[j+1] = pix[i+1]
		out.Data[j+2] = pix[i]
	}
	return out
}

// TestPattern renders vertical color bars. The pattern is deterministic
// so downstream consumers stay well-defined when no sensor is present.
func TestPattern(w, h int) *Frame {
	// white, yellow, cyan, green, magenta, red, blue, black (BGR order)
	bars := [8][3]byte{
		{255, 255, 255}, {0, 255, 255}, {255, 255, 0}, {0, 255, 0},
		{255, 0, 255}, {0, 0, 255}, {255, 0, 0}, {0, 0, 0},
	}
	fr := New(w, h, BGR24)
	barW := w / len(bars)
	if barW == 0 {
		barW = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bar := x / barW
			if bar >= len(bars) {
				bar = len(bars) - 1
			}
			o := (y*w + x) * 3
			fr.Data[o] = bars[bar][0]
			fr.Data[o+1] = bars[bar][1]
			fr.Data[o+2] = bars[bar][2]
		}
	}
	return fr
}
