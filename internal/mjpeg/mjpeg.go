// Package mjpeg serves the frame stream as multipart JPEG over a plain
// HTTP response, for clients without WebRTC.
package mjpeg

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"vrcam/internal/relay"
)

const boundary = "frame"

// Streamer writes multipart/x-mixed-replace responses from a relay.
type Streamer struct {
	source  func() *relay.Relay
	quality int
	log     zerolog.Logger
}

// New builds a streamer. source is resolved per request so the streamer
// survives capture restarts.
func New(source func() *relay.Relay, quality int, log zerolog.Logger) *Streamer {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Streamer{source: source, quality: quality, log: log}
}

// ServeHTTP streams frames until the client disconnects or the relay
// closes. Each part carries exactly one JPEG.
func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	rel := s.source()
	sub := rel.Subscribe()
	defer rel.Unsubscribe(sub)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	var buf bytes.Buffer
	opts := &jpeg.Options{Quality: s.quality}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case fr, open := <-sub.Frames():
			if !open {
				return
			}
			buf.Reset()
			if err := jpeg.Encode(&buf, fr.ToRGBA(), opts); err != nil {
				s.log.Warn().Err(err).Msg("jpeg encode failed")
				continue
			}
			if err := writePart(w, buf.Bytes()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w io.Writer, jpg []byte) error {
	if _, err := fmt.Fprintf(w, "\r\n--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpg)); err != nil {
		return err
	}
	_, err := w.Write(jpg)
	return err
}

// Snapshot encodes the next frame from the relay as a single JPEG, for
// the still endpoint.
func (s *Streamer) Snapshot(w http.ResponseWriter, r *http.Request) {
	rel := s.source()
	sub := rel.Subscribe()
	defer rel.Unsubscribe(sub)

	select {
	case <-r.Context().Done():
		return
	case <-sub.Done():
		http.Error(w, "capture not available", http.StatusServiceUnavailable)
	case fr, open := <-sub.Frames():
		if !open {
			http.Error(w, "capture not available", http.StatusServiceUnavailable)
			return
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, fr.ToRGBA(), &jpeg.Options{Quality: s.quality}); err != nil {
			http.Error(w, "encode failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
		_, _ = w.Write(buf.Bytes())
	}
}
