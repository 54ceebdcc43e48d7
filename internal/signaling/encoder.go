package signaling

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/rs/zerolog"

	"vrcam/internal/frame"
	"vrcam/internal/relay"
)

// sampleWriter is the track-side half of the encoder; satisfied by
// webrtc.TrackLocalStaticSample.
type sampleWriter interface {
	WriteSample(media.Sample) error
}

// encoder pipes raw BGR frames through an external H264 encoder tuned
// for latency and feeds the resulting NAL units to a WebRTC track.
type encoder struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	track sampleWriter
	log   zerolog.Logger

	width, height int
	fps           float64

	done chan struct{}
}

func newEncoder(track sampleWriter, width, height int, fps float64, log zerolog.Logger) (*encoder, error) {
	if fps <= 0 {
		fps = 30
	}
	cmd := exec.Command("ffmpeg",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(int(fps*2)),
		"-f", "h264",
		"-",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	e := &encoder{
		cmd:    cmd,
		stdin:  stdin,
		track:  track,
		log:    log,
		width:  width,
		height: height,
		fps:    fps,
		done:   make(chan struct{}),
	}
	go e.relayNALs(stdout)
	return e, nil
}

// relayNALs parses the Annex-B stream into NAL units and writes each as
// a sample on the track.
func (e *encoder) relayNALs(stdout io.Reader) {
	defer close(e.done)

	reader, err := h264reader.NewReader(stdout)
	if err != nil {
		e.log.Error().Err(err).Msg("h264 reader init failed")
		return
	}
	duration := time.Duration(float64(time.Second) / e.fps)
	for {
		nal, err := reader.NextNAL()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.log.Debug().Err(err).Msg("h264 stream ended")
			}
			return
		}
		if err := e.track.WriteSample(media.Sample{Data: nal.Data, Duration: duration}); err != nil {
			e.log.Debug().Err(err).Msg("track write failed")
			return
		}
	}
}

// feed copies frames from the subscription into the encoder until the
// subscription closes or the encoder dies. Frames whose geometry does
// not match the encoder's are resized.
func (e *encoder) feed(sub *relay.Subscription) {
	for {
		select {
		case <-sub.Done():
			return
		case <-e.done:
			return
		case fr, ok := <-sub.Frames():
			if !ok {
				return
			}
			if fr.Width != e.width || fr.Height != e.height {
				fr = frame.Resize(fr, e.width, e.height)
			}
			if _, err := e.stdin.Write(fr.Data); err != nil {
				return
			}
		}
	}
}

// stop closes stdin (flushing the encoder) and reaps the process.
func (e *encoder) stop() {
	_ = e.stdin.Close()
	if e.cmd.Process != nil {
		waited := make(chan struct{})
		go func() {
			_ = e.cmd.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(2 * time.Second):
			_ = e.cmd.Process.Kill()
			<-waited
		}
	}
}
