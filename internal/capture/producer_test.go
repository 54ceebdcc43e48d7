package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrcam/internal/config"
	"vrcam/internal/frame"
	"vrcam/internal/logging"
	"vrcam/internal/relay"
)

func testCamera() config.Camera {
	return config.Camera{
		Index:       0,
		Width:       64,
		Height:      48,
		MaxFPS:      60,
		PixelFormat: "RGB888",
		Backend:     config.BackendTest,
	}
}

func TestProducerPublishesAfterGrace(t *testing.T) {
	r := relay.New("captest")
	p, err := New(testCamera(), r, nil, logging.Nop().System)
	require.NoError(t, err)

	sub := r.Subscribe()
	require.NoError(t, p.Start())
	defer p.Stop()

	assert.False(t, p.Ready())

	select {
	case fr := <-sub.Frames():
		assert.True(t, p.Ready())
		assert.Equal(t, frame.BGR24, fr.Format)
		assert.Equal(t, 64, fr.Width)
		require.NoError(t, fr.Validate())
	case <-time.After(5 * time.Second):
		t.Fatal("no frame within grace + margin")
	}
}

func TestProducerSequencesIncrease(t *testing.T) {
	r := relay.New("captest")
	p, err := New(testCamera(), r, nil, logging.Nop().System)
	require.NoError(t, err)

	sub := r.Subscribe()
	require.NoError(t, p.Start())
	defer p.Stop()

	var last uint64
	for i := 0; i < 5; i++ {
		select {
		case fr := <-sub.Frames():
			assert.Greater(t, fr.Seq, last)
			last = fr.Seq
		case <-time.After(5 * time.Second):
			t.Fatal("frame stream stalled")
		}
	}
}

func TestTapSeesFramesBeforeGrace(t *testing.T) {
	r := relay.New("captest")
	tapped := make(chan *frame.Frame, 1)
	tap := func(fr *frame.Frame) {
		select {
		case tapped <- fr:
		default:
		}
	}
	p, err := New(testCamera(), r, tap, logging.Nop().System)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	// The analyzer tap runs from the first frame; it does not wait for
	// the publish grace.
	select {
	case <-tapped:
	case <-time.After(time.Second):
		t.Fatal("tap never called")
	}
}

func TestStopIdempotent(t *testing.T) {
	r := relay.New("captest")
	p, err := New(testCamera(), r, nil, logging.Nop().System)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	p.Stop()
	p.Stop()
	assert.False(t, p.Ready())
}

func TestPatternSensorFillsBuffer(t *testing.T) {
	s := newPatternSensor(testCamera())
	require.NoError(t, s.Open())
	defer s.Close()

	buf := make([]byte, frame.BGR24.Size(64, 48))
	require.NoError(t, s.ReadFrame(buf))
	want := frame.TestPattern(64, 48)
	assert.Equal(t, want.Data, buf)
}

func TestPatternSensorPacesWithoutFPSCap(t *testing.T) {
	cam := testCamera()
	cam.MaxFPS = 0
	s := newPatternSensor(cam)
	require.NoError(t, s.Open())
	defer s.Close()

	// Without a configured cap the sensor blocks between frames, so
	// three reads take at least two intervals at the built-in rate.
	buf := make([]byte, frame.BGR24.Size(64, 48))
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.ReadFrame(buf))
	}
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second/patternFPS)
}

func TestPatternSensorUnpacedWithFPSCap(t *testing.T) {
	// With a cap the producer loop paces; the sensor must not double it.
	s := newPatternSensor(testCamera())
	assert.Zero(t, s.interval)
}

func TestUnknownPixelFormatRejected(t *testing.T) {
	cam := testCamera()
	cam.PixelFormat = "P010"
	_, err := New(cam, relay.New("captest"), nil, logging.Nop().System)
	assert.Error(t, err)
}
