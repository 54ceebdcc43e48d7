package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrcam/internal/config"
	"vrcam/internal/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		CameraLeftIndex:  1,
		CameraRightIndex: 0,
		Camera: config.Camera{
			Width:       64,
			Height:      48,
			MaxFPS:      30,
			PixelFormat: "RGB888",
			Backend:     config.BackendTest,
		},
	}
}

func startManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(testConfig(), nil, logging.Nop().System)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(m.StopAll)
	return m
}

func TestMonoSubscriptionDoesNotTouchStereo(t *testing.T) {
	m := startManager(t)

	subs, release, err := m.Subscriptions(false)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, 0, m.StereoRefs())
	release()
	assert.Equal(t, 0, m.StereoRefs())
}

func TestStereoRefCounting(t *testing.T) {
	m := startManager(t)

	subsA, releaseA, err := m.Subscriptions(true)
	require.NoError(t, err)
	assert.Len(t, subsA, 2)
	assert.Equal(t, 1, m.StereoRefs())

	_, releaseB, err := m.Subscriptions(true)
	require.NoError(t, err)
	assert.Equal(t, 2, m.StereoRefs())

	releaseA()
	assert.Equal(t, 1, m.StereoRefs())

	// Double release of the same session must not drop the count again.
	releaseA()
	assert.Equal(t, 1, m.StereoRefs())

	releaseB()
	assert.Equal(t, 0, m.StereoRefs())
}

func TestStereoSecondaryRestartsAfterIdle(t *testing.T) {
	m := startManager(t)

	_, release, err := m.Subscriptions(true)
	require.NoError(t, err)
	release()
	require.Equal(t, 0, m.StereoRefs())

	// A fresh stereo session after the secondary was torn down works.
	subs, release2, err := m.Subscriptions(true)
	require.NoError(t, err)
	defer release2()
	assert.Len(t, subs, 2)
	assert.Equal(t, 1, m.StereoRefs())
}

func TestPrimaryDeliversFrames(t *testing.T) {
	m := startManager(t)

	subs, release, err := m.Subscriptions(false)
	require.NoError(t, err)
	defer release()

	// Frames only flow after the startup grace.
	select {
	case fr := <-subs[0].Frames():
		assert.Equal(t, 64, fr.Width)
		assert.Equal(t, 48, fr.Height)
	case <-time.After(5 * time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestSubscriptionsAfterStopFail(t *testing.T) {
	m, err := NewManager(testConfig(), nil, logging.Nop().System)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	m.StopAll()

	_, _, err = m.Subscriptions(true)
	assert.Error(t, err)
}
