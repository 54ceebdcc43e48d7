package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRE_MINUTES", "30")
}

func TestFromEnvRequiresJWTSettings(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_EXPIRE_MINUTES", "")
	_, err := FromEnv()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "x")
	_, err = FromEnv()
	require.Error(t, err)

	t.Setenv("JWT_EXPIRE_MINUTES", "-5")
	_, err = FromEnv()
	require.Error(t, err)

	t.Setenv("JWT_EXPIRE_MINUTES", "30")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.JWTExpire)
}

func TestDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 0, cfg.CameraRightIndex)
	assert.Equal(t, 1, cfg.CameraLeftIndex)
	assert.Equal(t, float64(40), cfg.MotionSensitivity)
	assert.Equal(t, float64(1000), cfg.MotionPixelMultiplier)
	assert.Equal(t, 1280, cfg.Camera.Width)
	assert.Equal(t, 720, cfg.Camera.Height)
	assert.Equal(t, BackendExternal, cfg.Camera.Backend)
	assert.Equal(t, ConvertAuto, cfg.Camera.ColorConvert)
	assert.Equal(t, 85, cfg.JPEGQuality)
	assert.Equal(t, 7, cfg.RetentionDays)
}

func TestCameraSize(t *testing.T) {
	setRequired(t)
	t.Setenv("CAMERA_SIZE", "640x480")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Camera.Width)
	assert.Equal(t, 480, cfg.Camera.Height)

	for _, bad := range []string{"640", "x480", "0x480", "640xabc"} {
		t.Setenv("CAMERA_SIZE", bad)
		_, err := FromEnv()
		assert.Error(t, err, bad)
	}
}

func TestBackendAliases(t *testing.T) {
	setRequired(t)

	// The legacy backend name maps onto the external capture process.
	t.Setenv("STREAM_BACKEND", "python")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendExternal, cfg.Camera.Backend)

	t.Setenv("STREAM_BACKEND", "test")
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendTest, cfg.Camera.Backend)

	t.Setenv("STREAM_BACKEND", "bogus")
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestColorConvertValidation(t *testing.T) {
	setRequired(t)
	t.Setenv("CAMERA_COLOR_CONVERT", "rgb2bgr")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ConvertRGB2BGR, cfg.Camera.ColorConvert)

	t.Setenv("CAMERA_COLOR_CONVERT", "hsv2bgr")
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestEnvBool(t *testing.T) {
	t.Setenv("SOME_FLAG", "yes")
	assert.True(t, envBool("SOME_FLAG", false))
	t.Setenv("SOME_FLAG", "off")
	assert.False(t, envBool("SOME_FLAG", true))
	t.Setenv("SOME_FLAG", "maybe")
	assert.True(t, envBool("SOME_FLAG", true))
}
