// Package config loads the process configuration from environment
// variables. Everything is fixed at startup; there is no reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ColorConvert selects how captured frames are converted to packed BGR.
type ColorConvert string

const (
	ConvertAuto    ColorConvert = "auto"
	ConvertNone    ColorConvert = "none"
	ConvertRGB2BGR ColorConvert = "rgb2bgr"
	ConvertRGBA2BG ColorConvert = "rgba2bgr"
	ConvertBGRA2BG ColorConvert = "bgra2bgr"
	ConvertYUV420  ColorConvert = "yuv420"
)

// Backend selects where frames come from.
type Backend string

const (
	// BackendExternal reads raw frames from an external capture process.
	BackendExternal Backend = "external"
	// BackendTest generates a deterministic color-bar pattern.
	BackendTest Backend = "test"
)

// Camera holds the capture configuration for one sensor.
type Camera struct {
	Index        int
	Width        int
	Height       int
	MaxFPS       float64 // 0 means uncapped
	PixelFormat  string  // RGB888, XRGB8888, YUV420
	SwapRB       bool
	BufferCount  int
	Queue        bool
	ColorConvert ColorConvert
	TestPattern  bool
	Backend      Backend
}

// Config is the full process configuration.
type Config struct {
	ListenAddr string

	JWTSecret  string
	JWTExpire  time.Duration
	AdminGPass string
	AdminDPass string

	RegisterAdminOnly bool

	CameraLeftIndex  int
	CameraRightIndex int
	Camera           Camera

	MotionSensitivity     float64
	MotionPixelMultiplier float64

	DataDir       string // users.db and secret.key live here
	RecordingDir  string
	TrackDir      string
	LogDir        string
	RetentionDays int
	MinFreeBytes  uint64

	JPEGQuality int

	SFTP SFTP
	SMTP SMTP
}

// SFTP holds the upload sink credentials. Disabled when Host is empty.
type SFTP struct {
	Host       string
	Port       int
	User       string
	Password   string
	RemoteDir  string
	AutoUpload bool
	Retries    int
	Backoff    time.Duration
}

// SMTP holds the mail sink credentials. Disabled when Host is empty.
type SMTP struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

// FromEnv builds a Config from the environment. A missing JWT secret or
// expiry is a hard error: the server must not start with guessable
// defaults.
func FromEnv() (*Config, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	expireStr := os.Getenv("JWT_EXPIRE_MINUTES")
	if expireStr == "" {
		return nil, fmt.Errorf("JWT_EXPIRE_MINUTES is not set")
	}
	expireMin, err := strconv.Atoi(expireStr)
	if err != nil || expireMin <= 0 {
		return nil, fmt.Errorf("JWT_EXPIRE_MINUTES must be a positive integer, got %q", expireStr)
	}

	cfg := &Config{
		ListenAddr: envString("LISTEN_ADDR", ":8080"),

		JWTSecret:  secret,
		JWTExpire:  time.Duration(expireMin) * time.Minute,
		AdminGPass: os.Getenv("ADMIN_G_PASS"),
		AdminDPass: os.Getenv("ADMIN_D_PASS"),

		RegisterAdminOnly: envBool("REGISTER_ADMIN_ONLY", false),

		CameraLeftIndex:  envInt("CAMERA_LEFT_INDEX", 1),
		CameraRightIndex: envInt("CAMERA_RIGHT_INDEX", 0),

		MotionSensitivity:     envFloat("MOTION_SENSITIVITY", 40),
		MotionPixelMultiplier: envFloat("MOTION_PIXEL_MULTIPLIER", 1000),

		DataDir:       envString("DATA_DIR", "."),
		RecordingDir:  envString("RECORDING_DIR", "recordings"),
		TrackDir:      envString("TRACK_DIR", "tracks"),
		LogDir:        envString("LOG_DIR", "logs"),
		RetentionDays: envInt("RECORDING_RETENTION_DAYS", 7),
		MinFreeBytes:  uint64(envInt("MIN_FREE_MB", 1024)) * 1024 * 1024,

		JPEGQuality: envInt("MJPEG_QUALITY", 85),

		SFTP: SFTP{
			Host:       os.Getenv("SFTP_HOST"),
			Port:       envInt("SFTP_PORT", 22),
			User:       os.Getenv("SFTP_USER"),
			Password:   os.Getenv("SFTP_PASS"),
			RemoteDir:  envString("SFTP_REMOTE_DIR", "recordings"),
			AutoUpload: envBool("SFTP_AUTO_UPLOAD", true),
			Retries:    envInt("SFTP_RETRIES", 3),
			Backoff:    time.Duration(envInt("SFTP_BACKOFF_SECONDS", 5)) * time.Second,
		},
		SMTP: SMTP{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     envInt("SMTP_PORT", 587),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     os.Getenv("SMTP_FROM"),
			To:       os.Getenv("SMTP_TO"),
		},
	}

	cam, err := cameraFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Camera = cam

	return cfg, nil
}

func cameraFromEnv() (Camera, error) {
	cam := Camera{
		Index:       envInt("CAMERA_RIGHT_INDEX", 0),
		Width:       1280,
		Height:      720,
		MaxFPS:      envFloat("CAMERA_MAX_FPS", 0),
		PixelFormat: envString("CAMERA_PIXEL_FORMAT", "RGB888"),
		SwapRB:      envBool("CAMERA_SWAP_RB", false),
		BufferCount: envInt("CAMERA_BUFFER_COUNT", 2),
		Queue:       envBool("CAMERA_QUEUE", false),
		TestPattern: envBool("CAMERA_TEST_PATTERN", false),
	}

	if size := os.Getenv("CAMERA_SIZE"); size != "" {
		w, h, err := parseSize(size)
		if err != nil {
			return cam, err
		}
		cam.Width, cam.Height = w, h
	}

	conv := ColorConvert(strings.ToLower(envString("CAMERA_COLOR_CONVERT", string(ConvertAuto))))
	switch conv {
	case ConvertAuto, ConvertNone, ConvertRGB2BGR, ConvertRGBA2BG, ConvertBGRA2BG, ConvertYUV420:
		cam.ColorConvert = conv
	default:
		return cam, fmt.Errorf("invalid CAMERA_COLOR_CONVERT %q", conv)
	}

	switch backend := strings.ToLower(envString("STREAM_BACKEND", "external")); backend {
	case "external", "python": // "python" kept for env compatibility with older deployments
		cam.Backend = BackendExternal
	case "test":
		cam.Backend = BackendTest
	default:
		return cam, fmt.Errorf("invalid STREAM_BACKEND %q", backend)
	}

	return cam, nil
}

func parseSize(s string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid CAMERA_SIZE %q, want WxH", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid CAMERA_SIZE width %q", parts[0])
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid CAMERA_SIZE height %q", parts[1])
	}
	return w, h, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
