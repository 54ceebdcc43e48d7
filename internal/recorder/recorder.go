// Package recorder writes the frame stream to disk as MP4. At most one
// recording runs at a time; finished files flow through the retention,
// upload and notification sinks.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vrcam/internal/config"
	"vrcam/internal/gps"
	"vrcam/internal/mailer"
	"vrcam/internal/metrics"
	"vrcam/internal/relay"
	"vrcam/internal/sysinfo"
	"vrcam/internal/upload"
)

var (
	// ErrActive is returned when a recording is already running.
	ErrActive = errors.New("recording already active")
	// ErrNotActive is returned by Stop with nothing running.
	ErrNotActive = errors.New("no recording active")
	// ErrStorageLow is returned when free space is under the floor.
	ErrStorageLow = errors.New("not enough free storage")
)

// Stats summarizes a finished recording.
type Stats struct {
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	Duration  time.Duration `json:"-"`
	Seconds   float64       `json:"duration_seconds"`
	SizeBytes int64         `json:"file_size_bytes"`
	TrackPath string        `json:"track_path,omitempty"`
}

// Entry is one stored recording, for the admin listing.
type Entry struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	Modified  time.Time `json:"modified"`
}

type job struct {
	name      string
	path      string
	startedAt time.Time
	user      string

	sub     *relay.Subscription
	release func()
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	feedEnd chan struct{}
}

// Recorder is the single-recording coordinator.
type Recorder struct {
	cfg      *config.Config
	source   func() *relay.Relay
	tracker  *gps.Tracker
	uploader *upload.Uploader
	mailer   *mailer.Mailer
	log      zerolog.Logger

	mu     sync.Mutex
	active *job
	last   *Stats
}

// New wires the coordinator. tracker, uploader and mailer may be nil.
func New(cfg *config.Config, source func() *relay.Relay, tracker *gps.Tracker, up *upload.Uploader, ml *mailer.Mailer, log zerolog.Logger) *Recorder {
	return &Recorder{
		cfg:      cfg,
		source:   source,
		tracker:  tracker,
		uploader: up,
		mailer:   ml,
		log:      log.With().Str("component", "recorder").Logger(),
	}
}

// Start begins a new recording. ErrActive when one is already running,
// ErrStorageLow when the volume is under the configured floor.
func (r *Recorder) Start(user string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return "", ErrActive
	}
	if err := os.MkdirAll(r.cfg.RecordingDir, 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	if free, err := sysinfo.FreeBytes(r.cfg.RecordingDir); err == nil && free < r.cfg.MinFreeBytes {
		return "", ErrStorageLow
	}

	name := time.Now().Format("20060102_150405") + ".mp4"
	path := filepath.Join(r.cfg.RecordingDir, name)

	cam := r.cfg.Camera
	fps := cam.MaxFPS
	if fps <= 0 {
		fps = 30
	}
	cmd := exec.Command("ffmpeg",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", cam.Width, cam.Height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "faster",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y", path,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("recorder stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start recorder process: %w", err)
	}

	rel := r.source()
	sub := rel.Subscribe()
	j := &job{
		name:      name,
		path:      path,
		startedAt: time.Now(),
		user:      user,
		sub:       sub,
		release:   func() { rel.Unsubscribe(sub) },
		cmd:       cmd,
		stdin:     stdin,
		feedEnd:   make(chan struct{}),
	}
	r.active = j
	go r.feed(j)

	if r.tracker != nil {
		r.tracker.Start()
	}
	metrics.RecordingActive.Set(1)
	r.log.Info().Str("file", name).Str("user", user).Msg("recording started")
	return name, nil
}

func (r *Recorder) feed(j *job) {
	defer close(j.feedEnd)

	cam := r.cfg.Camera
	want := cam.Width * cam.Height * 3
	for {
		select {
		case <-j.sub.Done():
			return
		case fr, ok := <-j.sub.Frames():
			if !ok {
				return
			}
			if len(fr.Data) != want {
				continue
			}
			if _, err := j.stdin.Write(fr.Data); err != nil {
				return
			}
		}
	}
}

// Stop finishes the active recording, runs the sink chain and returns
// the resulting stats.
func (r *Recorder) Stop() (Stats, error) {
	r.mu.Lock()
	j := r.active
	r.active = nil
	r.mu.Unlock()

	if j == nil {
		return Stats{}, ErrNotActive
	}

	j.release()
	<-j.feedEnd
	_ = j.stdin.Close()
	if err := j.cmd.Wait(); err != nil {
		r.log.Warn().Err(err).Str("file", j.name).Msg("encoder exited with error")
	}
	metrics.RecordingActive.Set(0)

	stats := Stats{
		Name:     j.name,
		Path:     j.path,
		Duration: time.Since(j.startedAt),
	}
	stats.Seconds = stats.Duration.Seconds()
	if fi, err := os.Stat(j.path); err == nil {
		stats.SizeBytes = fi.Size()
	}

	if r.tracker != nil {
		points := r.tracker.Stop()
		base := strings.TrimSuffix(j.name, filepath.Ext(j.name))
		if trackPath, err := gps.ExportGPX(r.cfg.TrackDir, base, points); err != nil {
			r.log.Warn().Err(err).Msg("track export failed")
		} else {
			stats.TrackPath = trackPath
		}
	}

	r.log.Info().
		Str("file", j.name).
		Float64("seconds", stats.Seconds).
		Int64("bytes", stats.SizeBytes).
		Msg("recording stopped")

	r.mu.Lock()
	r.last = &stats
	r.mu.Unlock()

	go r.runSinks(stats)
	return stats, nil
}

// Last returns the most recently finished recording, if any.
func (r *Recorder) Last() (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Stats{}, false
	}
	return *r.last, true
}

// runSinks applies retention and fans the finished file out to the
// upload and mail sinks. Sink failures are logged, never surfaced to
// the stop caller.
func (r *Recorder) runSinks(stats Stats) {
	r.CleanupRetention()

	var g errgroup.Group
	if r.uploader != nil && r.uploader.Enabled() && r.cfg.SFTP.AutoUpload {
		g.Go(func() error {
			if err := r.uploader.Upload(stats.Path); err != nil {
				r.log.Error().Err(err).Msg("recording upload failed")
			}
			return nil
		})
	}
	if r.mailer != nil && r.mailer.Enabled() && r.cfg.SMTP.To != "" {
		g.Go(func() error {
			body := fmt.Sprintf("Recording %s finished: %.0fs, %d bytes.", stats.Name, stats.Seconds, stats.SizeBytes)
			var attachments []string
			if stats.TrackPath != "" {
				attachments = append(attachments, stats.TrackPath)
			}
			if err := r.mailer.Send(r.cfg.SMTP.To, "Recording finished: "+stats.Name, body, attachments...); err != nil {
				r.log.Error().Err(err).Msg("recording notification failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// NotifyRequest mails the last finished recording (with its track, if
// one exists) to the configured address on behalf of user. Returns
// false when no mail sink is configured; delivery itself runs in the
// background.
func (r *Recorder) NotifyRequest(user string) bool {
	if r.mailer == nil || !r.mailer.Enabled() || r.cfg.SMTP.To == "" {
		return false
	}
	last, haveLast := r.Last()
	go func() {
		subject := "Recording requested by " + user
		body := fmt.Sprintf("User %s requested a recording at %s.", user, time.Now().Format(time.RFC3339))
		var attachments []string
		if haveLast {
			body += fmt.Sprintf("\nAttached: %s (%.0fs, %d bytes).", last.Name, last.Seconds, last.SizeBytes)
			attachments = append(attachments, last.Path)
			if last.TrackPath != "" {
				attachments = append(attachments, last.TrackPath)
			}
		}
		if err := r.mailer.Send(r.cfg.SMTP.To, subject, body, attachments...); err != nil {
			r.log.Error().Err(err).Msg("request notification failed")
		}
	}()
	return true
}

// Status reports the active recording, if any.
func (r *Recorder) Status() (active bool, name, user string, since time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return false, "", "", time.Time{}
	}
	return true, r.active.name, r.active.user, r.active.startedAt
}

// List returns stored recordings sorted by name (timestamp order).
func (r *Recorder) List() ([]Entry, error) {
	entries, err := os.ReadDir(r.cfg.RecordingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: e.Name(), SizeBytes: fi.Size(), Modified: fi.ModTime()})
	}
	return out, nil
}

// Resolve maps a recording name to its on-disk path, refusing anything
// that escapes the recording directory.
func (r *Recorder) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid recording name %q", name)
	}
	path := filepath.Join(r.cfg.RecordingDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes a stored recording by name.
func (r *Recorder) Remove(name string) error {
	path, err := r.Resolve(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.active != nil && r.active.name == name {
		r.mu.Unlock()
		return ErrActive
	}
	r.mu.Unlock()
	return os.Remove(path)
}

// CleanupRetention deletes recordings older than the configured window.
func (r *Recorder) CleanupRetention() {
	if r.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -r.cfg.RetentionDays)
	entries, err := r.List()
	if err != nil {
		r.log.Warn().Err(err).Msg("retention scan failed")
		return
	}
	for _, e := range entries {
		if e.Modified.Before(cutoff) {
			if err := os.Remove(filepath.Join(r.cfg.RecordingDir, e.Name)); err != nil {
				r.log.Warn().Err(err).Str("file", e.Name).Msg("retention delete failed")
			} else {
				r.log.Info().Str("file", e.Name).Msg("expired recording removed")
			}
		}
	}
}
