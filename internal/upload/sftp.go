// Package upload pushes finished recordings to a remote SFTP drop
// directory with bounded retry.
package upload

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"vrcam/internal/config"
)

// Uploader copies files to the configured SFTP host. A zero-value host
// disables it.
type Uploader struct {
	cfg config.SFTP
	log zerolog.Logger
}

func New(cfg config.SFTP, log zerolog.Logger) *Uploader {
	return &Uploader{cfg: cfg, log: log.With().Str("component", "upload").Logger()}
}

// Enabled reports whether a remote host is configured.
func (u *Uploader) Enabled() bool {
	return u.cfg.Host != ""
}

// Upload copies localPath to the remote drop directory, retrying with a
// fixed backoff. The last error wins.
func (u *Uploader) Upload(localPath string) error {
	if !u.Enabled() {
		return nil
	}
	attempts := u.cfg.Retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(u.cfg.Backoff)
		}
		if err := u.uploadOnce(localPath); err != nil {
			lastErr = err
			u.log.Warn().Err(err).Int("attempt", i+1).Str("file", localPath).Msg("upload failed")
			continue
		}
		u.log.Info().Str("file", localPath).Msg("upload complete")
		return nil
	}
	return fmt.Errorf("upload %s after %d attempts: %w", localPath, attempts, lastErr)
}

func (u *Uploader) uploadOnce(localPath string) error {
	conn, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", u.cfg.Host, u.cfg.Port), &ssh.ClientConfig{
		User:            u.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(u.cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("sftp session: %w", err)
	}
	defer client.Close()

	if err := client.MkdirAll(u.cfg.RemoteDir); err != nil {
		return fmt.Errorf("mkdir %s: %w", u.cfg.RemoteDir, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	remotePath := path.Join(u.cfg.RemoteDir, filepath.Base(localPath))
	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return dst.Close()
}
