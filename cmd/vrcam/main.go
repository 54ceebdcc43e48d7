// Command vrcam is the WebRTC streaming server: capture, motion
// analysis, signaling, recording and the admin API in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vrcam/internal/camera"
	"vrcam/internal/config"
	"vrcam/internal/gps"
	"vrcam/internal/logging"
	"vrcam/internal/mailer"
	"vrcam/internal/motion"
	"vrcam/internal/recorder"
	"vrcam/internal/server"
	"vrcam/internal/signaling"
	"vrcam/internal/store"
	"vrcam/internal/token"
	"vrcam/internal/upload"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "vrcam:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogDir, logging.Options{})
	if err != nil {
		return fmt.Errorf("open logs: %w", err)
	}
	defer log.Close()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	users, err := store.Open(cfg.DataDir, log.System)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer users.Close()
	if err := users.SeedAdmins(map[string]string{
		"Admin_G": cfg.AdminGPass,
		"Admin_D": cfg.AdminDPass,
	}); err != nil {
		return fmt.Errorf("seed admins: %w", err)
	}

	tokens, err := token.New(cfg.JWTSecret, cfg.JWTExpire)
	if err != nil {
		return err
	}

	analyzer := motion.New(cfg.MotionSensitivity, cfg.MotionPixelMultiplier)
	cameras, err := camera.NewManager(cfg, analyzer, log.System)
	if err != nil {
		return fmt.Errorf("camera manager: %w", err)
	}
	if err := cameras.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	defer cameras.StopAll()

	tracker := gps.NewTracker(gps.NopSource{}, time.Second, log.System)
	uploader := upload.New(cfg.SFTP, log.System)
	mail := mailer.New(cfg.SMTP, log.System)
	rec := recorder.New(cfg, cameras.PrimaryRelay, tracker, uploader, mail, log.System)
	rec.CleanupRetention()

	peers := signaling.NewManager(cfg, cameras, log.System)
	defer peers.CloseAll()

	srv := server.New(cfg, log, users, tokens, cameras, peers, nil, rec)
	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		log.System.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-sigc:
		log.System.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if _, err := rec.Stop(); err != nil && !errors.Is(err, recorder.ErrNotActive) {
		log.Error.Err(err).Msg("stop recording on shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}
