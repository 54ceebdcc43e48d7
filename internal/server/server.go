// Package server is the HTTP surface: authentication, signaling,
// streaming, recording control and the admin API.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vrcam/internal/camera"
	"vrcam/internal/config"
	"vrcam/internal/logging"
	"vrcam/internal/mjpeg"
	"vrcam/internal/recorder"
	"vrcam/internal/signaling"
	"vrcam/internal/store"
	"vrcam/internal/token"
)

// Server bundles the handler dependencies.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	users    *store.Store
	tokens   *token.Authority
	cameras  *camera.Manager
	peers    *signaling.Manager
	streamer *mjpeg.Streamer
	recorder *recorder.Recorder
}

// New builds the server. peers and streamer may be nil depending on the
// transport variant the binary serves.
func New(cfg *config.Config, log *logging.Logger, users *store.Store, tokens *token.Authority,
	cameras *camera.Manager, peers *signaling.Manager, streamer *mjpeg.Streamer, rec *recorder.Recorder) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		users:    users,
		tokens:   tokens,
		cameras:  cameras,
		peers:    peers,
		streamer: streamer,
		recorder: rec,
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Login is the only credential-guessing surface; throttle it hard.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/login", s.handleLogin)
	})

	if s.cfg.RegisterAdminOnly {
		r.With(s.tokens.RequireAuth(true)).Post("/register", s.handleRegister)
	} else {
		r.Post("/register", s.handleRegister)
	}

	// Authenticated user surface.
	r.Group(func(r chi.Router) {
		r.Use(s.tokens.RequireAuth(false))
		r.Get("/motion", s.handleMotion)
		r.Get("/api/system/status", s.handleSystemStatus)
		r.Get("/api/recording/status", s.handleRecordingStatus)
		r.Post("/user/request-recording", s.handleRequestRecording)
		r.Post("/webrtc/close", s.handleWebRTCClose)
		r.Post("/offer", s.handleOffer)
	})

	if s.streamer != nil {
		// MJPEG is consumed by <img> tags that cannot set headers, so the
		// token may ride in the query string.
		r.Group(func(r chi.Router) {
			r.Use(queryTokenToHeader)
			r.Use(s.tokens.RequireAuth(false))
			r.Get("/stream.mjpeg", s.streamer.ServeHTTP)
			r.Get("/snapshot.jpg", s.streamer.Snapshot)
		})
	}

	// Admin surface.
	r.Group(func(r chi.Router) {
		r.Use(s.tokens.RequireAuth(true))
		r.Get("/admin/users", s.handleListUsers)
		r.Post("/admin/delete", s.handleDeleteUser)
		r.Post("/admin/update", s.handleUpdateUser)
		r.Post("/recording/start", s.handleRecordingStart)
		r.Post("/recording/stop", s.handleRecordingStop)
		r.Get("/admin/recordings", s.handleListRecordings)
		r.Post("/admin/recordings/delete", s.handleDeleteRecordingByBody)
		r.Get("/admin/recordings/{name}", s.handleDownloadRecording)
		r.Delete("/admin/recordings/{name}", s.handleDeleteRecording)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// queryTokenToHeader lifts ?token= into the Authorization header so the
// shared middleware can verify it.
func queryTokenToHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if t := r.URL.Query().Get("token"); t != "" {
				r.Header.Set("Authorization", "Bearer "+t)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
