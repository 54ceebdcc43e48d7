package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"vrcam/internal/recorder"
	"vrcam/internal/signaling"
	"vrcam/internal/store"
	"vrcam/internal/sysinfo"
	"vrcam/internal/token"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ok, isAdmin, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		s.log.Error.Err(err).Msg("authenticate failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if !ok {
		s.log.Access(req.Username, "login_failed", remoteIP(r), "")
		writeMessage(w, http.StatusForbidden, "Wrong credentials")
		return
	}

	tok, err := s.tokens.Issue(req.Username, isAdmin)
	if err != nil {
		s.log.Error.Err(err).Msg("token issue failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error")
		return
	}

	// Admins answer 202 so clients can route them to the admin UI.
	status := http.StatusOK
	if isAdmin {
		status = http.StatusAccepted
	}
	s.log.Access(req.Username, "login", remoteIP(r), "")
	writeJSON(w, status, map[string]any{
		"token":      tok,
		"expires_in": int(s.tokens.Expire().Seconds()),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch err := s.users.Create(req.Username, req.Password); {
	case err == nil:
		s.log.Access(req.Username, "register", remoteIP(r), "")
		writeMessage(w, http.StatusOK, "User created")
	case errors.Is(err, store.ErrExists):
		writeMessage(w, http.StatusConflict, "User exists")
	default:
		s.log.Error.Err(err).Msg("user create failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error")
	}
}

func (s *Server) handleMotion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"motion": s.cameras.MotionDetected()})
}

type offerRequest struct {
	SDP    string `json:"sdp"`
	Type   string `json:"type"`
	Stereo bool   `json:"stereo"`
	VR     bool   `json:"vr"` // legacy client flag, same meaning as stereo
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	if s.peers == nil {
		writeMessage(w, http.StatusNotFound, "WebRTC not available")
		return
	}
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SDP == "" {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !s.cameras.Ready() {
		writeMessage(w, http.StatusServiceUnavailable, "Capture not ready")
		return
	}

	stereo := req.Stereo || req.VR
	claims, _ := token.FromContext(r.Context())
	answer, sessionID, err := s.peers.HandleOffer(claims.User, req.SDP, stereo)
	if errors.Is(err, signaling.ErrBadSDP) {
		writeMessage(w, http.StatusBadRequest, "Invalid session description")
		return
	}
	if err != nil {
		s.log.Error.Err(err).Str("user", claims.User).Msg("offer failed")
		writeMessage(w, http.StatusInternalServerError, "Session setup failed")
		return
	}
	s.log.Access(claims.User, "webrtc_offer", remoteIP(r), fmt.Sprintf("stereo=%t session=%s", stereo, sessionID))
	writeJSON(w, http.StatusOK, map[string]string{
		"sdp":        answer,
		"type":       "answer",
		"session_id": sessionID,
	})
}

func (s *Server) handleWebRTCClose(w http.ResponseWriter, r *http.Request) {
	if s.peers == nil {
		writeMessage(w, http.StatusNotFound, "WebRTC not available")
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	// Body is optional: without a session id every session owned by the
	// caller is closed.
	_ = json.NewDecoder(r.Body).Decode(&req)

	claims, _ := token.FromContext(r.Context())
	if req.SessionID == "" {
		n := s.peers.CloseOwned(claims.User)
		s.log.Access(claims.User, "webrtc_close", remoteIP(r), fmt.Sprintf("closed=%d", n))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	switch err := s.peers.Close(req.SessionID, claims.User, claims.IsAdmin); {
	case err == nil:
		s.log.Access(claims.User, "webrtc_close", remoteIP(r), req.SessionID)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, signaling.ErrNotOwner):
		writeMessage(w, http.StatusForbidden, "Session belongs to another user")
	default:
		writeMessage(w, http.StatusNotFound, "Session not found")
	}
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	probe, err := sysinfo.Probe(s.cfg.RecordingDir)
	if err != nil {
		s.log.Error.Err(err).Msg("system probe failed")
		writeMessage(w, http.StatusInternalServerError, "Probe failed")
		return
	}

	active, name, _, since := s.recorderStatus()
	resp := map[string]any{
		"system":          probe,
		"motion":          s.cameras.MotionDetected(),
		"capture_ready":   s.cameras.Ready(),
		"stereo_sessions": s.cameras.StereoRefs(),
		"recording":       active,
		"storage_warning": probe.DiskFreeBytes < s.cfg.MinFreeBytes,
		"recording_file":  name,
		"recording_since": nil,
	}
	if s.peers != nil {
		resp["webrtc_sessions"] = s.peers.Count()
	}
	if active {
		resp["recording_since"] = since.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) recorderStatus() (bool, string, string, time.Time) {
	if s.recorder == nil {
		return false, "", "", time.Time{}
	}
	return s.recorder.Status()
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	active, name, user, since := s.recorderStatus()
	resp := map[string]any{
		"recording":        active,
		"duration_seconds": 0.0,
	}
	if active {
		resp["file"] = name
		resp["started_by"] = user
		resp["started_at"] = since.UTC().Format(time.RFC3339)
		resp["duration_seconds"] = time.Since(since).Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequestRecording(w http.ResponseWriter, r *http.Request) {
	claims, _ := token.FromContext(r.Context())
	s.log.Access(claims.User, "recording_requested", remoteIP(r), "")

	if s.recorder != nil {
		if notified := s.recorder.NotifyRequest(claims.User); !notified {
			// No mail sink; the access log entry is the request.
			writeMessage(w, http.StatusOK, "Request logged")
			return
		}
	}
	writeMessage(w, http.StatusOK, "Request sent")
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListAll()
	if err != nil {
		s.log.Error.Err(err).Msg("user list failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID <= 0 {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claims, _ := token.FromContext(r.Context())
	switch err := s.users.Delete(req.ID); {
	case err == nil:
		s.log.Access(claims.User, "user_deleted", remoteIP(r), fmt.Sprintf("id=%d", req.ID))
		writeMessage(w, http.StatusOK, "Deleted")
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "User not found or admin")
	default:
		s.log.Error.Err(err).Msg("user delete failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error")
	}
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID <= 0 {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" && req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	claims, _ := token.FromContext(r.Context())
	switch err := s.users.Update(req.ID, req.Username, req.Password); {
	case err == nil:
		s.log.Access(claims.User, "user_updated", remoteIP(r), fmt.Sprintf("id=%d", req.ID))
		writeMessage(w, http.StatusOK, "Updated")
	case errors.Is(err, store.ErrAdminLocked):
		writeMessage(w, http.StatusForbidden, "Administrators cannot be modified")
	case errors.Is(err, store.ErrExists):
		writeMessage(w, http.StatusConflict, "Username already taken")
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "User not found")
	default:
		s.log.Error.Err(err).Msg("user update failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error")
	}
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeMessage(w, http.StatusNotFound, "Recording not available")
		return
	}
	claims, _ := token.FromContext(r.Context())
	switch name, err := s.recorder.Start(claims.User); {
	case err == nil:
		s.log.Access(claims.User, "recording_started", remoteIP(r), name)
		writeJSON(w, http.StatusOK, map[string]string{"filename": name})
	case errors.Is(err, recorder.ErrActive):
		writeMessage(w, http.StatusBadRequest, "Recording already active")
	case errors.Is(err, recorder.ErrStorageLow):
		writeMessage(w, http.StatusInsufficientStorage, "Not enough free storage")
	default:
		s.log.Error.Err(err).Msg("recording start failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error")
	}
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeMessage(w, http.StatusNotFound, "Recording not available")
		return
	}
	claims, _ := token.FromContext(r.Context())
	stats, err := s.recorder.Stop()
	if errors.Is(err, recorder.ErrNotActive) {
		writeMessage(w, http.StatusBadRequest, "No recording active")
		return
	}
	if err != nil {
		s.log.Error.Err(err).Msg("recording stop failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error")
		return
	}
	s.log.Access(claims.User, "recording_stopped", remoteIP(r), stats.Name)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeMessage(w, http.StatusNotFound, "Recording not available")
		return
	}
	entries, err := s.recorder.List()
	if err != nil {
		s.log.Error.Err(err).Msg("recording list failed")
		writeMessage(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": entries})
}

func (s *Server) handleDownloadRecording(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeMessage(w, http.StatusNotFound, "Recording not available")
		return
	}
	path, err := s.recorder.Resolve(chi.URLParam(r, "name"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Recording not found")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

func (s *Server) handleDeleteRecordingByBody(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.deleteRecording(w, r, req.Name)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	s.deleteRecording(w, r, chi.URLParam(r, "name"))
}

func (s *Server) deleteRecording(w http.ResponseWriter, r *http.Request, name string) {
	if s.recorder == nil {
		writeMessage(w, http.StatusNotFound, "Recording not available")
		return
	}
	claims, _ := token.FromContext(r.Context())
	switch err := s.recorder.Remove(name); {
	case err == nil:
		s.log.Access(claims.User, "recording_deleted", remoteIP(r), name)
		writeMessage(w, http.StatusOK, "Deleted")
	case errors.Is(err, recorder.ErrActive):
		writeMessage(w, http.StatusConflict, "Recording is in progress")
	case os.IsNotExist(err):
		writeMessage(w, http.StatusNotFound, "Recording not found")
	default:
		writeMessage(w, http.StatusNotFound, "Recording not found")
	}
}
