// Package signaling owns the WebRTC peer sessions: offer/answer
// exchange, per-peer encoder pipelines and session lifecycle.
package signaling

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"vrcam/internal/camera"
	"vrcam/internal/config"
	"vrcam/internal/metrics"
)

var (
	// ErrNotFound is returned when no session with that id exists.
	ErrNotFound = errors.New("session not found")
	// ErrNotOwner is returned when a user tries to close a session they
	// did not create.
	ErrNotOwner = errors.New("session belongs to another user")
	// ErrBadSDP is returned when the offer cannot be applied as a
	// remote description.
	ErrBadSDP = errors.New("invalid session description")
)

var trackLabels = []string{"right", "left"}

// Session is one live peer connection with its encoder pipelines.
type Session struct {
	ID     string
	User   string
	Stereo bool

	pc       *webrtc.PeerConnection
	encoders []*encoder
	release  func()

	closeOnce sync.Once
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		for _, e := range s.encoders {
			e.stop()
		}
		if s.pc != nil {
			_ = s.pc.Close()
		}
		s.release()
		metrics.ActivePeers.Dec()
	})
}

// Manager tracks the active peer sessions.
type Manager struct {
	cfg     *config.Config
	cameras *camera.Manager
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds the session manager over the camera manager.
func NewManager(cfg *config.Config, cameras *camera.Manager, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		cameras:  cameras,
		log:      log.With().Str("component", "signaling").Logger(),
		sessions: make(map[string]*Session),
	}
}

// HandleOffer answers an SDP offer with a new session streaming one
// (mono) or two (stereo) video tracks. An offer that cannot be applied
// returns ErrBadSDP before any capture resource is touched; on any
// later setup failure every partially-created resource is unwound
// before the error returns.
func (m *Manager) HandleOffer(user, offerSDP string, stereo bool) (answerSDP, sessionID string, err error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return "", "", fmt.Errorf("create peer connection: %w", err)
	}

	// Validate the offer first: a malformed description is the client's
	// fault and must not consume a stereo reference or spawn encoders.
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("%w: %s", ErrBadSDP, err)
	}

	subs, release, err := m.cameras.Subscriptions(stereo)
	if err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("acquire capture: %w", err)
	}

	sess := &Session{
		ID:      uuid.NewString(),
		User:    user,
		Stereo:  stereo,
		pc:      pc,
		release: release,
	}

	// The session is registered before the state callback is armed so a
	// peer failing during gathering tears it down instead of racing the
	// insert and leaking the stereo reference.
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	metrics.ActivePeers.Inc()
	cleanup := func() { m.remove(sess.ID) }

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.log.Debug().Str("session", sess.ID).Str("state", state.String()).Msg("peer state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.remove(sess.ID)
		}
	})

	cam := m.cfg.Camera
	for i, sub := range subs {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
			trackLabels[i], "vrcam",
		)
		if err != nil {
			cleanup()
			return "", "", fmt.Errorf("create track: %w", err)
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			cleanup()
			return "", "", fmt.Errorf("add track: %w", err)
		}
		go drainRTCP(sender)

		enc, err := newEncoder(track, cam.Width, cam.Height, cam.MaxFPS,
			m.log.With().Str("session", sess.ID).Str("track", trackLabels[i]).Logger())
		if err != nil {
			cleanup()
			return "", "", fmt.Errorf("start encoder: %w", err)
		}
		sess.encoders = append(sess.encoders, enc)
		go enc.feed(sub)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		cleanup()
		return "", "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		cleanup()
		return "", "", fmt.Errorf("set local description: %w", err)
	}
	// Non-trickle: wait for ICE gathering so the answer carries all
	// candidates.
	<-gathered

	m.log.Info().Str("session", sess.ID).Str("user", user).Bool("stereo", stereo).Msg("peer session established")
	return pc.LocalDescription().SDP, sess.ID, nil
}

// Close tears down a session. Non-admin callers may only close their
// own sessions.
func (m *Manager) Close(id, user string, isAdmin bool) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok && !isAdmin && sess.User != user {
		m.mu.Unlock()
		return ErrNotOwner
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	sess.close()
	m.log.Info().Str("session", id).Str("user", user).Msg("peer session closed")
	return nil
}

// CloseOwned tears down every session the user created and reports how
// many were closed.
func (m *Manager) CloseOwned(user string) int {
	m.mu.Lock()
	var owned []*Session
	for id, s := range m.sessions {
		if s.User == user {
			owned = append(owned, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range owned {
		s.close()
	}
	if len(owned) > 0 {
		m.log.Info().Str("user", user).Int("sessions", len(owned)).Msg("peer sessions closed")
	}
	return len(owned)
}

// CloseAll tears down every session, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// remove is the connection-state-driven teardown path.
func (m *Manager) remove(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		sess.close()
	}
}

// drainRTCP keeps the interceptor pipeline fed. Keyframe requests are
// satisfied implicitly by the encoder's short GOP, so reports are
// parsed only to keep the loss counter honest.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range pkts {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				metrics.KeyframeRequests.Inc()
			}
		}
	}
}
