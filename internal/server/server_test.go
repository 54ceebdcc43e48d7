package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrcam/internal/camera"
	"vrcam/internal/config"
	"vrcam/internal/frame"
	"vrcam/internal/logging"
	"vrcam/internal/mjpeg"
	"vrcam/internal/relay"
	"vrcam/internal/signaling"
	"vrcam/internal/store"
	"vrcam/internal/token"
)

type testEnv struct {
	srv      *httptest.Server
	users    *store.Store
	tokens   *token.Authority
	userTok  string
	adminTok string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		JWTSecret:    "test-secret",
		JWTExpire:    time.Hour,
		DataDir:      dir,
		RecordingDir: dir,
		MinFreeBytes: 1,
		Camera: config.Camera{
			Width:       64,
			Height:      48,
			MaxFPS:      30,
			PixelFormat: "RGB888",
			Backend:     config.BackendTest,
		},
	}

	log := logging.Nop()
	users, err := store.Open(dir, log.System)
	require.NoError(t, err)
	t.Cleanup(func() { users.Close() })
	require.NoError(t, users.SeedAdmins(map[string]string{"Admin_G": "adminpw"}))
	require.NoError(t, users.Create("alice", "alicepw"))

	tokens, err := token.New(cfg.JWTSecret, cfg.JWTExpire)
	require.NoError(t, err)

	cameras, err := camera.NewManager(cfg, nil, log.System)
	require.NoError(t, err)

	rel := relay.New("srvtest")
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				rel.Publish(frame.TestPattern(64, 48))
			}
		}
	}()
	t.Cleanup(func() { close(stop) })
	streamer := mjpeg.New(func() *relay.Relay { return rel }, 85, log.System)
	peers := signaling.NewManager(cfg, cameras, log.System)

	s := New(cfg, log, users, tokens, cameras, peers, streamer, nil)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	userTok, err := tokens.Issue("alice", false)
	require.NoError(t, err)
	adminTok, err := tokens.Issue("Admin_G", true)
	require.NoError(t, err)

	return &testEnv{srv: ts, users: users, tokens: tokens, userTok: userTok, adminTok: adminTok}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "alicepw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, float64(3600), body["expires_in"])

	resp = e.do(t, http.MethodPost, "/login", "", map[string]string{"username": "Admin_G", "password": "adminpw"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "nope"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Wrong credentials", decodeBody(t, resp)["message"])

	resp = e.do(t, http.MethodPost, "/login", "", map[string]string{"username": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/register", "", map[string]string{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "User created", decodeBody(t, resp)["message"])

	// Duplicate, any case.
	resp = e.do(t, http.MethodPost, "/register", "", map[string]string{"username": "BOB", "password": "pw"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "User exists", decodeBody(t, resp)["message"])
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/motion", "/api/system/status", "/api/recording/status"} {
		resp := e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := e.do(t, http.MethodGet, "/motion", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMotionEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/motion", e.userTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["motion"])
}

func TestAdminRoutesRejectUsers(t *testing.T) {
	e := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/admin/users"},
		{http.MethodPost, "/admin/delete"},
		{http.MethodPost, "/admin/update"},
		{http.MethodPost, "/recording/start"},
		{http.MethodPost, "/recording/stop"},
		{http.MethodGet, "/admin/recordings"},
	} {
		resp := e.do(t, tc.method, tc.path, e.userTok, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, tc.path)
	}
}

func (e *testEnv) userID(t *testing.T, name string) int64 {
	t.Helper()
	users, err := e.users.ListAll()
	require.NoError(t, err)
	for _, u := range users {
		if u.Username == name {
			return u.ID
		}
	}
	t.Fatalf("no user %q", name)
	return 0
}

func TestListUsers(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/admin/users", e.adminTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The listing is a bare array of user objects.
	var users []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	require.Len(t, users, 2)
	for _, u := range users {
		assert.Contains(t, u, "id")
		assert.Contains(t, u, "username")
		assert.Contains(t, u, "is_admin")
	}
}

func TestDeleteUser(t *testing.T) {
	e := newTestEnv(t)
	aliceID := e.userID(t, "alice")
	adminID := e.userID(t, "Admin_G")

	resp := e.do(t, http.MethodPost, "/admin/delete", e.adminTok, map[string]any{"id": aliceID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Deleted ids and admins answer identically.
	for _, id := range []int64{aliceID, adminID} {
		resp = e.do(t, http.MethodPost, "/admin/delete", e.adminTok, map[string]any{"id": id})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "User not found or admin", decodeBody(t, resp)["message"])
	}

	resp = e.do(t, http.MethodPost, "/admin/delete", e.adminTok, map[string]any{"id": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateUser(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.users.Create("bob", "pw"))
	aliceID := e.userID(t, "alice")

	resp := e.do(t, http.MethodPost, "/admin/update", e.adminTok,
		map[string]any{"id": e.userID(t, "Admin_G"), "username": "root"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/admin/update", e.adminTok,
		map[string]any{"id": aliceID, "username": "bob"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/admin/update", e.adminTok,
		map[string]any{"id": int64(99999), "password": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/admin/update", e.adminTok,
		map[string]any{"id": aliceID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/admin/update", e.adminTok,
		map[string]any{"id": aliceID, "password": "changed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Updated", decodeBody(t, resp)["message"])

	ok, _, err := e.users.Authenticate("alice", "changed")
	require.NoError(t, err)
	assert.True(t, ok)

	resp = e.do(t, http.MethodPost, "/admin/update", e.adminTok,
		map[string]any{"id": aliceID, "username": "carol"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok, _, err = e.users.Authenticate("carol", "changed")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOfferBeforeCaptureReady(t *testing.T) {
	e := newTestEnv(t)

	// Capture was never started, so offers are refused up front.
	resp := e.do(t, http.MethodPost, "/offer", e.userTok, map[string]any{"sdp": "v=0", "stereo": false})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "Capture not ready", decodeBody(t, resp)["message"])
}

func TestWebRTCCloseAllOwned(t *testing.T) {
	e := newTestEnv(t)

	// Without a session id the call closes everything the caller owns
	// and reports success even when nothing was open.
	resp := e.do(t, http.MethodPost, "/webrtc/close", e.userTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["success"])
}

func TestRecordingEndpointsWithoutRecorder(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/recording/status", e.userTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["recording"])
	assert.Equal(t, float64(0), body["duration_seconds"])

	resp = e.do(t, http.MethodPost, "/recording/start", e.adminTok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSystemStatus(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/system/status", e.userTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Contains(t, body, "system")
	assert.Equal(t, false, body["recording"])
	assert.Equal(t, false, body["capture_ready"])
}

func TestSnapshotWithQueryToken(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/snapshot.jpg?token=" + e.userTok)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp, err = http.Get(e.srv.URL + "/snapshot.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestRecording(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/user/request-recording", e.userTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsUnauthenticated(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
