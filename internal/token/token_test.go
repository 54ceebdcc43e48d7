package token

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	a, err := New("secret", time.Hour)
	require.NoError(t, err)

	tok, err := a.Issue("alice", false)
	require.NoError(t, err)

	claims, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.User)
	assert.False(t, claims.IsAdmin)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a, _ := New("secret", time.Hour)
	b, _ := New("other", time.Hour)

	tok, err := a.Issue("alice", false)
	require.NoError(t, err)

	_, err = b.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	a, _ := New("secret", time.Hour)
	_, err := a.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsExpired(t *testing.T) {
	a, _ := New("secret", time.Minute)

	past := time.Now().Add(-time.Hour)
	a.now = func() time.Time { return past }
	tok, err := a.Issue("alice", false)
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := New("", time.Hour)
	assert.Error(t, err)
}

func protectedHandler(t *testing.T, wantUser string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, wantUser, claims.User)
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	a, _ := New("secret", time.Hour)
	userTok, _ := a.Issue("alice", false)
	adminTok, _ := a.Issue("Admin_G", true)

	tests := []struct {
		name      string
		adminOnly bool
		header    string
		want      int
	}{
		{"missing header", false, "", http.StatusUnauthorized},
		{"not bearer", false, "Basic abc", http.StatusUnauthorized},
		{"bad token", false, "Bearer junk", http.StatusUnauthorized},
		{"valid user", false, "Bearer " + userTok, http.StatusOK},
		{"user on admin route", true, "Bearer " + userTok, http.StatusForbidden},
		{"admin on admin route", true, "Bearer " + adminTok, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wantUser := "alice"
			if tc.adminOnly {
				wantUser = "Admin_G"
			}
			h := a.RequireAuth(tc.adminOnly)(protectedHandler(t, wantUser))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
