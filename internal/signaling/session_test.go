package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vrcam/internal/config"
	"vrcam/internal/logging"
)

func TestHandleOfferRejectsBadSDP(t *testing.T) {
	m := NewManager(&config.Config{}, nil, logging.Nop().System)

	// The malformed offer must fail before any capture resource is
	// acquired; the nil camera manager would panic otherwise.
	_, _, err := m.HandleOffer("alice", "not an sdp", false)
	assert.ErrorIs(t, err, ErrBadSDP)
	assert.Equal(t, 0, m.Count())
}

func TestRemoveReleasesExactlyOnce(t *testing.T) {
	m := NewManager(&config.Config{}, nil, logging.Nop().System)

	released := 0
	sess := &Session{ID: "s1", User: "alice", release: func() { released++ }}
	m.sessions[sess.ID] = sess

	// remove serves both the setup-failure unwind and the state
	// callback; racing invocations must release the capture once.
	m.remove("s1")
	m.remove("s1")
	assert.Equal(t, 1, released)
	assert.Equal(t, 0, m.Count())
}

func TestCloseUnknownSession(t *testing.T) {
	m := NewManager(&config.Config{}, nil, logging.Nop().System)

	err := m.Close("no-such-id", "alice", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseOwnershipCheck(t *testing.T) {
	m := NewManager(&config.Config{}, nil, logging.Nop().System)
	sess := &Session{ID: "s1", User: "alice", release: func() {}}
	m.sessions[sess.ID] = sess

	assert.ErrorIs(t, m.Close("s1", "bob", false), ErrNotOwner)
	assert.Equal(t, 1, m.Count())
}

func TestCloseOwned(t *testing.T) {
	m := NewManager(&config.Config{}, nil, logging.Nop().System)
	m.sessions["a"] = &Session{ID: "a", User: "alice", release: func() {}}
	m.sessions["b"] = &Session{ID: "b", User: "alice", release: func() {}}
	m.sessions["c"] = &Session{ID: "c", User: "bob", release: func() {}}

	assert.Equal(t, 2, m.CloseOwned("alice"))
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 0, m.CloseOwned("alice"))
}
