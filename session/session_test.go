package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/internal/clock"
	"github.com/helyxium/trustcore/trusterr"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	return NewManager(WithClock(clk)), clk
}

func TestSessionAbsoluteExpiry(t *testing.T) {
	m, clk := newTestManager(t)

	s, err := m.Create("user-1", []account.AuthMethod{account.MethodPassword})
	require.NoError(t, err)
	assert.Equal(t, s.CreatedAt.Add(1800*time.Second), s.ExpiresAt)

	clk.Advance(1799 * time.Second)
	got, err := m.Validate(s.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(1799*time.Second), got.LastActivity)
	assert.Equal(t, s.ExpiresAt, got.ExpiresAt, "validation must not extend expiry")

	clk.Advance(2 * time.Second)
	_, err = m.Validate(s.ID)
	assert.ErrorIs(t, err, trusterr.ErrSessionExpired)
}

func TestValidateUnknown(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Validate("nope")
	assert.ErrorIs(t, err, trusterr.ErrSessionNotFound)
}

func TestLogout(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Create("user-1", nil)
	require.NoError(t, err)

	_, err = m.Logout(s.ID)
	require.NoError(t, err)
	_, err = m.Validate(s.ID)
	assert.ErrorIs(t, err, trusterr.ErrSessionExpired)

	_, err = m.Logout("nope")
	assert.ErrorIs(t, err, trusterr.ErrSessionNotFound)
}

func TestCreateSweepsDeadSessions(t *testing.T) {
	m, clk := newTestManager(t)

	expired, err := m.Create("user-1", nil)
	require.NoError(t, err)
	loggedOut, err := m.Create("user-2", nil)
	require.NoError(t, err)
	_, err = m.Logout(loggedOut.ID)
	require.NoError(t, err)

	clk.Advance(1000 * time.Second)
	live, err := m.Create("user-3", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len(), "logged out session swept, expired one not yet")

	clk.Advance(900 * time.Second)
	_, err = m.Create("user-4", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	_, err = m.Validate(expired.ID)
	assert.ErrorIs(t, err, trusterr.ErrSessionNotFound)
	_, err = m.Validate(live.ID)
	assert.NoError(t, err)
}

func TestActiveCountAndLogoutUser(t *testing.T) {
	m, _ := newTestManager(t)
	var kept Session
	for range 3 {
		s, err := m.Create("user-1", nil)
		require.NoError(t, err)
		kept = s
	}
	_, err := m.Create("user-2", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, m.ActiveCount("user-1"))
	assert.Equal(t, 2, m.LogoutUser("user-1", kept.ID))
	assert.Equal(t, 1, m.ActiveCount("user-1"))
	_, err = m.Validate(kept.ID)
	assert.NoError(t, err)

	assert.Equal(t, 1, m.LogoutUser("user-1", ""))
	assert.Zero(t, m.ActiveCount("user-1"))
	assert.Equal(t, 1, m.ActiveCount("user-2"))
}

func TestSessionIDsAreUnique(t *testing.T) {
	m, _ := newTestManager(t)
	seen := make(map[string]bool)
	for range 100 {
		s, err := m.Create("user-1", nil)
		require.NoError(t, err)
		assert.False(t, seen[s.ID])
		seen[s.ID] = true
	}

	_, err := m.Create("", nil)
	assert.ErrorIs(t, err, trusterr.ErrValidation)
}

func TestWithTTL(t *testing.T) {
	m := NewManager(WithTTL(time.Minute), WithClock(clock.Fake(epoch)))
	assert.Equal(t, time.Minute, m.TTL())
	m = NewManager(WithTTL(-1))
	assert.Equal(t, DefaultTTL, m.TTL())
}
