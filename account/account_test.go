package account

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helyxium/trustcore/storage"
	"github.com/helyxium/trustcore/storage/memory"
	"github.com/helyxium/trustcore/trusterr"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

// failingRepo fails every write once armed.
type failingRepo struct {
	storage.Repository
	fail bool
}

var errDiskFull = errors.New("disk full")

func (r *failingRepo) PutCAS(ns, rt, id string, v uint64, env *storage.Envelope) error {
	if r.fail {
		return errDiskFull
	}
	return r.Repository.PutCAS(ns, rt, id, v, env)
}

func (r *failingRepo) Batch(ns string, fn func(tx storage.BatchTx) error) error {
	if r.fail {
		return errDiskFull
	}
	return r.Repository.Batch(ns, fn)
}

func newProfile(t *testing.T, id, username, email string, age *int) *UserProfile {
	t.Helper()
	p, err := NewUserProfile(id, username, email, username, age, epoch)
	require.NoError(t, err)
	return p
}

func TestNewUserProfileDerivesAgeFlags(t *testing.T) {
	tests := []struct {
		name           string
		age            *int
		minor, consent bool
	}{
		{"unknown", nil, false, false},
		{"child", intPtr(12), true, true},
		{"thirteen", intPtr(13), true, false},
		{"teen", intPtr(17), true, false},
		{"adult", intPtr(18), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProfile(t, "id", "u", "u@x.com", tt.age)
			assert.Equal(t, tt.minor, p.IsMinor)
			assert.Equal(t, tt.consent, p.RequiresParentalConsent)
			assert.Equal(t, []AuthMethod{MethodPassword}, p.EnabledAuthMethods)
		})
	}

	_, err := NewUserProfile("id", "u", "u@x.com", "u", intPtr(-1), epoch)
	assert.ErrorIs(t, err, trusterr.ErrValidation)
}

func TestEnableMethod(t *testing.T) {
	p := newProfile(t, "id", "u", "u@x.com", nil)
	assert.False(t, p.RequiresMFA())

	changed, err := p.EnableMethod(MethodTOTP)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, p.RequiresMFA())

	changed, err = p.EnableMethod(MethodTOTP)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = p.EnableMethod(AuthMethod("carrier_pigeon"))
	assert.ErrorIs(t, err, trusterr.ErrValidation)
}

func TestParseAuthMethod(t *testing.T) {
	m, err := ParseAuthMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodPassword, m)

	m, err = ParseAuthMethod("biometric_face")
	require.NoError(t, err)
	assert.Equal(t, MethodBiometricFace, m)

	_, err = ParseAuthMethod("retina")
	assert.ErrorIs(t, err, trusterr.ErrValidation)
}

func TestGuardLockoutWindow(t *testing.T) {
	g := DefaultGuard()
	p := newProfile(t, "id", "u", "u@x.com", nil)
	now := epoch

	for i := 1; i < 5; i++ {
		assert.False(t, g.RecordFailure(p, now))
		assert.False(t, g.Locked(p, now))
	}
	assert.True(t, g.RecordFailure(p, now))
	assert.Equal(t, 5, p.FailedAttempts)
	require.NotNil(t, p.LockedUntil)
	assert.Equal(t, now.Add(300*time.Second), *p.LockedUntil)

	assert.True(t, g.Locked(p, now.Add(299*time.Second)))
	assert.False(t, g.ExpireLock(p, now.Add(299*time.Second)))

	assert.False(t, g.Locked(p, now.Add(300*time.Second)))
	assert.True(t, g.ExpireLock(p, now.Add(300*time.Second)))
	assert.Nil(t, p.LockedUntil)
	assert.Zero(t, p.FailedAttempts)
}

func TestGuardRecordSuccess(t *testing.T) {
	g := DefaultGuard()
	p := newProfile(t, "id", "u", "u@x.com", nil)
	g.RecordFailure(p, epoch)
	g.RecordFailure(p, epoch)

	g.RecordSuccess(p, epoch.Add(time.Minute))
	assert.Zero(t, p.FailedAttempts)
	assert.Nil(t, p.LockedUntil)
	require.NotNil(t, p.LastLogin)
	assert.Equal(t, epoch.Add(time.Minute), *p.LastLogin)
}

func TestStoreCreateAndFind(t *testing.T) {
	s, err := Load(memory.NewRepository())
	require.NoError(t, err)

	require.NoError(t, s.Create(newProfile(t, "id-1", "Alice", "Alice@X.com", intPtr(30)), nil))

	p, ok := s.FindByIdentifier("alice")
	require.True(t, ok)
	assert.Equal(t, "id-1", p.ID)

	p, ok = s.FindByIdentifier("ALICE@x.com")
	require.True(t, ok)
	assert.Equal(t, "id-1", p.ID)

	_, ok = s.FindByIdentifier("bob")
	assert.False(t, ok)

	err = s.Create(newProfile(t, "id-2", "alice", "other@x.com", nil), nil)
	assert.ErrorIs(t, err, trusterr.ErrDuplicateUser)
	err = s.Create(newProfile(t, "id-3", "bob", "alice@x.COM", nil), nil)
	assert.ErrorIs(t, err, trusterr.ErrDuplicateUser)
	assert.ErrorIs(t, s.CheckAvailable("ALICE", "new@x.com"), trusterr.ErrDuplicateUser)
	assert.NoError(t, s.CheckAvailable("bob", "bob@x.com"))

	// Returned profiles are copies.
	p.DisplayName = "mutated"
	again, err := s.Get("id-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.DisplayName)
}

func TestStoreCreateRunsExtraInSameBatch(t *testing.T) {
	repo := memory.NewRepository()
	s, err := Load(repo)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Create(newProfile(t, "id-1", "alice", "alice@x.com", nil), func(tx storage.BatchTx) error {
		require.NoError(t, tx.Put("CREDENTIAL", "id-1", &storage.Envelope{Ver: 1, Scheme: storage.SchemeAESGCM}))
		return boom
	})
	assert.ErrorIs(t, err, trusterr.ErrPersistence)
	assert.ErrorIs(t, err, boom)

	_, err = repo.Get(Namespace, RecordType, "id-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.Get(Namespace, "CREDENTIAL", "id-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The reservation was released, so the name can be retried.
	require.NoError(t, s.Create(newProfile(t, "id-1", "alice", "alice@x.com", nil), nil))
}

func TestStoreUpdatePersistsBeforePublishing(t *testing.T) {
	repo := &failingRepo{Repository: memory.NewRepository()}
	s, err := Load(repo)
	require.NoError(t, err)
	require.NoError(t, s.Create(newProfile(t, "id-1", "alice", "alice@x.com", nil), nil))

	repo.fail = true
	_, err = s.Update("id-1", func(p *UserProfile) error {
		p.FailedAttempts = 5
		return nil
	})
	assert.ErrorIs(t, err, trusterr.ErrPersistence)

	p, err := s.Get("id-1")
	require.NoError(t, err)
	assert.Zero(t, p.FailedAttempts)

	repo.fail = false
	updated, err := s.Update("id-1", func(p *UserProfile) error {
		p.FailedAttempts = 2
		p.Username = "mallory"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.FailedAttempts)
	assert.Equal(t, "alice", updated.Username)
}

func TestStoreUpdateCallbackErrors(t *testing.T) {
	s, err := Load(memory.NewRepository())
	require.NoError(t, err)
	require.NoError(t, s.Create(newProfile(t, "id-1", "alice", "alice@x.com", nil), nil))

	_, err = s.Update("missing", func(*UserProfile) error { return nil })
	assert.ErrorIs(t, err, trusterr.ErrNotFound)

	p, err := s.Update("id-1", func(p *UserProfile) error {
		p.DisplayName = "ignored"
		return ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.DisplayName)
}

func TestStoreConcurrentUpdatesKeepEveryIncrement(t *testing.T) {
	s, err := Load(memory.NewRepository())
	require.NoError(t, err)
	require.NoError(t, s.Create(newProfile(t, "id-1", "alice", "alice@x.com", nil), nil))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update("id-1", func(p *UserProfile) error {
				p.FailedAttempts++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := s.Get("id-1")
	require.NoError(t, err)
	assert.Equal(t, 50, p.FailedAttempts)
}

func TestLoadRestoresProfilesAndIndexes(t *testing.T) {
	repo := memory.NewRepository()
	s, err := Load(repo)
	require.NoError(t, err)
	require.NoError(t, s.Create(newProfile(t, "id-1", "alice", "alice@x.com", intPtr(30)), nil))
	_, err = s.Update("id-1", func(p *UserProfile) error {
		p.FailedAttempts = 3
		return nil
	})
	require.NoError(t, err)

	reloaded, err := Load(repo)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())

	p, ok := reloaded.FindByIdentifier("ALICE@X.COM")
	require.True(t, ok)
	assert.Equal(t, 3, p.FailedAttempts)
	require.NotNil(t, p.Age)
	assert.Equal(t, 30, *p.Age)

	// Version continuity: the next update must pass the CAS check.
	_, err = reloaded.Update("id-1", func(p *UserProfile) error {
		p.FailedAttempts = 0
		return nil
	})
	assert.NoError(t, err)
}
