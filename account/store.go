package account

import (
	"errors"
	"fmt"
	"sync"

	"github.com/helyxium/trustcore/internal/keylock"
	"github.com/helyxium/trustcore/internal/util"
	"github.com/helyxium/trustcore/storage"
	"github.com/helyxium/trustcore/trusterr"
)

const (
	Namespace  = "accounts"
	RecordType = "PROFILE"
)

type entry struct {
	profile *UserProfile
	version uint64
}

// Store is the single owner of user profiles. Reads return copies; every
// mutation goes through Update, which holds the user's lock, persists the
// new version, and only then publishes it in memory.
type Store struct {
	repo  storage.Repository
	locks *keylock.Map

	mu         sync.RWMutex
	profiles   map[string]*entry
	byUsername map[string]string
	byEmail    map[string]string
	reserved   map[string]struct{}
}

// Load builds a Store from every profile persisted in repo.
func Load(repo storage.Repository) (*Store, error) {
	s := &Store{
		repo:       repo,
		locks:      keylock.New(),
		profiles:   make(map[string]*entry),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		reserved:   make(map[string]struct{}),
	}

	ids, err := repo.List(Namespace, RecordType)
	if err != nil {
		return nil, trusterr.Persistence("listing profiles", err)
	}
	for _, id := range ids {
		env, err := repo.Get(Namespace, RecordType, id)
		if err != nil {
			return nil, trusterr.Persistence("loading profile "+id, err)
		}
		var p UserProfile
		if err := storage.DecodePlain(env, &p); err != nil {
			return nil, trusterr.Persistence("decoding profile "+id, err)
		}
		s.profiles[id] = &entry{profile: &p, version: env.Version}
		s.byUsername[util.FoldIdentifier(p.Username)] = id
		s.byEmail[util.FoldIdentifier(p.Email)] = id
	}
	return s, nil
}

func usernameKey(username string) string { return "u:" + util.FoldIdentifier(username) }
func emailKey(email string) string       { return "e:" + util.FoldIdentifier(email) }

func (s *Store) takenLocked(username, email string) error {
	if _, ok := s.byUsername[util.FoldIdentifier(username)]; ok {
		return fmt.Errorf("%w: username already registered", trusterr.ErrDuplicateUser)
	}
	if _, ok := s.byEmail[util.FoldIdentifier(email)]; ok {
		return fmt.Errorf("%w: email already registered", trusterr.ErrDuplicateUser)
	}
	if _, ok := s.reserved[usernameKey(username)]; ok {
		return fmt.Errorf("%w: username already registered", trusterr.ErrDuplicateUser)
	}
	if _, ok := s.reserved[emailKey(email)]; ok {
		return fmt.Errorf("%w: email already registered", trusterr.ErrDuplicateUser)
	}
	return nil
}

// CheckAvailable returns ErrDuplicateUser if username or email is taken,
// compared case-insensitively.
func (s *Store) CheckAvailable(username, email string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.takenLocked(username, email)
}

// Create persists p and runs extra inside the same batch, so a profile is
// never stored without its companion records. Identifiers are reserved for
// the duration of the write.
func (s *Store) Create(p *UserProfile, extra func(tx storage.BatchTx) error) error {
	s.mu.Lock()
	if err := s.takenLocked(p.Username, p.Email); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.profiles[p.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: id %s already exists", trusterr.ErrDuplicateUser, p.ID)
	}
	uk, ek := usernameKey(p.Username), emailKey(p.Email)
	s.reserved[uk] = struct{}{}
	s.reserved[ek] = struct{}{}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.reserved, uk)
		delete(s.reserved, ek)
		s.mu.Unlock()
	}

	env, err := storage.PlainRecord(p, 1)
	if err != nil {
		release()
		return err
	}
	err = s.repo.Batch(Namespace, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(RecordType, p.ID, 0, env); err != nil {
			return err
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		release()
		return trusterr.Persistence("creating profile", err)
	}

	s.mu.Lock()
	delete(s.reserved, uk)
	delete(s.reserved, ek)
	s.profiles[p.ID] = &entry{profile: p.Clone(), version: 1}
	s.byUsername[util.FoldIdentifier(p.Username)] = p.ID
	s.byEmail[util.FoldIdentifier(p.Email)] = p.ID
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the profile for id.
func (s *Store) Get(id string) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, trusterr.ErrNotFound)
	}
	return e.profile.Clone(), nil
}

// FindByIdentifier looks identifier up as a username, then as an email.
func (s *Store) FindByIdentifier(identifier string) (*UserProfile, bool) {
	folded := util.FoldIdentifier(identifier)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[folded]
	if !ok {
		id, ok = s.byEmail[folded]
	}
	if !ok {
		return nil, false
	}
	return s.profiles[id].profile.Clone(), true
}

// Len returns the number of profiles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// ErrNoChange may be returned by an Update callback to skip the write.
var ErrNoChange = errors.New("no change")

// Update applies fn to a copy of the profile under the user's lock and
// persists the result before publishing it. If fn fails nothing is written;
// if fn returns ErrNoChange the current profile is returned unchanged. A
// failed write leaves the in-memory profile untouched and returns
// ErrPersistence. ID, Username and Email cannot be changed.
func (s *Store) Update(id string, fn func(p *UserProfile) error) (*UserProfile, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	e, ok := s.profiles[id]
	var current *UserProfile
	var version uint64
	if ok {
		current, version = e.profile.Clone(), e.version
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, trusterr.ErrNotFound)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current, nil
		}
		return nil, err
	}
	next.ID, next.Username, next.Email = current.ID, current.Username, current.Email

	env, err := storage.PlainRecord(next, version+1)
	if err != nil {
		return nil, err
	}
	if err := s.repo.PutCAS(Namespace, RecordType, id, version, env); err != nil {
		return nil, trusterr.Persistence("updating profile", err)
	}

	s.mu.Lock()
	s.profiles[id] = &entry{profile: next, version: version + 1}
	s.mu.Unlock()
	return next.Clone(), nil
}
