package user

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when an operation targets an id the store does not hold.
var ErrNotFound = errors.New("user not found")

// maxIDAttempts bounds how often Add re-draws an identifier that is already taken.
const maxIDAttempts = 8

// Store exposes user retrieval and mutation for the resolver layer.
type Store interface {
	List() []User
	FindByID(id string) (User, bool)
	Add(name, zodiac string) (User, error)
	Update(id string, patch Patch) (User, error)
	Len() int
}

// MemoryStore implements Store with an ordered slice and an id index.
type MemoryStore struct {
	mu    sync.RWMutex
	items []User
	index map[string]int
	newID func() string
}

// Option customises a MemoryStore.
type Option func(*MemoryStore)

// WithIDGenerator replaces the uuid generator used by Add.
func WithIDGenerator(fn func() string) Option {
	return func(s *MemoryStore) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied users.
// Later items reusing an id already loaded are dropped.
func NewMemoryStore(items []User, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		items: make([]User, 0, len(items)),
		index: make(map[string]int, len(items)),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, item := range items {
		if _, dup := s.index[item.ID]; dup {
			continue
		}
		s.index[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	return s
}

// List returns a copy of the current users in insertion order.
func (s *MemoryStore) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]User(nil), s.items...)
}

// FindByID looks up a user by identifier.
func (s *MemoryStore) FindByID(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return User{}, false
	}
	return s.items[pos], true
}

// Add appends a user under a fresh identifier.
func (s *MemoryStore) Add(name, zodiac string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, taken := s.index[id]; taken {
			continue
		}
		u := User{ID: id, Name: name, Zodiac: zodiac}
		s.index[id] = len(s.items)
		s.items = append(s.items, u)
		return u, nil
	}
	return User{}, errors.Errorf("no free user id after %d attempts", maxIDAttempts)
}

// Update replaces the patched fields of the user with the given id.
func (s *MemoryStore) Update(id string, patch Patch) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[id]
	if !ok {
		return User{}, errors.Wrapf(ErrNotFound, "id %q", id)
	}
	updated := patch.Apply(s.items[pos])
	s.items[pos] = updated
	return updated, nil
}

// Len reports how many users the store holds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
