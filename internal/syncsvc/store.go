package syncsvc

import (
	"errors"
	"sync"

	"fieldproof/internal/localstore"
)

const stateSchemaVersion = 1

var stateKey = []byte("s/state")

var stateSchema = localstore.Schema{Current: stateSchemaVersion}

// BadgerStateStore persists the sync state snapshot in the shared local
// store. Every write replaces the full snapshot.
type BadgerStateStore struct {
	db *localstore.DB
}

func NewBadgerStateStore(db *localstore.DB) *BadgerStateStore {
	return &BadgerStateStore{db: db}
}

func (s *BadgerStateStore) Save(st State) error {
	return s.db.Put(stateKey, stateSchemaVersion, st)
}

func (s *BadgerStateStore) Load() (State, bool, error) {
	var st State
	err := s.db.Get(stateKey, stateSchema, &st)
	if errors.Is(err, localstore.ErrNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

// MemoryStateStore is for tests.
type MemoryStateStore struct {
	mu    sync.Mutex
	state State
	set   bool
}

func NewMemoryStateStore() *MemoryStateStore { return &MemoryStateStore{} }

func (s *MemoryStateStore) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.set = true
	return nil
}

func (s *MemoryStateStore) Load() (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.set, nil
}
