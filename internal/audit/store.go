package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"fieldproof/internal/localstore"
)

// Store is the persistence contract for the event ledger.
//
// It MUST be append-only for events. The only mutation ever applied to a
// stored event is its SyncStatus; no Update/Delete methods are provided by
// design.
type Store interface {
	// AppendEvent persists the event and the subject's chain pointer
	// atomically. The two must never diverge.
	AppendEvent(ctx context.Context, e Event, cs ChainState) error

	// Events returns the subject's events ordered by Seq.
	Events(ctx context.Context, subjectID string) ([]Event, error)

	// ChainState returns the subject's chain pointer; ok=false when the
	// subject has no events yet.
	ChainState(ctx context.Context, subjectID string) (ChainState, bool, error)

	// MarkSyncStatus updates only the sync status of one event.
	MarkSyncStatus(ctx context.Context, eventID string, status SyncStatus) error

	// Subjects returns every subject that has a chain, sorted. Used by
	// sync passes that re-replicate pending events across the whole ledger.
	Subjects(ctx context.Context) ([]string, error)
}

var ErrEventNotFound = errors.New("audit: event not found")

const (
	eventSchemaVersion = 1
	chainSchemaVersion = 1
)

var (
	eventSchema = localstore.Schema{Current: eventSchemaVersion}
	chainSchema = localstore.Schema{Current: chainSchemaVersion}
	indexSchema = localstore.Schema{Current: 1}
)

func eventKey(subjectID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("a/evt/%s/%020d", subjectID, seq))
}

func eventPrefix(subjectID string) []byte {
	return []byte("a/evt/" + subjectID + "/")
}

func chainKey(subjectID string) []byte {
	return []byte("a/chain/" + subjectID)
}

func idIndexKey(eventID string) []byte {
	return []byte("a/id/" + eventID)
}

// BadgerStore persists the ledger in the shared local store.
type BadgerStore struct {
	db *localstore.DB
}

func NewBadgerStore(db *localstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) AppendEvent(_ context.Context, e Event, cs ChainState) error {
	key := eventKey(e.SubjectID, e.Seq)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := localstore.TxnPut(txn, key, eventSchemaVersion, e); err != nil {
			return err
		}
		if err := localstore.TxnPut(txn, idIndexKey(e.ID), 1, string(key)); err != nil {
			return err
		}
		return localstore.TxnPut(txn, chainKey(e.SubjectID), chainSchemaVersion, cs)
	})
}

func (s *BadgerStore) Events(_ context.Context, subjectID string) ([]Event, error) {
	var out []Event
	err := localstore.ScanPrefix(s.db, eventPrefix(subjectID), eventSchema, func(_ []byte, e Event) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) ChainState(_ context.Context, subjectID string) (ChainState, bool, error) {
	var cs ChainState
	err := s.db.Get(chainKey(subjectID), chainSchema, &cs)
	if errors.Is(err, localstore.ErrNotFound) {
		return ChainState{}, false, nil
	}
	if err != nil {
		return ChainState{}, false, err
	}
	return cs, true, nil
}

func (s *BadgerStore) MarkSyncStatus(_ context.Context, eventID string, status SyncStatus) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var key string
		err := localstore.TxnGet(txn, idIndexKey(eventID), indexSchema, &key)
		if errors.Is(err, localstore.ErrNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return err
		}
		var e Event
		if err := localstore.TxnGet(txn, []byte(key), eventSchema, &e); err != nil {
			return err
		}
		e.SyncStatus = status
		return localstore.TxnPut(txn, []byte(key), eventSchemaVersion, e)
	})
}

func (s *BadgerStore) Subjects(_ context.Context) ([]string, error) {
	var out []string
	err := localstore.ScanPrefix(s.db, []byte("a/chain/"), chainSchema, func(_ []byte, cs ChainState) error {
		out = append(out, cs.SubjectID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// MemoryStore is a simple in-memory Store useful for tests and as the
// degraded-mode fallback target. Not durable.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]Event
	chains map[string]ChainState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: map[string][]Event{},
		chains: map[string]ChainState{},
	}
}

func (m *MemoryStore) AppendEvent(_ context.Context, e Event, cs ChainState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.SubjectID] = append(m.events[e.SubjectID], e)
	m.chains[e.SubjectID] = cs
	return nil
}

func (m *MemoryStore) Events(_ context.Context, subjectID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events[subjectID]
	out := make([]Event, len(evs))
	copy(out, evs)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) ChainState(_ context.Context, subjectID string) (ChainState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.chains[subjectID]
	return cs, ok, nil
}

func (m *MemoryStore) MarkSyncStatus(_ context.Context, eventID string, status SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for subj, evs := range m.events {
		for i := range evs {
			if evs[i].ID == eventID {
				m.events[subj][i].SyncStatus = status
				return nil
			}
		}
	}
	return ErrEventNotFound
}

func (m *MemoryStore) Subjects(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.chains))
	for subj := range m.chains {
		out = append(out, subj)
	}
	sort.Strings(out)
	return out, nil
}

// Tamper mutates a stored event in place. Test hook: production code never
// calls this; it exists so chain verification tests can simulate direct
// storage manipulation.
func (m *MemoryStore) Tamper(subjectID string, index int, fn func(*Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events[subjectID]
	if index >= 0 && index < len(evs) {
		fn(&evs[index])
	}
}
