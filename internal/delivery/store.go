package delivery

import (
	"encoding/json"
	"errors"
	"fmt"

	"fieldproof/internal/localstore"
)

// snapshot is the persisted shape of the whole queue: pending items in
// arrival order plus the terminal-item history ring and undismissed
// notifications. Persisted as one record so a crash mid-drain leaves a
// consistent picture.
type snapshot struct {
	Pending       []Item         `json:"pending"`
	History       []Item         `json:"history"`
	Notifications []Notification `json:"notifications"`
}

const snapshotVersion = 2

var snapshotKey = []byte("d/queue")

// snapshotSchema upgrades records written before Priority existed: version 1
// items are read as normal priority.
var snapshotSchema = localstore.Schema{
	Current: snapshotVersion,
	Steps: map[int]localstore.MigrateFunc{
		1: migrateSnapshotV1,
	},
}

func migrateSnapshotV1(data json.RawMessage) (json.RawMessage, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode v1 queue snapshot: %w", err)
	}
	for i := range snap.Pending {
		if snap.Pending[i].Priority == "" {
			snap.Pending[i].Priority = "normal"
		}
	}
	for i := range snap.History {
		if snap.History[i].Priority == "" {
			snap.History[i].Priority = "normal"
		}
	}
	return json.Marshal(snap)
}

// Store persists queue snapshots. BadgerStore is the real one; MemoryStore
// backs tests.
type Store interface {
	Save(snap snapshot) error
	Load() (snapshot, error)
}

type BadgerStore struct {
	db *localstore.DB
}

func NewBadgerStore(db *localstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Save(snap snapshot) error {
	return s.db.Put(snapshotKey, snapshotVersion, snap)
}

func (s *BadgerStore) Load() (snapshot, error) {
	var snap snapshot
	err := s.db.Get(snapshotKey, snapshotSchema, &snap)
	if errors.Is(err, localstore.ErrNotFound) {
		return snapshot{}, nil
	}
	return snap, err
}

type MemoryStore struct {
	snap  snapshot
	saves int
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Save(snap snapshot) error {
	// Deep-copy through JSON so the queue's internal slices can't alias
	// what the store holds.
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	var cp snapshot
	if err := json.Unmarshal(raw, &cp); err != nil {
		return err
	}
	s.snap = cp
	s.saves++
	return nil
}

func (s *MemoryStore) Load() (snapshot, error) { return s.snap, nil }
