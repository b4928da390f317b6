// Package localstore wraps the embedded BadgerDB instance shared by the
// ledger, delivery queue, and sync state.
//
// Rules:
//   - All persisted records are wrapped in a versioned envelope. Readers apply
//     migrations on read; writers always write the current version.
//   - Writes are synchronous by default: evidence must survive power loss.
//   - This store is local to one device but shared by every agent context on
//     it. There are no cross-context transactional guarantees beyond what a
//     single Badger transaction gives one process; see internal/coordinate.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the local store.
type Config struct {
	// Path is the directory for store files. Ignored when InMemory is true.
	Path string

	// InMemory disables disk persistence. Tests only.
	InMemory bool

	// SyncWrites forces fsync on every write. Default true in Open; evidence
	// durability is worth the latency on capture paths.
	SyncWrites bool
}

// DB is a thin handle over BadgerDB with versioned-record helpers.
type DB struct {
	b *badger.DB
}

var ErrNotFound = errors.New("localstore: not found")

// Open opens (or creates) the local store.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("localstore: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites || !cfg.InMemory).
		WithLogger(nil) // badger's own logging is too chatty for an agent process

	b, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("localstore: open: %w", err)
	}
	return &DB{b: b}, nil
}

func (d *DB) Close() error {
	return d.b.Close()
}

// Record is the persisted envelope. Version lets the schema evolve without
// breaking queues and ledgers written by an older agent build.
type Record struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// MigrateFunc upgrades record data from version v to v+1.
type MigrateFunc func(data json.RawMessage) (json.RawMessage, error)

// Schema describes how to read a record family: its current version and the
// per-version upgrade steps (Steps[v] migrates v -> v+1).
type Schema struct {
	Current int
	Steps   map[int]MigrateFunc
}

// EncodeRecord wraps v in a versioned envelope.
func EncodeRecord(version int, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Record{Version: version, Data: data})
}

// DecodeRecord unwraps an envelope, applying schema migrations as needed.
func DecodeRecord(raw []byte, s Schema, out any) error {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("localstore: corrupt record envelope: %w", err)
	}
	if rec.Version > s.Current {
		return fmt.Errorf("localstore: record version %d newer than supported %d", rec.Version, s.Current)
	}
	data := rec.Data
	for v := rec.Version; v < s.Current; v++ {
		step, ok := s.Steps[v]
		if !ok {
			return fmt.Errorf("localstore: no migration from version %d", v)
		}
		migrated, err := step(data)
		if err != nil {
			return fmt.Errorf("localstore: migrate v%d: %w", v, err)
		}
		data = migrated
	}
	return json.Unmarshal(data, out)
}

// Put writes a single versioned record.
func (d *DB) Put(key []byte, version int, v any) error {
	raw, err := EncodeRecord(version, v)
	if err != nil {
		return err
	}
	return d.b.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
}

// Get reads a single versioned record into out. Returns ErrNotFound when the
// key does not exist.
func (d *DB) Get(key []byte, s Schema, out any) error {
	return d.b.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			return DecodeRecord(raw, s, out)
		})
	})
}

// Delete removes a key. Missing keys are not an error.
func (d *DB) Delete(key []byte) error {
	return d.b.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Update runs fn inside a single read-write Badger transaction. Use this when
// multiple keys must move together (e.g., an event append plus the chain
// pointer).
func (d *DB) Update(fn func(txn *badger.Txn) error) error {
	return d.b.Update(fn)
}

// View runs fn inside a read-only transaction.
func (d *DB) View(fn func(txn *badger.Txn) error) error {
	return d.b.View(fn)
}

// ScanPrefix iterates records under prefix in key order, decoding each into a
// fresh T and passing it to fn.
func ScanPrefix[T any](d *DB, prefix []byte, s Schema, fn func(key []byte, v T) error) error {
	return d.b.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var v T
			err := item.Value(func(raw []byte) error {
				return DecodeRecord(raw, s, &v)
			})
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// TxnGet reads and decodes a record inside an open transaction.
func TxnGet(txn *badger.Txn, key []byte, s Schema, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(raw []byte) error {
		return DecodeRecord(raw, s, out)
	})
}

// TxnPut encodes and writes a record inside an open transaction.
func TxnPut(txn *badger.Txn, key []byte, version int, v any) error {
	raw, err := EncodeRecord(version, v)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}
