package localstore

import (
	"encoding/json"
	"errors"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type v2Payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	in := v2Payload{Name: "a", Count: 3}
	if err := db.Put([]byte("k"), 2, in); err != nil {
		t.Fatalf("put: %v", err)
	}

	var out v2Payload
	if err := db.Get([]byte("k"), Schema{Current: 2}, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestGetMissingKey(t *testing.T) {
	db := openTestDB(t)
	var out v2Payload
	if err := db.Get([]byte("absent"), Schema{Current: 1}, &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecodeAppliesMigrations(t *testing.T) {
	db := openTestDB(t)

	// v1 records had only a name.
	type v1Payload struct {
		Name string `json:"name"`
	}
	if err := db.Put([]byte("k"), 1, v1Payload{Name: "legacy"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	schema := Schema{
		Current: 2,
		Steps: map[int]MigrateFunc{
			1: func(data json.RawMessage) (json.RawMessage, error) {
				var old v1Payload
				if err := json.Unmarshal(data, &old); err != nil {
					return nil, err
				}
				return json.Marshal(v2Payload{Name: old.Name, Count: 1})
			},
		},
	}

	var out v2Payload
	if err := db.Get([]byte("k"), schema, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Name != "legacy" || out.Count != 1 {
		t.Fatalf("migration not applied: %+v", out)
	}
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	db := openTestDB(t)
	if err := db.Put([]byte("k"), 9, v2Payload{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out v2Payload
	if err := db.Get([]byte("k"), Schema{Current: 2}, &out); err == nil {
		t.Fatalf("expected error for record newer than supported schema")
	}
}

func TestDecodeMissingMigrationStep(t *testing.T) {
	db := openTestDB(t)
	if err := db.Put([]byte("k"), 1, v2Payload{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out v2Payload
	if err := db.Get([]byte("k"), Schema{Current: 3, Steps: map[int]MigrateFunc{}}, &out); err == nil {
		t.Fatalf("expected error for missing migration step")
	}
}

func TestScanPrefixOrdersByKey(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"p/0002", "p/0001", "q/0001", "p/0003"} {
		if err := db.Put([]byte(k), 1, v2Payload{Name: k}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	var seen []string
	err := ScanPrefix(db, []byte("p/"), Schema{Current: 1}, func(key []byte, v v2Payload) error {
		seen = append(seen, v.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{"p/0001", "p/0002", "p/0003"}
	if len(seen) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v", i, seen)
		}
	}
}
