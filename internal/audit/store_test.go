package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldproof/internal/localstore"
)

func badgerTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := localstore.Open(localstore.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

func storedEvent(subjectID string, seq uint64) (Event, ChainState) {
	e := Event{
		ID:         "e-" + subjectID + "-" + string(rune('0'+seq)),
		Seq:        seq,
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Type:       EventTypeEvidenceCaptured,
		SubjectID:  subjectID,
		Device:     DeviceContext{DeviceID: "dev-1"},
		SyncStatus: SyncStatusPending,
	}
	e.EventHash = ComputeEventHash(e)
	return e, ChainState{SubjectID: subjectID, LastEventHash: e.EventHash, LastSeq: seq, UpdatedAt: e.Timestamp}
}

func TestBadgerStore_AppendAndReadBack(t *testing.T) {
	s := badgerTestStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		e, cs := storedEvent("job-1", seq)
		if err := s.AppendEvent(ctx, e, cs); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	// Another subject must not leak into job-1 scans.
	e, cs := storedEvent("job-2", 1)
	if err := s.AppendEvent(ctx, e, cs); err != nil {
		t.Fatalf("append other subject: %v", err)
	}

	evs, err := s.Events(ctx, "job-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	for i, e := range evs {
		if e.Seq != uint64(i+1) {
			t.Fatalf("events out of order: %v", evs)
		}
	}

	got, ok, err := s.ChainState(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("chain state: ok=%v err=%v", ok, err)
	}
	if got.LastSeq != 3 {
		t.Fatalf("expected last seq 3, got %d", got.LastSeq)
	}
}

func TestBadgerStore_ChainStateMissing(t *testing.T) {
	s := badgerTestStore(t)
	_, ok, err := s.ChainState(context.Background(), "nope")
	if err != nil {
		t.Fatalf("chain state: %v", err)
	}
	if ok {
		t.Fatalf("expected no chain state for unknown subject")
	}
}

func TestBadgerStore_MarkSyncStatus(t *testing.T) {
	s := badgerTestStore(t)
	ctx := context.Background()

	e, cs := storedEvent("job-1", 1)
	if err := s.AppendEvent(ctx, e, cs); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.MarkSyncStatus(ctx, e.ID, SyncStatusSynced); err != nil {
		t.Fatalf("mark: %v", err)
	}

	evs, _ := s.Events(ctx, "job-1")
	if evs[0].SyncStatus != SyncStatusSynced {
		t.Fatalf("expected synced, got %s", evs[0].SyncStatus)
	}
	// The hash must still verify: sync status is outside the digest.
	if ComputeEventHash(evs[0]) != evs[0].EventHash {
		t.Fatalf("sync status mutation invalidated the stored hash")
	}

	if err := s.MarkSyncStatus(ctx, "missing", SyncStatusFailed); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestBadgerStore_SubjectsEnumeration(t *testing.T) {
	s := badgerTestStore(t)
	for _, subj := range []string{"job-b", "job-a", "job-c"} {
		e, cs := storedEvent(subj, 1)
		if err := s.AppendEvent(context.Background(), e, cs); err != nil {
			t.Fatalf("append %s: %v", subj, err)
		}
	}

	subjects, err := s.Subjects(context.Background())
	if err != nil {
		t.Fatalf("subjects: %v", err)
	}
	want := []string{"job-a", "job-b", "job-c"}
	if len(subjects) != len(want) {
		t.Fatalf("expected %v, got %v", want, subjects)
	}
	for i := range want {
		if subjects[i] != want[i] {
			t.Fatalf("expected sorted subjects %v, got %v", want, subjects)
		}
	}
}
