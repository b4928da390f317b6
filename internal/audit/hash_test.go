package audit

import (
	"strings"
	"testing"
	"time"
)

func sampleEvent() Event {
	return Event{
		ID:        "e-1",
		Seq:       1,
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		Type:      EventTypeEvidenceCaptured,
		SubjectID: "job-1",
		Actor:     "tech-7",
		Device:    DeviceContext{DeviceID: "dev-1", Platform: "android", Online: true},
		Location:  &Location{Latitude: 52.1, Longitude: 4.3, AccuracyM: 8, Source: "gps"},
		Metadata:  map[string]string{"photo_id": "p-1", "checksum": "abc"},
	}
}

func TestComputeEventHash_Deterministic(t *testing.T) {
	e := sampleEvent()
	h1 := ComputeEventHash(e)
	h2 := ComputeEventHash(e)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if !strings.HasPrefix(h1, "sha256:") {
		t.Fatalf("expected sha256 prefix, got %s", h1)
	}
}

func TestComputeEventHash_IgnoresSyncStatus(t *testing.T) {
	e := sampleEvent()
	base := ComputeEventHash(e)

	e.SyncStatus = SyncStatusSynced
	if ComputeEventHash(e) != base {
		t.Fatalf("sync status must not participate in the hash")
	}
	e.EventHash = "sha256:bogus"
	if ComputeEventHash(e) != base {
		t.Fatalf("stored hash must not participate in the hash")
	}
}

func TestComputeEventHash_SensitiveToImmutableFields(t *testing.T) {
	base := ComputeEventHash(sampleEvent())

	e := sampleEvent()
	e.Metadata["photo_id"] = "p-2"
	if ComputeEventHash(e) == base {
		t.Fatalf("metadata change must change the hash")
	}

	e = sampleEvent()
	e.PreviousEventHash = "sha256:other"
	if ComputeEventHash(e) == base {
		t.Fatalf("previous hash change must change the hash")
	}

	e = sampleEvent()
	e.Timestamp = e.Timestamp.Add(time.Nanosecond)
	if ComputeEventHash(e) == base {
		t.Fatalf("timestamp change must change the hash")
	}
}

func TestComputeEventHash_TimezoneNormalized(t *testing.T) {
	e := sampleEvent()
	base := ComputeEventHash(e)

	e.Timestamp = e.Timestamp.In(time.FixedZone("UTC+2", 2*3600))
	if ComputeEventHash(e) != base {
		t.Fatalf("equal instants must hash equally regardless of zone")
	}
}
