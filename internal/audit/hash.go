package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const hashPrefix = "sha256:"

// canonicalEvent is the exact byte layout that gets digested.
//
// Field order is fixed by struct declaration order, map keys are sorted by
// encoding/json, and timestamps marshal as RFC 3339 UTC: the same event
// always canonicalizes to the same bytes on any device. SyncStatus and
// EventHash are deliberately absent.
type canonicalEvent struct {
	ID                string            `json:"id"`
	Seq               uint64            `json:"seq"`
	Timestamp         string            `json:"timestamp"`
	Type              EventType         `json:"type"`
	SubjectID         string            `json:"subject_id"`
	Actor             string            `json:"actor"`
	Device            DeviceContext     `json:"device"`
	Location          *Location         `json:"location"`
	Metadata          map[string]string `json:"metadata"`
	PreviousEventHash string            `json:"previous_event_hash"`
}

// ComputeEventHash digests the canonical serialization of an event's
// immutable fields. The stored SyncStatus and EventHash never participate.
func ComputeEventHash(e Event) string {
	c := canonicalEvent{
		ID:                e.ID,
		Seq:               e.Seq,
		Timestamp:         e.Timestamp.UTC().Format(canonicalTimeLayout),
		Type:              e.Type,
		SubjectID:         e.SubjectID,
		Actor:             e.Actor,
		Device:            e.Device,
		Location:          e.Location,
		Metadata:          e.Metadata,
		PreviousEventHash: e.PreviousEventHash,
	}
	// Marshal of this struct cannot fail: all fields are plain data.
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// canonicalTimeLayout pins sub-second precision so a timestamp round-tripped
// through storage digests identically.
const canonicalTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
