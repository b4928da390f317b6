package audit

import "time"

// Event is an immutable, append-only, hash-linked evidence record.
//
// Invariants:
//   - Events are never updated or deleted; the only mutable field is
//     SyncStatus, which is explicitly excluded from the hash so later sync
//     transitions never invalidate chain integrity.
//   - EventHash is a deterministic digest of the canonical serialization of
//     the immutable fields (see hash.go).
//   - PreviousEventHash equals the EventHash of the prior event in the same
//     subject's chain, or "" for the first event.
//   - SubjectID is required; it names the job/resource the evidence concerns.
type Event struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	// Type indicates the evidence category of the record.
	Type EventType `json:"type"`

	SubjectID string `json:"subject_id"`

	// Actor is the technician identity when known; best-effort.
	Actor string `json:"actor,omitempty"`

	// Device captures the agent/platform/connectivity snapshot at capture time.
	Device DeviceContext `json:"device"`

	// Location is optional; present when the capture had a position fix.
	Location *Location `json:"location,omitempty"`

	// Metadata is free-form key/value detail for the event type.
	Metadata map[string]string `json:"metadata,omitempty"`

	PreviousEventHash string `json:"previous_event_hash"`
	EventHash         string `json:"event_hash"`

	// SyncStatus tracks replication to the remote store. Mutable; excluded
	// from the hash.
	SyncStatus SyncStatus `json:"sync_status"`
}

type EventType string

const (
	EventTypeEvidenceCaptured  EventType = "evidence_captured"
	EventTypeEvidenceDeleted   EventType = "evidence_deleted"
	EventTypeSignatureCaptured EventType = "signature_captured"
	EventTypeSignatureCleared  EventType = "signature_cleared"
	EventTypeLocationCaptured  EventType = "location_captured"
	EventTypeLocationFallback  EventType = "location_fallback"
	EventTypeJobSealed         EventType = "job_sealed"
	EventTypeSyncStarted       EventType = "sync_started"
	EventTypeSyncFailed        EventType = "sync_failed"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeEvidenceCaptured, EventTypeEvidenceDeleted,
		EventTypeSignatureCaptured, EventTypeSignatureCleared,
		EventTypeLocationCaptured, EventTypeLocationFallback,
		EventTypeJobSealed, EventTypeSyncStarted, EventTypeSyncFailed:
		return true
	default:
		return false
	}
}

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// Location is a capture-time position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	AccuracyM float64 `json:"accuracy_m"`

	// Source records how the position was obtained: gps, network, manual.
	Source string `json:"source"`
}

// DeviceContext snapshots the capturing device.
type DeviceContext struct {
	DeviceID  string `json:"device_id"`
	Platform  string `json:"platform,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Online    bool   `json:"online"`
}

// ChainState is the single chain pointer for one subject's ledger.
// Mutated atomically with each append; Seq must never regress.
type ChainState struct {
	SubjectID     string    `json:"subject_id"`
	LastEventHash string    `json:"last_event_hash"`
	LastSeq       uint64    `json:"last_seq"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// VerifyResult reports chain verification for one subject.
type VerifyResult struct {
	Valid bool `json:"valid"`

	// BrokenAt is the id of the first event failing either the content-hash
	// recompute or the linkage check. Empty when Valid.
	BrokenAt string `json:"broken_at,omitempty"`

	// BrokenIndex is the zero-based position of BrokenAt, -1 when Valid.
	BrokenIndex int `json:"broken_index"`

	Count int `json:"count"`
}
