// Package syncerr normalizes every sync-path failure into a typed SyncError.
//
// Nothing on a sync-relevant path may propagate as a raw, unclassified
// failure: callers classify at the boundary and only ever observe SyncError
// values afterwards. Retryability is a property of the classified error,
// never of the raw cause.
package syncerr

import "time"

// Code is the closed error taxonomy. Codes group into families; the family
// determines the default recovery action and retryability.
type Code string

const (
	// Network family
	CodeNetworkOffline Code = "network_offline"
	CodeNetworkTimeout Code = "network_timeout"
	CodeNetworkDNS     Code = "network_dns"
	CodeNetworkTLS     Code = "network_tls"

	// Auth family
	CodeAuthExpired           Code = "auth_expired"
	CodeAuthInvalid           Code = "auth_invalid"
	CodeAuthRevoked           Code = "auth_revoked"
	CodeAuthWorkspaceMismatch Code = "auth_workspace_mismatch"

	// Data family
	CodeDataValidationFailed Code = "data_validation_failed"
	CodeDataConflict         Code = "data_conflict"
	CodeDataTooLarge         Code = "data_too_large"
	CodeDataCorrupted        Code = "data_corrupted"
	CodeDataMissingRequired  Code = "data_missing_required"

	// Server family
	CodeServerError       Code = "server_error"
	CodeServerUnavailable Code = "server_unavailable"
	CodeServerRateLimited Code = "server_rate_limited"
	CodeServerMaintenance Code = "server_maintenance"

	// Storage family
	CodeStorageQuotaExceeded Code = "storage_quota_exceeded"
	CodeStorageUploadFailed  Code = "storage_upload_failed"
	CodeStorageFileTooLarge  Code = "storage_file_too_large"
	CodeStorageInvalidType   Code = "storage_invalid_type"

	CodeUnknown Code = "unknown"
)

// RecoveryAction tells the caller (and ultimately the UI collaborator) what
// should happen next.
type RecoveryAction string

const (
	// RecoveryRetryAuto: the scheduler retries without user action.
	RecoveryRetryAuto RecoveryAction = "retry_auto"
	// RecoveryRetryManual: surface a retry affordance; do not auto-retry.
	RecoveryRetryManual RecoveryAction = "retry_manual"
	// RecoveryReauthenticate: clear local session artifacts; navigation to
	// the auth collaborator is deferred to the caller.
	RecoveryReauthenticate RecoveryAction = "reauthenticate"
	// RecoveryReduceData: flag oversized queued payloads for compression or
	// splitting before the next attempt.
	RecoveryReduceData RecoveryAction = "reduce_data"
	// RecoveryWait: no-op; rely on the scheduler.
	RecoveryWait RecoveryAction = "wait"
	// RecoveryContactSupport and RecoveryNone are terminal.
	RecoveryContactSupport RecoveryAction = "contact_support"
	RecoveryNone           RecoveryAction = "none"
)

// SyncError is the classified form of a sync-path failure.
//
// It is serializable data, never persisted as a live value: persisted copies
// round-trip through JSON (e.g., inside the sync state snapshot).
type SyncError struct {
	Code           Code              `json:"code"`
	Message        string            `json:"message"`
	UserMessage    string            `json:"user_message"`
	RecoveryAction RecoveryAction    `json:"recovery_action"`
	Retryable      bool              `json:"retryable"`
	Timestamp      time.Time         `json:"timestamp"`
	Details        map[string]string `json:"details,omitempty"`
}

func (e *SyncError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}
