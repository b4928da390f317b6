package syncerr

import (
	"strings"
	"time"
)

// Classify maps a raw failure plus the device connectivity signal into a
// SyncError.
//
// Priority (first match wins):
//  1. device-reported offline (unconditional)
//  2. message indicates timeout
//  3. message indicates auth / 401 / jwt
//  4. message indicates rate limit / 429
//  5. message indicates 5xx
//  6. message indicates quota / storage
//  7. message indicates payload too large / 413
//  8. message indicates validation / invalid / required
//  9. default unknown, marked retryable
//
// The offline check is deliberately first and unconditional: a request that
// died mid-flight on a disconnecting device produces arbitrary transport
// errors, and the probe signal is more trustworthy than any of them.
func Classify(err error, offline bool) *SyncError {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	if offline {
		return &SyncError{
			Code:           CodeNetworkOffline,
			Message:        msg,
			UserMessage:    "You're offline. Changes are saved on this device and will sync when connection returns.",
			RecoveryAction: RecoveryRetryAuto,
			Retryable:      true,
			Timestamp:      now,
		}
	}

	switch {
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return &SyncError{
			Code:           CodeNetworkTimeout,
			Message:        msg,
			UserMessage:    "The server is taking too long to respond. We'll keep retrying.",
			RecoveryAction: RecoveryRetryAuto,
			Retryable:      true,
			Timestamp:      now,
		}
	case containsAny(lower, "401", "unauthorized", "jwt", "token is expired", "token expired", "session expired"):
		return &SyncError{
			Code:           CodeAuthExpired,
			Message:        msg,
			UserMessage:    "Your session has expired. Please sign in again.",
			RecoveryAction: RecoveryReauthenticate,
			Retryable:      false,
			Timestamp:      now,
		}
	case containsAny(lower, "429", "rate limit", "too many requests"):
		return &SyncError{
			Code:           CodeServerRateLimited,
			Message:        msg,
			UserMessage:    "Syncing is temporarily throttled. We'll retry shortly.",
			RecoveryAction: RecoveryWait,
			Retryable:      true,
			Timestamp:      now,
		}
	case containsAny(lower, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"):
		return &SyncError{
			Code:           CodeServerUnavailable,
			Message:        msg,
			UserMessage:    "The sync service is having trouble. We'll keep retrying.",
			RecoveryAction: RecoveryRetryAuto,
			Retryable:      true,
			Timestamp:      now,
		}
	case containsAny(lower, "quota", "storage full", "insufficient storage"):
		return &SyncError{
			Code:           CodeStorageQuotaExceeded,
			Message:        msg,
			UserMessage:    "Storage quota exceeded. Free up space or contact your administrator.",
			RecoveryAction: RecoveryContactSupport,
			Retryable:      false,
			Timestamp:      now,
		}
	case containsAny(lower, "413", "payload too large", "request entity too large", "too large"):
		return &SyncError{
			Code:           CodeDataTooLarge,
			Message:        msg,
			UserMessage:    "An item is too large to upload. It will be compressed and retried.",
			RecoveryAction: RecoveryReduceData,
			Retryable:      false,
			Timestamp:      now,
		}
	case containsAny(lower, "validation", "invalid", "required field", "missing required"):
		return &SyncError{
			Code:           CodeDataValidationFailed,
			Message:        msg,
			UserMessage:    "Some captured data was rejected by the server. Review the item and retry.",
			RecoveryAction: RecoveryRetryManual,
			Retryable:      false,
			Timestamp:      now,
		}
	}

	return &SyncError{
		Code:           CodeUnknown,
		Message:        msg,
		UserMessage:    "Something went wrong while syncing. We'll keep retrying.",
		RecoveryAction: RecoveryRetryAuto,
		Retryable:      true,
		Timestamp:      now,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
