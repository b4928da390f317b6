package syncerr

import (
	"errors"
	"testing"
)

func TestClassify_OfflineWinsUnconditionally(t *testing.T) {
	// Even an auth-looking failure classifies as offline when the device
	// reports no connectivity: in-flight requests die arbitrarily offline.
	se := Classify(errors.New("401 unauthorized"), true)
	if se.Code != CodeNetworkOffline {
		t.Fatalf("expected network_offline, got %s", se.Code)
	}
	if !se.Retryable {
		t.Fatalf("offline must be retryable")
	}
	if se.RecoveryAction != RecoveryRetryAuto {
		t.Fatalf("expected retry_auto, got %s", se.RecoveryAction)
	}
}

func TestClassify_AuthExpired(t *testing.T) {
	se := Classify(errors.New("server said: 401 unauthorized"), false)
	if se.Code != CodeAuthExpired {
		t.Fatalf("expected auth_expired, got %s", se.Code)
	}
	if se.Retryable {
		t.Fatalf("auth_expired must not be retryable")
	}
	if se.RecoveryAction != RecoveryReauthenticate {
		t.Fatalf("expected reauthenticate, got %s", se.RecoveryAction)
	}
}

func TestClassify_TimeoutBeforeAuth(t *testing.T) {
	// A message matching both rules classifies by priority: timeout first.
	se := Classify(errors.New("timeout waiting for 401 response"), false)
	if se.Code != CodeNetworkTimeout {
		t.Fatalf("expected network_timeout, got %s", se.Code)
	}
}

func TestClassify_RateLimited(t *testing.T) {
	se := Classify(errors.New("HTTP 429 Too Many Requests"), false)
	if se.Code != CodeServerRateLimited {
		t.Fatalf("expected server_rate_limited, got %s", se.Code)
	}
	if se.RecoveryAction != RecoveryWait {
		t.Fatalf("expected wait, got %s", se.RecoveryAction)
	}
	if !se.Retryable {
		t.Fatalf("rate limited must be retryable")
	}
}

func TestClassify_ServerUnavailable(t *testing.T) {
	se := Classify(errors.New("503 service unavailable"), false)
	if se.Code != CodeServerUnavailable {
		t.Fatalf("expected server_unavailable, got %s", se.Code)
	}
	if !se.Retryable {
		t.Fatalf("5xx must be retryable")
	}
}

func TestClassify_QuotaExceeded(t *testing.T) {
	se := Classify(errors.New("storage quota exceeded for workspace"), false)
	if se.Code != CodeStorageQuotaExceeded {
		t.Fatalf("expected storage_quota_exceeded, got %s", se.Code)
	}
	if se.Retryable {
		t.Fatalf("quota must not be retryable")
	}
}

func TestClassify_PayloadTooLarge(t *testing.T) {
	se := Classify(errors.New("413 request entity too large"), false)
	if se.Code != CodeDataTooLarge {
		t.Fatalf("expected data_too_large, got %s", se.Code)
	}
	if se.RecoveryAction != RecoveryReduceData {
		t.Fatalf("expected reduce_data, got %s", se.RecoveryAction)
	}
}

func TestClassify_ValidationFailed(t *testing.T) {
	se := Classify(errors.New("validation failed: missing required field location"), false)
	if se.Code != CodeDataValidationFailed {
		t.Fatalf("expected data_validation_failed, got %s", se.Code)
	}
	if se.RecoveryAction != RecoveryRetryManual {
		t.Fatalf("expected retry_manual, got %s", se.RecoveryAction)
	}
}

func TestClassify_UnknownDefaultsRetryable(t *testing.T) {
	se := Classify(errors.New("wat"), false)
	if se.Code != CodeUnknown {
		t.Fatalf("expected unknown, got %s", se.Code)
	}
	if !se.Retryable {
		t.Fatalf("unknown must default to retryable")
	}
}

func TestClassify_NilError(t *testing.T) {
	se := Classify(nil, false)
	if se.Code != CodeUnknown {
		t.Fatalf("expected unknown for nil error, got %s", se.Code)
	}
}

func TestSyncError_ErrorString(t *testing.T) {
	se := Classify(errors.New("boom"), false)
	if se.Error() != "unknown: boom" {
		t.Fatalf("unexpected error string %q", se.Error())
	}
}
