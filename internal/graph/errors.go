package graph

import (
	"errors"
	"fmt"
)

// ErrSyncStateExpired is returned by FetchDelta when the provider reports
// that the continuation token is no longer usable. Callers must restart
// from a full sync rather than retry the same token.
var ErrSyncStateExpired = errors.New("graph: sync state expired")

// APIError is a non-transient error response from the mail provider.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph: status %d code %q: %s", e.StatusCode, e.Code, e.Message)
}

// syncStateCodes are the provider error codes that mean the delta token
// is dead and a resync is required.
var syncStateCodes = map[string]bool{
	"SyncStateNotFound":  true,
	"syncStateNotFound":  true,
	"resyncRequired":     true,
	"SyncStateInvalid":   true,
	"ResyncRequired":     true,
}

func isSyncStateCode(code string) bool {
	return syncStateCodes[code]
}

// retryable reports whether a status code is worth another attempt.
func retryable(status int) bool {
	return status == 429 || status >= 500
}
