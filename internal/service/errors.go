package service

import (
	"errors"
	"fmt"
)

var (
	// ErrReidentificationNotAllowed is returned when the tenant policy forbids reversal
	ErrReidentificationNotAllowed = errors.New("re-identification is not allowed for this tenant")
	// ErrApprovalRequired is returned when the policy requires approval and none was given
	ErrApprovalRequired = errors.New("re-identification requires approval")
)

// PersistenceError reports that a sanitization succeeded but its mapping could not be stored.
// The sanitized text is still safe to use; only re-identification is lost.
type PersistenceError struct {
	MappingID string
	Err       error
	retryable bool
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist mapping %s: %v", e.MappingID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether calling Sanitize again may succeed. Only store
// failures are; a mapping rejected for its TTL or content fails the same way again.
func (e *PersistenceError) Retryable() bool {
	return e.retryable
}
