// ============================================================================
// internal/shared/errors.go
// Typed error taxonomy used across the registrar engines
// ============================================================================

package shared

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input. Synchronous, never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// ConflictError reports a duplicate submission or a state the requested
// transition cannot apply to. ConflictingID lets the caller decide between
// retry and abort.
type ConflictError struct {
	Resource      string
	ConflictingID string
	Message       string
}

func (e *ConflictError) Error() string {
	if e.ConflictingID != "" {
		return fmt.Sprintf("conflict on %s (%s): %s", e.Resource, e.ConflictingID, e.Message)
	}
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

// NotFoundError reports that no record matched any candidate key. Always
// distinct from DuplicateMatchError.
type NotFoundError struct {
	Collection string
	Keys       []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no record in %s matched keys %v", e.Collection, e.Keys)
}

// DuplicateMatchError reports that a single lookup key matched more than one
// record. This is a data-integrity condition; silently picking one record
// would let subsequent writes corrupt the wrong one.
type DuplicateMatchError struct {
	Collection string
	Key        string
	Value      string
	Count      int64
}

func (e *DuplicateMatchError) Error() string {
	return fmt.Sprintf("%d records in %s share %s=%q", e.Count, e.Collection, e.Key, e.Value)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDuplicateMatch reports whether err is a DuplicateMatchError.
func IsDuplicateMatch(err error) bool {
	var dm *DuplicateMatchError
	return errors.As(err, &dm)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
