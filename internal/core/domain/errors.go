// Package domain defines the core domain models for DeltaMesh.
package domain

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// DomainError is an error carrying a DM-<AREA>-<NNNN> code. The first
// three digits of NNNN are the closest HTTP status; the ARG area is
// always a bad request.
type DomainError struct {
	Code    string
	Message string
	Details string
	Cause   error
}

// NewDomainError creates a sentinel with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(e.Code)
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString(": ")
		b.WriteString(e.Details)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError carrying the same code, so copies made by
// WithDetails and WithCause still match their sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e.Code == t.Code
}

// WithDetails returns a copy with details set. The receiver is not
// modified.
func (e *DomainError) WithDetails(details string) *DomainError {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy wrapping cause. The receiver is not modified.
func (e *DomainError) WithCause(cause error) *DomainError {
	c := *e
	c.Cause = cause
	return &c
}

// Area returns the AREA part of the code, e.g. "OBJ".
func (e *DomainError) Area() string {
	parts := strings.Split(e.Code, "-")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// Status returns the HTTP status the code maps to, 500 when the code
// names none.
func (e *DomainError) Status() int {
	if e.Area() == "ARG" {
		return http.StatusBadRequest
	}
	i := strings.LastIndexByte(e.Code, '-')
	if i < 0 || len(e.Code)-i-1 != 4 {
		return http.StatusInternalServerError
	}
	n, err := strconv.Atoi(e.Code[i+1 : i+4])
	if err != nil || n < 400 || n > 599 || http.StatusText(n) == "" {
		return http.StatusInternalServerError
	}
	return n
}

// AsDomainError finds the first DomainError in err's chain.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// CodeOf returns the code of the first DomainError in err's chain, or "".
func CodeOf(err error) string {
	if de, ok := AsDomainError(err); ok {
		return de.Code
	}
	return ""
}

// Property registration and access.
var (
	// ErrDuplicateRegistration is raised at type initialization and never
	// recovered.
	ErrDuplicateRegistration = NewDomainError("DM-PROP-4090", "duplicate property registration")
	ErrPropertyTypeMismatch  = NewDomainError("DM-PROP-4000", "property type mismatch")
	ErrPropertyNotFound      = NewDomainError("DM-PROP-4040", "property not found")
)

// Object directory.
var (
	// ErrObjectNotFound means the directory has never seen the identity.
	ErrObjectNotFound  = NewDomainError("DM-OBJ-4040", "object not found")
	ErrInvalidObjectID = NewDomainError("DM-OBJ-4000", "invalid object id")
)

// Sync scheduler.
var (
	// ErrPersistenceFailure leaves the affected objects dirty for the next
	// tick.
	ErrPersistenceFailure = NewDomainError("DM-SYNC-5001", "persistence failure")
	ErrSchedulerRunning   = NewDomainError("DM-SYNC-4090", "scheduler already running")
	ErrSchedulerStopped   = NewDomainError("DM-SYNC-4091", "scheduler not running")
)

// Snapshots.
var (
	ErrSnapshotNotFound = NewDomainError("DM-SNAP-4040", "snapshot not found")
	// ErrSnapshotCorrupt covers checksum and format failures.
	ErrSnapshotCorrupt   = NewDomainError("DM-SNAP-5002", "snapshot corrupt")
	ErrSnapshotsDisabled = NewDomainError("DM-SNAP-4091", "snapshots disabled")
)

// Generic errors.
var (
	ErrInternal        = NewDomainError("DM-SYS-5000", "internal error")
	ErrStorageError    = NewDomainError("DM-SYS-5001", "storage error")
	ErrInvalidArgument = NewDomainError("DM-ARG-1001", "invalid argument")
)
