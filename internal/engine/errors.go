package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/tasksync/internal/remote"
)

// ErrStopped is returned by operations issued after Run has returned.
var ErrStopped = errors.New("engine stopped")

// SyncError represents a failure recorded by the engine.
//
// Sync errors are returned to the caller of the failing operation and also
// stored in the engine's error slot, so observers that only watch State see
// them too.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation, e.g. "create project" or "subscribe".
	Op string

	// Message is a human-readable description when there is no cause.
	Message string

	// ProjectID and TaskID identify the affected entities, when known.
	ProjectID string
	TaskID    string

	// Err is the underlying remote error.
	Err error
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeNotSignedIn indicates the session gate yielded no account.
	ErrCodeNotSignedIn ErrorCode = "NOT_SIGNED_IN"

	// ErrCodeNotFound indicates a project or task id absent from the local list.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeDecode indicates the remote store returned data it could not parse.
	ErrCodeDecode ErrorCode = "DECODE"

	// ErrCodeRemoteRead indicates a subscription or fetch failed.
	ErrCodeRemoteRead ErrorCode = "REMOTE_READ"

	// ErrCodeRemoteWrite indicates a write round-trip failed.
	ErrCodeRemoteWrite ErrorCode = "REMOTE_WRITE"

	// ErrCodeAuthorization indicates the remote refused the account access.
	ErrCodeAuthorization ErrorCode = "AUTHORIZATION"

	// ErrCodeAccountMismatch indicates a mutation while the engine is not
	// attached to the signed-in account, either detached or still attached
	// to the previous one.
	ErrCodeAccountMismatch ErrorCode = "ACCOUNT_MISMATCH"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	switch {
	case e.ProjectID != "" && e.TaskID != "":
		msg += fmt.Sprintf(" (project=%s, task=%s)", e.ProjectID, e.TaskID)
	case e.ProjectID != "":
		msg += fmt.Sprintf(" (project=%s)", e.ProjectID)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying remote error.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsNotSignedIn returns true if err is a NOT_SIGNED_IN sync error.
func IsNotSignedIn(err error) bool { return hasCode(err, ErrCodeNotSignedIn) }

// IsNotFound returns true if err is a NOT_FOUND sync error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsDecode returns true if err is a DECODE sync error.
func IsDecode(err error) bool { return hasCode(err, ErrCodeDecode) }

// IsRemoteRead returns true if err is a REMOTE_READ sync error.
func IsRemoteRead(err error) bool { return hasCode(err, ErrCodeRemoteRead) }

// IsRemoteWrite returns true if err is a REMOTE_WRITE sync error.
func IsRemoteWrite(err error) bool { return hasCode(err, ErrCodeRemoteWrite) }

// IsAuthorization returns true if err is an AUTHORIZATION sync error.
func IsAuthorization(err error) bool { return hasCode(err, ErrCodeAuthorization) }

// IsAccountMismatch returns true if err is an ACCOUNT_MISMATCH sync error.
func IsAccountMismatch(err error) bool { return hasCode(err, ErrCodeAccountMismatch) }

// remoteError wraps a backend error. Authorization and malformed-data
// failures get their own codes; anything else keeps the fallback.
func remoteError(fallback ErrorCode, op, projectID, taskID string, err error) *SyncError {
	code := fallback
	switch {
	case errors.Is(err, remote.ErrAuthorization):
		code = ErrCodeAuthorization
	case errors.Is(err, remote.ErrMalformed):
		code = ErrCodeDecode
	}
	return &SyncError{Code: code, Op: op, ProjectID: projectID, TaskID: taskID, Err: err}
}

func notSignedIn(op string) *SyncError {
	return &SyncError{Code: ErrCodeNotSignedIn, Op: op, Message: "no account is signed in"}
}

func accountMismatch(op, signedIn, attached string) *SyncError {
	msg := fmt.Sprintf("signed in as %s but not attached", signedIn)
	if attached != "" {
		msg = fmt.Sprintf("signed in as %s but attached to %s", signedIn, attached)
	}
	return &SyncError{Code: ErrCodeAccountMismatch, Op: op, Message: msg}
}

func projectNotFound(op, projectID string) *SyncError {
	return &SyncError{Code: ErrCodeNotFound, Op: op, ProjectID: projectID, Message: "project not in local list"}
}

func taskNotFound(op, projectID, taskID string) *SyncError {
	return &SyncError{Code: ErrCodeNotFound, Op: op, ProjectID: projectID, TaskID: taskID, Message: "task not in project"}
}
