// server/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

type AuthorizationError struct {
	Reason string
}

func (e AuthorizationError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// IntegrityError reports a violated tree invariant: a cycle, a dangling or
// cross-user reference, or a type mismatch between a folder and its contents.
type IntegrityError struct {
	Reason string
}

func (e IntegrityError) Error() string {
	return "integrity violation: " + e.Reason
}

type CycleError struct {
	NodeID   string
	TargetID string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("cannot move %s into its own subtree (%s)", e.NodeID, e.TargetID)
}

type NetworkError struct {
	Op  string
	Err error
}

func (e NetworkError) Error() string {
	if e.Err == nil {
		return e.Op + ": network error"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e NetworkError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var ne NetworkError
	return errors.As(err, &ne)
}
