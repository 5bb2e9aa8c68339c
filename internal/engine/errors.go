// internal/engine/errors.go
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrContextNotFound        = errors.New("context not found")
	ErrNoCandidate            = errors.New("no candidate matched")
	ErrStabilityTimeout       = errors.New("element did not stabilize")
	ErrUnhandledDialog        = errors.New("unhandled dialog")
	ErrAuthenticationRejected = errors.New("authentication rejected")
)

// ContextNotFoundError is returned when no document satisfied a predicate
// within the wait bound.
type ContextNotFoundError struct {
	Predicate string
	Waited    time.Duration
	// Scanned holds the URLs of the documents seen in the last round.
	Scanned []string
}

func (e *ContextNotFoundError) Error() string {
	return fmt.Sprintf("no document matching %s after %s (scanned %d: %s)",
		e.Predicate, e.Waited, len(e.Scanned), strings.Join(e.Scanned, ", "))
}

func (e *ContextNotFoundError) Is(target error) bool { return target == ErrContextNotFound }

// NoCandidateError lists every descriptor that was attempted.
type NoCandidateError struct {
	Descriptors []string
	Timeout     time.Duration
	Presence    bool
	// Last is the most recent port error seen while polling, if any.
	Last error
}

func (e *NoCandidateError) Error() string {
	mode := "actionable"
	if e.Presence {
		mode = "present"
	}
	msg := fmt.Sprintf("no %s element for any of [%s] within %s", mode, strings.Join(e.Descriptors, " | "), e.Timeout)
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *NoCandidateError) Is(target error) bool { return target == ErrNoCandidate }

func (e *NoCandidateError) Unwrap() error { return e.Last }

// StabilityTimeoutError is the error form of an unstable StabilityResult.
type StabilityTimeoutError struct {
	Target  string
	Samples int
	Elapsed time.Duration
	Last    Geometry
}

func (e *StabilityTimeoutError) Error() string {
	return fmt.Sprintf("%s not stable after %d samples in %s (last %s)", e.Target, e.Samples, e.Elapsed, e.Last)
}

func (e *StabilityTimeoutError) Is(target error) bool { return target == ErrStabilityTimeout }

// UnhandledDialogError records a dialog that arrived with nothing armed. The
// dialog has already been dismissed when this error is observed.
type UnhandledDialogError struct {
	Kind    DialogKind
	Message string
}

func (e *UnhandledDialogError) Error() string {
	return fmt.Sprintf("unexpected %s dialog dismissed: %q", e.Kind, e.Message)
}

func (e *UnhandledDialogError) Is(target error) bool { return target == ErrUnhandledDialog }

// AuthenticationRejectedError is returned after the retry was also rejected.
type AuthenticationRejectedError struct {
	Step     string
	Attempts int
}

func (e *AuthenticationRejectedError) Error() string {
	return fmt.Sprintf("%s: passcode rejected after %d attempts", e.Step, e.Attempts)
}

func (e *AuthenticationRejectedError) Is(target error) bool {
	return target == ErrAuthenticationRejected
}
