// Package svcerr defines the failure taxonomy shared by every pipeline
// stage: transient failures are retried, permanent ones degrade the stage
// that hit them, and orchestrator faults are fatal to a single session.
package svcerr

import (
	"errors"
	"fmt"
	"net/http"
)

// TransientError marks a failure worth retrying (timeouts, 5xx).
type TransientError struct {
	Service string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Service, e.Err)
}
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that must not be retried. The affected
// stage degrades (absent visual context, unset benchmark, FAILED mockup)
// and the session keeps going.
type PermanentError struct {
	Service string
	Err     error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent failure: %v", e.Service, e.Err)
}
func (e *PermanentError) Unwrap() error { return e.Err }

// ExtractionError covers frame extraction specifically. Same
// degrade-and-continue policy as PermanentError.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("frame extraction: %v", e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

// MemoryStoreError wraps memory store failures. Recall failures yield an
// empty memory set; write failures drop the insight. Never blocks publish.
type MemoryStoreError struct {
	Op  string // "store" | "recall"
	Err error
}

func (e *MemoryStoreError) Error() string { return fmt.Sprintf("memory store %s: %v", e.Op, e.Err) }
func (e *MemoryStoreError) Unwrap() error { return e.Err }

// OrchestratorFault is an internal invariant violation. Fatal to the
// owning session only.
type OrchestratorFault struct {
	SessionID string
	Err       error
}

func (e *OrchestratorFault) Error() string {
	return fmt.Sprintf("orchestrator fault (session %s): %v", e.SessionID, e.Err)
}
func (e *OrchestratorFault) Unwrap() error { return e.Err }

func Transientf(service, format string, args ...any) error {
	return &TransientError{Service: service, Err: fmt.Errorf(format, args...)}
}

func Permanentf(service, format string, args ...any) error {
	return &PermanentError{Service: service, Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// FromStatus classifies an HTTP response code from an external service.
// 2xx is nil (not an error), 429 and 5xx are transient, everything else
// is permanent.
func FromStatus(service string, status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return Transientf(service, "status %d: %s", status, body)
	default:
		return Permanentf(service, "status %d: %s", status, body)
	}
}

// AsPermanent converts a transient error whose retry budget is exhausted.
// Errors already classified permanent pass through unchanged.
func AsPermanent(service string, err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return &PermanentError{Service: service, Err: err}
}
