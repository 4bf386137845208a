package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a row does not exist
var ErrNotFound = errors.New("not found")

// RejectionKind classifies terminal pipeline failures. Anything not wrapped
// in a RejectionError is treated as transient and retried by the queue.
type RejectionKind string

const (
	RejectionInput     RejectionKind = "input_validation" // Malformed or incomplete work item
	RejectionPolicy    RejectionKind = "policy"           // Blocklist, missing evidence, gate refusal
	RejectionIntegrity RejectionKind = "integrity"        // Evidence chain broken: hash or quote mismatch
)

// RejectionError marks a failure that retrying cannot fix. The queue layer
// parks the job immediately and the audit log records the reason.
type RejectionError struct {
	Kind    RejectionKind
	Subject string // Entity the rejection is about, e.g. "rule/abc123"
	Reason  string
	Err     error // Optional underlying cause
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("%s rejection: %s", e.Kind, e.Reason)
	if e.Subject != "" {
		msg = fmt.Sprintf("%s rejection (%s): %s", e.Kind, e.Subject, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RejectionError) Unwrap() error { return e.Err }

// NewInputRejection flags a malformed work item
func NewInputRejection(subject, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Kind: RejectionInput, Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// NewPolicyRejection flags a work item refused by pipeline policy
func NewPolicyRejection(subject, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Kind: RejectionPolicy, Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// NewIntegrityViolation flags a broken evidence chain. Highest severity:
// callers must halt the affected work, not degrade around it.
func NewIntegrityViolation(subject, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Kind: RejectionIntegrity, Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// IsTerminal reports whether err should never be retried
func IsTerminal(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// RejectionOf extracts the RejectionError from err, or nil
func RejectionOf(err error) *RejectionError {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej
	}
	return nil
}
