package errclass

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"
)

// Kind partitions resolution failures by how the coordinator reacts to them.
type Kind string

const (
	// KindTransient covers rate limits, network timeouts and upstream 5xx.
	// Always retried with backoff; never drives a terminal state.
	KindTransient Kind = "transient"
	// KindNotFound is a legitimate "no match", not a failure.
	KindNotFound Kind = "not_found"
	// KindConflict covers serialization failures and unique-constraint races.
	KindConflict Kind = "conflict"
	// KindPermanent covers malformed or invalid upstream data. Terminal for
	// the attempt, still eligible for scheduled recovery.
	KindPermanent Kind = "permanent"
	// KindPolicyBlocked is content disallowed by platform policy. No retry.
	KindPolicyBlocked Kind = "policy_blocked"
)

// Error tags a failure with its taxonomy kind and a sanitized reason that is
// safe to persist and surface to operators.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	err    error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.err }

// New wraps err with a taxonomy kind. The stored reason is sanitized.
func New(kind Kind, op string, err error) *Error {
	reason := ""
	if err != nil {
		reason = Sanitize(err.Error())
	}
	return &Error{Kind: kind, Op: op, Reason: reason, err: err}
}

func Transient(op string, err error) *Error     { return New(KindTransient, op, err) }
func NotFound(op string, err error) *Error      { return New(KindNotFound, op, err) }
func Conflict(op string, err error) *Error      { return New(KindConflict, op, err) }
func Permanent(op string, err error) *Error     { return New(KindPermanent, op, err) }
func PolicyBlocked(op string, err error) *Error { return New(KindPolicyBlocked, op, err) }

// KindOf classifies an arbitrary error. Unknown failures classify as
// transient so the job system retries them rather than burying them.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return KindNotFound
	}
	if IsConflict(err) {
		return KindConflict
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}

// Reason extracts the sanitized persisted reason for an error.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) && tagged.Reason != "" {
		return tagged.Reason
	}
	return Sanitize(err.Error())
}

// IsConflict reports whether err is a serialization failure or a
// unique-constraint race, both of which are safe to retry inside the
// transaction combinator. Postgres reports these as SQLSTATE 40001/40P01
// and 23505.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 40001") ||
		strings.Contains(msg, "SQLSTATE 40P01") ||
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// IsRetryable reports whether the coordinator's enclosing job should retry.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindConflict:
		return true
	default:
		return false
	}
}

const maxReasonLength = 500

var (
	bearerPattern     = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/=-]+`)
	credentialPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password|authorization)\s*[=:]\s*\S+`)
	urlUserinfo       = regexp.MustCompile(`://[^/\s@]+@`)
)

// Sanitize strips credentials, tokens and stack traces from externally
// sourced error text and caps its length. The result is persisted and may be
// shown to operators or users.
func Sanitize(msg string) string {
	// Everything after the first newline is assumed to be a stack trace or
	// multi-line driver dump.
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}

	msg = bearerPattern.ReplaceAllString(msg, "[redacted]")
	msg = credentialPattern.ReplaceAllString(msg, "$1=[redacted]")
	msg = urlUserinfo.ReplaceAllString(msg, "://[redacted]@")
	msg = strings.Join(strings.Fields(msg), " ")

	if len(msg) > maxReasonLength {
		msg = msg[:maxReasonLength]
	}
	return msg
}
