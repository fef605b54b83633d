/*
Logic:       The error taxonomy shared by every component downstream of a
             request: a fixed set of kinds, a Error type carrying a kind
             plus a causal message, and helpers for classifying and
             rendering errors without leaking internal detail to callers.
Root Cause:  Spec §7 ERROR HANDLING DESIGN — components report kinds, not
             type names, and the propagation policy requires every node
             result to carry an error as a value rather than a panic/raise.
*/
package orcherr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error categories from the error taxonomy.
// Callers switch on Kind, never on the underlying message text.
type Kind string

const (
	BudgetExceeded      Kind = "BudgetExceeded"
	RateLimited         Kind = "RateLimited"
	DeadlineExceeded    Kind = "DeadlineExceeded"
	WorkerTimeout       Kind = "WorkerTimeout"
	NoEligibleWorker    Kind = "NoEligibleWorker"
	ResidentSetBusy     Kind = "ResidentSetBusy"
	LoadFailed          Kind = "LoadFailed"
	GraphRoutingError   Kind = "GraphRoutingError"
	ContentPolicyReject Kind = "ContentPolicyRejected"
	TransientStoreError Kind = "TransientStoreError"
	BudgetUnknown       Kind = "BudgetUnknown"
	Unknown             Kind = "Unknown"
)

// Error is the value form every node and component returns instead of
// raising a Go error out of its control flow (§7 Propagation policy).
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter string // set for RateLimited; empty otherwise
	cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind with a human-readable message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind to an underlying error, preserving it for
// errors.Is/As while presenting only the kind and message to callers.
func Wrap(kind Kind, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// RateLimitedWithRetry builds a RateLimited error carrying a retry-after
// hint for the caller (§6 response surface).
func RateLimitedWithRetry(retryAfter string) *Error {
	return &Error{Kind: RateLimited, Message: "rate limit reached", RetryAfter: retryAfter}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error,
// defaulting to Unknown otherwise — the catch-all that always gets logged
// with full state for post-mortem (§7).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return Unknown
}

// UserFacing reports whether a response for this kind should withhold
// generated content and surface only an explanatory message (§7
// User-visible behaviour: BudgetExceeded / RateLimited get no content).
func UserFacing(kind Kind) bool {
	return kind == BudgetExceeded || kind == RateLimited
}
