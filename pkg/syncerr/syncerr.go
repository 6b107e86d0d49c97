package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error without requiring callers to parse its message.
type Kind int

const (
	// Unknown is the zero value; New never produces it.
	Unknown Kind = iota

	// BsoNotFound means the requested BSO id does not exist, or exists but
	// is expired.
	BsoNotFound

	// CollectionNotFound means the collection has never been written to
	// for this user.
	CollectionNotFound

	// BatchNotFound means the batch id does not exist, has already been
	// committed, or has expired.
	BatchNotFound

	// Conflict means a conditional request's precondition failed (an
	// If-Unmodified-Since style check against the collection's modified
	// timestamp).
	Conflict

	// Quota means the write would exceed the account's storage quota.
	Quota

	// TooLarge means a single BSO payload or an entire request body
	// exceeds the configured size limit.
	TooLarge

	// Invalid means the request itself is malformed: a BSO id, sortindex,
	// or ttl outside its allowed range, or a collection name that cannot
	// be mapped to an id.
	Invalid

	// PoolTimeout means a connection or transaction slot could not be
	// acquired from the backend within the configured deadline.
	PoolTimeout

	// DbInternal means the backend returned an error its caller cannot do
	// anything about: a dropped connection, a constraint violation that
	// indicates a bug, a wire protocol error.
	DbInternal

	// Integrity means the backend observed state that should be
	// impossible under the storage engine's own invariants, such as a BSO
	// row referencing a collection id with no corresponding collection.
	Integrity
)

func (k Kind) String() string {
	switch k {
	case BsoNotFound:
		return "bso_not_found"
	case CollectionNotFound:
		return "collection_not_found"
	case BatchNotFound:
		return "batch_not_found"
	case Conflict:
		return "conflict"
	case Quota:
		return "quota"
	case TooLarge:
		return "too_large"
	case Invalid:
		return "invalid"
	case PoolTimeout:
		return "pool_timeout"
	case DbInternal:
		return "db_internal"
	case Integrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error of the same Kind, so
// errors.Is(err, syncerr.New(syncerr.BsoNotFound, "")) matches any
// BsoNotFound error regardless of its message. The package-level Is
// function below is the shorter spelling.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an *Error of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind, preserving cause so
// errors.Unwrap keeps working.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it is, or wraps, a *Error, and Unknown
// otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is, or wraps, a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
