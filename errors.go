package vault

import (
	"errors"
	"fmt"

	"github.com/axiomvault/vault/store"
)

// Code is the stable discriminant of an engine error. Codes cross the API
// boundary unchanged; their debug strings are static and never carry key
// material, plaintext content, or cleartext names.
type Code uint8

const (
	// CodeInvalidInput means a path, name, or size constraint was violated
	// before any I/O.
	CodeInvalidInput Code = iota + 1
	// CodeUnauthorized means the password was wrong: the AEAD unwrap of
	// k_wrap from the config record under the master key failed.
	CodeUnauthorized
	// CodeUnauthentic means an AEAD tag failed verification on content, a
	// name, a directory record, or the config inner blob.
	CodeUnauthentic
	// CodeNotFound means path resolution terminated without a match.
	CodeNotFound
	// CodeAlreadyExists means a create collided with an existing entry.
	CodeAlreadyExists
	// CodeConflict means a compare-and-swap exhausted its retries.
	CodeConflict
	// CodeUnsupported means the operation is valid in the format but not
	// implemented in this version, e.g. sub-chunk random writes.
	CodeUnsupported
	// CodeCancelled means the caller aborted the operation before its
	// commit point.
	CodeCancelled
	// CodeStore means an opaque backend failure, bubbled from the
	// ObjectStore.
	CodeStore
	// CodeCorrupt means an internal invariant was violated: dangling
	// reference, format version mismatch, wrong magic.
	CodeCorrupt
	// CodeLocked means the vault is locked and cannot serve data
	// operations.
	CodeLocked
)

// String returns the static debug string for the code.
func (c Code) String() string {
	switch c {
	case CodeInvalidInput:
		return "invalid input"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeUnauthentic:
		return "unauthentic"
	case CodeNotFound:
		return "not found"
	case CodeAlreadyExists:
		return "already exists"
	case CodeConflict:
		return "conflict"
	case CodeUnsupported:
		return "unsupported"
	case CodeCancelled:
		return "cancelled"
	case CodeStore:
		return "store failure"
	case CodeCorrupt:
		return "corrupt"
	case CodeLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by every vault operation.
//
// Path is set only for operations whose path the caller supplied; error
// payloads never carry cleartext names the caller does not already know.
type Error struct {
	Code Code
	Op   string // operation, e.g. "open", "rename"
	Path string // caller-supplied path, if applicable
	Err  error  // underlying error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("vault: %s %s: %s", e.Op, e.Path, e.Code)
	case e.Op != "":
		return fmt.Sprintf("vault: %s: %s", e.Op, e.Code)
	default:
		return fmt.Sprintf("vault: %s", e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches by code, so errors.Is(err, &Error{Code: CodeNotFound}) holds
// for any not-found error regardless of operation or path.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func errf(code Code, op, path string) *Error {
	return &Error{Code: code, Op: op, Path: path}
}

func wrapErr(code Code, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

// wrapStore maps a backend failure into the engine taxonomy. Most store
// errors bubble as CodeStore; a failed CAS becomes CodeConflict so callers
// see one conflict discriminant regardless of which object raced.
func wrapStore(op, path string, err error) *Error {
	if store.IsPreconditionFailed(err) {
		return &Error{Code: CodeConflict, Op: op, Path: path, Err: err}
	}
	return &Error{Code: CodeStore, Op: op, Path: path, Err: err}
}

// CodeOf extracts the engine code from err, or 0 when err is not a vault
// error.
func CodeOf(err error) Code {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return 0
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsUnauthorized reports whether err carries CodeUnauthorized.
func IsUnauthorized(err error) bool { return CodeOf(err) == CodeUnauthorized }

// IsUnauthentic reports whether err carries CodeUnauthentic.
func IsUnauthentic(err error) bool { return CodeOf(err) == CodeUnauthentic }

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsAlreadyExists reports whether err carries CodeAlreadyExists.
func IsAlreadyExists(err error) bool { return CodeOf(err) == CodeAlreadyExists }

// IsInvalidInput reports whether err carries CodeInvalidInput.
func IsInvalidInput(err error) bool { return CodeOf(err) == CodeInvalidInput }

// IsCancelled reports whether err carries CodeCancelled.
func IsCancelled(err error) bool { return CodeOf(err) == CodeCancelled }

// IsCorrupt reports whether err carries CodeCorrupt.
func IsCorrupt(err error) bool { return CodeOf(err) == CodeCorrupt }
