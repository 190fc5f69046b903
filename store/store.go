// Package store defines the object-store contract consumed by the vault
// engine. Implementations persist opaque byte blobs under flat string keys
// and expose compare-and-swap semantics through revision tags. The engine
// never names a concrete backend; backends live in the subpackages
// (memstore, absstore, badgerstore) and callers outside this module may
// supply their own.
package store

import (
	"bytes"
	"context"
	"io"
)

// RevisionTag identifies one revision of a stored object. Tags are opaque
// to the engine; two tags are equal exactly when they refer to the same
// stored body. The empty tag is never a valid revision.
type RevisionTag string

// ObjectStore is the abstract byte-blob backend.
//
// Put must be atomic: a concurrent Get observes either the previous body
// or the new body in full, never a torn intermediate. Backends that cannot
// write atomically must emulate it by writing a temporary object and
// renaming it into place.
//
// All operations honor context cancellation; a cancelled or timed-out
// backend call surfaces as a Transport error.
type ObjectStore interface {
	// Put writes body under key. If expected is non-nil the write succeeds
	// only while the current revision equals *expected (compare-and-swap);
	// if nil the write is an unconditional create-or-replace. Returns the
	// revision of the stored body.
	Put(ctx context.Context, key string, body io.Reader, expected *RevisionTag) (RevisionTag, error)

	// Get returns the body and current revision of key.
	Get(ctx context.Context, key string) (io.ReadCloser, RevisionTag, error)

	// Head returns the current revision of key without transferring the body.
	Head(ctx context.Context, key string) (RevisionTag, error)

	// Delete removes key. CAS semantics as Put.
	Delete(ctx context.Context, key string, expected *RevisionTag) error

	// List returns the keys under prefix, in unspecified order. The engine
	// uses it only for discovery and repair, never for directory listings.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Tag returns a pointer to t, for use as the expected argument of Put and
// Delete.
func Tag(t RevisionTag) *RevisionTag { return &t }

// GetBytes reads the full body of key.
func GetBytes(ctx context.Context, s ObjectStore, key string) ([]byte, RevisionTag, error) {
	rc, rev, err := s.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", &Error{Kind: KindTransport, Key: key, Err: err}
	}
	return body, rev, nil
}

// PutBytes writes body under key with the given CAS expectation.
func PutBytes(ctx context.Context, s ObjectStore, key string, body []byte, expected *RevisionTag) (RevisionTag, error) {
	return s.Put(ctx, key, bytes.NewReader(body), expected)
}
