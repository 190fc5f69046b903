package memstore

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/axiomvault/vault/store"
)

// TraceStore wraps an ObjectStore and records every byte written through
// it. Test hook for the no-plaintext-leakage property: after a run, the
// recorded trace must not contain any cleartext name or file body.
type TraceStore struct {
	store.ObjectStore

	mu     sync.Mutex
	writes []byte
	keys   []string
}

// NewTraceStore wraps inner.
func NewTraceStore(inner store.ObjectStore) *TraceStore {
	return &TraceStore{ObjectStore: inner}
}

// Put records body and key before delegating.
func (t *TraceStore) Put(ctx context.Context, key string, body io.Reader, expected *store.RevisionTag) (store.RevisionTag, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	t.mu.Lock()
	t.writes = append(t.writes, data...)
	t.keys = append(t.keys, key)
	t.mu.Unlock()
	return t.ObjectStore.Put(ctx, key, bytes.NewReader(data), expected)
}

// Observed reports whether needle appears anywhere in the written bytes or
// in any key.
func (t *TraceStore) Observed(needle []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bytes.Contains(t.writes, needle) {
		return true
	}
	for _, k := range t.keys {
		if bytes.Contains([]byte(k), needle) {
			return true
		}
	}
	return false
}
