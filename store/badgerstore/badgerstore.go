// Package badgerstore persists vault objects in a BadgerDB key-value
// store. Badger transactions give compare-and-swap its atomicity: the
// revision check and the write commit together or not at all, so this
// backend is safe for concurrent sessions against one database.
package badgerstore

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/zeebo/blake3"

	"github.com/axiomvault/vault/store"
)

// Store is a badger-backed ObjectStore.
type Store struct {
	db    *badger.DB
	owned bool
}

// Open opens (or creates) a badger database at dir. Logging from badger
// itself is discarded; the engine logs at its own layer.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &store.Error{Kind: store.KindTransport, Err: err}
	}
	return &Store{db: db, owned: true}, nil
}

// OpenInMemory opens an ephemeral in-memory database, for tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &store.Error{Kind: store.KindTransport, Err: err}
	}
	return &Store{db: db, owned: true}, nil
}

// Wrap adapts an existing badger database the caller manages.
func Wrap(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database if this store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func revisionOf(body []byte) store.RevisionTag {
	sum := blake3.Sum256(body)
	return store.RevisionTag(hexEncode(sum[:16]))
}

const hexdigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}

func itemValue(item *badger.Item) ([]byte, error) {
	var out []byte
	err := item.Value(func(val []byte) error {
		out = append([]byte(nil), val...)
		return nil
	})
	return out, err
}

// Put implements store.ObjectStore.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, expected *store.RevisionTag) (store.RevisionTag, error) {
	if err := ctx.Err(); err != nil {
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	rev := revisionOf(data)

	err = s.db.Update(func(txn *badger.Txn) error {
		if expected != nil {
			item, err := txn.Get([]byte(key))
			if err == badger.ErrKeyNotFound {
				return &store.Error{Kind: store.KindPreconditionFailed, Key: key}
			}
			if err != nil {
				return &store.Error{Kind: store.KindTransport, Key: key, Err: err}
			}
			cur, err := itemValue(item)
			if err != nil {
				return &store.Error{Kind: store.KindTransport, Key: key, Err: err}
			}
			if revisionOf(cur) != *expected {
				return &store.Error{Kind: store.KindPreconditionFailed, Key: key}
			}
		}
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		if se, ok := err.(*store.Error); ok {
			return "", se
		}
		if err == badger.ErrConflict {
			return "", &store.Error{Kind: store.KindPreconditionFailed, Key: key, Err: err}
		}
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	return rev, nil
}

// Get implements store.ObjectStore.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, store.RevisionTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		body, err = itemValue(item)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, "", &store.Error{Kind: store.KindNotFound, Key: key}
	}
	if err != nil {
		return nil, "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	return io.NopCloser(bytes.NewReader(body)), revisionOf(body), nil
}

// Head implements store.ObjectStore.
func (s *Store) Head(ctx context.Context, key string) (store.RevisionTag, error) {
	rc, rev, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	rc.Close()
	return rev, nil
}

// Delete implements store.ObjectStore.
func (s *Store) Delete(ctx context.Context, key string, expected *store.RevisionTag) error {
	if err := ctx.Err(); err != nil {
		return &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return &store.Error{Kind: store.KindNotFound, Key: key}
		}
		if err != nil {
			return &store.Error{Kind: store.KindTransport, Key: key, Err: err}
		}
		if expected != nil {
			cur, err := itemValue(item)
			if err != nil {
				return &store.Error{Kind: store.KindTransport, Key: key, Err: err}
			}
			if revisionOf(cur) != *expected {
				return &store.Error{Kind: store.KindPreconditionFailed, Key: key}
			}
		}
		return txn.Delete([]byte(key))
	})
	if err != nil {
		if se, ok := err.(*store.Error); ok {
			return se
		}
		return &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	return nil
}

// List implements store.ObjectStore.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &store.Error{Kind: store.KindTransport, Err: err}
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			key := string(it.Item().Key())
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &store.Error{Kind: store.KindTransport, Err: err}
	}
	return keys, nil
}
