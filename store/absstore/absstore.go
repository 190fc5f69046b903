// Package absstore persists vault objects as files on any
// absfs.FileSystem. Object keys map to relative paths under a root
// directory; atomic puts are emulated by writing a temporary file and
// renaming it into place. Compare-and-swap is process-local: the store
// serializes its own CAS window with a mutex, which is sound for the
// engine's single-writer-per-vault deployment model.
package absstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/absfs/absfs"
	"github.com/zeebo/blake3"

	"github.com/axiomvault/vault/store"
)

// Store is a filesystem-backed ObjectStore.
type Store struct {
	fs   absfs.FileSystem
	root string

	mu  sync.Mutex
	seq int
}

// New creates a store rooted at dir on fs, creating dir if needed.
func New(fs absfs.FileSystem, dir string) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, &store.Error{Kind: store.KindTransport, Err: err}
	}
	return &Store{fs: fs, root: dir}, nil
}

// objectPath maps a key to its on-disk path. Keys contain at most one
// slash-separated prefix (dirs/, files/, journal/), which becomes a
// subdirectory.
func (s *Store) objectPath(key string) string {
	return path.Join(s.root, key)
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

func (s *Store) readObject(key string) ([]byte, error) {
	f, err := s.fs.Open(s.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &store.Error{Kind: store.KindNotFound, Key: key}
		}
		return nil, &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return nil, &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	return body, nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if expected != nil {
		cur, err := s.readObject(key)
		if err != nil {
			if store.IsNotFound(err) {
				return "", &store.Error{Kind: store.KindPreconditionFailed, Key: key}
			}
			return "", err
		}
		if revisionOf(cur) != *expected {
			return "", &store.Error{Kind: store.KindPreconditionFailed, Key: key}
		}
	}

	dst := s.objectPath(key)
	if err := s.fs.MkdirAll(path.Dir(dst), 0o700); err != nil {
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}

	// Write-then-rename keeps readers on the old body until the new one
	// is complete.
	s.seq++
	tmp := dst + ".tmp" + hexEncode([]byte{byte(s.seq >> 8), byte(s.seq)})
	f, err := s.fs.Create(tmp)
	if err != nil {
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		s.fs.Remove(tmp)
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	return revisionOf(data), nil
}

// Get implements store.ObjectStore.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, store.RevisionTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	body, err := s.readObject(key)
	if err != nil {
		return nil, "", err
	}
	return io.NopCloser(bytes.NewReader(body)), revisionOf(body), nil
}

// Head implements store.ObjectStore.
func (s *Store) Head(ctx context.Context, key string) (store.RevisionTag, error) {
	if err := ctx.Err(); err != nil {
		return "", &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	body, err := s.readObject(key)
	if err != nil {
		return "", err
	}
	return revisionOf(body), nil
}

// Delete implements store.ObjectStore.
func (s *Store) Delete(ctx context.Context, key string, expected *store.RevisionTag) error {
	if err := ctx.Err(); err != nil {
		return &store.Error{Kind: store.KindTransport, Key: key, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.readObject(key)
	if err != nil {
		return err
	}
	if expected != nil && revisionOf(cur) != *expected {
		return &store.Error{Kind: store.KindPreconditionFailed, Key: key}
	}
	if err := s.fs.Remove(s.objectPath(key)); err != nil {
		if os.IsNotExist(err) {
			return &store.Error{Kind: store.KindNotFound, Key: key}
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
	var walk func(rel string) error
	walk = func(rel string) error {
		dir := path.Join(s.root, rel)
		f, err := s.fs.Open(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		infos, err := f.Readdir(-1)
		f.Close()
		if err != nil {
			return err
		}
		for _, info := range infos {
			child := info.Name()
			if child == "." || child == ".." {
				continue
			}
			relChild := child
			if rel != "" {
				relChild = rel + "/" + child
			}
			if info.IsDir() {
				if err := walk(relChild); err != nil {
					return err
				}
				continue
			}
			if strings.Contains(child, ".tmp") {
				continue
			}
			if strings.HasPrefix(relChild, prefix) {
				keys = append(keys, relChild)
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, &store.Error{Kind: store.KindTransport, Err: err}
	}
	return keys, nil
}
