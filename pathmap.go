package vault

import (
	"context"
	"crypto/sha256"

	"github.com/axiomvault/vault/store"
)

// Storage-key derivation. Directory and content ids are 128-bit values;
// the backend-visible key is the hex of their SHA-256, which keeps the
// raw ids (the values bound into record AADs) off the backend entirely
// and yields the fixed 64-hex key shape for every object class.

const (
	dirKeyPrefix     = "dirs/"
	fileKeyPrefix    = "files/"
	journalKeyPrefix = "journal/"

	// stageSuffixBytes is the random half of a staging key suffix.
	stageSuffixBytes = 8
)

func hashedKey(prefix string, id ID) string {
	sum := sha256.Sum256(id[:])
	return prefix + hexEncode(sum[:])
}

func dirKey(id ID) string  { return hashedKey(dirKeyPrefix, id) }
func fileKey(id ID) string { return hashedKey(fileKeyPrefix, id) }

// stageKey builds a transient staging key for a content object. Staging
// objects older than one hour are safe to garbage-collect.
func stageKey(id ID) (string, error) {
	suffix, err := randomBytes(stageSuffixBytes)
	if err != nil {
		return "", err
	}
	return fileKey(id) + ".stage." + hexEncode(suffix), nil
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0f]
	}
	return string(out)
}

// resolution is the result of walking a path through the directory
// records.
type resolution struct {
	kind     EntryKind
	ref      ID // content id for files, dir id for directories
	parent   ID // dir id of the containing directory; root's parent is itself
	entry    DirEntry
	isRoot   bool
	sizeHint uint64
}

// pathMapper resolves cleartext paths against the sealed directory tree.
// It is a pure function of the keyring and the store: each step opens the
// parent's sealed record to find the child and follows the child ref
// stored in that record.
type pathMapper struct {
	store store.ObjectStore
	kr    *Keyring
	names *nameCipher
}

func newPathMapper(s store.ObjectStore, kr *Keyring) (*pathMapper, error) {
	names, err := newNameCipher(kr.kName.Bytes())
	if err != nil {
		return nil, err
	}
	return &pathMapper{store: s, kr: kr, names: names}, nil
}

// resolve walks segments from the root; the structured result
// distinguishes files from directories. NotFound carries the caller's
// full path only; it does not report which ancestor exists.
func (m *pathMapper) resolve(ctx context.Context, op string, p string) (*resolution, error) {
	segments, err := splitPath(op, p)
	if err != nil {
		return nil, err
	}
	rootID, err := m.kr.rootDirID()
	if err != nil {
		return nil, wrapErr(CodeCorrupt, op, p, err)
	}
	if len(segments) == 0 {
		return &resolution{kind: EntryDir, ref: rootID, parent: rootID, isRoot: true}, nil
	}

	dirID := rootID
	for i, seg := range segments {
		entries, _, err := loadDir(ctx, m.store, m.kr, dirID)
		if err != nil {
			return nil, err
		}
		entry, idx := findEntry(entries, seg)
		if idx < 0 {
			return nil, errf(CodeNotFound, op, p)
		}
		last := i == len(segments)-1
		if last {
			return &resolution{
				kind:     entry.Kind,
				ref:      entry.Ref,
				parent:   dirID,
				entry:    entry,
				sizeHint: entry.SizeHint,
			}, nil
		}
		if entry.Kind != EntryDir {
			// A file in the middle of the path: nothing below it exists.
			return nil, errf(CodeNotFound, op, p)
		}
		dirID = entry.Ref
	}
	// Unreachable: the loop returns on the last segment.
	return nil, errf(CodeCorrupt, op, p)
}

// resolveDir resolves p and requires a directory.
func (m *pathMapper) resolveDir(ctx context.Context, op, p string) (*resolution, error) {
	res, err := m.resolve(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if res.kind != EntryDir {
		return nil, errf(CodeInvalidInput, op, p)
	}
	return res, nil
}

// resolveParent resolves the parent directory of p and returns its dir id
// together with the validated final segment. The parent must exist and be
// a directory; the leaf may or may not exist.
func (m *pathMapper) resolveParent(ctx context.Context, op, p string) (parentID ID, name string, err error) {
	parentSegs, name, err := splitParent(op, p)
	if err != nil {
		return ID{}, "", err
	}
	parentPath := "/"
	if len(parentSegs) > 0 {
		parentPath = "/" + joinSegments(parentSegs)
	}
	res, err := m.resolveDir(ctx, op, parentPath)
	if err != nil {
		// Report against the caller's path, not the derived parent.
		if IsNotFound(err) {
			return ID{}, "", errf(CodeNotFound, op, p)
		}
		return ID{}, "", err
	}
	return res.ref, name, nil
}

// token returns the deterministic storage-visible token for seg under
// dirID. The engine exposes it for collision probes and diagnostics; the
// token never appears in an error message or a log.
func (m *pathMapper) token(dirID ID, seg string) (string, error) {
	return m.names.EncryptSegment(dirID, seg)
}

func joinSegments(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
