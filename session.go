package vault

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/axiomvault/vault/store"
)

// State is the externally observable session lifecycle.
type State uint8

const (
	// StateLocked means no keyring is in memory.
	StateLocked State = iota
	// StateUnlocking means key derivation is in progress.
	StateUnlocking
	// StateUnlocked means data operations are being served.
	StateUnlocked
	// StateLocking means open handles are draining before the keyring is
	// wiped.
	StateLocking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocking:
		return "unlocking"
	case StateUnlocked:
		return "unlocked"
	case StateLocking:
		return "locking"
	default:
		return "unknown"
	}
}

// OpenMode selects the role of a file handle.
type OpenMode uint8

const (
	// OpenRead opens an existing file for range reads. Readers observe a
	// consistent snapshot of the content object taken at open.
	OpenRead OpenMode = iota + 1
	// OpenWrite opens a file for replacement: writes stream into a staging
	// object, and Close(commit) atomically swaps it in. At most one writer
	// per file at a time.
	OpenWrite
)

// Handle identifies an open file within a session. Handles are plain
// integers into the session's table; they never point back into session
// internals.
type Handle uint64

// Info is the result of a Stat.
type Info struct {
	Kind EntryKind
	// Size is the exact plaintext size for files, 0 for directories.
	Size int64
}

// Session is the mutable state of an unlocked vault: the keyring, the
// open-file table, the per-object writer locks, and in-flight staging
// writes. A session is safe for concurrent use; the session mutex is
// never held across a store round-trip (only per-object locks are).
type Session struct {
	store  store.ObjectStore
	kr     *Keyring
	mapper *pathMapper
	config *Config
	cfgRev store.RevisionTag
	log    *logrus.Logger

	locks *lockTable

	mu      sync.Mutex
	handles map[Handle]*fileHandle
	nextID  Handle
	closed  bool
}

type fileHandle struct {
	id        Handle
	path      string
	mode      OpenMode
	contentID ID
	parentID  ID
	name      string

	// Reader state: the object snapshot taken at open.
	obj []byte

	// Writer state: ciphertext streams through the pipe into the staging
	// object while the handle accepts plaintext writes.
	stageKey string
	enc      *streamWriter
	pw       *io.PipeWriter
	putDone  chan struct{}
	putRev   store.RevisionTag
	putErr   error
	baseRev  store.RevisionTag
	cursor   int64
	finished bool
}

func newSession(s store.ObjectStore, kr *Keyring, cfg *Config, cfgRev store.RevisionTag, log *logrus.Logger) (*Session, error) {
	mapper, err := newPathMapper(s, kr)
	if err != nil {
		return nil, err
	}
	return &Session{
		store:   s,
		kr:      kr,
		mapper:  mapper,
		config:  cfg,
		cfgRev:  cfgRev,
		log:     log,
		locks:   newLockTable(),
		handles: make(map[Handle]*fileHandle),
		nextID:  1,
	}, nil
}

// CreateFile creates an empty file at p. The parent directory must exist;
// the name must not.
func (s *Session) CreateFile(ctx context.Context, p string) error {
	parentID, name, err := s.mapper.resolveParent(ctx, "create_file", p)
	if err != nil {
		return err
	}

	parentKey := dirKey(parentID)
	if err := s.locks.acquire(ctx, parentKey); err != nil {
		return err
	}
	defer s.locks.release(parentKey)

	contentID := newRandomID()

	// Write the empty content object before linking it: a crash after
	// this put leaves unreachable garbage, never a dangling reference.
	enc, err := emptyContentObject(s.kr.kContent.Bytes())
	if err != nil {
		return wrapErr(CodeStore, "create_file", p, err)
	}
	if _, err := store.PutBytes(ctx, s.store, fileKey(contentID), enc, nil); err != nil {
		return wrapStore("create_file", p, err)
	}

	err = mutateDir(ctx, s.store, s.kr, parentID, func(entries []DirEntry) ([]DirEntry, error) {
		taken, err := s.nameTaken(parentID, entries, name)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, errf(CodeAlreadyExists, "create_file", p)
		}
		return append(entries, DirEntry{Kind: EntryFile, Name: name, Ref: contentID}), nil
	})
	if err != nil {
		// Roll back the unlinked object; an orphan is tolerable garbage if
		// this delete fails too.
		if delErr := s.store.Delete(ctx, fileKey(contentID), nil); delErr != nil {
			s.log.WithField("op", "create_file").Warn("orphaned content object left behind")
		}
		return err
	}
	return nil
}

// CreateDir creates an empty directory at p. Creating a directory always
// writes its (empty) record: existence and emptiness stay distinguishable.
func (s *Session) CreateDir(ctx context.Context, p string) error {
	parentID, name, err := s.mapper.resolveParent(ctx, "create_dir", p)
	if err != nil {
		return err
	}

	parentKey := dirKey(parentID)
	if err := s.locks.acquire(ctx, parentKey); err != nil {
		return err
	}
	defer s.locks.release(parentKey)

	childID, err := s.kr.childDirID(parentID, name)
	if err != nil {
		return wrapErr(CodeCorrupt, "create_dir", p, err)
	}

	current, _, err := loadDir(ctx, s.store, s.kr, parentID)
	if err != nil {
		return err
	}
	if taken, err := s.nameTaken(parentID, current, name); err != nil {
		return err
	} else if taken {
		return errf(CodeAlreadyExists, "create_dir", p)
	}

	if err := writeNewDir(ctx, s.store, s.kr, childID, nil); err != nil {
		return err
	}

	err = mutateDir(ctx, s.store, s.kr, parentID, func(entries []DirEntry) ([]DirEntry, error) {
		taken, err := s.nameTaken(parentID, entries, name)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, errf(CodeAlreadyExists, "create_dir", p)
		}
		return append(entries, DirEntry{Kind: EntryDir, Name: name, Ref: childID}), nil
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, dirKey(childID), nil); delErr != nil {
			s.log.WithField("op", "create_dir").Warn("orphaned directory record left behind")
		}
		return err
	}
	return nil
}

// Open opens the file at p. Write mode takes the per-file writer lock
// without blocking: a second concurrent writer fails with AlreadyExists
// rather than queueing behind an open-ended hold.
func (s *Session) Open(ctx context.Context, p string, mode OpenMode) (Handle, error) {
	if mode != OpenRead && mode != OpenWrite {
		return 0, errf(CodeInvalidInput, "open", p)
	}
	res, err := s.mapper.resolve(ctx, "open", p)
	if err != nil {
		return 0, err
	}
	if res.kind != EntryFile {
		return 0, errf(CodeInvalidInput, "open", p)
	}

	h := &fileHandle{
		path:      p,
		mode:      mode,
		contentID: res.ref,
		parentID:  res.parent,
		name:      res.entry.Name,
	}

	switch mode {
	case OpenRead:
		obj, _, err := store.GetBytes(ctx, s.store, fileKey(res.ref))
		if err != nil {
			if store.IsNotFound(err) {
				return 0, wrapErr(CodeCorrupt, "open", p, err)
			}
			return 0, wrapStore("open", p, err)
		}
		h.obj = obj

	case OpenWrite:
		contentKey := fileKey(res.ref)
		if !s.locks.tryAcquire(contentKey) {
			return 0, errf(CodeAlreadyExists, "open", p)
		}
		baseRev, err := s.store.Head(ctx, contentKey)
		if err != nil {
			s.locks.release(contentKey)
			if store.IsNotFound(err) {
				return 0, wrapErr(CodeCorrupt, "open", p, err)
			}
			return 0, wrapStore("open", p, err)
		}
		h.baseRev = baseRev
		if err := s.startStaging(ctx, h); err != nil {
			s.locks.release(contentKey)
			return 0, err
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.abandonWriter(h)
		return 0, errf(CodeLocked, "open", p)
	}
	id := s.nextID
	s.nextID++
	h.id = id
	s.handles[id] = h
	s.mu.Unlock()
	return id, nil
}

// startStaging launches the staging upload for a writer handle. The
// encryptor writes ciphertext into a pipe consumed by a single Put, so
// file content streams to the backend without buffering in memory.
func (s *Session) startStaging(ctx context.Context, h *fileHandle) error {
	stage, err := stageKey(h.contentID)
	if err != nil {
		return wrapErr(CodeStore, "open", h.path, err)
	}
	h.stageKey = stage

	pr, pw := io.Pipe()
	h.pw = pw
	h.putDone = make(chan struct{})
	go func() {
		defer close(h.putDone)
		// The staging upload outlives the opening call's context: it ends
		// when the handle is closed or aborted.
		rev, err := s.store.Put(context.Background(), stage, pr, nil)
		if err != nil {
			pr.CloseWithError(err)
			h.putErr = err
			return
		}
		h.putRev = rev
	}()

	enc, err := newStreamWriter(s.kr.kContent.Bytes(), pw)
	if err != nil {
		pw.CloseWithError(err)
		<-h.putDone
		return wrapErr(CodeStore, "open", h.path, err)
	}
	h.enc = enc
	return nil
}

// Read decrypts the byte range [off, off+length) from a read handle.
// Only the chunks overlapping the range are verified and decrypted.
func (s *Session) Read(ctx context.Context, id Handle, off, length int64) ([]byte, error) {
	h, err := s.handle(id)
	if err != nil {
		return nil, err
	}
	if h.mode != OpenRead {
		return nil, errf(CodeInvalidInput, "read", h.path)
	}
	out, err := decryptRange(s.kr.kContent.Bytes(), h.obj, off, length)
	if err != nil {
		if ve, ok := err.(*Error); ok && ve.Path == "" {
			ve.Path = h.path
		}
		return nil, err
	}
	return out, nil
}

// Write appends p to a writer handle's staging stream. Offset semantics
// are append-at-end only: off must equal the current cursor. Arbitrary
// offsets into a partially encrypted stream are not supported in this
// format version.
func (s *Session) Write(ctx context.Context, id Handle, p []byte, off int64) (int, error) {
	h, err := s.handle(id)
	if err != nil {
		return 0, err
	}
	if h.mode != OpenWrite {
		return 0, errf(CodeInvalidInput, "write", h.path)
	}
	if h.finished {
		return 0, errf(CodeInvalidInput, "write", h.path)
	}
	if off != h.cursor {
		return 0, errf(CodeUnsupported, "write", h.path)
	}
	select {
	case <-h.putDone:
		// The staging upload only finishes early on failure.
		return 0, wrapStore("write", h.path, h.putErr)
	default:
	}
	n, err := h.enc.Write(p)
	if err != nil {
		return 0, wrapErr(CodeStore, "write", h.path, err)
	}
	h.cursor += int64(n)
	return n, nil
}

// Close finalizes a handle. For writers with commit=true the staging
// object is finalized, then atomically swapped into the content key with
// a CAS against the revision observed at open; on a lost race the
// original object is left intact and the commit fails with Conflict.
// commit=false always aborts cleanly.
func (s *Session) Close(ctx context.Context, id Handle, commit bool) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	s.mu.Unlock()
	if !ok {
		return errf(CodeInvalidInput, "close", "")
	}

	if h.mode == OpenRead {
		h.obj = nil
		return nil
	}

	defer s.locks.release(fileKey(h.contentID))

	if !commit {
		s.abandonWriter(h)
		return nil
	}

	// Cancellation is honored up to the commit point; past it the swap
	// completes.
	if err := ctx.Err(); err != nil {
		s.abandonWriter(h)
		return wrapErr(CodeCancelled, "close", h.path, err)
	}

	h.finished = true
	if err := h.enc.Finish(); err != nil {
		s.abandonWriter(h)
		return wrapErr(CodeStore, "close", h.path, err)
	}
	h.pw.Close()
	<-h.putDone
	if h.putErr != nil {
		s.deleteStaging(h)
		return wrapStore("close", h.path, h.putErr)
	}

	staged, _, err := store.GetBytes(ctx, s.store, h.stageKey)
	if err != nil {
		s.deleteStaging(h)
		return wrapStore("close", h.path, err)
	}

	if err := ctx.Err(); err != nil {
		s.deleteStaging(h)
		return wrapErr(CodeCancelled, "close", h.path, err)
	}

	// Commit point.
	_, err = store.PutBytes(ctx, s.store, fileKey(h.contentID), staged, store.Tag(h.baseRev))
	if err != nil {
		s.deleteStaging(h)
		if store.IsPreconditionFailed(err) {
			return errf(CodeConflict, "close", h.path)
		}
		return wrapStore("close", h.path, err)
	}
	s.deleteStaging(h)

	// Refresh the advisory size hint. Failure here is logged, not
	// surfaced: the commit already happened and the hint is advisory.
	written := uint64(h.cursor)
	if err := mutateDir(ctx, s.store, s.kr, h.parentID, func(entries []DirEntry) ([]DirEntry, error) {
		if e, idx := findEntry(entries, h.name); idx >= 0 && e.Kind == EntryFile && e.Ref == h.contentID {
			entries[idx].SizeHint = written
		}
		return entries, nil
	}); err != nil {
		s.log.WithField("op", "close").Debug("size hint refresh failed")
	}
	return nil
}

// abandonWriter tears down an uncommitted staging upload.
func (s *Session) abandonWriter(h *fileHandle) {
	if h.mode != OpenWrite || h.pw == nil {
		return
	}
	h.pw.CloseWithError(errf(CodeCancelled, "close", ""))
	<-h.putDone
	s.deleteStaging(h)
}

func (s *Session) deleteStaging(h *fileHandle) {
	if h.stageKey == "" {
		return
	}
	if err := s.store.Delete(context.Background(), h.stageKey, nil); err != nil && !store.IsNotFound(err) {
		s.log.WithField("op", "close").Debug("staging object left for gc")
	}
}

// List returns the children of the directory at p, sorted by name. The
// listing comes from the sealed directory record, never from
// ObjectStore.List.
func (s *Session) List(ctx context.Context, p string) ([]DirEntry, error) {
	res, err := s.mapper.resolveDir(ctx, "list", p)
	if err != nil {
		return nil, err
	}
	entries, _, err := loadDir(ctx, s.store, s.kr, res.ref)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat resolves p and returns its kind and, for files, the exact
// plaintext size computed from the stored object layout.
func (s *Session) Stat(ctx context.Context, p string) (*Info, error) {
	res, err := s.mapper.resolve(ctx, "stat", p)
	if err != nil {
		return nil, err
	}
	if res.kind == EntryDir {
		return &Info{Kind: EntryDir}, nil
	}
	obj, _, err := store.GetBytes(ctx, s.store, fileKey(res.ref))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, wrapErr(CodeCorrupt, "stat", p, err)
		}
		return nil, wrapStore("stat", p, err)
	}
	size, err := plaintextSize(int64(len(obj)))
	if err != nil {
		return nil, wrapErr(CodeCorrupt, "stat", p, err)
	}
	return &Info{Kind: EntryFile, Size: size}, nil
}

// Remove deletes the file or empty directory at p. The parent record is
// updated first and the blob deleted second: a crash between the two
// leaves unreachable garbage, never a dangling reference.
func (s *Session) Remove(ctx context.Context, p string) error {
	parentID, name, err := s.mapper.resolveParent(ctx, "remove", p)
	if err != nil {
		return err
	}

	parentKey := dirKey(parentID)
	if err := s.locks.acquire(ctx, parentKey); err != nil {
		return err
	}
	defer s.locks.release(parentKey)

	entries, _, err := loadDir(ctx, s.store, s.kr, parentID)
	if err != nil {
		return err
	}
	entry, idx := findEntry(entries, name)
	if idx < 0 {
		return errf(CodeNotFound, "remove", p)
	}

	if entry.Kind == EntryDir {
		children, _, err := loadDir(ctx, s.store, s.kr, entry.Ref)
		if err != nil {
			return err
		}
		if len(children) != 0 {
			return errf(CodeInvalidInput, "remove", p)
		}
	}
	if entry.Kind == EntryFile {
		// Refuse to remove a file someone is writing.
		contentKey := fileKey(entry.Ref)
		if !s.locks.tryAcquire(contentKey) {
			return errf(CodeConflict, "remove", p)
		}
		defer s.locks.release(contentKey)
	}

	err = mutateDir(ctx, s.store, s.kr, parentID, func(cur []DirEntry) ([]DirEntry, error) {
		e, i := findEntry(cur, name)
		if i < 0 || e.Ref != entry.Ref {
			return nil, errf(CodeNotFound, "remove", p)
		}
		return append(cur[:i], cur[i+1:]...), nil
	})
	if err != nil {
		return err
	}

	var blobKey string
	if entry.Kind == EntryFile {
		blobKey = fileKey(entry.Ref)
	} else {
		blobKey = dirKey(entry.Ref)
	}
	if err := s.store.Delete(ctx, blobKey, nil); err != nil && !store.IsNotFound(err) {
		// The entry is gone; the blob is unreachable garbage for repair.
		s.log.WithField("op", "remove").Warn("unreachable blob left for repair")
	}
	return nil
}

// Rename moves src to dst as a single logical operation. Same-parent
// renames are one record CAS. Cross-directory renames add to the
// destination first, then remove from the source; a sealed journal intent
// brackets the pair so repair can canonicalize a crash window by trusting
// the destination.
func (s *Session) Rename(ctx context.Context, src, dst string) error {
	srcParent, srcName, err := s.mapper.resolveParent(ctx, "rename", src)
	if err != nil {
		return err
	}
	dstParent, dstName, err := s.mapper.resolveParent(ctx, "rename", dst)
	if err != nil {
		return err
	}

	if srcParent == dstParent && srcName == dstName {
		return nil
	}

	// Take both parent locks in deterministic order.
	keys := []string{dirKey(srcParent)}
	if dstParent != srcParent {
		keys = append(keys, dirKey(dstParent))
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.locks.acquire(ctx, k); err != nil {
			for _, held := range keys {
				if held == k {
					break
				}
				s.locks.release(held)
			}
			return err
		}
	}
	defer func() {
		for _, k := range keys {
			s.locks.release(k)
		}
	}()

	if srcParent == dstParent {
		return mutateDir(ctx, s.store, s.kr, srcParent, func(entries []DirEntry) ([]DirEntry, error) {
			_, i := findEntry(entries, srcName)
			if i < 0 {
				return nil, errf(CodeNotFound, "rename", src)
			}
			if _, j := findEntry(entries, dstName); j >= 0 {
				return nil, errf(CodeAlreadyExists, "rename", dst)
			}
			entries[i].Name = dstName
			return entries, nil
		})
	}

	srcEntries, _, err := loadDir(ctx, s.store, s.kr, srcParent)
	if err != nil {
		return err
	}
	entry, idx := findEntry(srcEntries, srcName)
	if idx < 0 {
		return errf(CodeNotFound, "rename", src)
	}

	intentKey, err := writeRenameIntent(ctx, s.store, s.kr, &renameIntent{
		srcDir:  srcParent,
		dstDir:  dstParent,
		ref:     entry.Ref,
		srcName: srcName,
		dstName: dstName,
	})
	if err != nil {
		return err
	}

	moved := DirEntry{Kind: entry.Kind, Name: dstName, Ref: entry.Ref, SizeHint: entry.SizeHint}
	err = mutateDir(ctx, s.store, s.kr, dstParent, func(entries []DirEntry) ([]DirEntry, error) {
		if _, j := findEntry(entries, dstName); j >= 0 {
			return nil, errf(CodeAlreadyExists, "rename", dst)
		}
		return append(entries, moved), nil
	})
	if err != nil {
		s.dropIntent(ctx, intentKey)
		return err
	}

	err = mutateDir(ctx, s.store, s.kr, srcParent, func(entries []DirEntry) ([]DirEntry, error) {
		e, i := findEntry(entries, srcName)
		if i < 0 || e.Ref != entry.Ref {
			// Already gone: another actor finished the move.
			return entries, nil
		}
		return append(entries[:i], entries[i+1:]...), nil
	})
	if err != nil {
		// Double-link window: the intent stays behind for repair.
		return err
	}

	s.dropIntent(ctx, intentKey)
	return nil
}

func (s *Session) dropIntent(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key, nil); err != nil && !store.IsNotFound(err) {
		s.log.WithField("op", "rename").Debug("rename intent left for repair")
	}
}

// ChangePassword verifies the old passphrase, derives a new master key
// over a fresh salt, bumps the generation, and replaces the config record
// under CAS. On any failure the old passphrase remains valid.
func (s *Session) ChangePassword(ctx context.Context, oldPass, newPass []byte, params KDFParams) error {
	if len(newPass) == 0 {
		return errf(CodeInvalidInput, "change_password", "")
	}
	if err := params.Validate(); err != nil {
		return err
	}

	if err := s.locks.acquire(ctx, ConfigKey); err != nil {
		return err
	}
	defer s.locks.release(ConfigKey)

	// Re-read the config so the CAS races against the latest revision.
	raw, rev, err := store.GetBytes(ctx, s.store, ConfigKey)
	if err != nil {
		return wrapStore("change_password", "", err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}

	oldKr, err := openConfig(cfg, oldPass)
	if err != nil {
		return err
	}
	defer oldKr.Wipe()

	saltRaw, err := randomBytes(kdfSaltSize)
	if err != nil {
		return wrapErr(CodeStore, "change_password", "", err)
	}
	var salt [kdfSaltSize]byte
	copy(salt[:], saltRaw)

	newMaster, err := deriveMasterKey(newPass, salt[:], params)
	if err != nil {
		return err
	}

	oldKr.master.Wipe()
	oldKr.master = newMaster
	oldKr.generation++

	newCfg, err := sealConfig(oldKr, cfg.VaultID, params, salt)
	if err != nil {
		return err
	}
	encoded, err := newCfg.Encode()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return wrapErr(CodeCancelled, "change_password", "", err)
	}

	newRev, err := store.PutBytes(ctx, s.store, ConfigKey, encoded, store.Tag(rev))
	if err != nil {
		if store.IsPreconditionFailed(err) {
			return errf(CodeConflict, "change_password", "")
		}
		return wrapStore("change_password", "", err)
	}

	s.mu.Lock()
	s.config = newCfg
	s.cfgRev = newRev
	s.mu.Unlock()
	s.kr.generation = oldKr.generation
	return nil
}

// Verify stream-decodes the entire content object at p, checking every
// chunk tag in order. Plaintext is wiped as it is produced and never
// returned. A directory verifies by opening and authenticating its own
// record.
func (s *Session) Verify(ctx context.Context, p string) error {
	res, err := s.mapper.resolve(ctx, "verify", p)
	if err != nil {
		return err
	}
	if res.kind == EntryDir {
		_, _, err := loadDir(ctx, s.store, s.kr, res.ref)
		return err
	}

	rc, _, err := s.store.Get(ctx, fileKey(res.ref))
	if err != nil {
		if store.IsNotFound(err) {
			return wrapErr(CodeCorrupt, "verify", p, err)
		}
		return wrapStore("verify", p, err)
	}
	defer rc.Close()

	r, err := newStreamReader(s.kr.kContent.Bytes(), rc)
	if err != nil {
		if ve, ok := err.(*Error); ok && ve.Path == "" {
			ve.Path = p
		}
		return err
	}
	buf := make([]byte, 4096)
	defer zeroBytes(buf)
	for {
		n, err := r.Read(buf)
		zeroBytes(buf[:n])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ve, ok := err.(*Error); ok && ve.Path == "" {
				ve.Path = p
			}
			return err
		}
	}
}

// nameTaken reports a name collision by deterministic-token equality:
// the SIV name cipher maps equal segments under one directory to one
// token and distinct segments to distinct tokens, so token lookup and
// byte comparison agree.
func (s *Session) nameTaken(dirID ID, entries []DirEntry, name string) (bool, error) {
	want, err := s.mapper.token(dirID, name)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		tok, err := s.mapper.token(dirID, e.Name)
		if err != nil {
			return false, err
		}
		if tok == want {
			return true, nil
		}
	}
	return false, nil
}

// handle looks up an open handle by id.
func (s *Session) handle(id Handle) (*fileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return nil, errf(CodeInvalidInput, "handle", "")
	}
	return h, nil
}

// drain forcibly closes every open handle. Writers are aborted: their
// pending commits fail and staging objects are removed.
func (s *Session) drain() {
	s.mu.Lock()
	s.closed = true
	handles := make([]*fileHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[Handle]*fileHandle)
	s.mu.Unlock()

	for _, h := range handles {
		if h.mode == OpenWrite {
			s.abandonWriter(h)
			s.locks.release(fileKey(h.contentID))
		}
		h.obj = nil
	}
}

// wipe drains the session and destroys the keyring.
func (s *Session) wipe() {
	s.drain()
	s.kr.Wipe()
}

// emptyContentObject builds the serialized form of a zero-byte file:
// header only, no chunks.
func emptyContentObject(key []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := newStreamWriter(key, &buf)
	if err != nil {
		return nil, err
	}
	if err := w.Finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
