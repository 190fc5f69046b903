package vault

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/axiomvault/vault/store"
)

// Directory records are the only source of directory listings; the engine
// never derives a listing from ObjectStore.List. A record is the sealed
// serialization of the directory's child table. An empty directory has a
// record with an empty table, not a missing record, so existence and
// emptiness are distinguishable.
//
// Record plaintext:
//
//	count(u32 LE) || entry*
//	entry = kind(1) || seg_len(u16 LE) || seg || child_ref(16) ||
//	        size_hint(u64 LE)
//
// The seal AAD is "dir" || version(u16 LE) || dir_id, which pins every
// record to its directory id: records cannot be swapped between
// directories without breaking the tag.

// EntryKind distinguishes files from subdirectories in a listing.
type EntryKind uint8

const (
	// EntryFile marks a regular file entry.
	EntryFile EntryKind = 1
	// EntryDir marks a subdirectory entry.
	EntryDir EntryKind = 2
)

// String returns "file" or "dir".
func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "file"
	case EntryDir:
		return "dir"
	default:
		return "unknown"
	}
}

// DirEntry is one child of a directory. Ref is the content id for files
// and the child directory id for subdirectories. SizeHint is advisory:
// listings surface it, but exact sizes come from the content object
// layout.
type DirEntry struct {
	Kind     EntryKind
	Name     string
	Ref      ID
	SizeHint uint64
}

const dirRecordAADPrefix = "dir"

// dirCASRetries bounds internal retries of a directory CAS before the
// conflict surfaces to the caller.
const dirCASRetries = 3

func encodeDirRecord(entries []DirEntry) ([]byte, error) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(len(entries)))
	for _, e := range entries {
		if err := validateSegment(e.Name); err != nil {
			return nil, errf(CodeInvalidInput, "dir", "")
		}
		buf.WriteByte(byte(e.Kind))
		binary.Write(buf, binary.LittleEndian, uint16(len(e.Name)))
		buf.WriteString(e.Name)
		buf.Write(e.Ref[:])
		binary.Write(buf, binary.LittleEndian, e.SizeHint)
	}
	return buf.Bytes(), nil
}

func decodeDirRecord(raw []byte) ([]DirEntry, error) {
	r := bytes.NewReader(raw)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errf(CodeCorrupt, "dir", "")
	}
	entries := make([]DirEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, errf(CodeCorrupt, "dir", "")
		}
		if EntryKind(kind) != EntryFile && EntryKind(kind) != EntryDir {
			return nil, errf(CodeCorrupt, "dir", "")
		}
		var segLen uint16
		if err := binary.Read(r, binary.LittleEndian, &segLen); err != nil {
			return nil, errf(CodeCorrupt, "dir", "")
		}
		seg := make([]byte, segLen)
		if _, err := io.ReadFull(r, seg); err != nil {
			return nil, errf(CodeCorrupt, "dir", "")
		}
		var e DirEntry
		e.Kind = EntryKind(kind)
		e.Name = string(seg)
		if _, err := io.ReadFull(r, e.Ref[:]); err != nil {
			return nil, errf(CodeCorrupt, "dir", "")
		}
		if err := binary.Read(r, binary.LittleEndian, &e.SizeHint); err != nil {
			return nil, errf(CodeCorrupt, "dir", "")
		}
		entries = append(entries, e)
	}
	if r.Len() != 0 {
		return nil, errf(CodeCorrupt, "dir", "")
	}
	return entries, nil
}

func dirRecordAAD(dirID ID) []byte {
	aad := make([]byte, 0, len(dirRecordAADPrefix)+2+idSize)
	aad = append(aad, dirRecordAADPrefix...)
	aad = binary.LittleEndian.AppendUint16(aad, FormatVersion)
	aad = append(aad, dirID[:]...)
	return aad
}

// sealDirRecord serializes and seals the child table under k_dir.
func sealDirRecord(kr *Keyring, dirID ID, entries []DirEntry) ([]byte, error) {
	plain, err := encodeDirRecord(entries)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(aeadNonceSize)
	if err != nil {
		return nil, err
	}
	sealed, err := aeadSeal(kr.kDir.Bytes(), nonce, plain, dirRecordAAD(dirID))
	if err != nil {
		return nil, err
	}
	return append(nonce, sealed...), nil
}

// openDirRecord verifies and decodes a sealed record for dirID.
func openDirRecord(kr *Keyring, dirID ID, sealed []byte) ([]DirEntry, error) {
	if len(sealed) < aeadNonceSize+aeadTagSize {
		return nil, errf(CodeUnauthentic, "dir", "")
	}
	plain, err := aeadOpen(kr.kDir.Bytes(), sealed[:aeadNonceSize], sealed[aeadNonceSize:], dirRecordAAD(dirID))
	if err != nil {
		return nil, errf(CodeUnauthentic, "dir", "")
	}
	return decodeDirRecord(plain)
}

// loadDir fetches and opens the record of dirID. A referenced directory
// whose record is missing is a broken invariant, not a NotFound.
func loadDir(ctx context.Context, s store.ObjectStore, kr *Keyring, dirID ID) ([]DirEntry, store.RevisionTag, error) {
	body, rev, err := store.GetBytes(ctx, s, dirKey(dirID))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, "", wrapErr(CodeCorrupt, "dir", "", err)
		}
		return nil, "", wrapStore("dir", "", err)
	}
	entries, err := openDirRecord(kr, dirID, body)
	if err != nil {
		return nil, "", err
	}
	return entries, rev, nil
}

// writeNewDir writes the (empty or seeded) record of a directory that has
// never existed.
func writeNewDir(ctx context.Context, s store.ObjectStore, kr *Keyring, dirID ID, entries []DirEntry) error {
	sealed, err := sealDirRecord(kr, dirID, entries)
	if err != nil {
		return err
	}
	if _, err := store.PutBytes(ctx, s, dirKey(dirID), sealed, nil); err != nil {
		return wrapStore("dir", "", err)
	}
	return nil
}

// mutateDir applies fn to the child table of dirID under CAS. fn receives
// the current entries and returns the new table; returning an error
// aborts without writing. PreconditionFailed re-reads and retries up to
// dirCASRetries times, then surfaces CodeConflict — the engine never
// silently clobbers a record.
func mutateDir(ctx context.Context, s store.ObjectStore, kr *Keyring, dirID ID, fn func([]DirEntry) ([]DirEntry, error)) error {
	var lastErr error
	for attempt := 0; attempt <= dirCASRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return wrapErr(CodeCancelled, "dir", "", err)
		}
		entries, rev, err := loadDir(ctx, s, kr, dirID)
		if err != nil {
			return err
		}
		next, err := fn(entries)
		if err != nil {
			return err
		}
		sealed, err := sealDirRecord(kr, dirID, next)
		if err != nil {
			return err
		}
		_, err = store.PutBytes(ctx, s, dirKey(dirID), sealed, store.Tag(rev))
		if err == nil {
			return nil
		}
		if !store.IsPreconditionFailed(err) {
			return wrapStore("dir", "", err)
		}
		lastErr = err
	}
	return wrapErr(CodeConflict, "dir", "", lastErr)
}

// findEntry returns the entry named seg and its index, or -1.
func findEntry(entries []DirEntry, seg string) (DirEntry, int) {
	for i, e := range entries {
		if e.Name == seg {
			return e, i
		}
	}
	return DirEntry{}, -1
}
