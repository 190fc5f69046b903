package vault

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/axiomvault/vault/store"
)

// Cross-directory renames mutate two records and cannot be atomic over a
// single-object CAS store. Before touching either record the engine
// writes a sealed rename intent under journal/; the intent is deleted
// once both updates land. A crash in the window leaves the intent behind,
// and the repair pass uses it to canonicalize the resulting double-link
// by trusting the destination.
const journalAADPrefix = "journal"

// renameIntent records an in-flight cross-directory rename.
type renameIntent struct {
	srcDir  ID
	dstDir  ID
	ref     ID
	srcName string
	dstName string
}

func encodeRenameIntent(in *renameIntent) []byte {
	buf := new(bytes.Buffer)
	buf.Write(in.srcDir[:])
	buf.Write(in.dstDir[:])
	buf.Write(in.ref[:])
	binary.Write(buf, binary.LittleEndian, uint16(len(in.srcName)))
	buf.WriteString(in.srcName)
	binary.Write(buf, binary.LittleEndian, uint16(len(in.dstName)))
	buf.WriteString(in.dstName)
	return buf.Bytes()
}

func decodeRenameIntent(raw []byte) (*renameIntent, error) {
	r := bytes.NewReader(raw)
	in := &renameIntent{}
	if _, err := io.ReadFull(r, in.srcDir[:]); err != nil {
		return nil, errf(CodeCorrupt, "journal", "")
	}
	if _, err := io.ReadFull(r, in.dstDir[:]); err != nil {
		return nil, errf(CodeCorrupt, "journal", "")
	}
	if _, err := io.ReadFull(r, in.ref[:]); err != nil {
		return nil, errf(CodeCorrupt, "journal", "")
	}
	for _, dst := range []*string{&in.srcName, &in.dstName} {
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errf(CodeCorrupt, "journal", "")
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, errf(CodeCorrupt, "journal", "")
		}
		*dst = string(name)
	}
	if r.Len() != 0 {
		return nil, errf(CodeCorrupt, "journal", "")
	}
	return in, nil
}

func journalAAD() []byte {
	aad := make([]byte, 0, len(journalAADPrefix)+2)
	aad = append(aad, journalAADPrefix...)
	aad = binary.LittleEndian.AppendUint16(aad, FormatVersion)
	return aad
}

// writeRenameIntent seals and stores the intent, returning its key.
func writeRenameIntent(ctx context.Context, s store.ObjectStore, kr *Keyring, in *renameIntent) (string, error) {
	nonce, err := randomBytes(aeadNonceSize)
	if err != nil {
		return "", err
	}
	sealed, err := aeadSeal(kr.kDir.Bytes(), nonce, encodeRenameIntent(in), journalAAD())
	if err != nil {
		return "", err
	}
	suffix, err := randomBytes(stageSuffixBytes)
	if err != nil {
		return "", err
	}
	key := journalKeyPrefix + hexEncode(suffix)
	if _, err := store.PutBytes(ctx, s, key, append(nonce, sealed...), nil); err != nil {
		return "", wrapStore("journal", "", err)
	}
	return key, nil
}

// openRenameIntent verifies and decodes a stored intent.
func openRenameIntent(kr *Keyring, sealed []byte) (*renameIntent, error) {
	if len(sealed) < aeadNonceSize+aeadTagSize {
		return nil, errf(CodeUnauthentic, "journal", "")
	}
	plain, err := aeadOpen(kr.kDir.Bytes(), sealed[:aeadNonceSize], sealed[aeadNonceSize:], journalAAD())
	if err != nil {
		return nil, errf(CodeUnauthentic, "journal", "")
	}
	return decodeRenameIntent(plain)
}
