package vault

import (
	"context"
	"testing"

	"github.com/axiomvault/vault/store"
	"github.com/axiomvault/vault/store/memstore"
)

func newTestKeyring(t *testing.T) *Keyring {
	t.Helper()
	master := NewSecretBytes([]byte("0123456789abcdef0123456789abcdef"))
	kr, err := generateKeyring(master)
	if err != nil {
		t.Fatalf("generateKeyring failed: %v", err)
	}
	return kr
}

func TestDirRecord_SealOpenRoundTrip(t *testing.T) {
	kr := newTestKeyring(t)
	defer kr.Wipe()
	dirID := newRandomID()

	tests := []struct {
		name    string
		entries []DirEntry
	}{
		{"empty table", nil},
		{"one file", []DirEntry{{Kind: EntryFile, Name: "notes.txt", Ref: newRandomID(), SizeHint: 5}}},
		{"mixed", []DirEntry{
			{Kind: EntryFile, Name: "a", Ref: newRandomID(), SizeHint: 100},
			{Kind: EntryDir, Name: "sub", Ref: newRandomID()},
			{Kind: EntryFile, Name: "z.bin", Ref: newRandomID(), SizeHint: 1 << 30},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := sealDirRecord(kr, dirID, tt.entries)
			if err != nil {
				t.Fatalf("sealDirRecord failed: %v", err)
			}
			opened, err := openDirRecord(kr, dirID, sealed)
			if err != nil {
				t.Fatalf("openDirRecord failed: %v", err)
			}
			if len(opened) != len(tt.entries) {
				t.Fatalf("entry count = %d, want %d", len(opened), len(tt.entries))
			}
			for i := range opened {
				if opened[i] != tt.entries[i] {
					t.Errorf("entry %d = %+v, want %+v", i, opened[i], tt.entries[i])
				}
			}
		})
	}
}

func TestDirRecord_BoundToDirectoryID(t *testing.T) {
	kr := newTestKeyring(t)
	defer kr.Wipe()

	dirA := newRandomID()
	dirB := newRandomID()
	sealed, err := sealDirRecord(kr, dirA, []DirEntry{{Kind: EntryFile, Name: "f", Ref: newRandomID()}})
	if err != nil {
		t.Fatalf("sealDirRecord failed: %v", err)
	}

	// A record swapped under another directory's id must not open.
	if _, err := openDirRecord(kr, dirB, sealed); !IsUnauthentic(err) {
		t.Errorf("openDirRecord under wrong id = %v, want Unauthentic", err)
	}
}

func TestDirRecord_TamperDetection(t *testing.T) {
	kr := newTestKeyring(t)
	defer kr.Wipe()
	dirID := newRandomID()

	sealed, err := sealDirRecord(kr, dirID, []DirEntry{{Kind: EntryFile, Name: "f", Ref: newRandomID()}})
	if err != nil {
		t.Fatalf("sealDirRecord failed: %v", err)
	}
	for _, pos := range []int{0, aeadNonceSize, len(sealed) - 1} {
		bad := append([]byte(nil), sealed...)
		bad[pos] ^= 0x01
		if _, err := openDirRecord(kr, dirID, bad); !IsUnauthentic(err) {
			t.Errorf("openDirRecord after flip at %d = %v, want Unauthentic", pos, err)
		}
	}
}

func TestMutateDir_AppliesUnderCAS(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	kr := newTestKeyring(t)
	defer kr.Wipe()
	dirID := newRandomID()

	if err := writeNewDir(ctx, st, kr, dirID, nil); err != nil {
		t.Fatalf("writeNewDir failed: %v", err)
	}

	ref := newRandomID()
	err := mutateDir(ctx, st, kr, dirID, func(entries []DirEntry) ([]DirEntry, error) {
		return append(entries, DirEntry{Kind: EntryFile, Name: "f", Ref: ref}), nil
	})
	if err != nil {
		t.Fatalf("mutateDir failed: %v", err)
	}

	entries, _, err := loadDir(ctx, st, kr, dirID)
	if err != nil {
		t.Fatalf("loadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "f" || entries[0].Ref != ref {
		t.Errorf("entries = %+v", entries)
	}
}

func TestMutateDir_RetriesThenConflicts(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	kr := newTestKeyring(t)
	defer kr.Wipe()
	dirID := newRandomID()

	if err := writeNewDir(ctx, st, kr, dirID, nil); err != nil {
		t.Fatalf("writeNewDir failed: %v", err)
	}

	// An interloper rewrites the record between every read and CAS put,
	// so each attempt loses the race.
	interfere := func() {
		sealed, err := sealDirRecord(kr, dirID, []DirEntry{{Kind: EntryFile, Name: "other", Ref: newRandomID()}})
		if err != nil {
			t.Fatalf("sealDirRecord failed: %v", err)
		}
		if _, err := store.PutBytes(ctx, st, dirKey(dirID), sealed, nil); err != nil {
			t.Fatalf("interfering put failed: %v", err)
		}
	}

	err := mutateDir(ctx, st, kr, dirID, func(entries []DirEntry) ([]DirEntry, error) {
		interfere()
		return append(entries, DirEntry{Kind: EntryFile, Name: "mine", Ref: newRandomID()}), nil
	})
	if !IsConflict(err) {
		t.Errorf("mutateDir under persistent contention = %v, want Conflict", err)
	}
}

func TestMutateDir_RecoversFromOneRace(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	kr := newTestKeyring(t)
	defer kr.Wipe()
	dirID := newRandomID()

	if err := writeNewDir(ctx, st, kr, dirID, nil); err != nil {
		t.Fatalf("writeNewDir failed: %v", err)
	}

	raced := false
	err := mutateDir(ctx, st, kr, dirID, func(entries []DirEntry) ([]DirEntry, error) {
		if !raced {
			raced = true
			sealed, err := sealDirRecord(kr, dirID, []DirEntry{{Kind: EntryFile, Name: "other", Ref: newRandomID()}})
			if err != nil {
				return nil, err
			}
			if _, err := store.PutBytes(ctx, st, dirKey(dirID), sealed, nil); err != nil {
				return nil, err
			}
		}
		return append(entries, DirEntry{Kind: EntryFile, Name: "mine", Ref: newRandomID()}), nil
	})
	if err != nil {
		t.Fatalf("mutateDir failed after one race: %v", err)
	}

	entries, _, err := loadDir(ctx, st, kr, dirID)
	if err != nil {
		t.Fatalf("loadDir failed: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["other"] || !names["mine"] {
		t.Errorf("entries after retry = %+v, want both writers' entries", entries)
	}
}

func TestDirIDs_DeterministicDerivation(t *testing.T) {
	kr := newTestKeyring(t)
	defer kr.Wipe()

	rootA, err := kr.rootDirID()
	if err != nil {
		t.Fatalf("rootDirID failed: %v", err)
	}
	rootB, _ := kr.rootDirID()
	if rootA != rootB {
		t.Error("root dir id is not stable")
	}

	childA, err := kr.childDirID(rootA, "docs")
	if err != nil {
		t.Fatalf("childDirID failed: %v", err)
	}
	childB, _ := kr.childDirID(rootA, "docs")
	if childA != childB {
		t.Error("child dir id is not stable")
	}

	other, _ := kr.childDirID(rootA, "pics")
	if childA == other {
		t.Error("different names derived the same dir id")
	}
}
