package vault

import (
	"encoding/binary"
)

// Subkey widths inside the config inner blob: k_content, k_name, k_dir,
// each 32 bytes, followed by the generation counter.
const (
	subkeyCount    = 3
	innerBlobSize  = subkeyCount*aeadKeySize + 4
	wrapKeySize    = aeadKeySize
	wrapSealedSize = wrapKeySize + aeadTagSize
)

// Keyring is the in-memory key bundle of an unlocked session: the master
// key, the four subkeys, and the rotation generation. It lives only while
// the session is unlocked and is wiped on lock. Nothing in a Keyring is
// ever serialized except through the sealed config envelope.
type Keyring struct {
	master   *SecretBytes // Argon2id output; retained for rewrap checks
	kContent *SecretBytes // file payload AEAD
	kName    *SecretBytes // deterministic name encryption
	kDir     *SecretBytes // directory-id derivation and record AEAD
	kWrap    *SecretBytes // seals the subkey blob; itself sealed under the master key

	generation uint32
}

// generateKeyring creates fresh random subkeys for a new vault.
func generateKeyring(master *SecretBytes) (*Keyring, error) {
	kr := &Keyring{master: master, generation: 1}
	for _, dst := range []**SecretBytes{&kr.kContent, &kr.kName, &kr.kDir, &kr.kWrap} {
		raw, err := randomBytes(aeadKeySize)
		if err != nil {
			kr.Wipe()
			return nil, err
		}
		*dst = NewSecretBytes(raw)
		zeroBytes(raw)
	}
	return kr, nil
}

// keyringFromInner rebuilds a keyring from the opened inner blob.
func keyringFromInner(master, kWrap *SecretBytes, inner []byte) (*Keyring, error) {
	if len(inner) != innerBlobSize {
		return nil, errf(CodeCorrupt, "unlock", "")
	}
	kr := &Keyring{
		master:     master,
		kContent:   NewSecretBytes(inner[0:aeadKeySize]),
		kName:      NewSecretBytes(inner[aeadKeySize : 2*aeadKeySize]),
		kDir:       NewSecretBytes(inner[2*aeadKeySize : 3*aeadKeySize]),
		kWrap:      kWrap,
		generation: binary.BigEndian.Uint32(inner[3*aeadKeySize:]),
	}
	return kr, nil
}

// innerBlob serializes the subkeys and generation for sealing under
// k_wrap. The caller must wipe the returned slice.
func (kr *Keyring) innerBlob() []byte {
	blob := make([]byte, innerBlobSize)
	copy(blob[0:], kr.kContent.Bytes())
	copy(blob[aeadKeySize:], kr.kName.Bytes())
	copy(blob[2*aeadKeySize:], kr.kDir.Bytes())
	binary.BigEndian.PutUint32(blob[3*aeadKeySize:], kr.generation)
	return blob
}

// Generation returns the rotation generation counter.
func (kr *Keyring) Generation() uint32 { return kr.generation }

// Wipe zeroes every key. The keyring is unusable afterwards.
func (kr *Keyring) Wipe() {
	kr.master.Wipe()
	kr.kContent.Wipe()
	kr.kName.Wipe()
	kr.kDir.Wipe()
	kr.kWrap.Wipe()
}

// dirIDInfo* are the HKDF info labels for directory-id derivation.
const (
	dirIDRootInfo  = "dir-id-root"
	dirIDChildInfo = "dir-id"
)

// rootDirID derives the fixed root directory id from k_dir.
func (kr *Keyring) rootDirID() (ID, error) {
	raw, err := hkdfExpand(kr.kDir.Bytes(), dirIDRootInfo, idSize)
	if err != nil {
		return ID{}, err
	}
	return ID(raw), nil
}

// childDirID derives the id of the child directory named segment under
// parent. Deterministic in (k_dir, parentage): no persisted mapping is
// needed to recompute it.
func (kr *Keyring) childDirID(parent ID, segment string) (ID, error) {
	info := make([]byte, 0, len(dirIDChildInfo)+idSize+len(segment))
	info = append(info, dirIDChildInfo...)
	info = append(info, parent[:]...)
	info = append(info, segment...)
	raw, err := hkdfExpand(kr.kDir.Bytes(), string(info), idSize)
	if err != nil {
		return ID{}, err
	}
	return ID(raw), nil
}
