package vault

import (
	"encoding/base32"
)

// nameCipher produces the storage-visible token for a cleartext path
// segment. Encryption is deterministic AES-SIV keyed from k_name with the
// parent directory id as associated data: the same directory and segment
// always yield the same token, two distinct segments in one directory
// never collide, and the same segment under two directories yields
// unrelated tokens.
type nameCipher struct {
	siv *sivCipher
}

// nameEncoding is unpadded base32; tokens stay safe for any backend key
// charset.
var nameEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const nameSIVInfo = "axiomvault name-siv v1"

// newNameCipher derives the 64-byte SIV key from the 32-byte k_name.
func newNameCipher(kName []byte) (*nameCipher, error) {
	sivKey, err := hkdfExpand(kName, nameSIVInfo, 64)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(sivKey)
	siv, err := newSIVCipher(sivKey)
	if err != nil {
		return nil, err
	}
	return &nameCipher{siv: siv}, nil
}

// EncryptSegment returns the token for segment as a child of dirID.
func (n *nameCipher) EncryptSegment(dirID ID, segment string) (string, error) {
	sealed, err := n.siv.seal([]byte(segment), dirID[:])
	if err != nil {
		return "", err
	}
	return nameEncoding.EncodeToString(sealed), nil
}

// DecryptSegment reverses EncryptSegment. Fails CodeUnauthentic if the
// token was not produced for dirID or was tampered with.
func (n *nameCipher) DecryptSegment(dirID ID, token string) (string, error) {
	sealed, err := nameEncoding.DecodeString(token)
	if err != nil {
		return "", errf(CodeUnauthentic, "", "")
	}
	segment, err := n.siv.open(sealed, dirID[:])
	if err != nil {
		return "", err
	}
	return string(segment), nil
}
