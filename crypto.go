package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Content AEAD parameters. The format pins XChaCha20-Poly1305: a 24-byte
// nonce leaves room for a 16-byte random prefix plus a 64-bit chunk
// counter, and the 256-bit key matches the subkey width.
const (
	aeadKeySize   = chacha20poly1305.KeySize
	aeadNonceSize = chacha20poly1305.NonceSizeX
	aeadTagSize   = chacha20poly1305.Overhead
)

// idSize is the width of vault, directory, and content identifiers.
const idSize = 16

// ID is a 128-bit vault, directory, or content identifier.
type ID [idSize]byte

// newRandomID returns a random identifier.
func newRandomID() ID {
	return ID(uuid.New())
}

// Hex returns the lowercase hex encoding of the id.
func (id ID) Hex() string {
	const digits = "0123456789abcdef"
	out := make([]byte, idSize*2)
	for i, v := range id {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0f]
	}
	return string(out)
}

// IsZero reports whether the id is all zeros.
func (id ID) IsZero() bool { return id == ID{} }

// aeadSeal encrypts plaintext under key with the given nonce and
// additional data, returning ciphertext||tag.
func aeadSeal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	if len(key) != aeadKeySize {
		return nil, fmt.Errorf("aead key must be %d bytes, got %d", aeadKeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("aead nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// aeadOpen decrypts ciphertext||tag. A failed tag surfaces as
// CodeUnauthentic; no partial plaintext is ever returned.
func aeadOpen(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	if len(key) != aeadKeySize {
		return nil, fmt.Errorf("aead key must be %d bytes, got %d", aeadKeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("aead nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, errf(CodeUnauthentic, "", "")
	}
	return plaintext, nil
}

// randomBytes fills a fresh buffer of length n from the CSPRNG.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// KDFParams are the Argon2id parameters recorded in the config envelope.
type KDFParams struct {
	// MemoryKiB is the Argon2id memory cost in KiB.
	MemoryKiB uint32 `cbor:"1,keyasint"`
	// Time is the Argon2id time cost (passes).
	Time uint32 `cbor:"2,keyasint"`
	// Parallelism is the Argon2id lane count.
	Parallelism uint8 `cbor:"3,keyasint"`
}

// DefaultKDFParams returns the parameters used for new vaults: 64 MiB,
// three passes, one lane.
func DefaultKDFParams() KDFParams {
	return KDFParams{MemoryKiB: 64 * 1024, Time: 3, Parallelism: 1}
}

// Validate rejects parameters outside sane bounds before any derivation
// work happens.
func (p KDFParams) Validate() error {
	if p.MemoryKiB < 8*1024 || p.MemoryKiB > 4*1024*1024 {
		return errf(CodeInvalidInput, "kdf", "")
	}
	if p.Time == 0 || p.Time > 64 {
		return errf(CodeInvalidInput, "kdf", "")
	}
	if p.Parallelism == 0 {
		return errf(CodeInvalidInput, "kdf", "")
	}
	return nil
}

// deriveMasterKey runs Argon2id over the passphrase and salt, returning
// the 32-byte master key as secret memory.
func deriveMasterKey(passphrase []byte, salt []byte, params KDFParams) (*SecretBytes, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, errf(CodeInvalidInput, "kdf", "")
	}
	raw := argon2.IDKey(passphrase, salt, params.Time, params.MemoryKiB, params.Parallelism, aeadKeySize)
	key := NewSecretBytes(raw)
	zeroBytes(raw)
	return key, nil
}

// hkdfExpand derives n bytes from key with the given info string via
// HKDF-SHA-256. Derivations are deterministic: the same key and info
// always produce the same output.
func hkdfExpand(key []byte, info string, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, key, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}
	return out, nil
}
