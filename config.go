package vault

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// The config record is the one plaintext-parseable object in a vault. Its
// outer envelope is self-describing: any implementation can read the KDF
// algorithm, parameters, and salt with zero prior knowledge and decide
// whether it can attempt decryption. The inner blob carries the subkeys
// and is sealed in two layers; a password change reseals the envelope but
// preserves the subkeys, so no file content is ever re-encrypted.
const (
	// ConfigKey is the well-known storage key of the config record.
	ConfigKey = "vault.conf"

	configMagic = "AXVC"

	// FormatVersion is the on-disk format version of every object this
	// engine writes.
	FormatVersion uint16 = 1

	kdfIDArgon2id byte = 1

	kdfSaltSize = 16
)

// Config is the parsed config record.
type Config struct {
	Version uint16
	VaultID ID
	KDFID   byte
	KDF     KDFParams
	Salt    [kdfSaltSize]byte

	// Sealed sections. wrapSealed is k_wrap under the master key;
	// innerSealed is the subkey blob under k_wrap. A password change
	// reseals both layers but never touches the subkeys themselves, so
	// no file content is re-encrypted.
	wrapNonce   [aeadNonceSize]byte
	wrapSealed  [wrapSealedSize]byte
	innerNonce  [aeadNonceSize]byte
	innerSealed []byte // innerBlobSize + tag
}

var cborEnc cbor.EncMode

func init() {
	// Deterministic encoding keeps the envelope stable across writes of
	// identical params.
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// prefixBytes returns the envelope prefix (magic through salt). It is the
// associated data of the wrap seal, binding the KDF parameters: swapping
// weaker params under an attacker-controlled envelope breaks the tag.
func (c *Config) prefixBytes() ([]byte, error) {
	params, err := cborEnc.Marshal(&c.KDF)
	if err != nil {
		return nil, fmt.Errorf("failed to encode kdf params: %w", err)
	}
	if len(params) > 0xFFFF {
		return nil, errf(CodeInvalidInput, "config", "")
	}

	buf := new(bytes.Buffer)
	buf.WriteString(configMagic)
	binary.Write(buf, binary.LittleEndian, c.Version)
	buf.Write(c.VaultID[:])
	buf.WriteByte(c.KDFID)
	binary.Write(buf, binary.LittleEndian, uint16(len(params)))
	buf.Write(params)
	buf.Write(c.Salt[:])
	return buf.Bytes(), nil
}

// innerAAD binds the inner seal to the stable identity fields only, so
// that a rekey (which rewrites salt and possibly params) does not
// invalidate the sealed subkey blob.
func (c *Config) innerAAD() []byte {
	aad := make([]byte, 0, len(configMagic)+2+idSize)
	aad = append(aad, configMagic...)
	aad = binary.LittleEndian.AppendUint16(aad, c.Version)
	aad = append(aad, c.VaultID[:]...)
	return aad
}

// Encode serializes the config record:
//
//	magic(4) || version(u16 LE) || vault_id(16) || kdf_id(1) ||
//	kdf_params(u16-LE length-prefixed) || kdf_salt(16) ||
//	sealed_inner(u32-LE length-prefixed) || sealed_tag(16)
//
// sealed_inner||sealed_tag is the concatenation of the wrap section and
// the inner section; the trailing 16 bytes are the inner seal's tag.
func (c *Config) Encode() ([]byte, error) {
	prefix, err := c.prefixBytes()
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, aeadNonceSize*2+wrapSealedSize+len(c.innerSealed))
	sealed = append(sealed, c.wrapNonce[:]...)
	sealed = append(sealed, c.wrapSealed[:]...)
	sealed = append(sealed, c.innerNonce[:]...)
	sealed = append(sealed, c.innerSealed...)

	buf := new(bytes.Buffer)
	buf.Write(prefix)
	binary.Write(buf, binary.LittleEndian, uint32(len(sealed)-aeadTagSize))
	buf.Write(sealed)
	return buf.Bytes(), nil
}

// ParseConfig parses the outer envelope. It performs no cryptography: a
// parsed config only proves the record is well-formed, not authentic.
func ParseConfig(raw []byte) (*Config, error) {
	r := bytes.NewReader(raw)

	magic := make([]byte, len(configMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != configMagic {
		return nil, errf(CodeCorrupt, "config", "")
	}

	c := &Config{}
	if err := binary.Read(r, binary.LittleEndian, &c.Version); err != nil {
		return nil, errf(CodeCorrupt, "config", "")
	}
	if c.Version > FormatVersion {
		return nil, errf(CodeCorrupt, "config", "")
	}
	if _, err := io.ReadFull(r, c.VaultID[:]); err != nil {
		return nil, errf(CodeCorrupt, "config", "")
	}
	var err error
	if c.KDFID, err = r.ReadByte(); err != nil || c.KDFID != kdfIDArgon2id {
		return nil, errf(CodeCorrupt, "config", "")
	}

	var paramsLen uint16
	if err := binary.Read(r, binary.LittleEndian, &paramsLen); err != nil {
		return nil, errf(CodeCorrupt, "config", "")
	}
	params := make([]byte, paramsLen)
	if _, err := io.ReadFull(r, params); err != nil {
		return nil, errf(CodeCorrupt, "config", "")
	}
	if err := cbor.Unmarshal(params, &c.KDF); err != nil {
		return nil, wrapErr(CodeCorrupt, "config", "", err)
	}
	if _, err := io.ReadFull(r, c.Salt[:]); err != nil {
		return nil, errf(CodeCorrupt, "config", "")
	}

	var sealedLen uint32
	if err := binary.Read(r, binary.LittleEndian, &sealedLen); err != nil {
		return nil, errf(CodeCorrupt, "config", "")
	}
	sealed := make([]byte, int(sealedLen)+aeadTagSize)
	if _, err := io.ReadFull(r, sealed); err != nil {
		return nil, errf(CodeCorrupt, "config", "")
	}

	want := aeadNonceSize + wrapSealedSize + aeadNonceSize + innerBlobSize + aeadTagSize
	if len(sealed) != want {
		return nil, errf(CodeCorrupt, "config", "")
	}
	off := 0
	copy(c.wrapNonce[:], sealed[off:])
	off += aeadNonceSize
	copy(c.wrapSealed[:], sealed[off:])
	off += wrapSealedSize
	copy(c.innerNonce[:], sealed[off:])
	off += aeadNonceSize
	c.innerSealed = append([]byte(nil), sealed[off:]...)
	return c, nil
}

// sealConfig builds a fresh config record for the keyring: both layers
// are sealed anew. Used at vault creation.
func sealConfig(kr *Keyring, vaultID ID, params KDFParams, salt [kdfSaltSize]byte) (*Config, error) {
	c := &Config{
		Version: FormatVersion,
		VaultID: vaultID,
		KDFID:   kdfIDArgon2id,
		KDF:     params,
		Salt:    salt,
	}

	prefix, err := c.prefixBytes()
	if err != nil {
		return nil, err
	}

	wrapNonce, err := randomBytes(aeadNonceSize)
	if err != nil {
		return nil, err
	}
	copy(c.wrapNonce[:], wrapNonce)
	wrapCT, err := aeadSeal(kr.master.Bytes(), wrapNonce, kr.kWrap.Bytes(), prefix)
	if err != nil {
		return nil, err
	}
	copy(c.wrapSealed[:], wrapCT)

	innerNonce, err := randomBytes(aeadNonceSize)
	if err != nil {
		return nil, err
	}
	copy(c.innerNonce[:], innerNonce)
	inner := kr.innerBlob()
	defer zeroBytes(inner)
	c.innerSealed, err = aeadSeal(kr.kWrap.Bytes(), innerNonce, inner, c.innerAAD())
	if err != nil {
		return nil, err
	}
	return c, nil
}

// openConfig derives the master key from the passphrase and unwraps the
// keyring. A wrap-open failure means wrong password (Unauthorized); an
// inner-open failure past a correct wrap means a damaged record
// (Unauthentic).
func openConfig(c *Config, passphrase []byte) (*Keyring, error) {
	master, err := deriveMasterKey(passphrase, c.Salt[:], c.KDF)
	if err != nil {
		return nil, err
	}

	prefix, err := c.prefixBytes()
	if err != nil {
		master.Wipe()
		return nil, err
	}
	rawWrap, err := aeadOpen(master.Bytes(), c.wrapNonce[:], c.wrapSealed[:], prefix)
	if err != nil {
		master.Wipe()
		return nil, errf(CodeUnauthorized, "unlock", "")
	}
	kWrap := NewSecretBytes(rawWrap)
	zeroBytes(rawWrap)

	inner, err := aeadOpen(kWrap.Bytes(), c.innerNonce[:], c.innerSealed, c.innerAAD())
	if err != nil {
		master.Wipe()
		kWrap.Wipe()
		return nil, errf(CodeUnauthentic, "unlock", "")
	}
	defer zeroBytes(inner)

	kr, err := keyringFromInner(master, kWrap, inner)
	if err != nil {
		master.Wipe()
		kWrap.Wipe()
		return nil, err
	}
	return kr, nil
}

