package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// sivCipher implements AES-SIV (RFC 5297) deterministic authenticated
// encryption. The engine uses it for name encryption only: the same
// directory id and cleartext segment must always produce the same
// ciphertext so that collisions are detectable by lookup, while the
// synthetic IV still authenticates both the segment and the directory id.
type sivCipher struct {
	macKey []byte // S2V CMAC key
	block  cipher.Block
}

// newSIVCipher creates a SIV cipher from a 64-byte key: the first half
// keys S2V, the second half keys the CTR layer.
func newSIVCipher(key []byte) (*sivCipher, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("siv key must be 64 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key[32:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return &sivCipher{macKey: append([]byte(nil), key[:32]...), block: block}, nil
}

// seal encrypts plaintext bound to the associated data, returning
// siv(16) || ciphertext. Deterministic: no nonce is consumed.
func (c *sivCipher) seal(plaintext []byte, ad ...[]byte) ([]byte, error) {
	siv := c.s2v(plaintext, ad...)

	out := make([]byte, 16+len(plaintext))
	copy(out[:16], siv)
	c.ctr(siv, plaintext, out[16:])
	return out, nil
}

// open decrypts and verifies a sealed value. The associated data must
// match what was sealed; a mismatch or any tampering fails verification.
func (c *sivCipher) open(sealed []byte, ad ...[]byte) ([]byte, error) {
	if len(sealed) < 16 {
		return nil, errf(CodeUnauthentic, "", "")
	}
	siv := sealed[:16]

	plaintext := make([]byte, len(sealed)-16)
	c.ctr(siv, sealed[16:], plaintext)

	expected := c.s2v(plaintext, ad...)
	if subtle.ConstantTimeCompare(siv, expected) != 1 {
		zeroBytes(plaintext)
		return nil, errf(CodeUnauthentic, "", "")
	}
	return plaintext, nil
}

// s2v is the S2V construction from RFC 5297 section 2.4.
func (c *sivCipher) s2v(plaintext []byte, ad ...[]byte) []byte {
	block, _ := aes.NewCipher(c.macKey)

	d := cmac(block, make([]byte, 16))
	for _, a := range ad {
		d = xor16(dbl(d), cmac(block, a))
	}

	var t []byte
	if len(plaintext) >= 16 {
		t = make([]byte, len(plaintext))
		copy(t, plaintext)
		xorInto(t[len(t)-16:], d)
	} else {
		t = xor16(dbl(d), pad16(plaintext))
	}
	return cmac(block, t)
}

// ctr runs AES-CTR keyed by the second key half, with the SIV as the
// initial counter (bits 31 and 63 cleared per RFC 5297 section 2.5).
func (c *sivCipher) ctr(siv, src, dst []byte) {
	ctr := make([]byte, 16)
	copy(ctr, siv)
	ctr[8] &= 0x7f
	ctr[12] &= 0x7f
	cipher.NewCTR(c.block, ctr).XORKeyStream(dst, src)
}

// cmac computes AES-CMAC over data.
func cmac(block cipher.Block, data []byte) []byte {
	k1, k2 := cmacSubkeys(block)

	n := (len(data) + 15) / 16
	if n == 0 {
		n = 1
	}

	last := make([]byte, 16)
	if len(data) == 0 || len(data)%16 != 0 {
		copy(last, data[16*(n-1):])
		last = pad16(last[:len(data)%16])
		xorInto(last, k2)
	} else {
		copy(last, data[16*(n-1):])
		xorInto(last, k1)
	}

	mac := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		xorInto(mac, data[i*16:(i+1)*16])
		block.Encrypt(mac, mac)
	}
	xorInto(mac, last)
	block.Encrypt(mac, mac)
	return mac
}

func cmacSubkeys(block cipher.Block) ([]byte, []byte) {
	l := make([]byte, 16)
	block.Encrypt(l, l)
	k1 := dbl(l)
	k2 := dbl(k1)
	return k1, k2
}

// dbl doubles a 128-bit block in GF(2^128).
func dbl(block []byte) []byte {
	out := make([]byte, 16)
	carry := uint64(0)
	for i := 0; i < 2; i++ {
		offset := (1 - i) * 8
		v := binary.BigEndian.Uint64(block[offset : offset+8])
		binary.BigEndian.PutUint64(out[offset:offset+8], v<<1|carry)
		carry = v >> 63
	}
	if carry != 0 {
		out[15] ^= 0x87
	}
	return out
}

// pad16 applies the 10* padding from the CMAC spec.
func pad16(data []byte) []byte {
	out := make([]byte, 16)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func xor16(a, b []byte) []byte {
	out := make([]byte, 16)
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func xorInto(a, b []byte) {
	for i := 0; i < len(a) && i < len(b); i++ {
		a[i] ^= b[i]
	}
}
