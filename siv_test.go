package vault

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func newTestSIV(t *testing.T) *sivCipher {
	t.Helper()
	key := make([]byte, 64)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	siv, err := newSIVCipher(key)
	if err != nil {
		t.Fatalf("Failed to create SIV cipher: %v", err)
	}
	return siv
}

func TestSIV_SealOpen(t *testing.T) {
	siv := newTestSIV(t)

	tests := []struct {
		name      string
		plaintext []byte
		ad        [][]byte
	}{
		{
			name:      "simple text",
			plaintext: []byte("notes.txt"),
			ad:        nil,
		},
		{
			name:      "empty plaintext",
			plaintext: []byte(""),
			ad:        nil,
		},
		{
			name:      "with AD",
			plaintext: []byte("secret name"),
			ad:        [][]byte{[]byte("dir-id-bytes")},
		},
		{
			name:      "long plaintext",
			plaintext: bytes.Repeat([]byte("A"), 1000),
			ad:        nil,
		},
		{
			name:      "single byte",
			plaintext: []byte("x"),
			ad:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := siv.seal(tt.plaintext, tt.ad...)
			if err != nil {
				t.Fatalf("seal failed: %v", err)
			}
			if len(sealed) != len(tt.plaintext)+16 {
				t.Errorf("sealed length = %d, want %d", len(sealed), len(tt.plaintext)+16)
			}

			opened, err := siv.open(sealed, tt.ad...)
			if err != nil {
				t.Fatalf("open failed: %v", err)
			}
			if !bytes.Equal(opened, tt.plaintext) {
				t.Errorf("opened plaintext doesn't match:\ngot:  %q\nwant: %q", opened, tt.plaintext)
			}
		})
	}
}

func TestSIV_Deterministic(t *testing.T) {
	siv := newTestSIV(t)
	plaintext := []byte("deterministic test")
	ad := []byte("same directory")

	first, err := siv.seal(plaintext, ad)
	if err != nil {
		t.Fatalf("first seal failed: %v", err)
	}
	second, err := siv.seal(plaintext, ad)
	if err != nil {
		t.Fatalf("second seal failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("SIV is not deterministic:\nfirst:  %x\nsecond: %x", first, second)
	}
}

func TestSIV_ADMismatch(t *testing.T) {
	siv := newTestSIV(t)

	sealed, err := siv.seal([]byte("bound to one directory"), []byte("dir-a"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	if _, err := siv.open(sealed, []byte("dir-b")); !IsUnauthentic(err) {
		t.Errorf("open with wrong AD = %v, want Unauthentic", err)
	}
	if _, err := siv.open(sealed); !IsUnauthentic(err) {
		t.Errorf("open with missing AD = %v, want Unauthentic", err)
	}
}

func TestSIV_TamperDetection(t *testing.T) {
	siv := newTestSIV(t)

	sealed, err := siv.seal([]byte("tamper target"), []byte("ad"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	for _, pos := range []int{0, 8, 15, 16, len(sealed) - 1} {
		mutated := append([]byte(nil), sealed...)
		mutated[pos] ^= 0x01
		if _, err := siv.open(mutated, []byte("ad")); !IsUnauthentic(err) {
			t.Errorf("open after flipping byte %d = %v, want Unauthentic", pos, err)
		}
	}
}

func TestSIV_BadKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 32, 63, 65} {
		if _, err := newSIVCipher(make([]byte, size)); err == nil {
			t.Errorf("newSIVCipher accepted %d-byte key", size)
		}
	}
}
