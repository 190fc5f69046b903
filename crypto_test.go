package vault

import (
	"bytes"
	"testing"
)

func TestAEAD_SealOpen(t *testing.T) {
	key, _ := randomBytes(aeadKeySize)
	nonce, _ := randomBytes(aeadNonceSize)
	plaintext := []byte("payload bytes")
	ad := []byte("associated data")

	sealed, err := aeadSeal(key, nonce, plaintext, ad)
	if err != nil {
		t.Fatalf("aeadSeal failed: %v", err)
	}
	if len(sealed) != len(plaintext)+aeadTagSize {
		t.Errorf("sealed length = %d, want %d", len(sealed), len(plaintext)+aeadTagSize)
	}

	opened, err := aeadOpen(key, nonce, sealed, ad)
	if err != nil {
		t.Fatalf("aeadOpen failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("opened = %q, want %q", opened, plaintext)
	}
}

func TestAEAD_Unauthentic(t *testing.T) {
	key, _ := randomBytes(aeadKeySize)
	nonce, _ := randomBytes(aeadNonceSize)
	sealed, err := aeadSeal(key, nonce, []byte("payload"), []byte("ad"))
	if err != nil {
		t.Fatalf("aeadSeal failed: %v", err)
	}

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[0] ^= 1
		if _, err := aeadOpen(key, nonce, bad, []byte("ad")); !IsUnauthentic(err) {
			t.Errorf("aeadOpen = %v, want Unauthentic", err)
		}
	})
	t.Run("wrong ad", func(t *testing.T) {
		if _, err := aeadOpen(key, nonce, sealed, []byte("other")); !IsUnauthentic(err) {
			t.Errorf("aeadOpen = %v, want Unauthentic", err)
		}
	})
	t.Run("wrong nonce", func(t *testing.T) {
		other, _ := randomBytes(aeadNonceSize)
		if _, err := aeadOpen(key, other, sealed, []byte("ad")); !IsUnauthentic(err) {
			t.Errorf("aeadOpen = %v, want Unauthentic", err)
		}
	})
}

func TestHKDF_Deterministic(t *testing.T) {
	key, _ := randomBytes(32)

	a, err := hkdfExpand(key, "label-one", 32)
	if err != nil {
		t.Fatalf("hkdfExpand failed: %v", err)
	}
	b, err := hkdfExpand(key, "label-one", 32)
	if err != nil {
		t.Fatalf("hkdfExpand failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same key and info produced different output")
	}

	c, _ := hkdfExpand(key, "label-two", 32)
	if bytes.Equal(a, c) {
		t.Error("different info produced identical output")
	}
}

func TestKDFParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		params KDFParams
		ok     bool
	}{
		{"defaults", DefaultKDFParams(), true},
		{"minimum memory", KDFParams{MemoryKiB: 8 * 1024, Time: 1, Parallelism: 1}, true},
		{"memory too small", KDFParams{MemoryKiB: 1024, Time: 3, Parallelism: 1}, false},
		{"zero time", KDFParams{MemoryKiB: 64 * 1024, Time: 0, Parallelism: 1}, false},
		{"zero parallelism", KDFParams{MemoryKiB: 64 * 1024, Time: 3, Parallelism: 0}, false},
		{"absurd time", KDFParams{MemoryKiB: 64 * 1024, Time: 1000, Parallelism: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !IsInvalidInput(err) {
				t.Errorf("Validate() = %v, want InvalidInput", err)
			}
		})
	}
}

func TestSecretBytes_Wipe(t *testing.T) {
	raw := []byte("sensitive key material")
	s := NewSecretBytes(raw)

	if !bytes.Equal(s.Bytes(), raw) {
		t.Fatal("SecretBytes does not hold a copy of the input")
	}

	buf := s.Bytes()
	s.Wipe()
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed after Wipe", i)
		}
	}
	if s.Len() != 0 {
		t.Errorf("Len after Wipe = %d, want 0", s.Len())
	}
	// Double wipe must not panic.
	s.Wipe()
}

func TestSecretBytes_Equal(t *testing.T) {
	s := NewSecretBytes([]byte("abc"))
	defer s.Wipe()
	if !s.Equal([]byte("abc")) {
		t.Error("Equal(same) = false")
	}
	if s.Equal([]byte("abd")) {
		t.Error("Equal(different) = true")
	}
}

func TestID_Hex(t *testing.T) {
	id := ID{0x00, 0x01, 0xab, 0xff}
	hex := id.Hex()
	if len(hex) != 32 {
		t.Fatalf("Hex length = %d, want 32", len(hex))
	}
	if hex[:8] != "0001abff" {
		t.Errorf("Hex prefix = %q, want %q", hex[:8], "0001abff")
	}
}
