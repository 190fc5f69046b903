package vault

import (
	"bytes"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := randomBytes(aeadKeySize)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func testPattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

func encryptObject(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := newStreamWriter(key, &buf)
	if err != nil {
		t.Fatalf("newStreamWriter failed: %v", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return buf.Bytes()
}

func TestStream_RoundTrip(t *testing.T) {
	key := testKey(t)

	sizes := []struct {
		name string
		n    int
	}{
		{"empty", 0},
		{"one byte", 1},
		{"small", 5},
		{"chunk minus one", ChunkSize - 1},
		{"exact chunk", ChunkSize},
		{"chunk plus one", ChunkSize + 1},
		{"two chunks", 2 * ChunkSize},
		{"several chunks with tail", 3*ChunkSize + 7},
	}
	for _, tt := range sizes {
		t.Run(tt.name, func(t *testing.T) {
			plaintext := testPattern(tt.n)
			obj := encryptObject(t, key, plaintext)

			wantLen := fileHeaderSize
			full := tt.n / ChunkSize
			rem := tt.n % ChunkSize
			wantLen += full * diskChunkSize
			if rem > 0 {
				wantLen += rem + aeadTagSize
			}
			if len(obj) != wantLen {
				t.Fatalf("object length = %d, want %d", len(obj), wantLen)
			}

			got, err := decryptAll(key, bytes.NewReader(obj))
			if err != nil {
				t.Fatalf("decryptAll failed: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Fatal("round trip mismatch")
			}

			size, err := plaintextSize(int64(len(obj)))
			if err != nil {
				t.Fatalf("plaintextSize failed: %v", err)
			}
			if size != int64(tt.n) {
				t.Errorf("plaintextSize = %d, want %d", size, tt.n)
			}
		})
	}
}

func TestStream_RangeRead(t *testing.T) {
	key := testKey(t)
	plaintext := testPattern(3*ChunkSize + 100)
	obj := encryptObject(t, key, plaintext)

	tests := []struct {
		name        string
		off, length int64
	}{
		{"start of file", 0, 10},
		{"within first chunk", 100, 200},
		{"chunk boundary", ChunkSize - 5, 10},
		{"whole middle chunk", ChunkSize, ChunkSize},
		{"tail", int64(len(plaintext)) - 50, 50},
		{"past eof trims", int64(len(plaintext)) - 10, 100},
		{"offset at eof", int64(len(plaintext)), 10},
		{"zero length", 500, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decryptRange(key, obj, tt.off, tt.length)
			if err != nil {
				t.Fatalf("decryptRange failed: %v", err)
			}
			end := tt.off + tt.length
			if end > int64(len(plaintext)) {
				end = int64(len(plaintext))
			}
			want := []byte{}
			if tt.off < int64(len(plaintext)) {
				want = plaintext[tt.off:end]
			}
			if !bytes.Equal(got, want) {
				t.Errorf("range [%d,%d) mismatch: got %d bytes, want %d", tt.off, tt.off+tt.length, len(got), len(want))
			}
		})
	}

	t.Run("negative offset", func(t *testing.T) {
		if _, err := decryptRange(key, obj, -1, 10); !IsInvalidInput(err) {
			t.Errorf("decryptRange = %v, want InvalidInput", err)
		}
	})
}

func TestStream_TamperDetection(t *testing.T) {
	key := testKey(t)
	plaintext := testPattern(2*ChunkSize + 100)
	obj := encryptObject(t, key, plaintext)

	// Flipping any single bit anywhere in the object must fail the next
	// read touching it. Sample positions across header, body, and tags.
	positions := []int{
		6,  // header nonce prefix
		fileHeaderSize + 1,
		fileHeaderSize + ChunkSize + 3, // first chunk tag region
		fileHeaderSize + diskChunkSize + 10,
		len(obj) - 1,
	}
	for _, pos := range positions {
		mutated := append([]byte(nil), obj...)
		mutated[pos] ^= 0x01
		_, err := decryptAll(key, bytes.NewReader(mutated))
		if !IsUnauthentic(err) && !IsCorrupt(err) {
			t.Errorf("flip at %d: decryptAll = %v, want Unauthentic or Corrupt", pos, err)
		}
	}
}

func TestStream_ChunkReorderDetection(t *testing.T) {
	key := testKey(t)
	plaintext := testPattern(2 * ChunkSize)
	obj := encryptObject(t, key, plaintext)

	// Swap the two full chunks; their tags verify individually but the
	// chunk index in nonce and AAD must reject the permutation.
	swapped := append([]byte(nil), obj[:fileHeaderSize]...)
	swapped = append(swapped, obj[fileHeaderSize+diskChunkSize:]...)
	swapped = append(swapped, obj[fileHeaderSize:fileHeaderSize+diskChunkSize]...)

	if _, err := decryptAll(key, bytes.NewReader(swapped)); !IsUnauthentic(err) {
		t.Errorf("decryptAll of reordered chunks = %v, want Unauthentic", err)
	}
}

func TestStream_TruncationDetection(t *testing.T) {
	key := testKey(t)
	plaintext := testPattern(2*ChunkSize + 100)
	obj := encryptObject(t, key, plaintext)

	t.Run("dropped tail chunk changes size", func(t *testing.T) {
		truncated := obj[:fileHeaderSize+2*diskChunkSize]
		got, err := decryptAll(key, bytes.NewReader(truncated))
		// Whole-chunk truncation is only detectable against an expected
		// size; the decoder must never return bytes beyond what verified.
		if err == nil && len(got) > 2*ChunkSize {
			t.Errorf("truncated object yielded %d bytes", len(got))
		}
	})

	t.Run("mid-chunk truncation", func(t *testing.T) {
		truncated := obj[:fileHeaderSize+diskChunkSize+100]
		if _, err := decryptAll(key, bytes.NewReader(truncated)); !IsUnauthentic(err) {
			t.Errorf("decryptAll of mid-chunk truncation = %v, want Unauthentic", err)
		}
	})

	t.Run("tag-only remainder", func(t *testing.T) {
		truncated := obj[:fileHeaderSize+diskChunkSize+aeadTagSize]
		if _, err := decryptAll(key, bytes.NewReader(truncated)); !IsUnauthentic(err) {
			t.Errorf("decryptAll of tag-only remainder = %v, want Unauthentic", err)
		}
	})
}

func TestStream_CrossFileSpliceRejection(t *testing.T) {
	key := testKey(t)
	objX := encryptObject(t, key, testPattern(2*ChunkSize))
	objY := encryptObject(t, key, bytes.Repeat([]byte("y"), 2*ChunkSize))

	// Substitute chunk 0 of X into Y. Same key, same index, valid tag
	// under X's header; Y's header hash in the AAD must reject it.
	spliced := append([]byte(nil), objY[:fileHeaderSize]...)
	spliced = append(spliced, objX[fileHeaderSize:fileHeaderSize+diskChunkSize]...)
	spliced = append(spliced, objY[fileHeaderSize+diskChunkSize:]...)

	if _, err := decryptAll(key, bytes.NewReader(spliced)); !IsUnauthentic(err) {
		t.Errorf("decryptAll of spliced object = %v, want Unauthentic", err)
	}
}

func TestStream_HeaderValidation(t *testing.T) {
	key := testKey(t)

	t.Run("wrong magic", func(t *testing.T) {
		obj := encryptObject(t, key, []byte("data"))
		obj[0] = 'Z'
		if _, err := decryptAll(key, bytes.NewReader(obj)); !IsCorrupt(err) && !IsUnauthentic(err) {
			t.Errorf("decryptAll = %v, want Corrupt or Unauthentic", err)
		}
	})

	t.Run("future version", func(t *testing.T) {
		obj := encryptObject(t, key, []byte("data"))
		obj[4] = 0xff
		obj[5] = 0xff
		if _, err := decryptAll(key, bytes.NewReader(obj)); !IsCorrupt(err) {
			t.Errorf("decryptAll = %v, want Corrupt", err)
		}
	})

	t.Run("short object", func(t *testing.T) {
		if _, err := plaintextSize(10); !IsCorrupt(err) {
			t.Errorf("plaintextSize(10) = %v, want Corrupt", err)
		}
	})
}
