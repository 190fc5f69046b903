package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
)

// Chunked AEAD framing for file payloads.
//
// Object layout:
//
//	header(32) || chunk_0 || chunk_1 || ...
//
// header = magic(4) || version(u16 LE) || file_nonce_prefix(16) ||
// reserved(10). Every chunk is CHUNK bytes of plaintext (the last may be
// shorter) sealed independently: nonce = prefix || chunk_index(u64 BE),
// AAD = SHA-256(header) || chunk_index(u64 BE), on-disk form
// ciphertext || tag. The fixed on-disk chunk size of CHUNK+16 makes chunk
// boundaries positionally computable, so range reads touch only the
// chunks they need.
//
// The chunk index in nonce and AAD rejects reordering and truncation
// inside a chunk; an object cut back by whole trailing chunks still
// decodes, as a shorter plaintext, because the layout has no end marker.
// The header hash in the AAD rejects splicing chunks between files; the
// per-chunk tag bounds the blast radius of a flipped bit to one chunk.
const (
	// ChunkSize is the plaintext chunk size of the content stream.
	ChunkSize = 32 * 1024

	fileMagic = "AXVF"

	fileHeaderSize   = 32
	fileNoncePrefix  = 16
	fileReservedSize = 10

	// diskChunkSize is the on-disk size of every non-final chunk.
	diskChunkSize = ChunkSize + aeadTagSize
)

// fileHeader is the plaintext-visible but chunk-authenticated header of a
// content object.
type fileHeader struct {
	version     uint16
	noncePrefix [fileNoncePrefix]byte
}

func newFileHeader() (*fileHeader, error) {
	h := &fileHeader{version: FormatVersion}
	prefix, err := randomBytes(fileNoncePrefix)
	if err != nil {
		return nil, err
	}
	copy(h.noncePrefix[:], prefix)
	return h, nil
}

// encode returns the 32 header bytes.
func (h *fileHeader) encode() []byte {
	buf := make([]byte, 0, fileHeaderSize)
	buf = append(buf, fileMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, h.version)
	buf = append(buf, h.noncePrefix[:]...)
	buf = append(buf, make([]byte, fileReservedSize)...)
	return buf
}

func parseFileHeader(raw []byte) (*fileHeader, error) {
	if len(raw) != fileHeaderSize || string(raw[:4]) != fileMagic {
		return nil, errf(CodeCorrupt, "read", "")
	}
	h := &fileHeader{version: binary.LittleEndian.Uint16(raw[4:6])}
	if h.version > FormatVersion {
		return nil, errf(CodeCorrupt, "read", "")
	}
	copy(h.noncePrefix[:], raw[6:6+fileNoncePrefix])
	return h, nil
}

// chunkNonce builds the per-chunk nonce: prefix || index(u64 BE).
func (h *fileHeader) chunkNonce(index uint64) []byte {
	nonce := make([]byte, aeadNonceSize)
	copy(nonce, h.noncePrefix[:])
	binary.BigEndian.PutUint64(nonce[fileNoncePrefix:], index)
	return nonce
}

// chunkAAD builds the per-chunk associated data: headerHash || index.
func chunkAAD(headerHash [sha256.Size]byte, index uint64) []byte {
	aad := make([]byte, 0, sha256.Size+8)
	aad = append(aad, headerHash[:]...)
	aad = binary.BigEndian.AppendUint64(aad, index)
	return aad
}

// plaintextSize inverts the object layout: given the stored object length
// it returns the exact plaintext length. Fails CodeCorrupt on lengths no
// valid object can have (a dangling tag, a chunk of only overhead).
func plaintextSize(objectLen int64) (int64, error) {
	if objectLen < fileHeaderSize {
		return 0, errf(CodeCorrupt, "stat", "")
	}
	body := objectLen - fileHeaderSize
	if body == 0 {
		return 0, nil
	}
	full := body / diskChunkSize
	rem := body % diskChunkSize
	if rem == 0 {
		return full * ChunkSize, nil
	}
	if rem <= aeadTagSize {
		return 0, errf(CodeCorrupt, "stat", "")
	}
	return full*ChunkSize + rem - aeadTagSize, nil
}

// streamWriter encrypts a plaintext stream into the chunked object form.
// It buffers at most one chunk; Finish emits the tail and returns nothing
// further. The writer is not safe for concurrent use.
type streamWriter struct {
	key        []byte
	header     *fileHeader
	headerHash [sha256.Size]byte
	dst        io.Writer

	buf   []byte
	index uint64
	wrote int64
	done  bool
}

// newStreamWriter writes the header to dst immediately and returns a
// writer for the plaintext body.
func newStreamWriter(key []byte, dst io.Writer) (*streamWriter, error) {
	header, err := newFileHeader()
	if err != nil {
		return nil, err
	}
	hb := header.encode()
	if _, err := dst.Write(hb); err != nil {
		return nil, err
	}
	return &streamWriter{
		key:        key,
		header:     header,
		headerHash: sha256.Sum256(hb),
		dst:        dst,
		buf:        make([]byte, 0, ChunkSize),
	}, nil
}

// Write buffers p, emitting every completed chunk.
func (w *streamWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errf(CodeInvalidInput, "write", "")
	}
	total := len(p)
	for len(p) > 0 {
		n := ChunkSize - len(w.buf)
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		if len(w.buf) == ChunkSize {
			if err := w.emit(); err != nil {
				return 0, err
			}
		}
	}
	w.wrote += int64(total)
	return total, nil
}

// Finish flushes the tail chunk, if any. An empty stream emits no chunks:
// the object is the bare header.
func (w *streamWriter) Finish() error {
	if w.done {
		return nil
	}
	w.done = true
	if len(w.buf) == 0 {
		return nil
	}
	return w.emit()
}

func (w *streamWriter) emit() error {
	nonce := w.header.chunkNonce(w.index)
	sealed, err := aeadSeal(w.key, nonce, w.buf, chunkAAD(w.headerHash, w.index))
	if err != nil {
		return err
	}
	if _, err := w.dst.Write(sealed); err != nil {
		return err
	}
	w.index++
	w.buf = w.buf[:0]
	return nil
}

// streamReader decrypts the chunked object form back into plaintext. It
// verifies each chunk tag before surfacing a single byte of it; a failed
// tag aborts the stream with CodeUnauthentic.
type streamReader struct {
	key        []byte
	header     *fileHeader
	headerHash [sha256.Size]byte
	src        io.Reader

	index   uint64
	current *bytes.Reader
	eof     bool
}

// newStreamReader consumes the header from src and prepares chunk-wise
// decryption.
func newStreamReader(key []byte, src io.Reader) (*streamReader, error) {
	hb := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(src, hb); err != nil {
		return nil, errf(CodeCorrupt, "read", "")
	}
	header, err := parseFileHeader(hb)
	if err != nil {
		return nil, err
	}
	return &streamReader{
		key:        key,
		header:     header,
		headerHash: sha256.Sum256(hb),
		src:        src,
	}, nil
}

// Read implements io.Reader over the decrypted plaintext.
func (r *streamReader) Read(p []byte) (int, error) {
	for {
		if r.current != nil && r.current.Len() > 0 {
			return r.current.Read(p)
		}
		if r.eof {
			return 0, io.EOF
		}
		if err := r.advance(); err != nil {
			return 0, err
		}
	}
}

// advance reads and verifies the next chunk.
func (r *streamReader) advance() error {
	sealed := make([]byte, diskChunkSize)
	n, err := io.ReadFull(r.src, sealed)
	switch {
	case err == io.EOF:
		r.eof = true
		r.current = nil
		return nil
	case err == io.ErrUnexpectedEOF:
		// Short final chunk; must still exceed the tag alone.
		if n <= aeadTagSize {
			return errf(CodeUnauthentic, "read", "")
		}
		sealed = sealed[:n]
		r.eof = true
	case err != nil:
		return wrapErr(CodeStore, "read", "", err)
	}

	nonce := r.header.chunkNonce(r.index)
	plain, err := aeadOpen(r.key, nonce, sealed, chunkAAD(r.headerHash, r.index))
	if err != nil {
		return errf(CodeUnauthentic, "read", "")
	}
	r.index++
	r.current = bytes.NewReader(plain)
	return nil
}

// decryptAll reads the whole object body into memory.
func decryptAll(key []byte, src io.Reader) ([]byte, error) {
	r, err := newStreamReader(key, src)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// decryptRange decrypts the byte range [off, off+length) of the object
// whose full serialized form is obj. Only the chunks overlapping the
// range are verified and decrypted; partial chunks are trimmed after
// verification.
func decryptRange(key []byte, obj []byte, off, length int64) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, errf(CodeInvalidInput, "read", "")
	}
	total, err := plaintextSize(int64(len(obj)))
	if err != nil {
		return nil, err
	}
	if off >= total || length == 0 {
		return []byte{}, nil
	}
	if off+length > total {
		length = total - off
	}

	header, err := parseFileHeader(obj[:fileHeaderSize])
	if err != nil {
		return nil, err
	}
	headerHash := sha256.Sum256(obj[:fileHeaderSize])

	first := uint64(off / ChunkSize)
	last := uint64((off + length - 1) / ChunkSize)

	out := make([]byte, 0, length)
	for idx := first; idx <= last; idx++ {
		start := fileHeaderSize + int64(idx)*diskChunkSize
		end := start + diskChunkSize
		if end > int64(len(obj)) {
			end = int64(len(obj))
		}
		nonce := header.chunkNonce(idx)
		plain, err := aeadOpen(key, nonce, obj[start:end], chunkAAD(headerHash, idx))
		if err != nil {
			return nil, errf(CodeUnauthentic, "read", "")
		}
		// Trim to the requested range after the tag verified.
		chunkStart := int64(idx) * ChunkSize
		lo := int64(0)
		if off > chunkStart {
			lo = off - chunkStart
		}
		hi := int64(len(plain))
		if off+length < chunkStart+int64(len(plain)) {
			hi = off + length - chunkStart
		}
		out = append(out, plain[lo:hi]...)
	}
	return out, nil
}
