// Package vault implements an encrypted personal-file vault over a
// pluggable object store. Plaintext files and a passphrase go in; the
// backend sees only opaque, fixed-shape, authenticated blobs. No
// cleartext name, path, size profile, or directory structure crosses the
// trust boundary.
//
// A vault is created once and unlocked per session:
//
//	st := memstore.New()
//	v, _ := vault.New(st, nil)
//	_ = v.Create(ctx, []byte("correct horse"), vault.DefaultKDFParams())
//	_ = v.Unlock(ctx, []byte("correct horse"))
//	_ = v.WriteFile(ctx, "/notes.txt", []byte("hello"))
//	data, _ := v.ReadFile(ctx, "/notes.txt")
//	_ = v.Lock(ctx)
//
// Keys are derived from the passphrase with Argon2id and held only in
// memory while unlocked; file content is streamed through chunked
// XChaCha20-Poly1305 with per-chunk authentication, directory listings
// live in sealed records, and every mutation commits atomically through
// compare-and-swap on the backend.
//
// Paths are literal-byte UTF-8: the engine performs no Unicode
// normalization, so "é" composed and decomposed are different names.
// Callers that need normalization-stable paths must normalize before
// calling in.
package vault
