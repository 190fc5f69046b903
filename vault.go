package vault

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/axiomvault/vault/store"
)

// Options configures a Vault.
type Options struct {
	// Logger receives operational events. Nothing logged ever contains
	// key material, plaintext content, or cleartext names. Defaults to a
	// fresh logrus logger at warn level.
	Logger *logrus.Logger
}

// Vault is the public facade over one encrypted store. A Vault value owns
// no global state: every instance carries its own session, and errors are
// returned by value from each operation. Data operations are only served
// while the vault is unlocked.
type Vault struct {
	store store.ObjectStore
	log   *logrus.Logger

	mu      sync.Mutex
	state   State
	session *Session
}

// New wraps an ObjectStore in a locked Vault. The store may or may not
// contain a vault yet; Create initializes one, Unlock opens an existing
// one.
func New(s store.ObjectStore, opts *Options) (*Vault, error) {
	if s == nil {
		return nil, errf(CodeInvalidInput, "new", "")
	}
	var log *logrus.Logger
	if opts != nil && opts.Logger != nil {
		log = opts.Logger
	} else {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	return &Vault{store: s, log: log, state: StateLocked}, nil
}

// State returns the current lifecycle state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Create initializes a new vault in the backing store: generates the
// vault id and all keys, writes the config record and the empty root
// directory record. The vault remains locked afterwards; call Unlock to
// start a session. Fails if a config record already exists.
func (v *Vault) Create(ctx context.Context, passphrase []byte, params KDFParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if len(passphrase) == 0 {
		return errf(CodeInvalidInput, "create", "")
	}

	if _, err := v.store.Head(ctx, ConfigKey); err == nil {
		return errf(CodeAlreadyExists, "create", "")
	} else if !store.IsNotFound(err) {
		return wrapStore("create", "", err)
	}

	saltRaw, err := randomBytes(kdfSaltSize)
	if err != nil {
		return wrapErr(CodeStore, "create", "", err)
	}
	var salt [kdfSaltSize]byte
	copy(salt[:], saltRaw)

	master, err := deriveMasterKey(passphrase, salt[:], params)
	if err != nil {
		return err
	}
	kr, err := generateKeyring(master)
	if err != nil {
		master.Wipe()
		return wrapErr(CodeStore, "create", "", err)
	}
	defer kr.Wipe()

	cfg, err := sealConfig(kr, newRandomID(), params, salt)
	if err != nil {
		return err
	}
	encoded, err := cfg.Encode()
	if err != nil {
		return err
	}
	if _, err := store.PutBytes(ctx, v.store, ConfigKey, encoded, nil); err != nil {
		return wrapStore("create", "", err)
	}

	rootID, err := kr.rootDirID()
	if err != nil {
		return wrapErr(CodeCorrupt, "create", "", err)
	}
	if err := writeNewDir(ctx, v.store, kr, rootID, nil); err != nil {
		return err
	}

	v.log.Info("vault created")
	return nil
}

// Unlock fetches the config record, derives the master key from the
// passphrase, unwraps the subkeys, and verifies the root directory record
// exists. A wrong passphrase fails Unauthorized and changes nothing in
// the store.
func (v *Vault) Unlock(ctx context.Context, passphrase []byte) error {
	v.mu.Lock()
	if v.state != StateLocked {
		v.mu.Unlock()
		return errf(CodeInvalidInput, "unlock", "")
	}
	v.state = StateUnlocking
	v.mu.Unlock()

	session, err := v.unlock(ctx, passphrase)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.state = StateLocked
		return err
	}
	v.session = session
	v.state = StateUnlocked
	v.log.Info("vault unlocked")
	return nil
}

func (v *Vault) unlock(ctx context.Context, passphrase []byte) (*Session, error) {
	raw, rev, err := store.GetBytes(ctx, v.store, ConfigKey)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errf(CodeNotFound, "unlock", "")
		}
		return nil, wrapStore("unlock", "", err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	kr, err := openConfig(cfg, passphrase)
	if err != nil {
		return nil, err
	}

	rootID, err := kr.rootDirID()
	if err != nil {
		kr.Wipe()
		return nil, wrapErr(CodeCorrupt, "unlock", "", err)
	}
	if _, err := v.store.Head(ctx, dirKey(rootID)); err != nil {
		kr.Wipe()
		if store.IsNotFound(err) {
			return nil, wrapErr(CodeCorrupt, "unlock", "", err)
		}
		return nil, wrapStore("unlock", "", err)
	}

	return newSession(v.store, kr, cfg, rev, v.log)
}

// Lock drains open handles and wipes the keyring. Writers that have not
// committed are aborted; their staging objects are removed. Idempotent.
func (v *Vault) Lock(ctx context.Context) error {
	v.mu.Lock()
	if v.state != StateUnlocked {
		v.mu.Unlock()
		return nil
	}
	v.state = StateLocking
	session := v.session
	v.mu.Unlock()

	session.wipe()

	v.mu.Lock()
	v.session = nil
	v.state = StateLocked
	v.mu.Unlock()
	v.log.Info("vault locked")
	return nil
}

// active returns the session, or CodeLocked.
func (v *Vault) active(op string) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked || v.session == nil {
		return nil, errf(CodeLocked, op, "")
	}
	return v.session, nil
}

// CreateFile creates an empty file at path.
func (v *Vault) CreateFile(ctx context.Context, path string) error {
	s, err := v.active("create_file")
	if err != nil {
		return err
	}
	return s.CreateFile(ctx, path)
}

// CreateDir creates an empty directory at path.
func (v *Vault) CreateDir(ctx context.Context, path string) error {
	s, err := v.active("create_dir")
	if err != nil {
		return err
	}
	return s.CreateDir(ctx, path)
}

// Open opens the file at path in the given mode and returns a handle.
func (v *Vault) Open(ctx context.Context, path string, mode OpenMode) (Handle, error) {
	s, err := v.active("open")
	if err != nil {
		return 0, err
	}
	return s.Open(ctx, path, mode)
}

// Read decrypts [off, off+length) from an open read handle.
func (v *Vault) Read(ctx context.Context, h Handle, off, length int64) ([]byte, error) {
	s, err := v.active("read")
	if err != nil {
		return nil, err
	}
	return s.Read(ctx, h, off, length)
}

// Write appends p at off to an open write handle.
func (v *Vault) Write(ctx context.Context, h Handle, p []byte, off int64) (int, error) {
	s, err := v.active("write")
	if err != nil {
		return 0, err
	}
	return s.Write(ctx, h, p, off)
}

// Close finalizes a handle; commit=true atomically publishes a writer's
// staged content.
func (v *Vault) Close(ctx context.Context, h Handle, commit bool) error {
	s, err := v.active("close")
	if err != nil {
		return err
	}
	return s.Close(ctx, h, commit)
}

// List returns the children of the directory at path.
func (v *Vault) List(ctx context.Context, path string) ([]DirEntry, error) {
	s, err := v.active("list")
	if err != nil {
		return nil, err
	}
	return s.List(ctx, path)
}

// Stat returns kind and exact size of the entry at path.
func (v *Vault) Stat(ctx context.Context, path string) (*Info, error) {
	s, err := v.active("stat")
	if err != nil {
		return nil, err
	}
	return s.Stat(ctx, path)
}

// Remove deletes the file or empty directory at path.
func (v *Vault) Remove(ctx context.Context, path string) error {
	s, err := v.active("remove")
	if err != nil {
		return err
	}
	return s.Remove(ctx, path)
}

// Rename moves src to dst.
func (v *Vault) Rename(ctx context.Context, src, dst string) error {
	s, err := v.active("rename")
	if err != nil {
		return err
	}
	return s.Rename(ctx, src, dst)
}

// Verify checks every authentication tag of the entry at path without
// surfacing any plaintext.
func (v *Vault) Verify(ctx context.Context, path string) error {
	s, err := v.active("verify")
	if err != nil {
		return err
	}
	return s.Verify(ctx, path)
}

// ChangePassword rotates the passphrase. Subkeys are preserved, so no
// content is re-encrypted; only the config record changes. On failure the
// old passphrase remains valid.
func (v *Vault) ChangePassword(ctx context.Context, oldPass, newPass []byte, params KDFParams) error {
	s, err := v.active("change_password")
	if err != nil {
		return err
	}
	return s.ChangePassword(ctx, oldPass, newPass, params)
}

// WriteFile creates path if needed and replaces its content with data in
// one call.
func (v *Vault) WriteFile(ctx context.Context, path string, data []byte) error {
	s, err := v.active("write_file")
	if err != nil {
		return err
	}
	if _, statErr := s.Stat(ctx, path); IsNotFound(statErr) {
		if err := s.CreateFile(ctx, path); err != nil {
			return err
		}
	} else if statErr != nil {
		return statErr
	}
	h, err := s.Open(ctx, path, OpenWrite)
	if err != nil {
		return err
	}
	if _, err := s.Write(ctx, h, data, 0); err != nil {
		s.Close(ctx, h, false)
		return err
	}
	return s.Close(ctx, h, true)
}

// ReadFile reads the whole file at path.
func (v *Vault) ReadFile(ctx context.Context, path string) ([]byte, error) {
	s, err := v.active("read_file")
	if err != nil {
		return nil, err
	}
	info, err := s.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.Kind != EntryFile {
		return nil, errf(CodeInvalidInput, "read_file", path)
	}
	h, err := s.Open(ctx, path, OpenRead)
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx, h, false)
	return s.Read(ctx, h, 0, info.Size)
}
