// Package custodian owns the trust core's key material: a 256-bit symmetric
// key for local at-rest encryption and an RSA-2048 key pair for encrypting
// payloads exchanged with peers.
//
// Key files live in a dedicated directory:
//
//	local.key    base64url symmetric key   0600
//	private.pem  PKCS#8 RSA private key    0600
//	public.pem   PKIX RSA public key       0644
//
// The symmetric key is held in a memguard Enclave and only decrypted into
// locked memory for the duration of a single operation. Loaded material is
// immutable until SecureEraseKeys or Close, so any number of goroutines may
// encrypt and decrypt concurrently.
package custodian

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/helyxium/trustcore/internal/util"
)

const (
	LocalKeyFile   = "local.key"
	PrivateKeyFile = "private.pem"
	PublicKeyFile  = "public.pem"

	dirPerm     fs.FileMode = 0o700
	privatePerm fs.FileMode = 0o600
	publicPerm  fs.FileMode = 0o644
)

var (
	// ErrCorruptKeyMaterial is returned by Open when a key file exists but
	// cannot be parsed and the policy forbids regeneration.
	ErrCorruptKeyMaterial = errors.New("corrupt key material")
	// ErrKeysErased is returned by every operation after SecureEraseKeys.
	ErrKeysErased = errors.New("key material erased")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("custodian closed")
)

// CorruptKeyPolicy decides what Open does with unparseable key files.
type CorruptKeyPolicy int

const (
	// PolicyFail refuses to start and leaves the files untouched.
	PolicyFail CorruptKeyPolicy = iota
	// PolicyRegenerate replaces the corrupt material with fresh keys. Every
	// record sealed under the old key becomes unreadable.
	PolicyRegenerate
)

func (p CorruptKeyPolicy) String() string {
	switch p {
	case PolicyFail:
		return "fail"
	case PolicyRegenerate:
		return "regenerate"
	default:
		return fmt.Sprintf("CorruptKeyPolicy(%d)", int(p))
	}
}

// ParseCorruptKeyPolicy maps a configuration value to a policy.
func ParseCorruptKeyPolicy(s string) (CorruptKeyPolicy, error) {
	switch s {
	case "", "fail":
		return PolicyFail, nil
	case "regenerate":
		return PolicyRegenerate, nil
	default:
		return PolicyFail, fmt.Errorf("unknown corrupt key policy %q", s)
	}
}

// Custodian holds the loaded key material.
type Custodian struct {
	dir    string
	policy CorruptKeyPolicy
	logger *slog.Logger

	mu        sync.RWMutex
	localKey  *memguard.Enclave
	private   *rsa.PrivateKey
	publicPEM []byte
	erased    bool
	closed    bool
}

// Option configures a Custodian.
type Option func(*Custodian)

// WithLogger sets the logger used for key lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Custodian) {
		c.logger = logger
	}
}

// WithCorruptKeyPolicy sets the behavior for unparseable key files.
// Default: PolicyFail.
func WithCorruptKeyPolicy(policy CorruptKeyPolicy) Option {
	return func(c *Custodian) {
		c.policy = policy
	}
}

// Open loads the key material in dir, generating whatever is missing.
func Open(dir string, opts ...Option) (*Custodian, error) {
	c := &Custodian{dir: dir, policy: PolicyFail}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	c.logger = c.logger.With("component", "custodian")

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.Chmod(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("restricting key directory: %w", err)
	}

	if err := c.loadLocalKey(); err != nil {
		return nil, err
	}
	if err := c.loadKeyPair(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the key directory.
func (c *Custodian) Dir() string { return c.dir }

func (c *Custodian) path(name string) string {
	return filepath.Join(c.dir, name)
}

func (c *Custodian) loadLocalKey() error {
	data, err := os.ReadFile(c.path(LocalKeyFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return c.generateLocalKey()
	case err != nil:
		return fmt.Errorf("reading %s: %w", LocalKeyFile, err)
	}

	key, err := util.Base64URLDecode(string(trimNewline(data)))
	if err != nil || len(key) != util.AESKeySize {
		if perr := c.corrupt(LocalKeyFile, err); perr != nil {
			return perr
		}
		return c.generateLocalKey()
	}
	c.localKey = memguard.NewEnclave(key)
	return nil
}

func (c *Custodian) generateLocalKey() error {
	key, err := util.NewAESKey()
	if err != nil {
		return err
	}
	if err := writeKeyFile(c.path(LocalKeyFile), []byte(util.Base64URLEncode(key)), privatePerm); err != nil {
		util.WipeBytes(key)
		return err
	}
	c.logger.Info("generated local encryption key", "file", LocalKeyFile)
	c.localKey = memguard.NewEnclave(key)
	return nil
}

func (c *Custodian) loadKeyPair() error {
	data, err := os.ReadFile(c.path(PrivateKeyFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return c.generateKeyPair()
	case err != nil:
		return fmt.Errorf("reading %s: %w", PrivateKeyFile, err)
	}

	priv, err := util.ParsePrivateKeyPEM(data)
	if err != nil {
		if perr := c.corrupt(PrivateKeyFile, err); perr != nil {
			return perr
		}
		return c.generateKeyPair()
	}
	c.private = priv

	pubPEM, err := util.MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return err
	}
	c.publicPEM = pubPEM

	// The public half is derivable, so a missing or mismatched file is
	// rewritten rather than treated as corruption.
	onDisk, err := os.ReadFile(c.path(PublicKeyFile))
	if err == nil {
		if pub, perr := util.ParsePublicKeyPEM(onDisk); perr == nil && pub.Equal(&priv.PublicKey) {
			return nil
		}
	}
	c.logger.Warn("rewriting public key from private key", "file", PublicKeyFile)
	return writeKeyFile(c.path(PublicKeyFile), pubPEM, publicPerm)
}

func (c *Custodian) generateKeyPair() error {
	priv, err := util.NewRSAKey()
	if err != nil {
		return err
	}
	privPEM, err := util.MarshalPrivateKeyPEM(priv)
	if err != nil {
		return err
	}
	pubPEM, err := util.MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return err
	}
	if err := writeKeyFile(c.path(PrivateKeyFile), privPEM, privatePerm); err != nil {
		return err
	}
	if err := writeKeyFile(c.path(PublicKeyFile), pubPEM, publicPerm); err != nil {
		return err
	}
	c.logger.Info("generated transmission key pair", "bits", util.RSAKeyBits)
	c.private = priv
	c.publicPEM = pubPEM
	return nil
}

// corrupt applies the policy for an unparseable file. A nil return means the
// caller should regenerate.
func (c *Custodian) corrupt(file string, cause error) error {
	if c.policy != PolicyRegenerate {
		if cause == nil {
			return fmt.Errorf("%s: %w", file, ErrCorruptKeyMaterial)
		}
		return fmt.Errorf("%s: %w: %w", file, ErrCorruptKeyMaterial, cause)
	}
	c.logger.Warn("regenerating corrupt key material; data sealed under the old key is unrecoverable",
		"file", file, "error", cause)
	return nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// writeKeyFile writes data through a temp file and rename so a crash never
// leaves a truncated key behind.
func writeKeyFile(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp key file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting key file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing key file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("installing key file: %w", err)
	}
	return nil
}

func (c *Custodian) usableLocked() error {
	switch {
	case c.erased:
		return ErrKeysErased
	case c.closed:
		return ErrClosed
	}
	return nil
}

// withLocalKey decrypts the enclave into locked memory for the duration of fn.
func (c *Custodian) withLocalKey(fn func(key []byte) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	buf, err := c.localKey.Open()
	if err != nil {
		return fmt.Errorf("opening local key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

func (c *Custodian) privateKey() (*rsa.PrivateKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	return c.private, nil
}

// PublicKeyPEM returns the PKIX PEM encoding of the transmission public key.
func (c *Custodian) PublicKeyPEM() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	return util.CopyBytes(c.publicPEM), nil
}

// Close drops the in-memory key material. Key files are left in place.
func (c *Custodian) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.localKey = nil
	c.private = nil
	c.publicPEM = nil
	return nil
}
