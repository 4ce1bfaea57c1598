package custodian

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/helyxium/trustcore/internal/util"
	"github.com/helyxium/trustcore/trusterr"
)

// SecureEraseKeys overwrites every key file with random bytes of equal
// length, syncs, and deletes it, then drops the in-memory material. Every
// ciphertext produced by EncryptLocal or SealRecord becomes permanently
// unrecoverable. Subsequent calls on c return ErrKeysErased.
func (c *Custodian) SecureEraseKeys() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.erased {
		return ErrKeysErased
	}

	var errs []error
	for _, name := range []string{LocalKeyFile, PrivateKeyFile, PublicKeyFile} {
		if err := shredFile(c.path(name)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	c.erased = true
	c.localKey = nil
	c.private = nil
	c.publicPEM = nil
	c.logger.Warn("key material erased")

	if err := errors.Join(errs...); err != nil {
		return trusterr.Persistence("erasing key files", err)
	}
	return nil
}

func shredFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	noise, err := util.RandomBytes(int(info.Size()))
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(noise, 0); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
