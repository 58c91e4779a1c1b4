package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrExists is returned by WriteFiles when a target file already exists and
// overwriting was not requested.
var ErrExists = errors.New("keystore: key file already exists")

// WriteOptions controls how WriteFiles persists a key pair.
type WriteOptions struct {
	// Overwrite replaces existing files. When false, WriteFiles fails with
	// ErrExists if either file is present.
	Overwrite bool
}

// WriteFiles persists kp as a PKCS#8 private key file (mode 0600) and a
// PEM public key file (mode 0644). Each file is written to a temporary
// sibling first and renamed into place.
func WriteFiles(kp *KeyPair, privatePath, publicPath string, opts WriteOptions) error {
	if kp == nil || kp.Private == nil {
		return fmt.Errorf("%w: key pair must not be nil", ErrKeyFormat)
	}

	if !opts.Overwrite {
		for _, p := range []string{privatePath, publicPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%w: %s", ErrExists, p)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}

	privPEM, err := MarshalPrivateKeyPEM(kp.Private)
	if err != nil {
		return err
	}

	pubPEM, err := MarshalPublicKeyPEM(&kp.Private.PublicKey)
	if err != nil {
		return err
	}

	if err := writeAtomic(privatePath, privPEM, 0o600); err != nil {
		return err
	}

	return writeAtomic(publicPath, pubPEM, 0o644)
}

// Load reads a private key file and returns the key pair it defines. The
// public key is derived from the private key rather than read from disk so
// the two can never disagree.
func Load(privatePath string) (*KeyPair, error) {
	data, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, err
	}

	priv, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", privatePath, err)
	}

	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
