package cryptoatrest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrNotFound reports a missing blob.
var ErrNotFound = errors.New("cryptoatrest: blob not found")

// Vault persists encrypted blobs under a root directory. Writes go through a
// temp file, fsync and rename, so a concurrent reader sees either the old or
// the new payload, never a torn one.
type Vault struct {
	root string
	enc  *Encryptor
}

// NewVault creates a vault rooted at dir.
func NewVault(dir string, enc *Encryptor) (*Vault, error) {
	if enc == nil {
		return nil, errors.New("cryptoatrest: nil encryptor")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cryptoatrest: create root: %w", err)
	}
	return &Vault{root: dir, enc: enc}, nil
}

func (v *Vault) fullPath(name string) string {
	return filepath.Join(v.root, filepath.FromSlash(name))
}

// Write encrypts data and atomically replaces the blob at name. The write is
// durable before Write returns.
func (v *Vault) Write(name string, data []byte) error {
	sealed, err := v.enc.Encrypt(data)
	if err != nil {
		return err
	}
	path := v.fullPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cryptoatrest: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("cryptoatrest: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cryptoatrest: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cryptoatrest: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cryptoatrest: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cryptoatrest: replace blob: %w", err)
	}
	return nil
}

// Read decrypts the blob at name. Returns ErrNotFound when it does not exist.
func (v *Vault) Read(name string) ([]byte, error) {
	raw, err := os.ReadFile(v.fullPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	plain, err := v.enc.Decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("cryptoatrest: decrypt %s: %w", name, err)
	}
	return plain, nil
}

// Exists reports whether a blob is present.
func (v *Vault) Exists(name string) bool {
	_, err := os.Stat(v.fullPath(name))
	return err == nil
}

// RemoveAll deletes the blob or directory subtree at name.
func (v *Vault) RemoveAll(name string) error {
	return os.RemoveAll(v.fullPath(name))
}

// ListDirs returns the sorted names of non-empty directories directly under
// the given vault path.
func (v *Vault) ListDirs(name string) ([]string, error) {
	entries, err := os.ReadDir(v.fullPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		children, err := os.ReadDir(filepath.Join(v.fullPath(name), e.Name()))
		if err == nil && len(children) > 0 {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
