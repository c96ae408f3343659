package util

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

// Cache is a persistent key-value store backed by a directory.
// Deployment descriptors are stored under keys derived from the
// declared deployment parameters so that provisioned VMs survive
// across test runs.
type Cache struct {
	dir string
}

// NewCache creates a Cache rooted at dir, creating it if needed.
func NewCache(dir string) (*Cache, error) {
	fi, err := os.Stat(dir)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return nil, os.ErrInvalid
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func escapeKey(key string) string {
	h := sha256.New()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// Put stores data under key atomically.
func (c *Cache) Put(key string, data io.Reader) error {
	ek := escapeKey(key)
	f, err := os.CreateTemp(c.dir, ".tmp")
	if err != nil {
		return err
	}
	dstName := f.Name()
	defer func() {
		if f != nil {
			f.Close()
		}
		os.Remove(dstName)
	}()

	_, err = io.Copy(f, data)
	if err != nil {
		return err
	}
	err = f.Sync()
	if err != nil {
		return err
	}

	f.Close()
	f = nil

	return os.Rename(dstName, filepath.Join(c.dir, ek))
}

// Get opens the value stored under key.
func (c *Cache) Get(key string) (io.ReadCloser, error) {
	return os.Open(c.Path(key))
}

// Contains reports whether key has a stored value.
func (c *Cache) Contains(key string) bool {
	_, err := os.Stat(c.Path(key))
	return !os.IsNotExist(err)
}

// Delete invalidates the entry for key. Deleting an absent key is not
// an error.
func (c *Cache) Delete(key string) error {
	err := os.Remove(c.Path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Path returns the file path for key.
func (c *Cache) Path(key string) string {
	ek := escapeKey(key)
	return filepath.Join(c.dir, ek)
}
