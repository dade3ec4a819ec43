package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// File keeps one JSON entry per key in a directory. Entries are written to a
// temporary file and renamed into place, so readers see either the old or
// the new entry. Expired entries read as absent and are only removed by GC.
type File struct {
	settings
	Dir string

	// mu orders renames into place against GC removals.
	mu sync.Mutex
}

func NewFile(dir string, opts ...Option) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &File{settings: newSettings(opts), Dir: dir}, nil
}

func (c *File) path(key string) string {
	return filepath.Join(c.Dir, hash(key)+".json")
}

func (c *File) Get(key string) (string, bool, error) {
	c.maybeCollect(c.GC)
	e, ok, err := readEntry(c.path(key))
	if err != nil || !ok {
		return "", false, err
	}
	if e.Key != key {
		return "", false, nil
	}
	if e.Expired(c.now()) {
		return "", false, nil
	}
	return e.Artifact, true, nil
}

func (c *File) Set(key, artifact string, lifetime time.Duration) error {
	if lifetime <= 0 {
		return nil
	}
	c.maybeCollect(c.GC)
	e := Entry{Key: key, Artifact: artifact, CreatedAt: c.now(), Lifetime: lifetime}
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeEntry(c.path(key), e)
}

func (c *File) Has(key string) (bool, error) {
	_, ok, err := c.Get(key)
	return ok, err
}

func (c *File) Delete(key string) error {
	return removeIfExists(c.path(key))
}

func (c *File) Flush() error {
	files, err := c.entries()
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range files {
		errs = append(errs, removeIfExists(f))
	}
	return errors.Join(errs...)
}

// GC removes expired and unreadable entries. A candidate is read again
// under the write lock before removal, so an entry replaced in the meantime
// survives.
func (c *File) GC() (int, error) {
	files, err := c.entries()
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, f := range files {
		e, ok, err := readEntry(f)
		if !ok && err == nil {
			continue
		}
		now := c.now()
		if err == nil && !e.Expired(now) {
			continue
		}
		removed, err := c.removeStale(f, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			n++
		}
	}
	return n, errors.Join(errs...)
}

func (c *File) removeStale(path string, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok, err := readEntry(path)
	if !ok && err == nil {
		return false, nil
	}
	if err == nil && !e.Expired(now) {
		return false, nil
	}
	if err := removeIfExists(path); err != nil {
		return false, err
	}
	return true, nil
}

func (c *File) entries() ([]string, error) {
	des, err := os.ReadDir(c.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, de := range des {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		out = append(out, filepath.Join(c.Dir, de.Name()))
	}
	return out, nil
}

func readEntry(path string) (Entry, bool, error) {
	var e Entry
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, false, fmt.Errorf("decode cache entry %s: %w", filepath.Base(path), err)
	}
	return e, true, nil
}

func writeEntry(path string, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
