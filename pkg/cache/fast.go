package cache

import (
	"encoding/binary"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

const headerSize = 16

// Fast is a size-bounded in-memory cache backed by fastcache. Each value is
// prefixed with its creation time and lifetime. When the size bound is hit
// fastcache drops old data on its own, so GC has nothing to sweep.
type Fast struct {
	settings
	c *fastcache.Cache
}

// NewFast returns a cache holding at most maxBytes of data. fastcache
// rounds small sizes up to its minimum.
func NewFast(maxBytes int, opts ...Option) *Fast {
	return &Fast{settings: newSettings(opts), c: fastcache.New(maxBytes)}
}

func (f *Fast) Get(key string) (string, bool, error) {
	v := f.c.GetBig(nil, []byte(key))
	if len(v) < headerSize {
		return "", false, nil
	}
	created := time.Unix(0, int64(binary.BigEndian.Uint64(v[0:8])))
	lifetime := time.Duration(binary.BigEndian.Uint64(v[8:16]))
	if f.now().Sub(created) > lifetime {
		return "", false, nil
	}
	return string(v[headerSize:]), true, nil
}

func (f *Fast) Set(key, artifact string, lifetime time.Duration) error {
	if lifetime <= 0 {
		return nil
	}
	buf := make([]byte, headerSize+len(artifact))
	binary.BigEndian.PutUint64(buf[0:8], uint64(f.now().UnixNano()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(lifetime))
	copy(buf[headerSize:], artifact)
	f.c.SetBig([]byte(key), buf)
	return nil
}

func (f *Fast) Has(key string) (bool, error) {
	_, ok, err := f.Get(key)
	return ok, err
}

func (f *Fast) Delete(key string) error {
	f.c.Del([]byte(key))
	return nil
}

func (f *Fast) Flush() error {
	f.c.Reset()
	return nil
}

// GC is a no-op; expired entries read as absent until overwritten or
// evicted by size.
func (f *Fast) GC() (int, error) { return 0, nil }
