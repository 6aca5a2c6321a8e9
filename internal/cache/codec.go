package cache

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/pmdminer/pmdminer/internal/model"
)

// ErrCacheCorrupt is returned by Load when cache.bin cannot be decoded. The
// caller's recovery policy is to discard the cache and continue with an
// empty one, warning once (spec §7, CacheCorrupt).
var ErrCacheCorrupt = errors.New("cache corrupt")

const cacheMagic = "pmdminer-cache-v1"

type cacheRecord struct {
	Key      model.CacheKey
	Findings []model.Finding
}

// Save persists the cache to path using a length-prefixed gob stream. No
// ecosystem library in the retrieved corpus targets this exact shape
// (a flat content-hash -> findings map potentially numbering in the
// millions); gob is the stdlib's own binary codec for Go values and avoids
// the text overhead YAML or JSON would add at this scale.
func (c *Cache) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create cache temp file")
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(cacheMagic); err != nil {
		f.Close()
		return err
	}
	enc := gob.NewEncoder(w)
	if err := enc.Encode(int64(len(c.data))); err != nil {
		f.Close()
		return err
	}
	for key, findings := range c.data {
		if err := enc.Encode(cacheRecord{Key: key, Findings: findings}); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a cache previously written by Save. If the file is missing,
// Load returns an empty cache and no error. If the file exists but is
// unreadable or malformed, Load returns ErrCacheCorrupt; the caller is
// expected to discard it and continue with New().
func Load(path string) (*Cache, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrap(ErrCacheCorrupt, err.Error())
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(cacheMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != cacheMagic {
		return nil, errors.Wrap(ErrCacheCorrupt, "bad magic")
	}

	dec := gob.NewDecoder(r)
	var count int64
	if err := dec.Decode(&count); err != nil {
		return nil, errors.Wrap(ErrCacheCorrupt, err.Error())
	}

	c := New()
	for i := int64(0); i < count; i++ {
		var rec cacheRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, errors.Wrap(ErrCacheCorrupt, err.Error())
		}
		c.data[rec.Key] = rec.Findings
	}
	return c, nil
}
