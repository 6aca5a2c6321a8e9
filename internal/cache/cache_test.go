package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmdminer/pmdminer/internal/model"
)

func TestGetMissThenPutThenHit(t *testing.T) {
	c := New()
	key := model.CacheKey{ContentHash: "abc", RulesetID: "default"}

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, []model.Finding{{RuleName: "UnusedPrivateField", BeginLine: 3}})
	findings, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "UnusedPrivateField", findings[0].RuleName)
}

func TestPutIsWriteOnce(t *testing.T) {
	c := New()
	key := model.CacheKey{ContentHash: "abc", RulesetID: "default"}
	c.Put(key, []model.Finding{{RuleName: "First"}})
	c.Put(key, []model.Finding{{RuleName: "Second"}})

	findings, _ := c.Get(key)
	require.Len(t, findings, 1)
	assert.Equal(t, "First", findings[0].RuleName)
}

func TestPutEmptyFindingsStillMarksKeyPresent(t *testing.T) {
	c := New()
	key := model.CacheKey{ContentHash: "nofindings", RulesetID: "default"}
	c.Put(key, nil)

	findings, ok := c.Get(key)
	require.True(t, ok)
	assert.Empty(t, findings)
}

func TestHashBytesIsStableAndContentAddressed(t *testing.T) {
	a := HashBytes([]byte("class A {}"))
	b := HashBytes([]byte("class A {}"))
	c := HashBytes([]byte("class B {}"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := New()
	key1 := model.CacheKey{ContentHash: "h1", RulesetID: "r1"}
	key2 := model.CacheKey{ContentHash: "h2", RulesetID: "r1"}
	c.Put(key1, []model.Finding{{RuleName: "RuleA", BeginLine: 1}})
	c.Put(key2, nil)

	path := filepath.Join(t.TempDir(), "cache.bin")
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.Len(), loaded.Len())

	findings, ok := loaded.Get(key1)
	require.True(t, ok)
	assert.Equal(t, "RuleA", findings[0].RuleName)

	findings2, ok := loaded.Get(key2)
	require.True(t, ok)
	assert.Empty(t, findings2)
}

func TestLoadMissingFileReturnsEmptyCache(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.bin"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestLoadCorruptFileReturnsErrCacheCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a cache file"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheCorrupt)
}
