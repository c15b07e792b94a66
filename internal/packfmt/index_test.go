package packfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/objfmt"
)

func hashFor(s string) objfmt.Hash {
	return objfmt.HashObject(objfmt.BlobObject, []byte(s))
}

func TestBuildAndDecodeIndexLookup(t *testing.T) {
	entries := []IndexEntry{
		{Hash: hashFor("a"), CRC32: 1, Offset: 12},
		{Hash: hashFor("b"), CRC32: 2, Offset: 100},
		{Hash: hashFor("c"), CRC32: 3, Offset: 5000},
	}
	trailer := hashFor("pack-trailer")
	data := BuildIndex(entries, trailer)

	idx, err := DecodeIndex(data)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Count())

	for _, e := range entries {
		got, ok := idx.Lookup(e.Hash)
		require.True(t, ok)
		assert.Equal(t, e.Offset, got.Offset)
		assert.Equal(t, e.CRC32, got.CRC32)
	}

	_, ok := idx.Lookup(hashFor("absent"))
	assert.False(t, ok)
}

func TestBuildIndexLargeOffset(t *testing.T) {
	entries := []IndexEntry{
		{Hash: hashFor("small"), CRC32: 1, Offset: 10},
		{Hash: hashFor("large"), CRC32: 2, Offset: uint64(largeOffsetCutoff) + 1000},
	}
	data := BuildIndex(entries, hashFor("trailer"))
	idx, err := DecodeIndex(data)
	require.NoError(t, err)

	got, ok := idx.Lookup(hashFor("large"))
	require.True(t, ok)
	assert.Equal(t, uint64(largeOffsetCutoff)+1000, got.Offset)
}

func TestDecodeIndexRejectsBadMagic(t *testing.T) {
	_, err := DecodeIndex(make([]byte, 2000))
	assert.Error(t, err)
}

func TestDecodeIndexRejectsTooShort(t *testing.T) {
	_, err := DecodeIndex([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestResolvePrefixFindsUniqueMatch(t *testing.T) {
	entries := []IndexEntry{
		{Hash: hashFor("one"), CRC32: 1, Offset: 10},
		{Hash: hashFor("two"), CRC32: 2, Offset: 20},
	}
	data := BuildIndex(entries, hashFor("trailer"))
	idx, err := DecodeIndex(data)
	require.NoError(t, err)

	prefix := entries[0].Hash.String()[:8]
	got, err := idx.ResolvePrefix([]byte(prefix))
	require.NoError(t, err)
	assert.Equal(t, entries[0].Hash, got)
}

func TestResolvePrefixRejectsTooShort(t *testing.T) {
	data := BuildIndex(nil, hashFor("trailer"))
	idx, err := DecodeIndex(data)
	require.NoError(t, err)
	_, err = idx.ResolvePrefix([]byte("ab"))
	assert.Error(t, err)
}

func TestResolvePrefixNotFound(t *testing.T) {
	entries := []IndexEntry{{Hash: hashFor("one"), CRC32: 1, Offset: 10}}
	data := BuildIndex(entries, hashFor("trailer"))
	idx, err := DecodeIndex(data)
	require.NoError(t, err)
	_, err = idx.ResolvePrefix([]byte(hashFor("nowhere").String()[:8]))
	assert.Error(t, err)
}
