package bloomcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/objfmt"
)

func hashOf(s string) objfmt.Hash {
	return objfmt.HashObject(objfmt.BlobObject, []byte(s))
}

func TestSegmentNeverFalseNegatives(t *testing.T) {
	seg := NewSegment(1000, 0.01)
	present := []objfmt.Hash{hashOf("a"), hashOf("b"), hashOf("c")}
	for _, h := range present {
		seg.Add(h)
	}
	for _, h := range present {
		assert.True(t, seg.MaybeContains(h))
	}
}

func TestSegmentAbsentHashUsuallyFalse(t *testing.T) {
	seg := NewSegment(1000, 0.01)
	seg.Add(hashOf("present"))
	assert.False(t, seg.MaybeContains(hashOf("definitely-absent-value")))
}

func TestCacheMaybeHasExactAndBloom(t *testing.T) {
	c, err := New(Config{NumCounters: 1000, MaxCostGiB: 1, BufferItems: 64})
	require.NoError(t, err)

	seg := c.NewSegment(10, 0.01)
	h := hashOf("stored")
	c.RecordPut(seg, h)
	c.Wait()

	assert.True(t, c.MaybeHas(h))
	assert.False(t, c.MaybeHas(hashOf("never-seen-hash-value")))
}

func TestCacheRetireSegmentDropsBloomMembership(t *testing.T) {
	c, err := New(Config{NumCounters: 1000, MaxCostGiB: 1, BufferItems: 64})
	require.NoError(t, err)

	seg := c.NewSegment(10, 0.01)
	h := hashOf("retiring")
	seg.Add(h)
	c.RetireSegment(seg)

	c.InvalidateExact(h)
	assert.False(t, c.MaybeHas(h))
}

func TestInvalidateExactRemovesOnlyExactEntry(t *testing.T) {
	c, err := New(Config{NumCounters: 1000, MaxCostGiB: 1, BufferItems: 64})
	require.NoError(t, err)

	seg := c.NewSegment(10, 0.01)
	h := hashOf("value")
	c.RecordPut(seg, h)
	c.InvalidateExact(h)

	// The Bloom segment still holds h even after the exact cache entry is
	// invalidated — RecordPut wrote to both.
	assert.True(t, c.MaybeHas(h))
}
