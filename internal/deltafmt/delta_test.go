package deltafmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildApplyRoundTrip(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog, the quick brown fox runs fast")
	target := []byte("the quick brown fox jumps over the lazy cat, the quick brown fox runs fast")

	delta := Build(base, target)
	got, err := Apply(base, delta)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestApplyRejectsBaseSizeMismatch(t *testing.T) {
	base := []byte("hello world")
	delta := Build(base, []byte("hello there"))
	_, err := Apply([]byte("hello"), delta)
	assert.Error(t, err)
}

func TestApplyPureInsertWhenNoMatch(t *testing.T) {
	base := []byte{}
	target := []byte("brand new content")
	delta := Build(base, target)
	got, err := Apply(base, delta)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestApplyRejectsTruncatedDelta(t *testing.T) {
	base := []byte("abc")
	_, err := Apply(base, []byte{0x03})
	assert.Error(t, err)
}

func TestApplyRejectsCopyPastBaseLength(t *testing.T) {
	base := []byte("short")
	// source size 5, target size 10, then a copy op (0x80 flag only,
	// offset defaults 0, size defaults to maxCopySize) that overruns base.
	var delta []byte
	delta = append(delta, 5, 10, 0x80)
	_, err := Apply(base, delta)
	assert.Error(t, err)
}
