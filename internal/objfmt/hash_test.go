package objfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashObjectIsDeterministic(t *testing.T) {
	a := HashObject(BlobObject, []byte("hello"))
	b := HashObject(BlobObject, []byte("hello"))
	assert.Equal(t, a, b)
	assert.Equal(t, "b6fc4c620b67d95f953a5c1c1230aaab5db5a1b0", a.String())
}

func TestHashObjectDistinguishesKindAndPayload(t *testing.T) {
	blob := HashObject(BlobObject, []byte("hello"))
	tree := HashObject(TreeObject, []byte("hello"))
	other := HashObject(BlobObject, []byte("world"))
	assert.NotEqual(t, blob, tree)
	assert.NotEqual(t, blob, other)
}

func TestValidateHashHex(t *testing.T) {
	assert.True(t, ValidateHashHex("b6fc4c620b67d95f953a5c1c1230aaab5db5a1b0"))
	assert.False(t, ValidateHashHex("not-a-hash"))
	assert.False(t, ValidateHashHex("B6FC4C620B67D95F953A5C1C1230AAAB5DB5A1B0"))
	assert.False(t, ValidateHashHex(""))
}

func TestNewHashExRejectsMalformed(t *testing.T) {
	_, err := NewHashEx("short")
	require.Error(t, err)

	h, err := NewHashEx("b6fc4c620b67d95f953a5c1c1230aaab5db5a1b0")
	require.NoError(t, err)
	assert.Equal(t, "b6fc4c620b67d95f953a5c1c1230aaab5db5a1b0", h.String())
}

func TestHashIsZero(t *testing.T) {
	assert.True(t, ZeroHash.IsZero())
	h := HashObject(BlobObject, []byte("x"))
	assert.False(t, h.IsZero())
}

func TestSortHashes(t *testing.T) {
	a := HashObject(BlobObject, []byte("a"))
	b := HashObject(BlobObject, []byte("b"))
	c := HashObject(BlobObject, []byte("c"))
	hs := []Hash{c, a, b}
	SortHashes(hs)
	assert.True(t, HashSlice(hs).Less(0, 1) || hs[0] == hs[1])
	assert.True(t, HashSlice(hs).Len() == 3)
}

func TestEnvelopeMatchesHashObjectInput(t *testing.T) {
	payload := []byte("tree contents")
	env := Envelope(TreeObject, payload)
	assert.Equal(t, "tree 13\x00tree contents", string(env))
}
