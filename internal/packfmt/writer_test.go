package packfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/objfmt"
)

func TestWriteProducesValidPack(t *testing.T) {
	objs := []Object{
		{Kind: objfmt.BlobObject, Payload: []byte("one")},
		{Kind: objfmt.TreeObject, Payload: []byte("two")},
	}
	pack, hashes, err := Write(objs)
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	assert.Equal(t, objfmt.HashObject(objfmt.BlobObject, []byte("one")), hashes[0])
	assert.Equal(t, objfmt.HashObject(objfmt.TreeObject, []byte("two")), hashes[1])

	hdr, err := ReadHeader(bytesReader(pack))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), hdr.Count)
	require.NoError(t, ValidateTrailer(pack))
}

func TestWriteEmptyObjectList(t *testing.T) {
	pack, hashes, err := Write(nil)
	require.NoError(t, err)
	assert.Empty(t, hashes)
	hdr, err := ReadHeader(bytesReader(pack))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), hdr.Count)
}

func TestBuilderAddDeltaIndexesByResultHash(t *testing.T) {
	var buf []byte
	w := &growingWriter{buf: &buf}
	b, err := NewBuilder(w, 1)
	require.NoError(t, err)

	resultHash := objfmt.HashObject(objfmt.BlobObject, []byte("reconstructed"))
	deltaPayload := []byte{4, 13, 13, 'r', 'e', 'c', 'o', 'n', 's', 't', 'r', 'u', 'c', 't', 'e', 'd'}
	err = b.AddDelta(EntryHeader{Type: objfmt.REFDeltaObject, Size: int64(len(deltaPayload)), BaseHash: objfmt.HashObject(objfmt.BlobObject, []byte("base"))}, deltaPayload, resultHash)
	require.NoError(t, err)
	_, entries, err := b.Finish()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, resultHash, entries[0].Hash)
}

type growingWriter struct {
	buf *[]byte
}

func (g *growingWriter) Write(p []byte) (int, error) {
	*g.buf = append(*g.buf, p...)
	return len(p), nil
}
