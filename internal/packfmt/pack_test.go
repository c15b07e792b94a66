package packfmt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/objfmt"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, 3))
	hdr, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(PackVersion), hdr.Version)
	assert.Equal(t, uint32(3), hdr.Count)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("NOPE0000000000")
	_, err := ReadHeader(buf)
	assert.Error(t, err)
}

func TestReadHeaderRejectsShortInput(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestValidateTrailerDetectsCorruption(t *testing.T) {
	objs := []Object{{Kind: objfmt.BlobObject, Payload: []byte("hello")}}
	pack, _, err := Write(objs)
	require.NoError(t, err)
	require.NoError(t, ValidateTrailer(pack))

	corrupt := append([]byte{}, pack...)
	corrupt[len(corrupt)-1] ^= 0xff
	assert.Error(t, ValidateTrailer(corrupt))
}

func TestStreamingTrailerWriterMatchesValidateTrailer(t *testing.T) {
	var out bytes.Buffer
	tw := NewStreamingTrailerWriter(&out)
	_, err := tw.Write([]byte("some pack body bytes"))
	require.NoError(t, err)
	trailerHash, err := tw.WriteTrailer()
	require.NoError(t, err)

	require.NoError(t, ValidateTrailer(out.Bytes()))
	assert.Equal(t, out.Bytes()[len(out.Bytes())-TrailerSize:], trailerHash[:])
}
