package objfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeflateInflateRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	compressed := Deflate(payload)
	out, consumed, err := Inflate(compressed, 0, int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.Equal(t, len(compressed), consumed)
}

func TestInflateConcatenatedStreamsConsumesOnlyFirst(t *testing.T) {
	first := Deflate([]byte("first"))
	second := Deflate([]byte("second-stream"))
	buf := append(append([]byte{}, first...), second...)

	out, consumed, err := Inflate(buf, 0, int64(len("first")))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), out)

	out2, _, err := Inflate(buf, consumed, int64(len("second-stream")))
	require.NoError(t, err)
	assert.Equal(t, []byte("second-stream"), out2)
}

func TestInflateRejectsBadOffset(t *testing.T) {
	_, _, err := Inflate([]byte("x"), 5, 1)
	assert.Error(t, err)
}

func TestInflateRejectsSizeMismatch(t *testing.T) {
	compressed := Deflate([]byte("hello"))
	_, _, err := Inflate(compressed, 0, 999)
	assert.Error(t, err)
}
