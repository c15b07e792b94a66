package objfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectTypeRoundTrip(t *testing.T) {
	for _, kind := range []ObjectType{CommitObject, TreeObject, BlobObject, TagObject} {
		parsed, err := ParseObjectType(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
}

func TestParseObjectTypeRejectsUnknown(t *testing.T) {
	_, err := ParseObjectType("ofs-delta")
	assert.Error(t, err)
	_, err = ParseObjectType("bogus")
	assert.Error(t, err)
}

func TestPackTypeTagRoundTrip(t *testing.T) {
	for _, kind := range []ObjectType{CommitObject, TreeObject, BlobObject, TagObject, OFSDeltaObject, REFDeltaObject} {
		tag, ok := kind.packTypeTag()
		require.True(t, ok)
		got, err := objectTypeFromTag(tag)
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}
}

func TestObjectTypeFromTagRejectsReservedTag(t *testing.T) {
	_, err := objectTypeFromTag(5)
	assert.Error(t, err)
}

func TestInvalidObjectTypeHasNoPackTag(t *testing.T) {
	_, ok := InvalidObject.packTypeTag()
	assert.False(t, ok)
}
