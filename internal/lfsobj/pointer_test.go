package lfsobj

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidPointer(t *testing.T) {
	oid := "4d7a214614ab2935c943f9e0ff69d22eadbb8f32b1258daaa5e2ca24d17e2393"
	raw := "version https://git-lfs.github.com/spec/v1\noid sha256:" + oid + "\nsize 12345\n"
	p, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, oid, p.Oid)
	assert.EqualValues(t, 12345, p.Size)
	assert.Equal(t, raw, p.Encoded())
}

func TestDecodeRejectsMalformedPrefixMatch(t *testing.T) {
	cases := map[string]string{
		"missing size":    "version https://git-lfs.github.com/spec/v1\noid sha256:" + strHash() + "\n",
		"bad oid type":    "version https://git-lfs.github.com/spec/v1\noid md5:" + strHash() + "\nsize 1\n",
		"bad oid length":  "version https://git-lfs.github.com/spec/v1\noid sha256:abc\nsize 1\n",
		"unknown key":     "version https://git-lfs.github.com/spec/v1\noid sha256:" + strHash() + "\nsize 1\nextra foo\n",
		"duplicate key":   "version https://git-lfs.github.com/spec/v1\nversion https://git-lfs.github.com/spec/v1\noid sha256:" + strHash() + "\nsize 1\n",
		"bad version":     "version nope\noid sha256:" + strHash() + "\nsize 1\n",
		"blank line":      "version https://git-lfs.github.com/spec/v1\n\noid sha256:" + strHash() + "\nsize 1\n",
		"negative size":   "version https://git-lfs.github.com/spec/v1\noid sha256:" + strHash() + "\nsize -1\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.Error(t, err)
			assert.True(t, IsNotAPointer(err))
		})
	}
}

func TestDecodeRejectsOversizedPayload(t *testing.T) {
	big := make([]byte, SizeCutoff)
	_, err := Decode(big)
	require.Error(t, err)
	assert.True(t, IsNotAPointer(err))
}

func strHash() string {
	return "4d7a214614ab2935c943f9e0ff69d22eadbb8f32b1258daaa5e2ca24d17e2393"
}

type fakeBucket struct {
	existing map[string]bool
}

func (f *fakeBucket) Has(_ context.Context, key string) (bool, error) {
	return f.existing[key], nil
}

func TestBuildBatchResponseDownloadMissing(t *testing.T) {
	bucket := &fakeBucket{existing: map[string]bool{}}
	sign := func(key string, _ time.Duration) string { return "https://example.test/" + key }
	req := BatchRequest{Operation: OperationDownload, Objects: []ObjectRequest{{Oid: strHash(), Size: 10}}}
	resp, err := BuildBatchResponse(context.Background(), bucket, sign, "lfs", req)
	require.NoError(t, err)
	require.Len(t, resp.Objects, 1)
	require.NotNil(t, resp.Objects[0].Error)
	assert.Equal(t, 404, resp.Objects[0].Error.Code)
}

func TestBuildBatchResponseUpload(t *testing.T) {
	bucket := &fakeBucket{existing: map[string]bool{}}
	sign := func(key string, _ time.Duration) string { return "https://example.test/" + key }
	oid := strHash()
	req := BatchRequest{Operation: OperationUpload, Objects: []ObjectRequest{{Oid: oid, Size: 10}}}
	resp, err := BuildBatchResponse(context.Background(), bucket, sign, "lfs", req)
	require.NoError(t, err)
	require.Len(t, resp.Objects, 1)
	require.Nil(t, resp.Objects[0].Error)
	require.Contains(t, resp.Objects[0].Actions, "upload")
}
