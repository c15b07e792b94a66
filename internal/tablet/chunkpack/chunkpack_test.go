package chunkpack

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/objfmt"
)

type memBucket struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBucket() *memBucket {
	return &memBucket{blobs: map[string][]byte{}}
}

func (m *memBucket) Put(_ context.Context, key string, r *bytes.Reader, size int64) error {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = buf
	return nil
}

func (m *memBucket) GetRange(_ context.Context, key string, offset, length int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.blobs[key]
	return b[offset : offset+length], nil
}

func hashOf(s string) objfmt.Hash {
	return objfmt.HashObject(objfmt.BlobObject, []byte(s))
}

func TestPackGroupsIntoSuperChunksRespectingMaxSize(t *testing.T) {
	bucket := newMemBucket()
	c := New(bucket, 10, "test")

	candidates := []Candidate{
		{Hash: hashOf("aaaa"), Payload: []byte("aaaa")},
		{Hash: hashOf("bbbb"), Payload: []byte("bbbb")},
		{Hash: hashOf("cccccccccc"), Payload: []byte("cccccccccc")},
	}
	indexes, err := c.Pack(context.Background(), 1, candidates)
	require.NoError(t, err)
	require.Len(t, indexes, 2)
	assert.Len(t, indexes[0].Members, 2)
	assert.Len(t, indexes[1].Members, 1)
}

func TestPackAndReadRoundTrip(t *testing.T) {
	bucket := newMemBucket()
	c := New(bucket, 1<<20, "test")

	candidates := []Candidate{
		{Hash: hashOf("one"), Payload: []byte("one-payload")},
		{Hash: hashOf("two"), Payload: []byte("two-payload-longer")},
	}
	indexes, err := c.Pack(context.Background(), 1, candidates)
	require.NoError(t, err)
	require.Len(t, indexes, 1)

	got, err := Read(context.Background(), bucket, indexes[0], hashOf("two"))
	require.NoError(t, err)
	assert.Equal(t, []byte("two-payload-longer"), got)
}

func TestReadMissingMember(t *testing.T) {
	bucket := newMemBucket()
	c := New(bucket, 1<<20, "test")
	indexes, err := c.Pack(context.Background(), 1, []Candidate{{Hash: hashOf("one"), Payload: []byte("x")}})
	require.NoError(t, err)

	_, err = Read(context.Background(), bucket, indexes[0], hashOf("missing"))
	require.Error(t, err)
}

func TestPackEmptyCandidates(t *testing.T) {
	bucket := newMemBucket()
	c := New(bucket, 1<<20, "test")
	indexes, err := c.Pack(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Nil(t, indexes)
}
