package repohub

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/blobstore"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/objstore"
	"github.com/antgroup/hugescm/internal/tablet/bloomcache"
)

func TestShardPrefix(t *testing.T) {
	assert.Equal(t, "042/1042", ShardPrefix(1042))
	assert.Equal(t, "000/0", ShardPrefix(0))
}

type fakeTablet struct {
	rows map[objfmt.Hash]objstore.Record
}

func newFakeTablet() *fakeTablet {
	return &fakeTablet{rows: make(map[objfmt.Hash]objstore.Record)}
}

func (f *fakeTablet) Put(_ context.Context, rec objstore.Record, _ []byte) error {
	f.rows[rec.Hash] = rec
	return nil
}

func (f *fakeTablet) Get(_ context.Context, h objfmt.Hash) (objstore.Record, []byte, error) {
	rec, ok := f.rows[h]
	if !ok {
		return objstore.Record{}, nil, nil
	}
	return rec, nil, nil
}

func (f *fakeTablet) Has(_ context.Context, h objfmt.Hash) (bool, error) {
	_, ok := f.rows[h]
	return ok, nil
}

func (f *fakeTablet) ResolvePrefix(context.Context, string) (objfmt.Hash, error) {
	return objfmt.ZeroHash, nil
}

type fakeBucket struct{}

func (fakeBucket) Stat(context.Context, string) (*blobstore.Stat, error)         { return nil, nil }
func (fakeBucket) Open(context.Context, string) (io.ReadCloser, error)           { return nil, nil }
func (fakeBucket) OpenRange(context.Context, string, int64, int64) (io.ReadCloser, error) {
	return nil, nil
}
func (fakeBucket) Put(context.Context, string, io.Reader, int64) error { return nil }
func (fakeBucket) Delete(context.Context, string) error                { return nil }
func (fakeBucket) Has(context.Context, string) (bool, error)            { return false, nil }

func TestOpenBuildsHandle(t *testing.T) {
	hub := New(nil, fakeBucket{}, func(_ context.Context, _ int64) (Tablet, error) {
		return newFakeTablet(), nil
	}, bloomcache.Config{NumCounters: 1000, MaxCostGiB: 1, BufferItems: 64}, "repos")

	h, err := hub.Open(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), h.RepoID)
	assert.NotNil(t, h.Objects)
	assert.NotNil(t, h.Refs)
	assert.NotNil(t, h.Cache)
}
