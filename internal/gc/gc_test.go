package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

type memObj struct {
	typ     objfmt.ObjectType
	payload []byte
}

type memSource struct {
	objs map[objfmt.Hash]memObj
}

func newMemSource() *memSource {
	return &memSource{objs: make(map[objfmt.Hash]memObj)}
}

func (m *memSource) put(kind objfmt.ObjectType, payload []byte) objfmt.Hash {
	h := objfmt.HashObject(kind, payload)
	m.objs[h] = memObj{typ: kind, payload: payload}
	return h
}

func (m *memSource) Get(_ context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error) {
	o, ok := m.objs[h]
	if !ok {
		return 0, nil, ierr.NotFound("memsource: object %s not found", h)
	}
	return o.typ, o.payload, nil
}

func (m *memSource) Has(_ context.Context, h objfmt.Hash) (bool, error) {
	_, ok := m.objs[h]
	return ok, nil
}

type stat struct {
	hash      objfmt.Hash
	writtenAt time.Time
}

type memEnumerator struct {
	stats []stat
}

func (e *memEnumerator) EnumerateAll(_ context.Context) (<-chan ObjectStat, error) {
	ch := make(chan ObjectStat, len(e.stats))
	for _, s := range e.stats {
		ch <- ObjectStat{Hash: s.hash, WrittenAt: s.writtenAt}
	}
	close(ch)
	return ch, nil
}

type memDeleter struct {
	deleted []objfmt.Hash
}

func (d *memDeleter) Delete(_ context.Context, h objfmt.Hash) error {
	d.deleted = append(d.deleted, h)
	return nil
}

func commitPayload(tree objfmt.Hash, parents ...objfmt.Hash) []byte {
	out := "tree " + tree.String() + "\n"
	for _, p := range parents {
		out += "parent " + p.String() + "\n"
	}
	out += "\nmessage\n"
	return []byte(out)
}

func TestRunSweepsUnreachablePastGrace(t *testing.T) {
	ctx := context.Background()
	src := newMemSource()

	blob := src.put(objfmt.BlobObject, []byte("hello"))
	tree := src.put(objfmt.TreeObject, encodeTreeEntry("100644", "a.txt", blob))
	commit := src.put(objfmt.CommitObject, commitPayload(tree))

	orphanBlob := src.put(objfmt.BlobObject, []byte("dangling"))

	enum := &memEnumerator{stats: []stat{
		{hash: blob, writtenAt: time.Now().Add(-time.Hour)},
		{hash: tree, writtenAt: time.Now().Add(-time.Hour)},
		{hash: commit, writtenAt: time.Now().Add(-time.Hour)},
		{hash: orphanBlob, writtenAt: time.Now().Add(-time.Hour)},
	}}
	del := &memDeleter{}

	stats, err := Run(ctx, src, enum, del, Config{Roots: []objfmt.Hash{commit}, GracePeriod: time.Minute})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Reachable)
	assert.Equal(t, 4, stats.Scanned)
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, []objfmt.Hash{orphanBlob}, del.deleted)
}

func TestRunSkipsWithinGracePeriod(t *testing.T) {
	ctx := context.Background()
	src := newMemSource()
	orphan := src.put(objfmt.BlobObject, []byte("fresh"))

	enum := &memEnumerator{stats: []stat{{hash: orphan, writtenAt: time.Now()}}}
	del := &memDeleter{}

	stats, err := Run(ctx, src, enum, del, Config{GracePeriod: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Deleted)
	assert.Equal(t, 1, stats.SkippedGrace)
	assert.Empty(t, del.deleted)
}

func TestRunDryRunRecordsWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	src := newMemSource()
	orphan := src.put(objfmt.BlobObject, []byte("dangling"))

	enum := &memEnumerator{stats: []stat{{hash: orphan, writtenAt: time.Now().Add(-time.Hour)}}}
	del := &memDeleter{}

	stats, err := Run(ctx, src, enum, del, Config{GracePeriod: time.Minute, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.True(t, stats.DryRun)
	assert.Equal(t, []objfmt.Hash{orphan}, stats.UnreachableAt)
	assert.Empty(t, del.deleted)
}

func TestRunRespectsMaxDeleteCount(t *testing.T) {
	ctx := context.Background()
	src := newMemSource()
	a := src.put(objfmt.BlobObject, []byte("a"))
	b := src.put(objfmt.BlobObject, []byte("b"))

	enum := &memEnumerator{stats: []stat{
		{hash: a, writtenAt: time.Now().Add(-time.Hour)},
		{hash: b, writtenAt: time.Now().Add(-time.Hour)},
	}}
	del := &memDeleter{}

	stats, err := Run(ctx, src, enum, del, Config{GracePeriod: time.Minute, MaxDeleteCount: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.True(t, stats.SkippedCap)
	assert.Len(t, del.deleted, 1)
}

func TestRunToleratesMissingHistory(t *testing.T) {
	ctx := context.Background()
	src := newMemSource()
	missingParent := objfmt.HashObject(objfmt.CommitObject, []byte("never stored"))
	tree := src.put(objfmt.TreeObject, nil)
	commit := src.put(objfmt.CommitObject, commitPayload(tree, missingParent))

	enum := &memEnumerator{}
	del := &memDeleter{}

	stats, err := Run(ctx, src, enum, del, Config{Roots: []objfmt.Hash{commit}, GracePeriod: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Reachable)
}

func encodeTreeEntry(mode, name string, h objfmt.Hash) []byte {
	out := append([]byte(mode+" "+name+"\x00"), h[:]...)
	return out
}
