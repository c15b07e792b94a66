package objwalk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

type fakeStore struct {
	objs map[objfmt.Hash]storedObj
}

type storedObj struct {
	typ     objfmt.ObjectType
	payload []byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objs: map[objfmt.Hash]storedObj{}}
}

func (s *fakeStore) Get(_ context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error) {
	o, ok := s.objs[h]
	if !ok {
		return 0, nil, ierr.NotFound("objwalk test: %s not found", h)
	}
	return o.typ, o.payload, nil
}

func (s *fakeStore) putBlob(payload []byte) objfmt.Hash {
	h := objfmt.HashObject(objfmt.BlobObject, payload)
	s.objs[h] = storedObj{typ: objfmt.BlobObject, payload: payload}
	return h
}

func (s *fakeStore) putTree(entries []Entry) objfmt.Hash {
	var buf []byte
	for _, e := range entries {
		buf = append(buf, []byte(e.Mode+" "+e.Name)...)
		buf = append(buf, 0)
		buf = append(buf, e.Hash[:]...)
	}
	h := objfmt.HashObject(objfmt.TreeObject, buf)
	s.objs[h] = storedObj{typ: objfmt.TreeObject, payload: buf}
	return h
}

func (s *fakeStore) putCommit(tree objfmt.Hash, parents []objfmt.Hash) objfmt.Hash {
	payload := "tree " + tree.String() + "\n"
	for _, p := range parents {
		payload += "parent " + p.String() + "\n"
	}
	payload += "\ncommit message\n"
	h := objfmt.HashObject(objfmt.CommitObject, []byte(payload))
	s.objs[h] = storedObj{typ: objfmt.CommitObject, payload: []byte(payload)}
	return h
}

func (s *fakeStore) putTag(target objfmt.Hash) objfmt.Hash {
	payload := "object " + target.String() + "\ntype commit\ntag v1\n\nmessage\n"
	h := objfmt.HashObject(objfmt.TagObject, []byte(payload))
	s.objs[h] = storedObj{typ: objfmt.TagObject, payload: []byte(payload)}
	return h
}

func TestParentsAndTree(t *testing.T) {
	store := newFakeStore()
	blobHash := store.putBlob([]byte("data"))
	treeHash := store.putTree([]Entry{{Mode: "100644", Name: "a.txt", Hash: blobHash}})
	parent := store.putCommit(treeHash, nil)
	child := store.putCommit(treeHash, []objfmt.Hash{parent})

	_, payload, err := store.Get(context.Background(), child)
	require.NoError(t, err)

	gotTree, err := Tree(payload)
	require.NoError(t, err)
	assert.Equal(t, treeHash, gotTree)

	parents, err := Parents(payload)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, parent, parents[0])
}

func TestDecodeTreeRoundTrip(t *testing.T) {
	store := newFakeStore()
	blobA := store.putBlob([]byte("aaa"))
	blobB := store.putBlob([]byte("bbb"))
	entries := []Entry{
		{Mode: "100644", Name: "a.txt", Hash: blobA},
		{Mode: "100755", Name: "b.sh", Hash: blobB},
	}
	treeHash := store.putTree(entries)
	_, payload, err := store.Get(context.Background(), treeHash)
	require.NoError(t, err)

	got, err := DecodeTree(payload)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entries, got)
}

func TestTagTarget(t *testing.T) {
	store := newFakeStore()
	target := store.putCommit(objfmt.ZeroHash, nil)
	tagHash := store.putTag(target)
	_, payload, err := store.Get(context.Background(), tagHash)
	require.NoError(t, err)

	got, err := TagTarget(payload)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestIsAncestorFindsAncestorAcrossParentChain(t *testing.T) {
	store := newFakeStore()
	root := store.putCommit(objfmt.ZeroHash, nil)
	mid := store.putCommit(objfmt.ZeroHash, []objfmt.Hash{root})
	tip := store.putCommit(objfmt.ZeroHash, []objfmt.Hash{mid})

	assert.True(t, IsAncestor(context.Background(), store, root, tip))
	assert.True(t, IsAncestor(context.Background(), store, mid, tip))
	assert.False(t, IsAncestor(context.Background(), store, tip, root))
}

func TestIsAncestorSelf(t *testing.T) {
	store := newFakeStore()
	c := store.putCommit(objfmt.ZeroHash, nil)
	assert.True(t, IsAncestor(context.Background(), store, c, c))
}

func TestWalkVisitsReachableGraphAndSkipsMissing(t *testing.T) {
	store := newFakeStore()
	blob := store.putBlob([]byte("x"))
	tree := store.putTree([]Entry{{Mode: "100644", Name: "f", Hash: blob}})
	parent := store.putCommit(tree, nil)
	child := store.putCommit(tree, []objfmt.Hash{parent})

	visited := map[objfmt.Hash]objfmt.ObjectType{}
	err := Walk(context.Background(), store, []objfmt.Hash{child}, func(h objfmt.Hash, typ objfmt.ObjectType, _ []byte) {
		visited[h] = typ
	})
	require.NoError(t, err)
	assert.Equal(t, objfmt.CommitObject, visited[child])
	assert.Equal(t, objfmt.CommitObject, visited[parent])
	assert.Equal(t, objfmt.TreeObject, visited[tree])
	assert.Equal(t, objfmt.BlobObject, visited[blob])
}

func TestWalkSkipsMissingRootWithoutError(t *testing.T) {
	store := newFakeStore()
	missing := objfmt.HashObject(objfmt.BlobObject, []byte("ghost"))
	var visited int
	err := Walk(context.Background(), store, []objfmt.Hash{missing}, func(objfmt.Hash, objfmt.ObjectType, []byte) {
		visited++
	})
	require.NoError(t, err)
	assert.Equal(t, 0, visited)
}
