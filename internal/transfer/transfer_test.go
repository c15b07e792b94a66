package transfer

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/pktline"
	"github.com/antgroup/hugescm/internal/refstore"
)

// memStore is a minimal in-memory ObjectStore/ObjectWriter fake for
// exercising upload-pack and receive-pack without a real tablet backend.
type memStore struct {
	objs map[objfmt.Hash]memObj
}

type memObj struct {
	typ     objfmt.ObjectType
	payload []byte
}

func newMemStore() *memStore {
	return &memStore{objs: make(map[objfmt.Hash]memObj)}
}

func (m *memStore) Put(_ context.Context, kind objfmt.ObjectType, payload []byte) (objfmt.Hash, error) {
	h := objfmt.HashObject(kind, payload)
	m.objs[h] = memObj{typ: kind, payload: payload}
	return h, nil
}

func (m *memStore) Get(_ context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error) {
	o, ok := m.objs[h]
	if !ok {
		return 0, nil, ierr.NotFound("memstore: object %s not found", h)
	}
	return o.typ, o.payload, nil
}

func (m *memStore) Has(_ context.Context, h objfmt.Hash) (bool, error) {
	_, ok := m.objs[h]
	return ok, nil
}

// fakeRefUpdater applies commands to an in-memory map with the same
// CAS semantics refstore.Store.CAS enforces.
type fakeRefUpdater struct {
	refs map[string]objfmt.Hash
}

func (f *fakeRefUpdater) CAS(_ context.Context, _ int64, name string, oldHash, newHash objfmt.Hash) error {
	cur := f.refs[name]
	if cur != oldHash {
		return assertErr("cas mismatch")
	}
	if newHash.IsZero() {
		delete(f.refs, name)
		return nil
	}
	f.refs[name] = newHash
	return nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }

func TestRefAdvertisementUnbornRepo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRefAdvertisement(&buf, "git-upload-pack", nil))
	assert.Contains(t, buf.String(), "capabilities^{}")
	assert.Contains(t, buf.String(), Capabilities)
}

func TestRefAdvertisementWithRefs(t *testing.T) {
	store := newMemStore()
	h, err := store.Put(context.Background(), objfmt.BlobObject, []byte("hello"))
	require.NoError(t, err)

	var buf bytes.Buffer
	refs := []RefAdvertisement{{Name: "refs/heads/main", Hash: h}}
	require.NoError(t, WriteRefAdvertisement(&buf, "git-upload-pack", refs))
	out := buf.String()
	assert.Contains(t, out, "refs/heads/main")
	assert.Contains(t, out, h.String())
	assert.Contains(t, out, Capabilities)
}

func TestUploadPackNegotiateAndPack(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	blobHash, err := store.Put(ctx, objfmt.BlobObject, []byte("file contents"))
	require.NoError(t, err)
	treePayload := []byte("100644 file.txt\x00" + string(blobHash[:]))
	treeHash, err := store.Put(ctx, objfmt.TreeObject, treePayload)
	require.NoError(t, err)
	commitPayload := []byte("tree " + treeHash.String() + "\n\ncommit message\n")
	commitHash, err := store.Put(ctx, objfmt.CommitObject, commitPayload)
	require.NoError(t, err)

	req := UploadPackRequest{Wants: []objfmt.Hash{commitHash}}
	pack, hashes, err := NegotiateAndPack(ctx, store, req)
	require.NoError(t, err)
	assert.Len(t, hashes, 3)
	assert.Contains(t, hashes, commitHash)
	assert.Contains(t, hashes, treeHash)
	assert.Contains(t, hashes, blobHash)

	var buf bytes.Buffer
	require.NoError(t, WriteUploadPackResponse(&buf, req, pack))
	assert.Contains(t, buf.String(), "NAK")
}

func TestUploadPackNegotiateExcludesHaves(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	blobHash, err := store.Put(ctx, objfmt.BlobObject, []byte("shared blob"))
	require.NoError(t, err)
	commitPayload := []byte("tree " + blobHash.String() + "\n\nbase\n")
	// Not a real tree reference (blob used as stand-in tree hash) but
	// exercises that haves are excluded from the pack regardless of kind.
	baseCommit, err := store.Put(ctx, objfmt.CommitObject, commitPayload)
	require.NoError(t, err)

	req := UploadPackRequest{Wants: []objfmt.Hash{baseCommit}, Haves: []objfmt.Hash{baseCommit}}
	pack, hashes, err := NegotiateAndPack(ctx, store, req)
	require.NoError(t, err)
	assert.Empty(t, hashes)
	assert.NotNil(t, pack)

	var buf bytes.Buffer
	require.NoError(t, WriteUploadPackResponse(&buf, req, pack))
	// The pack has zero objects (everything wanted is already had), so
	// the response is NAK even though Haves is non-empty.
	assert.Contains(t, buf.String(), "NAK")
}

func TestUploadPackAcksWhenPackIsNonEmpty(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	baseHash, err := store.Put(ctx, objfmt.BlobObject, []byte("base"))
	require.NoError(t, err)
	newHash, err := store.Put(ctx, objfmt.BlobObject, []byte("new"))
	require.NoError(t, err)

	req := UploadPackRequest{Wants: []objfmt.Hash{baseHash, newHash}, Haves: []objfmt.Hash{baseHash}}
	pack, hashes, err := NegotiateAndPack(ctx, store, req)
	require.NoError(t, err)
	assert.Len(t, hashes, 1)

	var buf bytes.Buffer
	require.NoError(t, WriteUploadPackResponse(&buf, req, pack))
	assert.Contains(t, buf.String(), "ACK "+baseHash.String())
}

func TestReceivePackCreateRef(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobHash, err := store.Put(ctx, objfmt.BlobObject, []byte("pushed content"))
	require.NoError(t, err)

	updater := &fakeRefUpdater{refs: make(map[string]objfmt.Hash)}
	cmds := []Command{{Old: objfmt.ZeroHash, New: blobHash, Ref: "refs/heads/main"}}
	statuses := ApplyCommands(ctx, updater, store, 1, cmds, false)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].OK)
	assert.Equal(t, blobHash, updater.refs["refs/heads/main"])

	var buf bytes.Buffer
	require.NoError(t, WriteReportStatus(&buf, nil, statuses))
	assert.Contains(t, buf.String(), "unpack ok")
	assert.Contains(t, buf.String(), "ok refs/heads/main")
}

func TestReceivePackRejectsStaleCAS(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	updater := &fakeRefUpdater{refs: map[string]objfmt.Hash{"refs/heads/main": objfmt.ZeroHash}}
	updater.refs["refs/heads/main"] = mustHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	cmds := []Command{{
		Old: mustHash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		New: mustHash("cccccccccccccccccccccccccccccccccccccccc"),
		Ref: "refs/heads/main",
	}}
	statuses := ApplyCommands(ctx, updater, store, 1, cmds, false)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].OK)

	var buf bytes.Buffer
	require.NoError(t, WriteReportStatus(&buf, nil, statuses))
	assert.Contains(t, buf.String(), "ng refs/heads/main")
}

// fakeAtomicUpdater adds transactional CASBatch on top of fakeRefUpdater's
// per-ref CAS, exercising the atomic receive-pack path in tests.
type fakeAtomicUpdater struct {
	fakeRefUpdater
	batchErr error
}

func (f *fakeAtomicUpdater) CASBatch(_ context.Context, _ int64, updates []refstore.CASUpdate) error {
	if f.batchErr != nil {
		return f.batchErr
	}
	for _, u := range updates {
		if f.refs[u.Name] != u.Old {
			return assertErr("cas mismatch: " + u.Name)
		}
	}
	for _, u := range updates {
		if u.New.IsZero() {
			delete(f.refs, u.Name)
			continue
		}
		f.refs[u.Name] = u.New
	}
	return nil
}

func TestReceivePackAtomicAppliesAllOrNone(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobA, err := store.Put(ctx, objfmt.BlobObject, []byte("a"))
	require.NoError(t, err)
	blobB, err := store.Put(ctx, objfmt.BlobObject, []byte("b"))
	require.NoError(t, err)

	updater := &fakeAtomicUpdater{fakeRefUpdater: fakeRefUpdater{refs: make(map[string]objfmt.Hash)}}
	cmds := []Command{
		{Old: objfmt.ZeroHash, New: blobA, Ref: "refs/heads/main"},
		{Old: objfmt.ZeroHash, New: blobB, Ref: "refs/heads/topic"},
	}
	statuses := ApplyCommands(ctx, updater, store, 1, cmds, true)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].OK)
	assert.True(t, statuses[1].OK)
	assert.Equal(t, blobA, updater.refs["refs/heads/main"])
	assert.Equal(t, blobB, updater.refs["refs/heads/topic"])
}

func TestReceivePackAtomicRejectsWholeBatchOnOneBadCommand(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobA, err := store.Put(ctx, objfmt.BlobObject, []byte("a"))
	require.NoError(t, err)
	blobB, err := store.Put(ctx, objfmt.BlobObject, []byte("b"))
	require.NoError(t, err)

	updater := &fakeAtomicUpdater{fakeRefUpdater: fakeRefUpdater{refs: make(map[string]objfmt.Hash)}}
	cmds := []Command{
		{Old: objfmt.ZeroHash, New: blobA, Ref: "refs/heads/main"},
		// Malformed ref name classifies as "invalid" before any CAS runs.
		{Old: objfmt.ZeroHash, New: blobB, Ref: ""},
	}
	statuses := ApplyCommands(ctx, updater, store, 1, cmds, true)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].OK)
	assert.Equal(t, "transaction failed", statuses[0].Message)
	assert.False(t, statuses[1].OK)
	assert.Equal(t, "invalid", statuses[1].Message)
	assert.Empty(t, updater.refs)
}

func TestReceivePackAtomicNotSupportedFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	blobA, err := store.Put(ctx, objfmt.BlobObject, []byte("a"))
	require.NoError(t, err)

	updater := &fakeRefUpdater{refs: make(map[string]objfmt.Hash)}
	cmds := []Command{{Old: objfmt.ZeroHash, New: blobA, Ref: "refs/heads/main"}}
	statuses := ApplyCommands(ctx, updater, store, 1, cmds, true)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].OK)
	assert.Equal(t, "atomic push not supported", statuses[0].Message)
	assert.Empty(t, updater.refs)
}

func TestClassifyRejectsDeletionOfProtectedBranch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cmd := Command{Old: mustHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), New: objfmt.ZeroHash, Ref: "refs/heads/main"}
	assert.Equal(t, "deletion-not-allowed", classify(ctx, store, cmd))
}

func TestClassifyRejectsOutOfNamespaceRef(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cmd := Command{Old: objfmt.ZeroHash, New: mustHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), Ref: "refs/remotes/origin/main"}
	assert.Equal(t, "forbidden", classify(ctx, store, cmd))
}

func TestClassifyAcceptsCreationInAllowedNamespace(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cmd := Command{Old: objfmt.ZeroHash, New: mustHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), Ref: "refs/tags/v1"}
	assert.Equal(t, "", classify(ctx, store, cmd))
}

func TestParseReceivePackCommandsDetectsAtomicCapability(t *testing.T) {
	blobHash := mustHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	var buf bytes.Buffer
	line := objfmt.ZeroHash.String() + " " + blobHash.String() + " refs/heads/main\x00 report-status atomic side-band-64k\n"
	require.NoError(t, pktline.WritePacket(&buf, []byte(line)))
	require.NoError(t, pktline.WriteFlush(&buf))

	cmds, atomic, err := ParseReceivePackCommands(&buf)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.True(t, atomic)
	assert.Equal(t, "refs/heads/main", cmds[0].Ref)
}

func mustHash(hex string) objfmt.Hash {
	h, err := objfmt.NewHashEx(hex)
	if err != nil {
		panic(err)
	}
	return h
}
