// Package chunkpack is the small-object packer that runs inside
// compaction: many tiny external blobs get grouped into "super-chunks" —
// single concatenated byte ranges in the blob bucket — with an index
// row per member recording its (chunk key, offset, length), instead of
// paying a full bucket object per small blob.
//
// Grounded on modules/zeta/backend/pack.Set's byte-fanout lookup
// (map[byte][]*Packfile, "search this object's leading byte's packfiles in
// likelihood order") — chunkpack keeps that same fanout-by-leading-byte
// index shape, retargeted from whole packfiles to chunk members.
package chunkpack

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

// Member is one object's location within a super-chunk.
type Member struct {
	Hash   objfmt.Hash
	Offset int64
	Length int64
}

// ChunkIndex describes one super-chunk's membership, sorted by hash for
// binary search, mirroring pack index v2's own layout one level up.
type ChunkIndex struct {
	Key     string // blob bucket key of the concatenated chunk
	Members []Member
}

func (ci *ChunkIndex) sort() {
	sort.Slice(ci.Members, func(i, j int) bool {
		return bytes.Compare(ci.Members[i].Hash[:], ci.Members[j].Hash[:]) < 0
	})
}

// Find returns the member with the given hash, if present in this chunk.
func (ci *ChunkIndex) Find(h objfmt.Hash) (Member, bool) {
	i := sort.Search(len(ci.Members), func(i int) bool {
		return bytes.Compare(ci.Members[i].Hash[:], h[:]) >= 0
	})
	if i < len(ci.Members) && ci.Members[i].Hash == h {
		return ci.Members[i], true
	}
	return Member{}, false
}

// BlobBucket is the subset of internal/blobstore chunkpack writes to.
type BlobBucket interface {
	Put(ctx context.Context, key string, r *bytes.Reader, size int64) error
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
}

// Compactor groups candidate small objects into super-chunks and uploads
// them as single concatenated blobs, returning one ChunkIndex per chunk.
type Compactor struct {
	bucket    BlobBucket
	maxChunk  int64 // target super-chunk size before rolling over
	keyPrefix string
}

func New(bucket BlobBucket, maxChunkBytes int64, keyPrefix string) *Compactor {
	return &Compactor{bucket: bucket, maxChunk: maxChunkBytes, keyPrefix: keyPrefix}
}

// Candidate is one small object queued for chunk-packing.
type Candidate struct {
	Hash    objfmt.Hash
	Payload []byte
}

// Pack groups candidates into one or more super-chunks respecting the
// configured size target, uploads each, and returns their indexes.
// Candidates are consumed in input order — callers wanting locality
// should sort by hash or access pattern before calling.
func (c *Compactor) Pack(ctx context.Context, epoch int64, candidates []Candidate) ([]*ChunkIndex, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var out []*ChunkIndex
	var buf bytes.Buffer
	var idx *ChunkIndex
	chunkNo := 0

	flush := func() error {
		if idx == nil || len(idx.Members) == 0 {
			return nil
		}
		if err := c.bucket.Put(ctx, idx.Key, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
			return ierr.Transient("chunkpack: upload chunk %s: %v", idx.Key, err)
		}
		idx.sort()
		out = append(out, idx)
		return nil
	}

	for _, cand := range candidates {
		if idx == nil || (buf.Len() > 0 && buf.Len()+len(cand.Payload) > int(c.maxChunk)) {
			if err := flush(); err != nil {
				return nil, err
			}
			buf.Reset()
			idx = &ChunkIndex{Key: fmt.Sprintf("%s/chunks/epoch-%d-%04d", c.keyPrefix, epoch, chunkNo)}
			chunkNo++
		}
		offset := int64(buf.Len())
		buf.Write(cand.Payload)
		idx.Members = append(idx.Members, Member{Hash: cand.Hash, Offset: offset, Length: int64(len(cand.Payload))})
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// Read fetches one member's payload out of its super-chunk via a ranged
// read, consulting the chunk index before ever touching the bucket —
// index-first lookup, one code path for hit or miss.
func Read(ctx context.Context, bucket BlobBucket, ci *ChunkIndex, h objfmt.Hash) ([]byte, error) {
	m, ok := ci.Find(h)
	if !ok {
		return nil, ierr.NotFound("chunkpack: %s not a member of chunk %s", h, ci.Key)
	}
	return bucket.GetRange(ctx, ci.Key, m.Offset, m.Length)
}
