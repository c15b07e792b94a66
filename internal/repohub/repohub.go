// Package repohub is the repository-shard hub: it maps a repository ID
// to its own objstore/refstore/bloomcache triple, sharding storage
// layout by ID the same way the teacher shards its on-disk zeta repos.
//
// Grounded on pkg/serve/repo/repositories.go's repositories type: a
// root-relative sharded path function (zetaJoin), one shared cache and
// metadata DB handle, and an Open/New split between "attach to an
// existing repository" and "provision a brand new one". Retargeted from
// the teacher's filesystem-backed odb.ODB to this system's
// objstore.Store + refstore.Store + blobstore.Bucket stack.
package repohub

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/antgroup/hugescm/internal/blobstore"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/objstore"
	"github.com/antgroup/hugescm/internal/refstore"
	"github.com/antgroup/hugescm/internal/tablet/bloomcache"
)

// bucketAdapter narrows a blobstore.Bucket down to objstore.BlobBucket:
// objstore only ever fetches a whole external payload by key, so Get
// delegates to Open rather than asking every blobstore.Bucket
// implementation to grow a second read method.
type bucketAdapter struct {
	blobstore.Bucket
}

func (b bucketAdapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return b.Open(ctx, key)
}

// Handle bundles everything one repository's request handling needs:
// the object store for its SHA-1-addressed Git objects, the ref store
// scoped to its repoID, and a bloom/LRU cache front for membership
// checks before a tablet read.
type Handle struct {
	RepoID  int64
	Objects *objstore.Store
	Refs    *refstore.Store
	Cache   *bloomcache.Cache
}

// Tablet is the subset of the tablet engine a Hub needs to build a
// per-repository objstore.Store; kept as an interface so repohub has no
// direct dependency on any one tablet implementation.
type Tablet interface {
	objstore.Tablet
}

// TabletFactory builds (or opens) the tablet backing one repository.
// Sharding the physical tablet storage by repository ID is the tablet
// implementation's concern, not repohub's — this hook is where that
// choice plugs in.
type TabletFactory func(ctx context.Context, repoID int64) (Tablet, error)

// Hub is the shared, process-wide state every repository handle is
// built from: one SQL connection pool, one blob bucket, one cache
// config, and the tablet factory.
type Hub struct {
	db            *sql.DB
	bucket        blobstore.Bucket
	tablets       TabletFactory
	cacheConfig   bloomcache.Config
	blobKeyPrefix string
}

// New constructs a Hub. db is shared across every repository (ref rows
// and compaction journals are keyed by repo_id, following
// pkg/serve/database's multi-tenant-single-schema convention rather than
// one database per repository).
func New(db *sql.DB, bucket blobstore.Bucket, tablets TabletFactory, cacheConfig bloomcache.Config, blobKeyPrefix string) *Hub {
	return &Hub{db: db, bucket: bucket, tablets: tablets, cacheConfig: cacheConfig, blobKeyPrefix: blobKeyPrefix}
}

// ShardPrefix mirrors repositories.zetaJoin's sharding scheme
// (rid % 1000, zero-padded) so blob keys and any on-disk scratch space
// stay evenly distributed across directories/prefixes at scale, instead
// of funneling millions of repositories into one flat namespace.
func ShardPrefix(repoID int64) string {
	return fmt.Sprintf("%03d/%d", repoID%1000, repoID)
}

// Bucket exposes the Hub's shared blob bucket for callers that need to
// address it directly (LFS existence checks, signed URL generation)
// rather than through the per-repository objstore.Store indirection.
func (h *Hub) Bucket() blobstore.Bucket {
	return h.bucket
}

// LFSPrefix derives repoID's LFS key prefix, sharded the same way
// ShardPrefix spreads raw object keys.
func (h *Hub) LFSPrefix(repoID int64) string {
	return h.blobKeyPrefix + "/" + ShardPrefix(repoID) + "/lfs"
}

// Open attaches to repoID's storage, building a fresh Handle. Hubs don't
// cache Handles themselves — callers that serve many requests per
// repository are expected to keep their own short-lived pool, since a
// Handle holds no unshared resources beyond the lightweight bloomcache.Cache.
func (h *Hub) Open(ctx context.Context, repoID int64) (*Handle, error) {
	tablet, err := h.tablets(ctx, repoID)
	if err != nil {
		return nil, err
	}
	cache, err := bloomcache.New(h.cacheConfig)
	if err != nil {
		return nil, err
	}
	prefix := h.blobKeyPrefix + "/" + ShardPrefix(repoID)
	store := objstore.New(tablet, bucketAdapter{h.bucket}, func(hash objfmt.Hash) string {
		return blobstore.RawKey(prefix, hash.String())
	})
	refs := refstore.Open(h.db)
	return &Handle{RepoID: repoID, Objects: store, Refs: refs, Cache: cache}, nil
}
