// Package objstore is the typed object API that every other layer talks
// to: Put/Get/Has/ResolvePrefix over the four Git object kinds,
// backed underneath by the tablet engine (internal/tablet) for small
// objects and the content-addressable blob bucket (internal/blobstore)
// for large ones or LFS payloads. Store has no Delete: removing an object
// (a tombstone) goes through the tablet engine's own Delete, which
// internal/gc uses as its Deleter.
//
// Grounded on modules/zeta/backend/storage.Storage/WritableStorage's
// shape (Open/Exists/Search/Close, HashTo/Unpack/WriteEncoded) — kept as
// the same small set of verbs, retargeted at SHA-1 Git objects and the
// inline/external/lfs size policy instead of the teacher's always-external
// BLAKE3 loose-object layout.
package objstore

import (
	"bytes"
	"context"
	"io"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

// InlineThreshold is the payload size, in bytes, at or below which a Put
// stores the object inline in the tablet write buffer; larger payloads are
// written to the blob bucket first and referenced by a pointer row.
const InlineThreshold = 1 << 20 // 1 MiB

// StorageMode records how an object's payload is physically held.
type StorageMode int8

const (
	StorageInline StorageMode = iota
	StorageExternal
	StorageLFS
)

func (m StorageMode) String() string {
	switch m {
	case StorageInline:
		return "inline"
	case StorageExternal:
		return "external"
	case StorageLFS:
		return "lfs"
	default:
		return "unknown"
	}
}

// Record is the metadata row an object resolves to, independent of where
// its payload actually lives.
type Record struct {
	Hash    objfmt.Hash
	Type    objfmt.ObjectType
	Size    int64
	Mode    StorageMode
	BlobKey string // set when Mode != StorageInline
}

// Tablet is the subset of the tablet engine objstore depends on: durable
// small-object storage plus existence probing. Implemented by
// internal/tablet.Engine; declared here (consumer side) so objstore has no
// import-cycle back into tablet's internals.
type Tablet interface {
	Put(ctx context.Context, rec Record, payload []byte) error
	Get(ctx context.Context, h objfmt.Hash) (Record, []byte, error)
	Has(ctx context.Context, h objfmt.Hash) (bool, error)
	ResolvePrefix(ctx context.Context, prefix string) (objfmt.Hash, error)
}

// BlobBucket is the subset of internal/blobstore objstore depends on for
// externally-stored payloads.
type BlobBucket interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Has(ctx context.Context, key string) (bool, error)
}

// Store is the typed object API. It owns the size policy and the
// put-ordering guarantee: external bytes are written to the blob bucket
// before the tablet row that references them, so a crash mid-Put never
// leaves a tablet row pointing at a missing blob.
type Store struct {
	tablet Tablet
	blobs  BlobBucket
	keyer  func(h objfmt.Hash) string
}

func New(tablet Tablet, blobs BlobBucket, keyer func(h objfmt.Hash) string) *Store {
	if keyer == nil {
		keyer = defaultBlobKey
	}
	return &Store{tablet: tablet, blobs: blobs, keyer: keyer}
}

func defaultBlobKey(h objfmt.Hash) string {
	s := h.String()
	return "raw/" + s[0:2] + "/" + s[2:]
}

// Put stores payload under kind, returning its hash. Idempotent: storing
// the same (kind, payload) pair twice is a no-op on the second call.
func (s *Store) Put(ctx context.Context, kind objfmt.ObjectType, payload []byte) (objfmt.Hash, error) {
	h := objfmt.HashObject(kind, payload)
	if has, err := s.Has(ctx, h); err != nil {
		return objfmt.ZeroHash, err
	} else if has {
		return h, nil
	}

	rec := Record{Hash: h, Type: kind, Size: int64(len(payload))}
	if int64(len(payload)) <= InlineThreshold {
		rec.Mode = StorageInline
		if err := s.tablet.Put(ctx, rec, payload); err != nil {
			return objfmt.ZeroHash, err
		}
		return h, nil
	}

	rec.Mode = StorageExternal
	rec.BlobKey = s.keyer(h)
	if s.blobs == nil {
		return objfmt.ZeroHash, ierr.Capacity("objstore: payload %d bytes exceeds inline threshold, no blob bucket configured", len(payload))
	}
	if err := s.blobs.Put(ctx, rec.BlobKey, bytes.NewReader(payload), rec.Size); err != nil {
		return objfmt.ZeroHash, err
	}
	if err := s.tablet.Put(ctx, rec, nil); err != nil {
		return objfmt.ZeroHash, err
	}
	return h, nil
}

// Get retrieves an object's kind and payload by hash.
func (s *Store) Get(ctx context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error) {
	rec, payload, err := s.tablet.Get(ctx, h)
	if err != nil {
		return objfmt.InvalidObject, nil, err
	}
	if rec.Mode == StorageInline {
		return rec.Type, payload, nil
	}
	if s.blobs == nil {
		return objfmt.InvalidObject, nil, ierr.Fatal("objstore: external object %s has no blob bucket configured", h)
	}
	rc, err := s.blobs.Get(ctx, rec.BlobKey)
	if err != nil {
		return objfmt.InvalidObject, nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return objfmt.InvalidObject, nil, ierr.Corruption("objstore: reading blob for %s: %v", h, err)
	}
	return rec.Type, data, nil
}

// Has reports whether an object exists, consulting the tablet's Bloom+exact
// cache rather than the blob bucket (the tablet row is authoritative for
// existence regardless of storage mode).
func (s *Store) Has(ctx context.Context, h objfmt.Hash) (bool, error) {
	return s.tablet.Has(ctx, h)
}

// ResolvePrefix resolves an abbreviated hex hash to its full form, or
// ierr.Conflict/ierr.NotFound on ambiguity/absence.
func (s *Store) ResolvePrefix(ctx context.Context, prefix string) (objfmt.Hash, error) {
	return s.tablet.ResolvePrefix(ctx, prefix)
}
