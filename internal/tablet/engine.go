// Package tablet is the durable small-object storage engine: it wires
// walbuf (durable write buffer), compactor (WAL-to-tablet folding),
// chunkpack (small-object grouping into super-chunks), and bloomcache
// (existence fast path) into the single objstore.Tablet implementation
// every repository handle is built from.
//
// Grounded on modules/zeta/backend/storage.Storage's layering of a
// writable staging area in front of immutable pack storage, and on
// pkg/serve/database's table-per-concern convention (one SQL table per
// durable index this package owns: wal_records, compaction_journal,
// tablet_index).
package tablet

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/antgroup/hugescm/internal/gc"
	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/objstore"
	"github.com/antgroup/hugescm/internal/tablet/bloomcache"
	"github.com/antgroup/hugescm/internal/tablet/chunkpack"
	"github.com/antgroup/hugescm/internal/tablet/compactor"
	"github.com/antgroup/hugescm/internal/tablet/walbuf"
)

// falsePositiveRate is the Bloom segment's target false-positive rate for
// every segment this engine builds, matching the 1% working figure
// bloomcache.NewSegment's doc comment uses as an example.
const falsePositiveRate = 0.01

// autoCompactThreshold is the number of buffered WAL records at which Put
// triggers an inline flush of the WAL tail into a new tablet, keeping the
// WAL tail small instead of relying on an external scheduler to ever run
// one. Merging tablets is left to Compact, which runs out-of-band (the
// cmd/githost-serve compact subcommand calls it).
const autoCompactThreshold = 4096

// BlobBucket is the subset of internal/blobstore this engine needs to
// durably store tablet bytes (concatenated super-chunks of small objects).
type BlobBucket interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}

// chunkBucket adapts BlobBucket to chunkpack.BlobBucket's narrower,
// *bytes.Reader-typed Put and whole-slice GetRange.
type chunkBucket struct {
	BlobBucket
}

func (c chunkBucket) Put(ctx context.Context, key string, r *bytes.Reader, size int64) error {
	return c.BlobBucket.Put(ctx, key, r, size)
}

func (c chunkBucket) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	rc, err := c.BlobBucket.OpenRange(ctx, key, offset, length)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Engine is the objstore.Tablet implementation: recent writes live in the
// WAL buffer, everything folded by a prior compaction lives in the
// tablet_index table (pointing at super-chunks in the blob bucket, or
// directly at an already-external blob key), and bloomcache.Cache answers
// "definitely absent" without ever reaching the database.
type Engine struct {
	db     *sql.DB
	repoID int64

	wal     *walbuf.Buffer
	cache   *bloomcache.Cache
	bucket  BlobBucket
	chunker *chunkpack.Compactor
	compact *compactor.Engine

	mu     sync.Mutex
	curSeg *bloomcache.Segment
}

// Open attaches an Engine to repoID. Before replaying the WAL tail it
// resolves any compaction or flush journal a prior process left mid-run
// (compactor.Recover), so an epoch abandoned in progress rejoins the WAL
// buffer instead of staying claimed forever, and a written-but-not-yet-
// cleaned-up compaction finishes swapping the live-tablet set. The
// engine then seeds a fresh Bloom segment — it starts with no
// prior-tablet membership cached, so the first Has() miss on an old hash
// costs one tablet_index query, same as a cold cache.
func Open(ctx context.Context, db *sql.DB, bucket BlobBucket, cache *bloomcache.Cache, repoID int64, keyPrefix string) (*Engine, error) {
	e := &Engine{
		db:      db,
		repoID:  repoID,
		cache:   cache,
		bucket:  bucket,
		chunker: chunkpack.New(chunkBucket{bucket}, 8<<20, keyPrefix),
		curSeg:  cache.NewSegment(0, falsePositiveRate),
	}
	if err := compactor.Recover(ctx, db, e, repoID); err != nil {
		return nil, fmt.Errorf("tablet: recover compaction journal: %w", err)
	}

	wal, err := walbuf.Open(ctx, db, repoID)
	if err != nil {
		return nil, fmt.Errorf("tablet: open wal: %w", err)
	}
	e.wal = wal
	e.compact = compactor.New(db, wal, e, repoID)
	return e, nil
}

// Put buffers rec durably in the WAL, tracks it in the active Bloom
// segment and exact cache, then flushes the WAL tail into a tablet once
// it reaches autoCompactThreshold records.
func (e *Engine) Put(ctx context.Context, rec objstore.Record, payload []byte) error {
	inline := payload
	if rec.Mode != objstore.StorageInline {
		inline = nil
	}
	if _, err := e.wal.Put(ctx, rec.Hash, rec.Type, rec.Size, inline, rec.BlobKey); err != nil {
		return err
	}
	e.mu.Lock()
	e.cache.RecordPut(e.curSeg, rec.Hash)
	e.mu.Unlock()

	if e.wal.Len() >= autoCompactThreshold {
		if _, err := e.compact.Flush(ctx); err != nil {
			return fmt.Errorf("tablet: auto-flush: %w", err)
		}
	}
	return nil
}

// Get resolves h from the WAL tail first, falling back to the durable
// tablet_index. The returned objstore.Record's Mode/BlobKey tell the
// caller (internal/objstore) whether payload is already complete (inline)
// or whether it must fetch rec.BlobKey from the blob bucket itself
// (external) — this engine never resolves external payloads on Get's
// behalf, only locates them.
func (e *Engine) Get(ctx context.Context, h objfmt.Hash) (objstore.Record, []byte, error) {
	if wrec, ok := e.wal.Get(h); ok {
		return walRecordToObjstore(wrec), wrec.Inline, nil
	}
	// A tombstoned hash reads back as gone the moment gc.Deleter marks
	// it, not only once a later Compact physically rewrites the tablet.
	if tomb, err := e.tombstoned(ctx, h); err != nil {
		return objstore.Record{}, nil, err
	} else if tomb {
		return objstore.Record{}, nil, ierr.NotFound("tablet: object %s not found", h)
	}

	var typ int8
	var size int64
	var mode int8
	var tabletKey sql.NullString
	var offset, length sql.NullInt64
	var blobKey sql.NullString
	row := e.db.QueryRowContext(ctx,
		"select type, size, mode, tablet_key, offset, length, blob_key from tablet_index where repo_id = ? and hash = ?",
		e.repoID, h.String())
	if err := row.Scan(&typ, &size, &mode, &tabletKey, &offset, &length, &blobKey); err != nil {
		if err == sql.ErrNoRows {
			return objstore.Record{}, nil, ierr.NotFound("tablet: object %s not found", h)
		}
		return objstore.Record{}, nil, fmt.Errorf("tablet: get: %w", err)
	}

	rec := objstore.Record{Hash: h, Type: objfmt.ObjectType(typ), Size: size, Mode: objstore.StorageMode(mode)}
	if rec.Mode != objstore.StorageInline {
		rec.BlobKey = blobKey.String
		return rec, nil, nil
	}
	rc, err := e.bucket.OpenRange(ctx, tabletKey.String, offset.Int64, length.Int64)
	if err != nil {
		return objstore.Record{}, nil, fmt.Errorf("tablet: read super-chunk %s: %w", tabletKey.String, err)
	}
	defer rc.Close()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return objstore.Record{}, nil, ierr.Corruption("tablet: reading super-chunk %s member %s: %v", tabletKey.String, h, err)
	}
	return rec, payload, nil
}

// Has answers existence without a tablet_index round trip whenever
// possible: the WAL tail is exact, and a Bloom "definitely absent" is
// authoritative. Only a Bloom hit — which may be a false positive — costs
// a confirming query.
func (e *Engine) Has(ctx context.Context, h objfmt.Hash) (bool, error) {
	if e.wal.Has(h) {
		return true, nil
	}
	if !e.cache.MaybeHas(h) {
		return false, nil
	}
	if tomb, err := e.tombstoned(ctx, h); err != nil {
		return false, err
	} else if tomb {
		return false, nil
	}
	var exists int
	err := e.db.QueryRowContext(ctx, "select 1 from tablet_index where repo_id = ? and hash = ? limit 1", e.repoID, h.String()).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tablet: has: %w", err)
	}
	return true, nil
}

// ResolvePrefix finds the unique hash beginning with prefix, checking the
// WAL tail and the durable index. Returns ierr.Conflict on ambiguity and
// ierr.NotFound if nothing matches.
func (e *Engine) ResolvePrefix(ctx context.Context, prefix string) (objfmt.Hash, error) {
	matches := map[objfmt.Hash]bool{}
	for _, r := range e.wal.Pending() {
		if len(prefix) <= len(r.Hash) && hasHexPrefix(r.Hash, prefix) {
			matches[r.Hash] = true
		}
	}

	rows, err := e.db.QueryContext(ctx, "select hash from tablet_index where repo_id = ? and hash like ?", e.repoID, prefix+"%")
	if err != nil {
		return objfmt.ZeroHash, fmt.Errorf("tablet: resolve prefix: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hashHex string
		if err := rows.Scan(&hashHex); err != nil {
			return objfmt.ZeroHash, fmt.Errorf("tablet: resolve prefix scan: %w", err)
		}
		h, err := objfmt.NewHashEx(hashHex)
		if err != nil {
			return objfmt.ZeroHash, ierr.Corruption("tablet: index has invalid hash %q", hashHex)
		}
		matches[h] = true
	}
	if err := rows.Err(); err != nil {
		return objfmt.ZeroHash, err
	}

	switch len(matches) {
	case 0:
		return objfmt.ZeroHash, ierr.NotFound("tablet: no object matches prefix %q", prefix)
	case 1:
		for h := range matches {
			return h, nil
		}
	}
	return objfmt.ZeroHash, ierr.Conflict("tablet: prefix %q is ambiguous (%d matches)", prefix, len(matches))
}

func hasHexPrefix(h objfmt.Hash, prefix string) bool {
	full := h.String()
	return len(full) >= len(prefix) && full[:len(prefix)] == prefix
}

// Compact runs module J: a journaled merge of every currently live
// tablet into one, honoring tombstones, recoverable across a crash. It
// is a no-op (empty FlushEvent) when fewer than two tablets are live —
// nothing to merge — and safe to call concurrently with Put, though
// callers driving the gc/compact CLI subcommand are expected to hold
// the per-repo write lock so a compaction doesn't race a concurrent one.
func (e *Engine) Compact(ctx context.Context) (compactor.FlushEvent, error) {
	return e.compact.Compact(ctx)
}

// WriteTablet implements compactor.TabletWriter: it groups every inline
// record into one or more super-chunks via chunkpack, uploads them,
// indexes every record (inline or already-external) into tablet_index in
// one transaction, and rolls the Bloom segment over to cover exactly what
// this flush just made durable.
func (e *Engine) WriteTablet(ctx context.Context, repoID int64, epoch int64, records []walbuf.Record) (string, int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("tablet: write tablet begin: %w", err)
	}
	defer tx.Rollback()

	tabletKey, totalBytes, err := e.indexRecordsTx(ctx, tx, repoID, epoch, records)
	if err != nil {
		return "", 0, err
	}
	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("tablet: write tablet commit: %w", err)
	}

	e.rollBloomSegment(records)
	return tabletKey, totalBytes, nil
}

// MergeTablets implements compactor.TabletMerger: within one transaction,
// it drops every tablet_index row and live_tablets row belonging to
// sources (the tablets this merge is replacing), then indexes surviving
// (the hashes Compact decided to carry forward, already read back into
// memory) into a fresh tablet exactly the way WriteTablet would.
func (e *Engine) MergeTablets(ctx context.Context, repoID int64, sources []string, surviving []walbuf.Record) (string, int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("tablet: merge tablets begin: %w", err)
	}
	defer tx.Rollback()

	for _, key := range sources {
		if _, err := tx.ExecContext(ctx, "delete from tablet_index where repo_id = ? and tablet_key = ?", repoID, key); err != nil {
			return "", 0, fmt.Errorf("tablet: merge delete source index: %w", err)
		}
	}

	epoch := time.Now().UnixNano()
	tabletKey, totalBytes, err := e.indexRecordsTx(ctx, tx, repoID, epoch, surviving)
	if err != nil {
		return "", 0, err
	}
	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("tablet: merge tablets commit: %w", err)
	}

	e.rollBloomSegment(surviving)
	return tabletKey, totalBytes, nil
}

// indexRecordsTx packs every inline record into one or more super-chunks,
// uploads them, and inserts one tablet_index row per record (inline or
// already-external) plus a live_tablets row per chunk, all inside tx.
func (e *Engine) indexRecordsTx(ctx context.Context, tx *sql.Tx, repoID int64, epoch int64, records []walbuf.Record) (string, int64, error) {
	var candidates []chunkpack.Candidate
	for _, r := range records {
		if r.Inline != nil {
			candidates = append(candidates, chunkpack.Candidate{Hash: r.Hash, Payload: r.Inline})
		}
	}
	chunks, err := e.chunker.Pack(ctx, epoch, candidates)
	if err != nil {
		return "", 0, err
	}

	byHash := make(map[objfmt.Hash]walbuf.Record, len(records))
	for _, r := range records {
		byHash[r.Hash] = r
	}

	var totalBytes int64
	var tabletKey string
	for _, ci := range chunks {
		tabletKey = ci.Key
		if _, err := tx.ExecContext(ctx,
			"insert into live_tablets(repo_id, tablet_key, created_at) values(?,?,?)",
			repoID, ci.Key, time.Now()); err != nil {
			return "", 0, fmt.Errorf("tablet: register live tablet: %w", err)
		}
		for _, m := range ci.Members {
			rec := byHash[m.Hash]
			if _, err := tx.ExecContext(ctx,
				"insert into tablet_index(repo_id, hash, type, size, mode, tablet_key, offset, length, blob_key, indexed_at) values(?,?,?,?,?,?,?,?,null,?)",
				repoID, rec.Hash.String(), int8(rec.Type), rec.Size, int8(objstore.StorageInline), ci.Key, m.Offset, m.Length, rec.WrittenAt); err != nil {
				return "", 0, fmt.Errorf("tablet: index inline member: %w", err)
			}
			totalBytes += m.Length
		}
	}
	for _, r := range records {
		if r.Inline != nil {
			continue
		}
		mode := objstore.StorageExternal
		if _, err := tx.ExecContext(ctx,
			"insert into tablet_index(repo_id, hash, type, size, mode, tablet_key, offset, length, blob_key, indexed_at) values(?,?,?,?,?,null,0,0,?,?)",
			repoID, r.Hash.String(), int8(r.Type), r.Size, int8(mode), r.BlobKey, r.WrittenAt); err != nil {
			return "", 0, fmt.Errorf("tablet: index external member: %w", err)
		}
		totalBytes += r.Size
	}

	if tabletKey == "" && len(records) > 0 {
		tabletKey = fmt.Sprintf("%s/epoch-%d-external-only", "tablet", epoch)
	}
	return tabletKey, totalBytes, nil
}

// rollBloomSegment retires the active Bloom segment in favor of a fresh
// one seeded with exactly the hashes just made durable, so membership
// this engine has already proven doesn't depend on a segment getting
// compacted away by bloomcache's own segment-count policy.
func (e *Engine) rollBloomSegment(records []walbuf.Record) {
	newSeg := e.cache.NewSegment(len(records), falsePositiveRate)
	for _, r := range records {
		newSeg.Add(r.Hash)
	}
	e.mu.Lock()
	old := e.curSeg
	e.curSeg = newSeg
	e.mu.Unlock()
	if old != nil {
		e.cache.RetireSegment(old)
	}
}

// LiveTablets implements compactor.TabletMerger: every tablet currently
// eligible to participate in a merge.
func (e *Engine) LiveTablets(ctx context.Context, repoID int64) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, "select tablet_key from live_tablets where repo_id = ?", repoID)
	if err != nil {
		return nil, fmt.Errorf("tablet: live tablets: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("tablet: live tablets scan: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// TabletMembers implements compactor.TabletMerger: every tablet_index
// row belonging to tabletKey (inline rows only — an external-mode row
// has no tablet_key and so is never a tablet member, bypassing
// compaction entirely per spec.md's raw blob overflow path).
func (e *Engine) TabletMembers(ctx context.Context, repoID int64, tabletKey string) ([]compactor.TabletMember, error) {
	rows, err := e.db.QueryContext(ctx,
		"select hash, type, size, offset, length, indexed_at from tablet_index where repo_id = ? and tablet_key = ?",
		repoID, tabletKey)
	if err != nil {
		return nil, fmt.Errorf("tablet: tablet members: %w", err)
	}
	defer rows.Close()
	var out []compactor.TabletMember
	for rows.Next() {
		var hashHex string
		var typ int8
		var m compactor.TabletMember
		if err := rows.Scan(&hashHex, &typ, &m.Size, &m.Offset, &m.Length, &m.WrittenAt); err != nil {
			return nil, fmt.Errorf("tablet: tablet members scan: %w", err)
		}
		h, err := objfmt.NewHashEx(hashHex)
		if err != nil {
			return nil, ierr.Corruption("tablet: tablet_index has invalid hash %q", hashHex)
		}
		m.Hash = h
		m.Type = typ
		m.WrittenAt = m.WrittenAt.Local()
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReadMember implements compactor.TabletMerger by ranged-reading straight
// out of the blob bucket, same as Get's super-chunk read path.
func (e *Engine) ReadMember(ctx context.Context, tabletKey string, offset, length int64) ([]byte, error) {
	rc, err := e.bucket.OpenRange(ctx, tabletKey, offset, length)
	if err != nil {
		return nil, fmt.Errorf("tablet: read member from %s: %w", tabletKey, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Tombstones implements compactor.TabletMerger: every hash GC has marked
// deleted but that a compaction hasn't yet physically removed.
func (e *Engine) Tombstones(ctx context.Context, repoID int64) (map[objfmt.Hash]bool, error) {
	rows, err := e.db.QueryContext(ctx, "select hash from tablet_tombstone where repo_id = ?", repoID)
	if err != nil {
		return nil, fmt.Errorf("tablet: tombstones: %w", err)
	}
	defer rows.Close()
	out := make(map[objfmt.Hash]bool)
	for rows.Next() {
		var hashHex string
		if err := rows.Scan(&hashHex); err != nil {
			return nil, fmt.Errorf("tablet: tombstones scan: %w", err)
		}
		h, err := objfmt.NewHashEx(hashHex)
		if err != nil {
			return nil, ierr.Corruption("tablet: tombstone has invalid hash %q", hashHex)
		}
		out[h] = true
	}
	return out, rows.Err()
}

// ReplaceLiveSet implements compactor.TabletMerger: atomically drops
// every source tablet from live_tablets and, if target is non-empty,
// adds it — the step 8 live-set swap. Idempotent against sources already
// gone (a recovery retry) and against target already present.
func (e *Engine) ReplaceLiveSet(ctx context.Context, repoID int64, sources []string, target string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tablet: replace live set begin: %w", err)
	}
	defer tx.Rollback()

	for _, key := range sources {
		if key == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, "delete from live_tablets where repo_id = ? and tablet_key = ?", repoID, key); err != nil {
			return fmt.Errorf("tablet: replace live set delete source: %w", err)
		}
	}
	if target != "" {
		var exists int
		err := tx.QueryRowContext(ctx, "select 1 from live_tablets where repo_id = ? and tablet_key = ? limit 1", repoID, target).Scan(&exists)
		if err == sql.ErrNoRows {
			if _, err := tx.ExecContext(ctx, "insert into live_tablets(repo_id, tablet_key, created_at) values(?,?,?)", repoID, target, time.Now()); err != nil {
				return fmt.Errorf("tablet: replace live set insert target: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("tablet: replace live set check target: %w", err)
		}
	}
	return tx.Commit()
}

// ClearTombstones implements compactor.TabletMerger: a tombstone whose
// hash a merge has just physically removed from every live tablet no
// longer needs to be honored by a future merge.
func (e *Engine) ClearTombstones(ctx context.Context, repoID int64, resolved []objfmt.Hash) error {
	for _, h := range resolved {
		if _, err := e.db.ExecContext(ctx, "delete from tablet_tombstone where repo_id = ? and hash = ?", repoID, h.String()); err != nil {
			return fmt.Errorf("tablet: clear tombstone %s: %w", h, err)
		}
	}
	return nil
}

// EnumerateAll implements gc.Enumerator by scanning every durable
// tablet_index row for this repository. WAL-resident objects are
// deliberately excluded: they are at most autoCompactThreshold Puts old,
// far inside any realistic gc.Config.GracePeriod, so sweep never needs to
// see them, and walbuf exposes no delete-by-hash primitive for Delete to
// call against them anyway.
func (e *Engine) EnumerateAll(ctx context.Context) (<-chan gc.ObjectStat, error) {
	rows, err := e.db.QueryContext(ctx,
		"select hash, indexed_at from tablet_index where repo_id = ?", e.repoID)
	if err != nil {
		return nil, fmt.Errorf("tablet: enumerate all: %w", err)
	}

	out := make(chan gc.ObjectStat, 256)
	go func() {
		defer close(out)
		defer rows.Close()
		for rows.Next() {
			var hashHex string
			var indexedAt time.Time
			if err := rows.Scan(&hashHex, &indexedAt); err != nil {
				return
			}
			h, err := objfmt.NewHashEx(hashHex)
			if err != nil {
				continue
			}
			select {
			case out <- gc.ObjectStat{Hash: h, WrittenAt: indexedAt}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Delete implements gc.Deleter by tombstoning a swept object rather than
// removing its tablet_index row outright: spec.md's non-goal "no
// per-object deletion once flushed (deletion is a tombstone honored at
// compaction)" means the row — and the chunk bytes it points at, shared
// with every other member of that super-chunk — stays exactly where it
// is until the next Compact actually rewrites the tablet without it.
// Get/Has both check this same table so a tombstoned hash reads back as
// gone immediately, well before compaction physically catches up.
func (e *Engine) Delete(ctx context.Context, h objfmt.Hash) error {
	if _, err := e.db.ExecContext(ctx,
		"insert into tablet_tombstone(repo_id, hash, created_at) values(?,?,?)",
		e.repoID, h.String(), time.Now()); err != nil {
		return fmt.Errorf("tablet: tombstone %s: %w", h, err)
	}
	return nil
}

func (e *Engine) tombstoned(ctx context.Context, h objfmt.Hash) (bool, error) {
	var exists int
	err := e.db.QueryRowContext(ctx, "select 1 from tablet_tombstone where repo_id = ? and hash = ? limit 1", e.repoID, h.String()).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tablet: check tombstone %s: %w", h, err)
	}
	return true, nil
}

func walRecordToObjstore(r walbuf.Record) objstore.Record {
	mode := objstore.StorageExternal
	if r.Inline != nil {
		mode = objstore.StorageInline
	}
	return objstore.Record{Hash: r.Hash, Type: r.Type, Size: r.Size, Mode: mode, BlobKey: r.BlobKey}
}
