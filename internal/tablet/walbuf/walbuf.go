// Package walbuf is the tablet engine's front door: an in-memory write
// buffer backed by a durable, SQL-stored write-ahead log, so a Put returns
// only after its record is crash-safe, well before it has been folded into
// an immutable columnar tablet.
//
// Grounded on pkg/serve/odb/unpack.go's quarantine-then-commit staging
// (stage first, validate, then make visible) and pkg/serve/database's
// transactional insert idiom (database/sql, go-sql-driver/mysql) — the
// WAL table itself plays the role the teacher's quarantine directory
// plays for a receive-pack: durable holding area before the real commit.
package walbuf

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

// Record is one buffered write: either a full inline payload or a pointer
// to externally-stored bytes (see internal/objstore's size policy).
type Record struct {
	SeqNo      int64
	Hash       objfmt.Hash
	Type       objfmt.ObjectType
	Size       int64
	Inline     []byte
	BlobKey    string
	WrittenAt  time.Time
	FlushEpoch int64 // 0 until claimed by a flush
}

// Buffer is the in-memory mirror of the unflushed WAL tail, guarded by mu
// so concurrent Puts within one repo serialize cheaply without going back
// to the database for every read.
type Buffer struct {
	db     *sql.DB
	repoID int64

	mu      sync.Mutex
	pending []Record
	byHash  map[objfmt.Hash]int // index into pending
	nextSeq int64
}

// Open attaches a Buffer to repoID, replaying any WAL rows left over from
// a prior process that crashed before flushing them — durability survives
// process restarts because the WAL table, not the in-memory slice, is the
// source of truth.
func Open(ctx context.Context, db *sql.DB, repoID int64) (*Buffer, error) {
	b := &Buffer{db: db, repoID: repoID, byHash: map[objfmt.Hash]int{}}
	rows, err := db.QueryContext(ctx,
		"select seq_no, hash, type, size, inline_payload, blob_key, written_at from wal_records where repo_id = ? and flush_epoch = 0 order by seq_no",
		repoID)
	if err != nil {
		return nil, fmt.Errorf("walbuf: replay query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec Record
		var hashHex string
		var typ int8
		var inline []byte
		if err := rows.Scan(&rec.SeqNo, &hashHex, &typ, &rec.Size, &inline, &rec.BlobKey, &rec.WrittenAt); err != nil {
			return nil, fmt.Errorf("walbuf: replay scan: %w", err)
		}
		h, err := objfmt.NewHashEx(hashHex)
		if err != nil {
			return nil, ierr.Corruption("walbuf: replayed row has invalid hash %q", hashHex)
		}
		rec.Hash = h
		rec.Type = objfmt.ObjectType(typ)
		rec.Inline = inline
		rec.WrittenAt = rec.WrittenAt.Local()
		b.byHash[rec.Hash] = len(b.pending)
		b.pending = append(b.pending, rec)
		if rec.SeqNo >= b.nextSeq {
			b.nextSeq = rec.SeqNo + 1
		}
	}
	return b, rows.Err()
}

// Put appends one record to the WAL (durable) and the in-memory buffer,
// returning its sequence number. Idempotent: re-Putting an already-
// buffered hash is a no-op that returns the existing sequence number.
func (b *Buffer) Put(ctx context.Context, h objfmt.Hash, typ objfmt.ObjectType, size int64, inline []byte, blobKey string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i, ok := b.byHash[h]; ok {
		return b.pending[i].SeqNo, nil
	}

	seq := b.nextSeq
	now := time.Now()
	_, err := b.db.ExecContext(ctx,
		"insert into wal_records(repo_id, seq_no, hash, type, size, inline_payload, blob_key, written_at, flush_epoch) values(?,?,?,?,?,?,?,?,0)",
		b.repoID, seq, h.String(), int8(typ), size, inline, blobKey, now)
	if err != nil {
		return 0, fmt.Errorf("walbuf: insert: %w", err)
	}

	rec := Record{SeqNo: seq, Hash: h, Type: typ, Size: size, Inline: inline, BlobKey: blobKey, WrittenAt: now}
	b.byHash[h] = len(b.pending)
	b.pending = append(b.pending, rec)
	b.nextSeq++
	return seq, nil
}

// Get returns a buffered (not-yet-flushed) record by hash.
func (b *Buffer) Get(h objfmt.Hash) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.byHash[h]
	if !ok {
		return Record{}, false
	}
	return b.pending[i], true
}

// Has reports whether h is currently buffered (pre-flush).
func (b *Buffer) Has(h objfmt.Hash) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.byHash[h]
	return ok
}

// Len reports the number of unflushed records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Pending returns a snapshot of every unflushed record, for callers that
// need to search the WAL tail by something other than an exact hash (e.g.
// abbreviated-hash prefix resolution).
func (b *Buffer) Pending() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.pending))
	copy(out, b.pending)
	return out
}

// Claim snapshots every currently-pending record for a flush and marks
// them with epoch in the WAL so a concurrent Put can keep landing new
// rows without racing the flush that's draining the old ones. The
// snapshot is the flush's input; Release removes the claimed rows from
// the WAL once the tablet write that supersedes them is durable.
func (b *Buffer) Claim(ctx context.Context, epoch int64) ([]Record, error) {
	b.mu.Lock()
	snapshot := make([]Record, len(b.pending))
	copy(snapshot, b.pending)
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return nil, nil
	}
	seqs := make([]any, 0, len(snapshot)+1)
	seqs = append(seqs, epoch)
	placeholders := ""
	for i, r := range snapshot {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		seqs = append(seqs, r.SeqNo)
	}
	seqs = append(seqs, b.repoID)
	query := fmt.Sprintf("update wal_records set flush_epoch = ? where seq_no in (%s) and repo_id = ?", placeholders)
	if _, err := b.db.ExecContext(ctx, query, seqs...); err != nil {
		return nil, fmt.Errorf("walbuf: claim: %w", err)
	}

	b.mu.Lock()
	claimed := make(map[objfmt.Hash]bool, len(snapshot))
	for _, r := range snapshot {
		claimed[r.Hash] = true
	}
	for i, r := range b.pending {
		if claimed[r.Hash] {
			b.pending[i].FlushEpoch = epoch
		}
	}
	b.mu.Unlock()

	for i := range snapshot {
		snapshot[i].FlushEpoch = epoch
	}
	return snapshot, nil
}

// Release deletes WAL rows for an already-flushed epoch and drops them
// from the in-memory buffer — called only after the tablet bytes those
// rows describe are durably written to object storage (spec.md's flush
// durability invariant: never release before the tablet write commits).
func (b *Buffer) Release(ctx context.Context, epoch int64) error {
	if _, err := b.db.ExecContext(ctx, "delete from wal_records where repo_id = ? and flush_epoch = ?", b.repoID, epoch); err != nil {
		return fmt.Errorf("walbuf: release: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.pending[:0]
	newIndex := map[objfmt.Hash]int{}
	for _, r := range b.pending {
		if r.FlushEpoch == epoch {
			continue
		}
		newIndex[r.Hash] = len(kept)
		kept = append(kept, r)
	}
	b.pending = kept
	b.byHash = newIndex
	return nil
}
