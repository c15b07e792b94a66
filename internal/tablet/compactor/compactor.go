// Package compactor implements two related but distinct operations on
// top of the WAL and the durable tablet layer:
//
//   - Flush (spec.md module G's operation): claim the current WAL tail
//     and fold it into exactly one new tablet. Never reads existing
//     tablets, never touches the live-tablet set beyond adding the one
//     it just wrote.
//   - Compact (spec.md module J): a journaled merge of every currently
//     live tablet into one, honoring tombstones, recoverable across a
//     crash between any two steps.
//
// Both are journaled in the same crash-recoverable compaction_journal
// table: a row moves from in_progress to written only after its target
// bytes are durably in object storage, so a crash mid-operation leaves
// the journal pointing at a row the next run can safely redo or unwind.
//
// Grounded on pkg/serve/database's transactional insert/select/update
// idiom (same as refstore/walbuf) and modules/zeta/backend/prune.go's
// two-call PruneObject/PruneObjects split between metadata and blob
// reclamation — compaction here plays prune's "decide what survives"
// role one layer earlier, before anything is eligible for GC.
package compactor

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/tablet/walbuf"
)

// JournalStatus is the lifecycle of one journaled operation.
type JournalStatus int8

const (
	StatusInProgress JournalStatus = iota
	StatusWritten
)

// journalKind distinguishes a Flush row (no sources, single target
// tablet) from a Compact row (N>=2 sources merged into one target), so
// recovery knows which cleanup each row needs.
type journalKind string

const (
	kindFlush   journalKind = "flush"
	kindCompact journalKind = "compact"
)

// TabletMember is one surviving row read back out of a live tablet ahead
// of a merge — the subset of tablet_index columns Compact needs to
// decide whether to re-emit a hash or skip it as tombstoned.
type TabletMember struct {
	Hash      objfmt.Hash
	Type      int8
	Size      int64
	Offset    int64
	Length    int64
	WrittenAt time.Time
}

// TabletWriter is the tablet-flush path's narrow write dependency: given
// a batch of WAL records, produce a durable tablet, index it, and return
// its storage key plus byte count.
type TabletWriter interface {
	WriteTablet(ctx context.Context, repoID int64, epoch int64, records []walbuf.Record) (tabletKey string, bytes int64, err error)
}

// TabletMerger is the richer dependency Compact needs on top of
// TabletWriter: enumerate the live-tablet set, read back a source
// tablet's surviving members, merge them (plus the current WAL tail)
// into one new tablet, and atomically replace the live set.
type TabletMerger interface {
	TabletWriter
	LiveTablets(ctx context.Context, repoID int64) ([]string, error)
	TabletMembers(ctx context.Context, repoID int64, tabletKey string) ([]TabletMember, error)
	ReadMember(ctx context.Context, tabletKey string, offset, length int64) ([]byte, error)
	Tombstones(ctx context.Context, repoID int64) (map[objfmt.Hash]bool, error)
	MergeTablets(ctx context.Context, repoID int64, sources []string, surviving []walbuf.Record) (tabletKey string, bytes int64, err error)
	ReplaceLiveSet(ctx context.Context, repoID int64, sources []string, target string) error
	ClearTombstones(ctx context.Context, repoID int64, resolved []objfmt.Hash) error
}

// Engine runs one flush or compaction at a time per repo (the caller is
// expected to hold the repo's write lock for the duration — compaction
// is the one operation in spec.md that takes the write half of the
// per-repo R/W lock).
type Engine struct {
	db     *sql.DB
	wal    *walbuf.Buffer
	writer TabletWriter
	repoID int64
}

func New(db *sql.DB, wal *walbuf.Buffer, writer TabletWriter, repoID int64) *Engine {
	return &Engine{db: db, wal: wal, writer: writer, repoID: repoID}
}

// Flush claims the current WAL tail, journals the attempt, writes a
// tablet, marks the journal row written, then releases the claimed WAL
// rows. Returns the empty FlushEvent (TabletKey == "") if there was
// nothing to flush. This is module G's operation, triggered inline by
// Engine.Put once the WAL tail crosses a configured threshold — it never
// reads existing tablets or honors tombstones; see Compact for that.
func (e *Engine) Flush(ctx context.Context) (FlushEvent, error) {
	epoch := time.Now().UnixNano()
	records, err := e.wal.Claim(ctx, epoch)
	if err != nil {
		return FlushEvent{}, err
	}
	if len(records) == 0 {
		return FlushEvent{}, nil
	}

	journalID, err := e.journal(ctx, epoch, kindFlush, "", len(records))
	if err != nil {
		return FlushEvent{}, err
	}

	tabletKey, bytesWritten, err := e.writer.WriteTablet(ctx, e.repoID, epoch, records)
	if err != nil {
		// Leave the journal row in_progress: recovery (or an
		// operator-triggered retry) detects it and resets this epoch's
		// WAL rows back to unclaimed, since the source WAL rows are
		// still claimed but the tablet that was meant to supersede them
		// was never durably written.
		return FlushEvent{}, ierr.Transient("compactor: write tablet: %v", err)
	}

	if err := e.markWritten(ctx, journalID, tabletKey, bytesWritten); err != nil {
		return FlushEvent{}, err
	}
	if err := e.wal.Release(ctx, epoch); err != nil {
		return FlushEvent{}, err
	}
	if err := e.deleteJournal(ctx, journalID); err != nil {
		return FlushEvent{}, err
	}

	return FlushEvent{
		TabletKey:     tabletKey,
		Bytes:         bytesWritten,
		RecordCount:   len(records),
		StorageHandle: tabletKey,
		RepoID:        e.repoID,
		Epoch:         epoch,
	}, nil
}

// Compact implements spec.md module J: capture the live-tablet set,
// stream-read every source tablet skipping tombstoned or
// already-emitted hashes, drain the current write buffer in too, merge
// everything into one new tablet, then atomically replace the live set
// and clear resolved tombstones. Returns the empty FlushEvent and does
// nothing if fewer than two tablets are live — nothing to merge.
func (e *Engine) Compact(ctx context.Context) (FlushEvent, error) {
	merger, ok := e.writer.(TabletMerger)
	if !ok {
		return FlushEvent{}, ierr.Fatal("compactor: tablet writer does not support merge")
	}

	sources, err := merger.LiveTablets(ctx, e.repoID)
	if err != nil {
		return FlushEvent{}, err
	}
	if len(sources) < 2 {
		return FlushEvent{}, nil
	}
	sort.Strings(sources)

	tombstones, err := merger.Tombstones(ctx, e.repoID)
	if err != nil {
		return FlushEvent{}, err
	}

	epoch := time.Now().UnixNano()
	journalID, err := e.journal(ctx, epoch, kindCompact, strings.Join(sources, ","), 0)
	if err != nil {
		return FlushEvent{}, err
	}

	emitted := make(map[objfmt.Hash]bool)
	var surviving []walbuf.Record
	for _, key := range sources {
		members, err := merger.TabletMembers(ctx, e.repoID, key)
		if err != nil {
			return FlushEvent{}, ierr.Transient("compactor: read tablet %s: %v", key, err)
		}
		for _, m := range members {
			if tombstones[m.Hash] || emitted[m.Hash] {
				continue
			}
			payload, err := merger.ReadMember(ctx, key, m.Offset, m.Length)
			if err != nil {
				return FlushEvent{}, ierr.Transient("compactor: read member %s from %s: %v", m.Hash, key, err)
			}
			emitted[m.Hash] = true
			surviving = append(surviving, walbuf.Record{Hash: m.Hash, Type: objfmt.ObjectType(m.Type), Size: m.Size, Inline: payload, WrittenAt: m.WrittenAt})
		}
	}

	// Step 4: also drain the current write buffer into the new tablet.
	drained, err := e.wal.Claim(ctx, epoch)
	if err != nil {
		return FlushEvent{}, err
	}
	for _, r := range drained {
		if tombstones[r.Hash] || emitted[r.Hash] {
			continue
		}
		emitted[r.Hash] = true
		surviving = append(surviving, r)
	}

	var targetKey string
	var bytesWritten int64
	if len(surviving) > 0 {
		targetKey, bytesWritten, err = merger.MergeTablets(ctx, e.repoID, sources, surviving)
		if err != nil {
			return FlushEvent{}, ierr.Transient("compactor: merge tablets: %v", err)
		}
	}
	// len(surviving) == 0 means every source object was tombstoned and
	// the WAL tail was empty: targetKey stays "" and the live set
	// collapses straight to empty, with no pointless tablet written.

	if err := e.markWritten(ctx, journalID, targetKey, bytesWritten); err != nil {
		return FlushEvent{}, err
	}
	if err := e.wal.Release(ctx, epoch); err != nil {
		return FlushEvent{}, err
	}

	// Step 8: replace the live-tablets set atomically, then clear every
	// tombstone this merge observed — sources captured the *entire* live
	// set, so any tombstoned hash encountered above has now been dropped
	// from every tablet that could have held it.
	if err := merger.ReplaceLiveSet(ctx, e.repoID, sources, targetKey); err != nil {
		return FlushEvent{}, err
	}
	if len(tombstones) > 0 {
		resolved := make([]objfmt.Hash, 0, len(tombstones))
		for h := range tombstones {
			resolved = append(resolved, h)
		}
		if err := merger.ClearTombstones(ctx, e.repoID, resolved); err != nil {
			return FlushEvent{}, err
		}
	}

	// The journal row's job is done now that the sources are gone and
	// the live set points at target instead.
	if err := e.deleteJournal(ctx, journalID); err != nil {
		return FlushEvent{}, err
	}

	return FlushEvent{
		TabletKey:     targetKey,
		Bytes:         bytesWritten,
		RecordCount:   len(surviving),
		StorageHandle: targetKey,
		RepoID:        e.repoID,
		Epoch:         epoch,
	}, nil
}

// FlushEvent is the post-flush callback record named in spec.md's design
// notes — emitted once per successful flush or compaction so callers
// (metrics, cache invalidation, bloomcache segment rollover) can react.
type FlushEvent struct {
	TabletKey     string
	Bytes         int64
	RecordCount   int
	StorageHandle string
	RepoID        int64
	Epoch         int64
}

func (e *Engine) journal(ctx context.Context, epoch int64, kind journalKind, sources string, recordCount int) (int64, error) {
	now := time.Now()
	result, err := e.db.ExecContext(ctx,
		"insert into compaction_journal(repo_id, epoch, status, kind, sources, record_count, created_at) values(?,?,?,?,?,?,?)",
		e.repoID, epoch, StatusInProgress, string(kind), sources, recordCount, now)
	if err != nil {
		return 0, fmt.Errorf("compactor: journal insert: %w", err)
	}
	return result.LastInsertId()
}

func (e *Engine) markWritten(ctx context.Context, journalID int64, tabletKey string, bytesWritten int64) error {
	_, err := e.db.ExecContext(ctx,
		"update compaction_journal set status = ?, tablet_key = ?, bytes_written = ?, completed_at = ? where id = ?",
		StatusWritten, tabletKey, bytesWritten, time.Now(), journalID)
	if err != nil {
		return fmt.Errorf("compactor: journal update: %w", err)
	}
	return nil
}

func (e *Engine) deleteJournal(ctx context.Context, journalID int64) error {
	if _, err := e.db.ExecContext(ctx, "delete from compaction_journal where id = ?", journalID); err != nil {
		return fmt.Errorf("compactor: journal delete: %w", err)
	}
	return nil
}

// JournalRow is one row left behind in compaction_journal, in either
// lifecycle state, for Recover to resolve at startup.
type JournalRow struct {
	ID        int64
	RepoID    int64
	Epoch     int64
	Status    JournalStatus
	Kind      string
	Sources   string
	TabletKey sql.NullString
	CreatedAt time.Time
}

// ListJournal returns every journal row for repoID, oldest first, so a
// recovery pass resolves them in the order they were attempted.
func ListJournal(ctx context.Context, db *sql.DB, repoID int64) ([]JournalRow, error) {
	rows, err := db.QueryContext(ctx,
		"select id, repo_id, epoch, status, kind, sources, tablet_key, created_at from compaction_journal where repo_id = ? order by created_at",
		repoID)
	if err != nil {
		return nil, fmt.Errorf("compactor: list journal: %w", err)
	}
	defer rows.Close()
	var out []JournalRow
	for rows.Next() {
		var j JournalRow
		if err := rows.Scan(&j.ID, &j.RepoID, &j.Epoch, &j.Status, &j.Kind, &j.Sources, &j.TabletKey, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("compactor: list journal scan: %w", err)
		}
		j.CreatedAt = j.CreatedAt.Local()
		out = append(out, j)
	}
	return out, rows.Err()
}

// Recover resolves every journal row a crash left behind, before the WAL
// buffer replays (the caller is responsible for running this ahead of
// walbuf.Open so rows this unwinds are visible to the replay query).
//
//   - in_progress: the target (if any bytes were even uploaded) was
//     never indexed into tablet_index, so it's unreferenced and safe to
//     leave for the blob bucket's own lifecycle rules; what must be
//     undone is this epoch's WAL claim, so the rows rejoin the buffer
//     instead of being claimed forever by an operation that never
//     finished.
//   - written, kind=flush: the tablet is durable and indexed; only the
//     WAL release (and the live-tablet registration, already done
//     inside WriteTablet's own transaction) might not have run —
//     finish deleting this epoch's WAL rows.
//   - written, kind=compact: the merged tablet is durable and indexed;
//     the live-tablet set swap and WAL release might not have run —
//     finish both.
//
// Every row is deleted once its cleanup completes.
func Recover(ctx context.Context, db *sql.DB, merger TabletMerger, repoID int64) error {
	rows, err := ListJournal(ctx, db, repoID)
	if err != nil {
		return err
	}
	for _, j := range rows {
		switch j.Status {
		case StatusInProgress:
			if _, err := db.ExecContext(ctx, "update wal_records set flush_epoch = 0 where repo_id = ? and flush_epoch = ?", repoID, j.Epoch); err != nil {
				return fmt.Errorf("compactor: recover reset epoch %d: %w", j.Epoch, err)
			}
		case StatusWritten:
			if journalKind(j.Kind) == kindCompact {
				sources := strings.Split(j.Sources, ",")
				if err := merger.ReplaceLiveSet(ctx, repoID, sources, j.TabletKey.String); err != nil {
					return fmt.Errorf("compactor: recover replace live set: %w", err)
				}
			}
			if _, err := db.ExecContext(ctx, "delete from wal_records where repo_id = ? and flush_epoch = ?", repoID, j.Epoch); err != nil {
				return fmt.Errorf("compactor: recover release epoch %d: %w", j.Epoch, err)
			}
		}
		if _, err := db.ExecContext(ctx, "delete from compaction_journal where id = ?", j.ID); err != nil {
			return fmt.Errorf("compactor: recover delete journal %d: %w", j.ID, err)
		}
	}
	return nil
}
