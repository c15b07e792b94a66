// Package gc implements mark-and-sweep garbage collection over the object
// store: mark walks every ref down through the commit/tree/tag graph to
// build the reachable set, sweep enumerates stored objects and deletes
// anything unreachable past its grace period.
//
// The mark walk's BFS shape (queue + seen-set, skip-missing rather than
// fail for shallow/partial clones) is grounded on
// modules/zeta/object/commit_walker_bfs.go's bfsCommitIterator; sweep's
// enumerate-then-filter shape is new (the teacher has no GC — it only
// prunes, see modules/zeta/backend/prune.go), following spec.md §4.L.
package gc

import (
	"context"
	"time"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/objwalk"
)

// ObjectSource is the subset of internal/objstore the GC mark/sweep
// phases depend on.
type ObjectSource interface {
	Get(ctx context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error)
	Has(ctx context.Context, h objfmt.Hash) (bool, error)
}

// Enumerator lists every object hash currently stored, along with when it
// was written — the tablet engine's full-scan path, used only by sweep
// (mark never needs a full enumeration).
type Enumerator interface {
	EnumerateAll(ctx context.Context) (<-chan ObjectStat, error)
}

// ObjectStat is one enumerated object's identity and write time.
type ObjectStat struct {
	Hash      objfmt.Hash
	WrittenAt time.Time
}

// Deleter removes an object from the store. The tablet engine's
// implementation records a tombstone that the next compaction honors; it
// does not delete any external blob the object references. Never called
// for objects within the reachable set or still inside the grace period.
type Deleter interface {
	Delete(ctx context.Context, h objfmt.Hash) error
}

// Config controls one GC run.
type Config struct {
	Roots          []objfmt.Hash // every ref's current target, collected by the caller
	GracePeriod    time.Duration // objects younger than this are never swept
	MaxDeleteCount int           // 0 = unlimited
	DryRun         bool
}

// Stats summarizes one completed run.
type Stats struct {
	Reachable     int
	Scanned       int
	Deleted       int
	SkippedGrace  int
	SkippedCap    bool
	DryRun        bool
	MarkErrors    int
	UnreachableAt []objfmt.Hash // populated only in dry-run, capped at 1000 entries
}

// Run performs one mark-and-sweep pass.
func Run(ctx context.Context, src ObjectSource, enum Enumerator, del Deleter, cfg Config) (Stats, error) {
	reachable, markErrs, err := mark(ctx, src, cfg.Roots)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Reachable: len(reachable), MarkErrors: markErrs, DryRun: cfg.DryRun}

	ch, err := enum.EnumerateAll(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := time.Now()
	deleted := 0
	for stat := range ch {
		stats.Scanned++
		if reachable[stat.Hash] {
			continue
		}
		if now.Sub(stat.WrittenAt) < cfg.GracePeriod {
			stats.SkippedGrace++
			continue
		}
		if cfg.MaxDeleteCount > 0 && deleted >= cfg.MaxDeleteCount {
			stats.SkippedCap = true
			continue
		}
		if cfg.DryRun {
			if len(stats.UnreachableAt) < 1000 {
				stats.UnreachableAt = append(stats.UnreachableAt, stat.Hash)
			}
			deleted++
			continue
		}
		if err := del.Delete(ctx, stat.Hash); err != nil {
			return stats, ierr.Wrap(ierr.KindOf(err), "gc: delete unreachable object", err)
		}
		deleted++
	}
	stats.Deleted = deleted
	return stats, nil
}

// mark walks every root down through commits, trees, and annotated tags,
// returning the set of hashes reachable from any root. Missing objects
// (shallow history, already-GC'd dangling refs) are skipped by
// objwalk.Walk rather than failing the whole run.
func mark(ctx context.Context, src ObjectSource, roots []objfmt.Hash) (map[objfmt.Hash]bool, int, error) {
	seen := make(map[objfmt.Hash]bool, len(roots)*4)
	err := objwalk.Walk(ctx, src, roots, func(h objfmt.Hash, _ objfmt.ObjectType, _ []byte) {
		seen[h] = true
	})
	if err != nil {
		if ierr.Is(err, ierr.KindNotFound) {
			return seen, 1, nil
		}
		return nil, 0, err
	}
	return seen, 0, nil
}
