// Package objwalk decodes the three non-blob Git object kinds just enough
// to traverse the graph: commit parents/tree, tree entries, annotated tag
// targets. Shared by internal/gc (mark phase) and internal/transfer
// (upload-pack's reachability computation) so both walk the graph the
// same way.
//
// Grounded on modules/zeta/object/commit_walker_bfs.go's BFS shape
// (queue + seen-set, skip-missing for shallow history) — the decoding
// here is new (the teacher's object.Commit/Tree are already-parsed
// structs backed by its own BLAKE3 object format), written against
// Git's literal plain-text commit/tag headers and binary tree entries.
package objwalk

import (
	"bytes"
	"context"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
)

// Parents extracts the parent commit hashes from a commit object's raw
// payload: lines of the form "parent <40-hex>\n" preceding the first
// blank line.
func Parents(payload []byte) ([]objfmt.Hash, error) {
	var parents []objfmt.Hash
	for _, line := range bytes.Split(payload, []byte("\n")) {
		if len(line) == 0 {
			break
		}
		if !bytes.HasPrefix(line, []byte("parent ")) {
			continue
		}
		h, err := objfmt.NewHashEx(string(line[len("parent "):]))
		if err != nil {
			return nil, ierr.Corruption("objwalk: malformed parent line %q", string(line))
		}
		parents = append(parents, h)
	}
	return parents, nil
}

// Tree extracts the root tree hash from a commit object's raw payload.
func Tree(payload []byte) (objfmt.Hash, error) {
	for _, line := range bytes.Split(payload, []byte("\n")) {
		if len(line) == 0 {
			break
		}
		if bytes.HasPrefix(line, []byte("tree ")) {
			return objfmt.NewHashEx(string(line[len("tree "):]))
		}
	}
	return objfmt.ZeroHash, ierr.Corruption("objwalk: commit payload has no tree header")
}

// Entry is one decoded entry of a tree object.
type Entry struct {
	Mode string
	Name string
	Hash objfmt.Hash
}

// DecodeTree parses a tree object's binary payload: a sequence of
// "<mode> <name>\0<20-byte-hash>" entries, no trailing separator.
func DecodeTree(payload []byte) ([]Entry, error) {
	var entries []Entry
	pos := 0
	for pos < len(payload) {
		sp := bytes.IndexByte(payload[pos:], ' ')
		if sp < 0 {
			return nil, ierr.Corruption("objwalk: truncated tree entry mode")
		}
		mode := string(payload[pos : pos+sp])
		pos += sp + 1

		nul := bytes.IndexByte(payload[pos:], 0)
		if nul < 0 {
			return nil, ierr.Corruption("objwalk: truncated tree entry name")
		}
		name := string(payload[pos : pos+nul])
		pos += nul + 1

		if pos+objfmt.HashSize > len(payload) {
			return nil, ierr.Corruption("objwalk: truncated tree entry hash")
		}
		var h objfmt.Hash
		copy(h[:], payload[pos:pos+objfmt.HashSize])
		pos += objfmt.HashSize

		entries = append(entries, Entry{Mode: mode, Name: name, Hash: h})
	}
	return entries, nil
}

// TagTarget extracts the target hash from an annotated tag object's
// payload: the "object <40-hex>\n" header line.
func TagTarget(payload []byte) (objfmt.Hash, error) {
	for _, line := range bytes.Split(payload, []byte("\n")) {
		if len(line) == 0 {
			break
		}
		if bytes.HasPrefix(line, []byte("object ")) {
			return objfmt.NewHashEx(string(line[len("object "):]))
		}
	}
	return objfmt.ZeroHash, ierr.Corruption("objwalk: tag payload has no object header")
}

// Reachable is the subset of internal/objstore the Walk helper needs.
type Reachable interface {
	Get(ctx context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error)
}

// IsAncestor reports whether ancestor is reachable by walking only
// descendant's commit-parent chain (never trees/blobs — ancestry is a
// commit-graph question), bounded so a pathologically long or cyclic
// history can't hang the caller. Both internal/transfer (server-side
// receive-pack) and internal/clientside (mirror push) use this to decide
// whether a ref update is a fast-forward.
func IsAncestor(ctx context.Context, src Reachable, ancestor, descendant objfmt.Hash) bool {
	const maxVisit = 100_000
	seen := make(map[objfmt.Hash]bool, 256)
	queue := []objfmt.Hash{descendant}
	for len(queue) > 0 && len(seen) < maxVisit {
		h := queue[0]
		queue = queue[1:]
		if h == ancestor {
			return true
		}
		if seen[h] || h.IsZero() {
			continue
		}
		seen[h] = true
		typ, payload, err := src.Get(ctx, h)
		if err != nil || typ != objfmt.CommitObject {
			continue
		}
		parents, err := Parents(payload)
		if err != nil {
			continue
		}
		queue = append(queue, parents...)
	}
	return false
}

// Walk performs a BFS over the object graph starting at roots, invoking
// visit for every reached hash (including the roots themselves). Objects
// not found are skipped rather than failing the walk — shallow history
// and partial mirrors are expected, matching bfsCommitIterator's
// tolerance for missing parents.
func Walk(ctx context.Context, src Reachable, roots []objfmt.Hash, visit func(objfmt.Hash, objfmt.ObjectType, []byte)) error {
	seen := make(map[objfmt.Hash]bool, len(roots)*4)
	queue := append([]objfmt.Hash(nil), roots...)
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if seen[h] || h.IsZero() {
			continue
		}
		seen[h] = true

		typ, payload, err := src.Get(ctx, h)
		if err != nil {
			if ierr.Is(err, ierr.KindNotFound) {
				continue
			}
			return err
		}
		visit(h, typ, payload)

		switch typ {
		case objfmt.CommitObject:
			if tree, err := Tree(payload); err == nil && !seen[tree] {
				queue = append(queue, tree)
			}
			parents, err := Parents(payload)
			if err != nil {
				continue
			}
			for _, p := range parents {
				if !seen[p] {
					queue = append(queue, p)
				}
			}
		case objfmt.TreeObject:
			entries, err := DecodeTree(payload)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !seen[e.Hash] {
					queue = append(queue, e.Hash)
				}
			}
		case objfmt.TagObject:
			if target, err := TagTarget(payload); err == nil && !seen[target] {
				queue = append(queue, target)
			}
		}
	}
	return nil
}
