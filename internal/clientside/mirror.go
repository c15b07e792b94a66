package clientside

import (
	"context"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/objwalk"
	"github.com/antgroup/hugescm/internal/transfer"
)

// Direction selects which side of a mirror link moves, matching
// spec.md's `mirror <url> {pull|push|bidir}` CLI surface.
type Direction string

const (
	DirectionPull  Direction = "pull"
	DirectionPush  Direction = "push"
	DirectionBidir Direction = "bidir"
)

// ConflictPolicy decides what happens when a ref has moved on both ends
// since the last mirror run in a way that isn't a fast-forward of one
// another.
type ConflictPolicy int

const (
	// ConflictFastForwardOnly refuses to move a ref unless the new value
	// is a descendant of the current one; the ref's update is skipped
	// (and reported) rather than aborting the whole run.
	ConflictFastForwardOnly ConflictPolicy = iota
	// ConflictForce always moves the ref to the far side's value,
	// discarding any local history that wasn't an ancestor of it.
	ConflictForce
)

// RefUpdate is one ref's outcome during a mirror run.
type RefUpdate struct {
	Name    string
	Applied bool
	Reason  string
}

// MirrorResult summarizes one run of Mirror.
type MirrorResult struct {
	Pulled  FetchResult
	Pushed  []transfer.CommandStatus
	Skipped []RefUpdate
}

// Mirror replicates refs between the local repository and remote
// according to dir, applying policy to any ref that didn't simply
// fast-forward. Pull brings remote refs into the local refs/ namespace
// directly (no remote-tracking prefix, unlike Fetch); push computes
// PushCommands for every local ref that differs from the remote's
// current advertisement.
func Mirror(ctx context.Context, t *Transport, repoID int64, store LocalReader, refs interface {
	LocalRefs
	List(ctx context.Context, repoID int64, prefix string) ([]objfmt.Hash, []string, error)
}, dir Direction, policy ConflictPolicy) (MirrorResult, error) {
	var result MirrorResult

	if dir == DirectionPull || dir == DirectionBidir {
		pulled, skipped, err := mirrorPull(ctx, t, repoID, store, refs, policy)
		if err != nil {
			return result, err
		}
		result.Pulled = pulled
		result.Skipped = append(result.Skipped, skipped...)
	}

	if dir == DirectionPush || dir == DirectionBidir {
		pushed, skipped, err := mirrorPush(ctx, t, repoID, store, refs, policy)
		if err != nil {
			return result, err
		}
		result.Pushed = pushed
		result.Skipped = append(result.Skipped, skipped...)
	}

	return result, nil
}

func mirrorPull(ctx context.Context, t *Transport, repoID int64, store LocalReader, refs LocalRefs, policy ConflictPolicy) (FetchResult, []RefUpdate, error) {
	remote, err := t.RemoteRefs(ctx, "git-upload-pack")
	if err != nil {
		return FetchResult{}, nil, err
	}

	writer, ok := store.(LocalStore)
	if !ok {
		return FetchResult{}, nil, ierr.Fatal("clientside: mirror pull requires a writable local store")
	}

	var wants []objfmt.Hash
	for _, r := range remote {
		if r.Hash.IsZero() {
			continue
		}
		if has, err := store.Has(ctx, r.Hash); err == nil && !has {
			wants = append(wants, r.Hash)
		}
	}
	fetched := 0
	if len(wants) > 0 {
		res, err := t.FetchPack(ctx, wants, nil)
		if err != nil {
			return FetchResult{}, nil, err
		}
		fetched, err = transfer.UnpackObjects(ctx, writer, res.Pack)
		if err != nil {
			return FetchResult{}, nil, err
		}
	}

	var skipped []RefUpdate
	for _, r := range remote {
		if r.Name == "HEAD" {
			continue
		}
		old, err := refs.Get(ctx, repoID, r.Name)
		if err != nil && !ierr.Is(err, ierr.KindNotFound) {
			return FetchResult{}, nil, err
		}
		if old == r.Hash {
			continue
		}
		if policy == ConflictFastForwardOnly && !old.IsZero() && !isFastForward(ctx, store, old, r.Hash) {
			skipped = append(skipped, RefUpdate{Name: r.Name, Reason: "not a fast-forward of local " + old.String()})
			continue
		}
		if err := refs.CAS(ctx, repoID, r.Name, old, r.Hash); err != nil {
			return FetchResult{}, nil, ierr.Wrap(ierr.KindOf(err), "clientside: mirror pull update "+r.Name, err)
		}
	}
	return FetchResult{Remote: remote, Fetched: fetched}, skipped, nil
}

func mirrorPush(ctx context.Context, t *Transport, repoID int64, store LocalReader, refs interface {
	LocalRefs
	List(ctx context.Context, repoID int64, prefix string) ([]objfmt.Hash, []string, error)
}, policy ConflictPolicy) ([]transfer.CommandStatus, []RefUpdate, error) {
	remote, err := t.RemoteRefs(ctx, "git-receive-pack")
	if err != nil {
		return nil, nil, err
	}
	remoteHash := make(map[string]objfmt.Hash, len(remote))
	for _, r := range remote {
		remoteHash[r.Name] = r.Hash
	}

	hashes, names, err := refs.List(ctx, repoID, "refs/")
	if err != nil {
		return nil, nil, err
	}

	var skipped []RefUpdate
	var cmds []PushCommand
	for i, name := range names {
		local := hashes[i]
		remoteCur := remoteHash[name]
		if remoteCur == local {
			continue
		}
		if policy == ConflictFastForwardOnly && !remoteCur.IsZero() && !isFastForward(ctx, store, remoteCur, local) {
			skipped = append(skipped, RefUpdate{Name: name, Reason: "would not fast-forward remote " + remoteCur.String()})
			continue
		}
		cmds = append(cmds, PushCommand{Name: name, Old: remoteCur, New: local})
	}
	if len(cmds) == 0 {
		return nil, skipped, nil
	}
	statuses, err := Push(ctx, t, store, cmds)
	if err != nil {
		return nil, skipped, err
	}
	return statuses, skipped, nil
}

// isFastForward reports whether ancestor is reachable by walking only
// descendant's commit-parent chain. Delegates to objwalk.IsAncestor, the
// same ancestry check internal/transfer's receive-pack uses server-side,
// so client and server classify fast-forwards identically.
func isFastForward(ctx context.Context, store LocalReader, ancestor, descendant objfmt.Hash) bool {
	return objwalk.IsAncestor(ctx, store, ancestor, descendant)
}
