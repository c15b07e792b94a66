package clientside

import (
	"context"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/transfer"
)

// LocalStore is the subset of internal/objstore a fetch unpacks the
// retrieved pack into and negotiates haves against.
type LocalStore interface {
	transfer.ObjectWriter
}

// LocalRefs is the subset of internal/refstore a fetch writes
// remote-tracking refs through and a push reads current state from.
type LocalRefs interface {
	transfer.RefUpdater
	Get(ctx context.Context, repoID int64, name string) (objfmt.Hash, error)
}

// FetchResult summarizes one completed fetch.
type FetchResult struct {
	Remote  []transfer.RefAdvertisement
	Fetched int // objects unpacked
}

// Fetch negotiates and retrieves every object reachable from remote's
// advertised refs that the local store doesn't already have, then writes
// each ref under refPrefix+name into local refs (no fast-forward check —
// that policy lives in Mirror, since a plain fetch is expected to freely
// rewrite its own remote-tracking namespace).
//
// Grounded on pkg/zeta/fetch.go's fetch/fetchAny split (resolve remote
// refs, compute haves from local shallow/full history, pull the delta),
// generalized from the teacher's metadata-then-objects two-phase
// transfer to this system's single-pack upload-pack round.
func Fetch(ctx context.Context, t *Transport, repoID int64, store LocalStore, refs LocalRefs, refPrefix string) (FetchResult, error) {
	remote, err := t.RemoteRefs(ctx, "git-upload-pack")
	if err != nil {
		return FetchResult{}, err
	}

	haves := collectHaves(ctx, store, refs, repoID, remote, refPrefix)

	var wants []objfmt.Hash
	seen := make(map[objfmt.Hash]bool)
	for _, r := range remote {
		if r.Hash.IsZero() || seen[r.Hash] {
			continue
		}
		has, err := store.Has(ctx, r.Hash)
		if err != nil {
			return FetchResult{}, err
		}
		if has {
			continue
		}
		seen[r.Hash] = true
		wants = append(wants, r.Hash)
	}

	fetched := 0
	if len(wants) > 0 {
		result, err := t.FetchPack(ctx, wants, haves)
		if err != nil {
			return FetchResult{}, err
		}
		fetched, err = transfer.UnpackObjects(ctx, store, result.Pack)
		if err != nil {
			return FetchResult{}, err
		}
	}

	for _, r := range remote {
		if r.Name == "HEAD" {
			continue
		}
		local := refPrefix + r.Name
		old, err := refs.Get(ctx, repoID, local)
		if err != nil && !ierr.Is(err, ierr.KindNotFound) {
			return FetchResult{}, err
		}
		if old == r.Hash {
			continue
		}
		if err := refs.CAS(ctx, repoID, local, old, r.Hash); err != nil {
			return FetchResult{}, ierr.Wrap(ierr.KindOf(err), "clientside: update remote-tracking ref "+local, err)
		}
	}

	return FetchResult{Remote: remote, Fetched: fetched}, nil
}

// collectHaves reports every hash the local remote-tracking namespace
// already points at, so the server can exclude that history from the
// pack it builds.
func collectHaves(ctx context.Context, store LocalStore, refs LocalRefs, repoID int64, remote []transfer.RefAdvertisement, refPrefix string) []objfmt.Hash {
	var haves []objfmt.Hash
	for _, r := range remote {
		local := refPrefix + r.Name
		h, err := refs.Get(ctx, repoID, local)
		if err != nil || h.IsZero() {
			continue
		}
		if has, err := store.Has(ctx, h); err == nil && has {
			haves = append(haves, h)
		}
	}
	return haves
}
