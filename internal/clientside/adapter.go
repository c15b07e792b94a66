package clientside

import (
	"context"

	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/refstore"
)

// RefStore adapts *refstore.Store to LocalRefs: refstore.Get returns the
// richer refstore.Ref (symbolic-ref target, update timestamp), where
// Fetch/Mirror only ever need the resolved hash or a not-found error.
type RefStore struct {
	*refstore.Store
}

func (r RefStore) Get(ctx context.Context, repoID int64, name string) (objfmt.Hash, error) {
	ref, err := r.Store.Get(ctx, repoID, name)
	if err != nil {
		return objfmt.ZeroHash, err
	}
	return ref.Hash, nil
}

// List shadows the embedded refstore.Store.List, which returns the
// richer refstore.Ref (symbolic targets, update timestamps, deleted
// rows): mirror push only needs each direct ref's name and hash, so
// symbolic refs are filtered out here rather than pushed downstream.
func (r RefStore) List(ctx context.Context, repoID int64, prefix string) ([]objfmt.Hash, []string, error) {
	refs, err := r.Store.List(ctx, repoID, prefix)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]objfmt.Hash, 0, len(refs))
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Kind != refstore.KindDirect {
			continue
		}
		hashes = append(hashes, ref.Hash)
		names = append(names, ref.Name)
	}
	return hashes, names, nil
}
