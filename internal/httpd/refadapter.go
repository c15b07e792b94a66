package httpd

import (
	"context"

	"github.com/antgroup/hugescm/internal/refstore"
	"github.com/antgroup/hugescm/internal/transfer"
)

// refLister adapts *refstore.Store to transfer.RefLister: refstore deals
// in refstore.Ref (which also carries Kind/Target/UpdatedAt for symbolic
// refs and CAS bookkeeping transfer has no use for), transfer wants the
// minimal RefRow shape.
type refLister struct {
	store *refstore.Store
}

func (l refLister) List(ctx context.Context, repoID int64, prefix string) ([]transfer.RefRow, error) {
	refs, err := l.store.List(ctx, repoID, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]transfer.RefRow, 0, len(refs))
	for _, r := range refs {
		if r.Kind != refstore.KindDirect {
			continue
		}
		out = append(out, transfer.RefRow{Name: r.Name, Hash: r.Hash})
	}
	return out, nil
}

func (l refLister) Resolve(ctx context.Context, repoID int64, name string) (transfer.RefRow, error) {
	r, err := l.store.Resolve(ctx, repoID, name)
	if err != nil {
		return transfer.RefRow{}, err
	}
	return transfer.RefRow{Name: r.Name, Hash: r.Hash}, nil
}
